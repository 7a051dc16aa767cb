package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/claimtype/internal/features"
)

// maxModelSize bounds the artifact read into memory.
const maxModelSize = 512 << 20

// XGBoost evaluates a gbtree or dart multi-class model saved as JSON.
type XGBoost struct {
	info      Info
	numClass  int
	baseScore []float64
	trees     []xgbTree
}

type xgbTree struct {
	class       int
	weight      float64
	left        []int32
	right       []int32
	split       []int32
	cond        []float32
	defaultLeft []bool
}

type xgbDocument struct {
	Learner struct {
		FeatureNames    []string `json:"feature_names"`
		GradientBooster struct {
			Name  string    `json:"name"`
			Model *xgbModel `json:"model"`
			// dart wraps the gbtree model.
			GBTree *struct {
				Model *xgbModel `json:"model"`
			} `json:"gbtree"`
			WeightDrop []float64 `json:"weight_drop"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type xgbModel struct {
	TreeInfo []int        `json:"tree_info"`
	Trees    []xgbRawTree `json:"trees"`
}

type xgbRawTree struct {
	LeftChildren    []int32    `json:"left_children"`
	RightChildren   []int32    `json:"right_children"`
	SplitIndices    []int32    `json:"split_indices"`
	SplitConditions []float32  `json:"split_conditions"`
	DefaultLeft     []flexBool `json:"default_left"`
	SplitType       []int      `json:"split_type"`
}

// flexBool accepts both 0/1 and false/true; XGBoost versions differ.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch s := string(bytes.TrimSpace(data)); s {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", s)
	}
	return nil
}

// LoadXGBoostFile reads and validates a JSON model dump.
func LoadXGBoostFile(path string) (*XGBoost, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	m, err := ParseXGBoost(io.LimitReader(f, maxModelSize))
	if err != nil {
		return nil, err
	}
	m.info.Path = path
	return m, nil
}

// ParseXGBoost decodes a JSON model dump.
func ParseXGBoost(r io.Reader) (*XGBoost, error) {
	var doc xgbDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode xgboost json: %v", ErrIncompatible, err)
	}
	l := doc.Learner

	switch l.Objective.Name {
	case "multi:softprob", "multi:softmax":
	default:
		return nil, fmt.Errorf("%w: objective %q is not a multi-class objective", ErrIncompatible, l.Objective.Name)
	}

	numClass, err := strconv.Atoi(l.LearnerModelParam.NumClass)
	if err != nil || numClass < 2 {
		return nil, fmt.Errorf("%w: num_class %q", ErrIncompatible, l.LearnerModelParam.NumClass)
	}
	numFeature, err := strconv.Atoi(l.LearnerModelParam.NumFeature)
	if err != nil {
		return nil, fmt.Errorf("%w: num_feature %q", ErrIncompatible, l.LearnerModelParam.NumFeature)
	}
	if numFeature != features.NumColumns {
		return nil, fmt.Errorf("%w: model expects %d features, encoder produces %d", ErrIncompatible, numFeature, features.NumColumns)
	}
	if err := checkFeatureNames(l.FeatureNames); err != nil {
		return nil, err
	}
	base, err := parseBaseScore(l.LearnerModelParam.BaseScore, numClass)
	if err != nil {
		return nil, err
	}

	gb := l.GradientBooster
	raw := gb.Model
	var weights []float64
	switch gb.Name {
	case "gbtree":
	case "dart":
		if gb.GBTree != nil {
			raw = gb.GBTree.Model
		}
		weights = gb.WeightDrop
	default:
		return nil, fmt.Errorf("%w: booster %q", ErrIncompatible, gb.Name)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: no tree model", ErrIncompatible)
	}
	if len(raw.TreeInfo) != len(raw.Trees) {
		return nil, fmt.Errorf("%w: %d trees but %d tree_info entries", ErrIncompatible, len(raw.Trees), len(raw.TreeInfo))
	}
	if weights != nil && len(weights) != len(raw.Trees) {
		return nil, fmt.Errorf("%w: %d trees but %d dart weights", ErrIncompatible, len(raw.Trees), len(weights))
	}

	m := &XGBoost{numClass: numClass, baseScore: base, trees: make([]xgbTree, len(raw.Trees))}
	for i, rt := range raw.Trees {
		t, err := buildTree(rt, numFeature)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		t.class = raw.TreeInfo[i]
		if t.class < 0 || t.class >= numClass {
			return nil, fmt.Errorf("%w: tree %d assigned to class %d", ErrIncompatible, i, t.class)
		}
		t.weight = 1
		if weights != nil {
			t.weight = weights[i]
		}
		m.trees[i] = t
	}

	m.info = Info{
		Format:       FormatXGBoostJSON,
		Objective:    l.Objective.Name,
		NumClass:     numClass,
		NumFeature:   numFeature,
		NumTrees:     len(m.trees),
		FeatureNames: l.FeatureNames,
		Version:      versionString(doc.Version),
	}
	return m, nil
}

func buildTree(rt xgbRawTree, numFeature int) (xgbTree, error) {
	n := len(rt.LeftChildren)
	if n == 0 {
		return xgbTree{}, fmt.Errorf("%w: empty tree", ErrIncompatible)
	}
	if len(rt.RightChildren) != n || len(rt.SplitIndices) != n || len(rt.SplitConditions) != n || len(rt.DefaultLeft) != n {
		return xgbTree{}, fmt.Errorf("%w: node arrays differ in length", ErrIncompatible)
	}
	for _, st := range rt.SplitType {
		if st != 0 {
			return xgbTree{}, fmt.Errorf("%w: categorical splits are not supported", ErrIncompatible)
		}
	}
	t := xgbTree{
		left:        rt.LeftChildren,
		right:       rt.RightChildren,
		split:       rt.SplitIndices,
		cond:        rt.SplitConditions,
		defaultLeft: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		t.defaultLeft[i] = bool(rt.DefaultLeft[i])
		if t.left[i] == -1 {
			continue
		}
		// Children always follow their parent, so evaluation terminates.
		l, r := int(t.left[i]), int(t.right[i])
		if l <= i || l >= n || r <= i || r >= n {
			return xgbTree{}, fmt.Errorf("%w: node %d has invalid children %d/%d", ErrIncompatible, i, l, r)
		}
		if s := int(t.split[i]); s < 0 || s >= numFeature {
			return xgbTree{}, fmt.Errorf("%w: node %d splits on feature %d", ErrIncompatible, i, s)
		}
	}
	return t, nil
}

// leaf walks the tree for one row. NaN takes the default branch.
func (t *xgbTree) leaf(x []float32) float32 {
	n := int32(0)
	for t.left[n] != -1 {
		v := x[t.split[n]]
		switch {
		case math.IsNaN(float64(v)):
			if t.defaultLeft[n] {
				n = t.left[n]
			} else {
				n = t.right[n]
			}
		case v < t.cond[n]:
			n = t.left[n]
		default:
			n = t.right[n]
		}
	}
	return t.cond[n]
}

// parseBaseScore handles both "5E-1" and the bracketed vector form written
// by newer XGBoost releases.
func parseBaseScore(s string, numClass int) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	out := make([]float64, numClass)
	if s == "" {
		return out, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 1 && len(parts) != numClass {
		return nil, fmt.Errorf("%w: base_score has %d values for %d classes", ErrIncompatible, len(parts), numClass)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: base_score %q", ErrIncompatible, s)
		}
		if len(parts) == 1 {
			floats.AddConst(v, out)
			break
		}
		out[i] = v
	}
	return out, nil
}

func versionString(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ".")
}

// Margins returns the raw per-class scores before softmax.
func (m *XGBoost) Margins(v features.Vector) []float64 {
	x := v.Float32()
	out := make([]float64, m.numClass)
	copy(out, m.baseScore)
	for i := range m.trees {
		t := &m.trees[i]
		out[t.class] += t.weight * float64(t.leaf(x))
	}
	return out
}

func (m *XGBoost) Predict(ctx context.Context, v features.Vector) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return floats.MaxIdx(m.Margins(v)), nil
}

func (m *XGBoost) PredictProba(ctx context.Context, v features.Vector) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return softmax(m.Margins(v)), nil
}

func (m *XGBoost) Info() Info { return m.info }

func (m *XGBoost) Close() error { return nil }

func softmax(margins []float64) []float64 {
	out := make([]float64, len(margins))
	lse := floats.LogSumExp(margins)
	for i, z := range margins {
		out[i] = math.Exp(z - lse)
	}
	return out
}
