// Package testutil provides shared test utilities and fixtures.
//
// The fixture model is a tiny XGBoost JSON dump over the real 19 column
// schema: MED ONLY wins when no attorney is present, TEMPORARY wins when one
// is, and every other class scores zero.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// Fixture class ids and the column the fixture splits on.
const (
	FixtureNoAttorneyClass = 2
	FixtureAttorneyClass   = 3
	FixtureAttorneyColumn  = 3
	FixtureLeaf            = 2.0
)

// FixtureColumns mirrors features.ColumnNames without importing it.
var FixtureColumns = []string{
	"Days_Accident_to_First_Hearing", "IME-4 Count", "Average Weekly Wage",
	"Attorney/Representative", "WCIO Cause of Injury Code", "WCIO Part Of Body Code",
	"Region_Risk_Score", "C2_After_C3_Flag", "C3_After_Assembly_Flag",
	"C-3 Date Converted", "Days_Accident_to_C3", "Carrier Name", "Birth Year",
	"Days_Accident_to_Assembly", "District Name", "Medical Fee Region",
	"Accident_Month", "Age_Outlier_Flag", "County_Claims_Normalized",
}

func leafTree(v float64) map[string]any {
	return map[string]any{
		"left_children":    []int{-1},
		"right_children":   []int{-1},
		"split_indices":    []int{0},
		"split_conditions": []float64{v},
		"default_left":     []int{0},
		"split_type":       []int{0},
		"tree_param":       map[string]string{"num_feature": "19", "num_nodes": "1"},
	}
}

func splitTree(feature int, cond, left, right float64) map[string]any {
	return map[string]any{
		"left_children":    []int{1, -1, -1},
		"right_children":   []int{2, -1, -1},
		"split_indices":    []int{feature, 0, 0},
		"split_conditions": []float64{cond, left, right},
		"default_left":     []int{1, 0, 0},
		"split_type":       []int{0, 0, 0},
		"tree_param":       map[string]string{"num_feature": "19", "num_nodes": "3"},
	}
}

// XGBoostModelDoc returns the fixture model as a mutable JSON document, so
// tests can break individual parts of it.
func XGBoostModelDoc() map[string]any {
	const numClass = 8
	trees := make([]any, numClass)
	info := make([]int, numClass)
	for c := 0; c < numClass; c++ {
		info[c] = c
		switch c {
		case FixtureNoAttorneyClass:
			trees[c] = splitTree(FixtureAttorneyColumn, 0.5, FixtureLeaf, 0)
		case FixtureAttorneyClass:
			trees[c] = splitTree(FixtureAttorneyColumn, 0.5, 0, FixtureLeaf)
		default:
			trees[c] = leafTree(0)
		}
	}
	names := make([]string, len(FixtureColumns))
	copy(names, FixtureColumns)
	return map[string]any{
		"learner": map[string]any{
			"attributes":    map[string]any{},
			"feature_names": names,
			"gradient_booster": map[string]any{
				"name": "gbtree",
				"model": map[string]any{
					"gbtree_model_param": map[string]string{"num_parallel_tree": "1", "num_trees": "8"},
					"tree_info":          info,
					"trees":              trees,
				},
			},
			"learner_model_param": map[string]string{
				"base_score":  "5E-1",
				"num_class":   "8",
				"num_feature": "19",
				"num_target":  "1",
			},
			"objective": map[string]any{"name": "multi:softprob"},
		},
		"version": []int{2, 0, 3},
	}
}

// WriteJSON marshals doc into dir/name and returns the path.
func WriteJSON(t *testing.T, dir, name string, doc any) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// WriteXGBoostModel writes the fixture model into a temp dir.
func WriteXGBoostModel(t *testing.T) string {
	t.Helper()
	return WriteJSON(t, t.TempDir(), "tuned_XGB.json", XGBoostModelDoc())
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}
