package testutil

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/healthz")
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/healthz", req.URL.Path)
}

func TestWriteXGBoostModel(t *testing.T) {
	t.Parallel()

	path := WriteXGBoostModel(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Learner struct {
			FeatureNames    []string `json:"feature_names"`
			GradientBooster struct {
				Model struct {
					TreeInfo []int `json:"tree_info"`
				} `json:"model"`
			} `json:"gradient_booster"`
		} `json:"learner"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Learner.FeatureNames, 19)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, doc.Learner.GradientBooster.Model.TreeInfo)
}

func TestXGBoostModelDoc_Independent(t *testing.T) {
	t.Parallel()

	a := XGBoostModelDoc()
	a["learner"].(map[string]any)["objective"] = map[string]any{"name": "binary:logistic"}

	b := XGBoostModelDoc()
	assert.Equal(t, map[string]any{"name": "multi:softprob"}, b["learner"].(map[string]any)["objective"])
}
