package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/db"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/model"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/testutil"
)

// shortProba returns seven probabilities, one short of the label count.
type shortProba struct{}

func (shortProba) Predict(context.Context, features.Vector) (int, error) { return 0, nil }
func (shortProba) PredictProba(context.Context, features.Vector) ([]float64, error) {
	return make([]float64, 7), nil
}
func (shortProba) Info() model.Info { return model.Info{Format: "stub", NumClass: 7} }
func (shortProba) Close() error     { return nil }

// nanProba returns a full probability vector with one NaN entry.
type nanProba struct{}

func (nanProba) Predict(context.Context, features.Vector) (int, error) { return 2, nil }
func (nanProba) PredictProba(context.Context, features.Vector) ([]float64, error) {
	proba := make([]float64, claim.NumClasses)
	proba[2] = math.NaN()
	return proba, nil
}
func (nanProba) Info() model.Info { return model.Info{Format: "stub", NumClass: claim.NumClasses} }
func (nanProba) Close() error     { return nil }

func fixturePredictor(t *testing.T, opts ...predictor.Option) *predictor.Predictor {
	t.Helper()
	res, err := predictor.Load(context.Background(), predictor.Config{ModelPath: testutil.WriteXGBoostModel(t)})
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })
	return predictor.New(res, opts...)
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(fixturePredictor(t), nil, opts...).ServeMux())
	t.Cleanup(srv.Close)
	return srv
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func postForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestIndex_ServesFormWithDefaults(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()

	assert.Contains(t, body, "<form")
	for _, section := range []string{"Basic Information", "Timeline Details", "Additional Factors", "Medical Information"} {
		assert.Contains(t, body, "<legend>"+section+"</legend>")
	}
	for _, key := range []string{"birth_year", "accident_month", "district_name", "attorney_representative", "wcio_cause_injury_code"} {
		assert.Contains(t, body, `name="`+key+`"`)
	}
	assert.Contains(t, body, `<option value="1" selected>January</option>`)
	assert.Contains(t, body, `<option value="ALBANY" selected>ALBANY</option>`)
	assert.Contains(t, body, `value="1980"`)
	assert.Equal(t, 1, strings.Count(body, `<option value="BINGHAMTON"`), "duplicate key offered once")
	assert.NotContains(t, body, "Predicted Claim Type")
}

func TestIndex_UnknownPath(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/nope"))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestPredictForm(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, postForm(url.Values{
		"birth_year":              {"1975"},
		"accident_month":          {"7"},
		"carrier_name":            {"SIF"},
		"attorney_representative": {"on"},
	}))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()

	assert.Contains(t, body, `<div class="metric">TEMPORARY</div>`)
	assert.Contains(t, body, "<iframe")
	assert.Contains(t, body, "srcdoc=")
	assert.Contains(t, body, `value="1975"`, "inputs are preserved")
	assert.Contains(t, body, `<option value="7" selected>July</option>`)
	assert.Contains(t, body, `name="attorney_representative" checked`)
}

func TestPredictForm_UncheckedBoxesAreFalse(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, postForm(url.Values{"birth_year": {"1980"}}))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), `<div class="metric">MED ONLY</div>`)
}

func TestPredictForm_InvalidInput(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, postForm(url.Values{"birth_year": {"1850"}}))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	body := w.Body.String()
	assert.Contains(t, body, `role="alert"`)
	assert.Contains(t, body, `value="1850"`)
	assert.NotContains(t, body, "View Debug Information")

	w = serve(t, mux, postForm(url.Values{"ime_4_count": {"many"}}))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	assert.Contains(t, w.Body.String(), "ime_4_count")
}

func TestPredictForm_PredictionErrorShowsDebugInfo(t *testing.T) {
	t.Parallel()
	res, err := predictor.NewResources(shortProba{}, features.DefaultTables())
	require.NoError(t, err)
	mux := NewServer(predictor.New(res), nil).ServeMux()

	w := serve(t, mux, postForm(url.Values{"birth_year": {"1990"}}))
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)
	body := w.Body.String()
	assert.Contains(t, body, "error making prediction (probabilities)")
	assert.Contains(t, body, "View Debug Information")
	assert.Contains(t, body, "<td>Days_Accident_to_First_Hearing</td><td>int64</td>")
	assert.Contains(t, body, "<td>County_Claims_Normalized</td><td>float64</td>")
	assert.Contains(t, body, `value="1990"`)
	assert.Contains(t, body, "<form")
}

func TestAPIPredict(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/predict", "application/json", strings.NewReader(`{"attorney_representative": true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out predictor.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "TEMPORARY", out.Label)
	assert.Equal(t, testutil.FixtureAttorneyClass, out.ClassID)
	require.Len(t, out.Probabilities, 8)
	for i := 1; i < len(out.Probabilities); i++ {
		assert.GreaterOrEqual(t, out.Probabilities[i-1].Probability, out.Probabilities[i].Probability)
	}
	assert.True(t, out.State.AttorneyRepresentative)
	assert.Equal(t, 1980, out.State.BirthYear, "missing keys keep defaults")
}

func TestAPIPredict_Errors(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"out of range", postJSON("/api/predict", `{"birth_year": 1800}`), http.StatusBadRequest},
		{"unknown key", postJSON("/api/predict", `{"salary": 1}`), http.StatusBadRequest},
		{"unknown carrier", postJSON("/api/predict", `{"carrier_name": "ACME"}`), http.StatusBadRequest},
		{"not json", postJSON("/api/predict", `birth_year=1`), http.StatusBadRequest},
		{"wrong method", testutil.NewTestRequest(http.MethodGet, "/api/predict"), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, mux, tt.req)
			testutil.AssertStatusCode(t, w.Code, tt.status)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestAPIPredict_PredictionError(t *testing.T) {
	t.Parallel()
	res, err := predictor.NewResources(shortProba{}, features.DefaultTables())
	require.NoError(t, err)
	mux := NewServer(predictor.New(res), nil).ServeMux()

	w := serve(t, mux, postJSON("/api/predict", `{}`))
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)

	var out predictionErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, predictor.StageProbabilities, out.Stage)
	assert.Len(t, out.ColumnTypes, features.NumColumns)
	assert.Contains(t, out.Error, "unexpected length")
}

func TestAPIPredict_NonFiniteProbability(t *testing.T) {
	t.Parallel()
	res, err := predictor.NewResources(nanProba{}, features.DefaultTables())
	require.NoError(t, err)
	mux := NewServer(predictor.New(res), nil).ServeMux()

	w := serve(t, mux, postJSON("/api/predict", `{}`))
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)
	var out predictionErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	assert.Equal(t, predictor.StageProbabilities, out.Stage)
	assert.Contains(t, out.Error, "out of range")

	w = serve(t, mux, postForm(url.Values{}))
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)
	assert.Contains(t, w.Body.String(), "View Debug Information")
}

func TestChartPNG(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, postJSON("/api/chart.png", `{}`))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "MED_ONLY.png")

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestFieldsAndSchema(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/api/fields"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var fields struct {
		Sections []string         `json:"sections"`
		Fields   []map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
	assert.Len(t, fields.Sections, 4)
	assert.Len(t, fields.Fields, 19)
	assert.Equal(t, "birth_year", fields.Fields[0]["key"])

	w = serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/api/schema"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &schema))
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Len(t, schema["properties"], 19)
}

func TestShowConfig(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/api/config"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var cfg struct {
		Tables struct {
			District struct {
				Entries     []features.Entry     `json:"entries"`
				Overwritten []features.Overwrite `json:"overwritten"`
			} `json:"district"`
		} `json:"tables"`
		Labels  []string   `json:"labels"`
		Columns []any      `json:"columns"`
		Model   model.Info `json:"model"`
		History bool       `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Len(t, cfg.Tables.District.Entries, 6)
	assert.Equal(t, []features.Overwrite{{Key: "BINGHAMTON", Previous: 1, Code: 2}}, cfg.Tables.District.Overwritten)
	assert.Equal(t, "CANCELLED", cfg.Labels[0])
	assert.Equal(t, "DEATH", cfg.Labels[7])
	assert.Len(t, cfg.Columns, 19)
	assert.Equal(t, model.FormatXGBoostJSON, cfg.Model.Format)
	assert.False(t, cfg.History)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	mux := NewServer(fixturePredictor(t), nil).ServeMux()
	w := serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/api/history"))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	store, err := db.NewDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	history := db.NewHistory(store, nil)

	mux = NewServer(fixturePredictor(t, predictor.WithRecorder(history)), nil, WithHistory(store, history, 10)).ServeMux()
	for i := 0; i < 3; i++ {
		w = serve(t, mux, postJSON("/api/predict", `{}`))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	}

	w = serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/api/history?limit=2"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var entries []db.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "MED ONLY", entries[0].Label)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))

	w = serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/api/history?limit=abc"))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestHalted(t *testing.T) {
	t.Parallel()
	loadErr := &predictor.LoadError{Path: "tuned_XGB.json", Err: errors.New("open tuned_XGB.json: no such file or directory")}
	srv := NewServer(nil, loadErr)
	require.True(t, srv.Halted())
	mux := srv.ServeMux()

	for _, req := range []*http.Request{
		testutil.NewTestRequest(http.MethodGet, "/"),
		postForm(url.Values{"birth_year": {"1980"}}),
		postJSON("/api/predict", `{}`),
		testutil.NewTestRequest(http.MethodGet, "/api/fields"),
		testutil.NewTestRequest(http.MethodGet, "/api/config"),
	} {
		w := serve(t, mux, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
		body := w.Body.String()
		assert.NotContains(t, body, "<form", req.URL.Path)
		assert.NotContains(t, body, "<input", req.URL.Path)
		assert.Contains(t, body, "error loading model tuned_XGB.json")
	}

	w := serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/healthz"))
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
	assert.Contains(t, w.Body.String(), `"status":"unavailable"`)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	mux := NewServer(fixturePredictor(t), nil).ServeMux()

	w := serve(t, mux, testutil.NewTestRequest(http.MethodGet, "/healthz"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok","model":"xgboost-json"}`, w.Body.String())
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	serve(t, h, testutil.NewTestRequest(http.MethodGet, "/api/fields?x=1"))

	line := buf.String()
	assert.Contains(t, line, statusCodeColor(http.StatusTeapot))
	assert.Contains(t, line, "GET")
	assert.Contains(t, line, "/api/fields?x=1")
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"422"+colorReset, statusCodeColor(422))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}
