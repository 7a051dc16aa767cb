package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/httputil"
	"github.com/banshee-data/claimtype/internal/model"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/render"
	"github.com/banshee-data/claimtype/internal/security"
)

var errNoPredictor = errors.New("no predictor configured")

// predictionErrorResponse is the JSON body of a failed prediction.
type predictionErrorResponse struct {
	Error       string            `json:"error"`
	Stage       string            `json:"stage"`
	ColumnTypes []features.Column `json:"column_types"`
}

func writePredictionError(w http.ResponseWriter, err error) {
	var perr *predictor.PredictionError
	if !errors.As(err, &perr) {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusUnprocessableEntity, predictionErrorResponse{
		Error:       perr.Error(),
		Stage:       perr.Stage,
		ColumnTypes: perr.ColumnTypes,
	})
}

// decodeState reads a JSON form state from the request body. Missing keys
// keep their defaults.
func (s *Server) decodeState(w http.ResponseWriter, r *http.Request) (claim.FormState, bool) {
	body, err := httputil.ReadBody(w, r)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		} else {
			httputil.BadRequest(w, err.Error())
		}
		return claim.FormState{}, false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	state, err := s.pred.Resources().Validator.Decode(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return claim.FormState{}, false
	}
	return state, true
}

func (s *Server) apiPredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	state, ok := s.decodeState(w, r)
	if !ok {
		return
	}
	res, err := s.pred.Predict(r.Context(), state, attribute.String("surface", "api"))
	if err != nil {
		writePredictionError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) chartPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	state, ok := s.decodeState(w, r)
	if !ok {
		return
	}
	res, err := s.pred.Predict(r.Context(), state, attribute.String("surface", "chart"))
	if err != nil {
		writePredictionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s.png", security.SanitizeFilename(res.Label)))
	if err := render.PNG(w, res.Probabilities, 0, 0); err != nil {
		logf("failed to render chart: %v", err)
	}
}

type fieldsResponse struct {
	Sections []string        `json:"sections"`
	Fields   []claim.Field   `json:"fields"`
	Defaults claim.FormState `json:"defaults"`
}

func (s *Server) fields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	res := s.pred.Resources()
	httputil.WriteJSONOK(w, fieldsResponse{
		Sections: claim.Sections,
		Fields:   claim.Fields(res.Choices()),
		Defaults: res.Defaults(),
	})
}

func (s *Server) schema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, claim.Schema(s.pred.Resources().Choices()))
}

type configResponse struct {
	Tables   features.Tables                      `json:"tables"`
	Labels   [claim.NumClasses]string             `json:"labels"`
	Columns  [features.NumColumns]features.Column `json:"columns"`
	Model    model.Info                           `json:"model"`
	LoadedAt time.Time                            `json:"loaded_at"`
	History  bool                                 `json:"history"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	res := s.pred.Resources()
	httputil.WriteJSONOK(w, configResponse{
		Tables:   res.Tables,
		Labels:   res.Labels,
		Columns:  features.Columns,
		Model:    res.Classifier.Info(),
		LoadedAt: res.LoadedAt,
		History:  s.history != nil,
	})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "prediction history is disabled")
		return
	}
	limit := s.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			httputil.BadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	total, err := s.history.Count(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	httputil.WriteJSONOK(w, entries)
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.Halted() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: s.loadErr.Error()})
		return
	}
	httputil.WriteJSONOK(w, healthResponse{Status: "ok", Model: s.pred.Resources().Classifier.Info().Format})
}
