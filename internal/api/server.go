// Package api serves the claim form, the JSON prediction API and the admin
// pages over HTTP.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/claimtype/internal/db"
	"github.com/banshee-data/claimtype/internal/monitoring"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/render"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultHistoryLimit is used when /api/history is called without ?limit.
const DefaultHistoryLimit = 50

var logf = monitoring.Component("api")

// Server holds the handlers' dependencies. A Server built with a load error
// is halted: every route answers 503 and no form is served.
type Server struct {
	pred    *predictor.Predictor
	loadErr error

	db           *db.DB
	history      *db.History
	historyLimit int
	chart        render.ChartOptions
}

// Option configures a Server.
type Option func(*Server)

// WithHistory exposes stored predictions on /api/history and the history
// database on /debug/tailsql/.
func WithHistory(d *db.DB, h *db.History, limit int) Option {
	return func(s *Server) {
		s.db = d
		s.history = h
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// WithChartOptions sets the look of the result chart.
func WithChartOptions(o render.ChartOptions) Option {
	return func(s *Server) { s.chart = o }
}

// NewServer returns a Server predicting with p. When loadErr is non-nil p is
// ignored and the server is halted.
func NewServer(p *predictor.Predictor, loadErr error, opts ...Option) *Server {
	s := &Server{pred: p, loadErr: loadErr, historyLimit: DefaultHistoryLimit}
	if s.pred == nil && s.loadErr == nil {
		s.loadErr = errNoPredictor
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Halted reports whether the server refuses to predict.
func (s *Server) Halted() bool {
	return s.loadErr != nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux registers every route. A halted server registers the error page
// on "/" and the failing health check only.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	if s.Halted() {
		mux.HandleFunc("/", s.haltedPage)
		return mux
	}

	mux.HandleFunc("/", s.index)
	mux.HandleFunc("/predict", s.predictForm)
	mux.HandleFunc("/api/predict", s.apiPredict)
	mux.HandleFunc("/api/chart.png", s.chartPNG)
	mux.HandleFunc("/api/fields", s.fields)
	mux.HandleFunc("/api/schema", s.schema)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/history", s.listHistory)

	debug := tsweb.Debugger(mux)
	info := s.pred.Resources().Classifier.Info()
	debug.KV("Model", info.Path)
	debug.KV("Model format", info.Format)
	debug.KV("Loaded at", s.pred.Resources().LoadedAt.Format(time.RFC3339))
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			logf("admin routes disabled: %v", err)
		}
	}
	return mux
}

// Handler is ServeMux wrapped in LoggingMiddleware.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}
