package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/httputil"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/render"
)

const pageTitle = "Workers Compensation Claim Predictor"

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"percent": func(p float64) string { return fmt.Sprintf("%.2f%%", p*100) },
	"number":  func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) },
}).ParseFS(templatesFS, "templates/*.html"))

type fieldView struct {
	claim.Field
	Current string
	Checked bool
}

type sectionView struct {
	Title  string
	Fields []fieldView
}

type pageData struct {
	Title       string
	Sections    []sectionView
	Result      *predictor.Result
	Chart       string
	Error       string
	ColumnTypes []features.Column
	LoadError   string
}

func (s *Server) formSections(state claim.FormState) []sectionView {
	bySection := claim.FieldsBySection(s.pred.Resources().Choices())
	out := make([]sectionView, 0, len(claim.Sections))
	for _, name := range claim.Sections {
		sec := sectionView{Title: name}
		for _, f := range bySection[name] {
			sec.Fields = append(sec.Fields, fieldView{Field: f, Current: f.Value(state), Checked: f.Bool(state)})
		}
		out = append(out, sec)
	}
	return out
}

func writePage(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		logf("failed to write page: %v", err)
	}
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	writePage(w, http.StatusOK, "page.html", pageData{
		Title:    pageTitle,
		Sections: s.formSections(s.pred.Resources().Defaults()),
	})
}

// parseForm builds a form state from a submitted HTML form. Unchecked boxes
// are absent from the submission and read as false; other absent fields keep
// their defaults.
func (s *Server) parseForm(r *http.Request) (claim.FormState, error) {
	res := s.pred.Resources()
	state := res.Defaults()
	var errs []error
	for _, f := range claim.Fields(res.Choices()) {
		if f.Kind == claim.KindBool {
			errs = append(errs, f.Set(&state, r.PostForm.Get(f.Key)))
			continue
		}
		if v, ok := r.PostForm[f.Key]; ok && len(v) > 0 {
			errs = append(errs, f.Set(&state, v[0]))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return state, fmt.Errorf("%w: %v", claim.ErrInvalid, err)
	}
	return state, res.Validator.Check(state)
}

func (s *Server) predictForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	state, err := s.parseForm(r)
	data := pageData{Title: pageTitle, Sections: s.formSections(state)}
	if err != nil {
		data.Error = err.Error()
		writePage(w, http.StatusBadRequest, "page.html", data)
		return
	}

	res, err := s.pred.Predict(r.Context(), state, attribute.String("surface", "web"))
	if err != nil {
		data.Error = err.Error()
		var perr *predictor.PredictionError
		if errors.As(err, &perr) {
			data.ColumnTypes = perr.ColumnTypes
		}
		writePage(w, http.StatusUnprocessableEntity, "page.html", data)
		return
	}

	chart, err := render.ChartHTML(res.Probabilities, s.chart)
	if err != nil {
		logf("chart unavailable: %v", err)
	}
	data.Result = res
	data.Chart = string(chart)
	writePage(w, http.StatusOK, "page.html", data)
}

func (s *Server) haltedPage(w http.ResponseWriter, r *http.Request) {
	writePage(w, http.StatusServiceUnavailable, "halted.html", pageData{
		Title:     pageTitle,
		LoadError: s.loadErr.Error(),
	})
}
