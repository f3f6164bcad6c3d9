package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/models"
	"github.com/mimir-aip/gemprice/pkg/prediction"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

// formView is the data behind form.html
type formView struct {
	Error     string
	Values    map[string]string
	Cuts      []string
	Colors    []string
	Clarities []string
}

func newFormView(values map[string]string, msg string) formView {
	if values == nil {
		values = map[string]string{}
	}
	return formView{
		Error:     msg,
		Values:    values,
		Cuts:      models.CutCategories,
		Colors:    models.ColorCategories,
		Clarities: models.ClarityCategories,
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("template", name).Msg("Failed to render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index.html", nil)
}

func (s *Server) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "form.html", newFormView(nil, ""))
}

func (s *Server) handlePredictSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "form.html", newFormView(nil, "Invalid form submission"))
		return
	}
	values := make(map[string]string, len(prediction.RequestFields))
	for _, f := range prediction.RequestFields {
		values[f] = r.PostForm.Get(f)
	}

	req, err := prediction.ParseRequest(r.PostForm.Get)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Invalid numeric input received")
		s.render(w, r, http.StatusBadRequest, "form.html",
			newFormView(values, "Invalid input: Please enter valid numeric values"))
		return
	}

	res, err := s.predictor.Predict(r.Context(), req)
	if err != nil {
		status, msg := predictionStatus(err)
		if status == http.StatusBadRequest {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Invalid prediction input")
		} else {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Unexpected error in prediction")
			status, msg = http.StatusInternalServerError, "Something went wrong. Please try again."
		}
		s.render(w, r, status, "form.html", newFormView(values, msg))
		return
	}

	logging.Ctx(r.Context()).Info().
		Float64("log_price", res.LogPrice).
		Float64("price", res.Price).
		Msg("Prediction successful")
	s.render(w, r, http.StatusOK, "result.html", res)
}
