// Package dashboard exposes the pipeline's state over a JSON HTTP API.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/detector"
	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
	"github.com/onyagamarcel2/modsec-ai/internal/preprocess"
	"github.com/onyagamarcel2/modsec-ai/internal/updater"
	"github.com/onyagamarcel2/modsec-ai/internal/validation"
	"github.com/onyagamarcel2/modsec-ai/internal/vectorize"
)

// Server wires the pipeline components into HTTP handlers.
type Server struct {
	updater      *updater.ModelUpdater
	alerts       *alerting.Manager
	validations  *validation.Manager
	parser       *logparse.Parser
	preprocessor *preprocess.Preprocessor
	vectorizer   *vectorize.Vectorizer
	combiner     *detector.ScoreCombiner

	httpServer *http.Server
}

func NewServer(port string, u *updater.ModelUpdater, alerts *alerting.Manager,
	validations *validation.Manager, parser *logparse.Parser,
	pre *preprocess.Preprocessor, vec *vectorize.Vectorizer,
	combiner *detector.ScoreCombiner) *Server {

	s := &Server{
		updater:      u,
		alerts:       alerts,
		validations:  validations,
		parser:       parser,
		preprocessor: pre,
		vectorizer:   vec,
		combiner:     combiner,
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/api/performance", s.handlePerformance)
	r.Get("/api/alerts", s.handleAlerts)
	r.Get("/api/validations", s.handleValidations)
	r.Post("/api/validations/{id}", s.handleResolveValidation)
	r.Post("/api/analyze", s.handleAnalyze)

	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("Dashboard listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"models": s.updater.ModelNames(),
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.updater.PerformanceHistory())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	severity := r.URL.Query().Get("severity")
	history := s.alerts.History(severity, 100)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": history,
		"counts": s.alerts.Counts(),
	})
}

func (s *Server) handleValidations(w http.ResponseWriter, r *http.Request) {
	if s.validations == nil {
		writeError(w, http.StatusServiceUnavailable, errValidationUnavailable)
		return
	}
	status := r.URL.Query().Get("status")
	items, err := s.validations.List(r.Context(), status, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []validation.AnomalyValidation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"validations": items})
}

type resolveRequest struct {
	Status      string `json:"status"`
	ValidatedBy string `json:"validated_by"`
	Notes       string `json:"notes"`
}

func (s *Server) handleResolveValidation(w http.ResponseWriter, r *http.Request) {
	if s.validations == nil {
		writeError(w, http.StatusServiceUnavailable, errValidationUnavailable)
		return
	}
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resolved, err := s.validations.Resolve(r.Context(), id, req.Status, req.ValidatedBy, req.Notes)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

type analyzeRequest struct {
	Logs []string `json:"logs"`
}

type analyzeResult struct {
	Score       float64            `json:"score"`
	IsAnomaly   bool               `json:"is_anomaly"`
	ModelScores map[string]float64 `json:"model_scores"`
	Error       string             `json:"error,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Logs) == 0 {
		writeError(w, http.StatusBadRequest, errEmptyLogs)
		return
	}

	results := make([]analyzeResult, 0, len(req.Logs))
	for _, raw := range req.Logs {
		results = append(results, s.analyzeOne(raw))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) analyzeOne(raw string) analyzeResult {
	entry, err := s.parser.ParseTransaction(raw)
	if err != nil || entry == nil {
		return analyzeResult{Error: "unparseable transaction"}
	}

	tokens := s.preprocessor.Tokens(entry)
	vector := s.vectorizer.Transform(tokens)

	perModel := s.updater.ScoreSample(vector)
	if len(perModel) == 0 {
		return analyzeResult{Error: "no fitted models"}
	}

	batch := make(map[string][]float64, len(perModel))
	for name, score := range perModel {
		batch[name] = []float64{score}
	}
	combined, err := s.combiner.Combine(batch)
	if err != nil {
		return analyzeResult{Error: err.Error()}
	}

	score := combined[0]
	isAnomaly := false
	if ens, ok := s.updater.Detector("ensemble"); ok {
		isAnomaly = score >= ens.Threshold()
	}
	return analyzeResult{Score: score, IsAnomaly: isAnomaly, ModelScores: perModel}
}

var (
	errEmptyLogs             = jsonError("logs must not be empty")
	errValidationUnavailable = jsonError("validation workflow unavailable")
)

type jsonError string

func (e jsonError) Error() string { return string(e) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
