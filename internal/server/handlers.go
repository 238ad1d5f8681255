package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/modelcascade/cascade/internal/batch"
	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/experiment"
	"github.com/modelcascade/cascade/internal/store"
)

// evaluateRequest is the wire shape for single and batch evaluation items.
// Threshold zero means the configured gate default.
type evaluateRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

func (req *evaluateRequest) validate() error {
	if req.Prompt == "" {
		return domain.ErrInvalidRequest("prompt is required").WithParam("prompt")
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return domain.ErrInvalidRequest("threshold must be within [0,1]").WithParam("threshold")
	}
	return nil
}

func (req *evaluateRequest) toDomain(userAgent string) *domain.CompletionRequest {
	return &domain.CompletionRequest{
		Prompt:      req.Prompt,
		System:      req.System,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		UserAgent:   userAgent,
	}
}

type batchEvaluateRequest struct {
	Requests    []evaluateRequest `json:"requests"`
	Concurrency int               `json:"concurrency,omitempty"`
	Threshold   float64           `json:"threshold,omitempty"`
}

type createExperimentRequest struct {
	Name     string               `json:"name"`
	Variants []experiment.Variant `json:"variants"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvaluate runs one request through the escalation router and persists
// the result as a report.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrInvalidRequest("malformed request body"))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		result *domain.EvaluationResult
		err    error
	)
	if req.Threshold > 0 {
		result, err = s.deps.Router.EvaluateThreshold(r.Context(), req.toDomain(r.UserAgent()), req.Threshold)
	} else {
		result, err = s.deps.Router.Evaluate(r.Context(), req.toDomain(r.UserAgent()))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.saveReport(r, result)
	writeJSON(w, http.StatusOK, result)
}

// handleBatchEvaluate fans a request list out over the bounded batch runner.
// Per-item failures come back inside their item; the batch as a whole only
// fails on cancellation.
func (s *Server) handleBatchEvaluate(w http.ResponseWriter, r *http.Request) {
	var req batchEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrInvalidRequest("malformed request body"))
		return
	}
	if len(req.Requests) == 0 {
		s.writeError(w, r, domain.ErrInvalidRequest("requests is required").WithParam("requests"))
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		s.writeError(w, r, domain.ErrInvalidRequest("threshold must be within [0,1]").WithParam("threshold"))
		return
	}
	for i := range req.Requests {
		if err := req.Requests[i].validate(); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	// Overrides need their own runner; the shared one carries the
	// configured defaults.
	runner := s.deps.Batch
	if req.Concurrency > 0 || req.Threshold > 0 {
		var err error
		runner, err = batch.NewRunner(
			batch.EvaluatorFunc(func(ctx context.Context, dr *domain.CompletionRequest) (*domain.EvaluationResult, error) {
				return s.evaluateOne(ctx, dr, req.Threshold)
			}),
			batch.WithConcurrency(req.Concurrency),
			batch.WithLogger(s.logger))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	reqs := make([]*domain.CompletionRequest, len(req.Requests))
	for i := range req.Requests {
		reqs[i] = req.Requests[i].toDomain(r.UserAgent())
	}

	items, err := runner.Run(r.Context(), reqs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range items {
		if items[i].Result != nil {
			s.saveReport(r, items[i].Result)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrInvalidRequest("malformed request body"))
		return
	}

	exp, err := s.deps.Engine.Create(req.Name, req.Variants)
	if err != nil {
		if errors.Is(err, experiment.ErrDuplicate) {
			s.writeError(w, r, domain.ErrInvalidRequest(err.Error()).WithStatusCode(http.StatusConflict))
			return
		}
		s.writeError(w, r, domain.ErrInvalidRequest(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"experiments": s.deps.Engine.List()})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	exp, err := s.deps.Engine.Get(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.deps.Engine.Stats(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment": exp,
		"stats":      stats,
	})
}

func (s *Server) handleExperimentEvaluate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrInvalidRequest("malformed request body"))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Engine.Evaluate(r.Context(), name, req.toDomain(r.UserAgent()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.saveReport(r, result)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExperimentWinner(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	mode, err := experiment.ParseWinnerMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, r, domain.ErrInvalidRequest(err.Error()).WithParam("mode"))
		return
	}

	winner, err := s.deps.Engine.Winner(r.Context(), name, mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, winner)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.deps.Reports.GetReport(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// evaluateOne dispatches to the router with an optional threshold override.
func (s *Server) evaluateOne(ctx context.Context, req *domain.CompletionRequest, threshold float64) (*domain.EvaluationResult, error) {
	if threshold > 0 {
		return s.deps.Router.EvaluateThreshold(ctx, req, threshold)
	}
	return s.deps.Router.Evaluate(ctx, req)
}

// saveReport assigns the result its report ID and persists it. Storage
// failures are logged; the caller still gets the result.
func (s *Server) saveReport(r *http.Request, result *domain.EvaluationResult) {
	result.ID = uuid.New().String()
	if err := s.deps.Reports.SaveReport(r.Context(), result); err != nil {
		s.logger.Error("save report",
			slog.String("report_id", result.ID),
			slog.String("error", err.Error()))
	}
	AddLogField(r.Context(), "report_id", result.ID)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps an error onto the wire: canonical APIErrors carry their
// own status, experiment and store lookups map to 404, everything else is a
// 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var apiErr *domain.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, experiment.ErrNotFound), errors.Is(err, store.ErrNotFound):
		apiErr = domain.ErrNotFound(err.Error())
	default:
		apiErr = domain.ErrServer(err.Error())
	}

	writeJSON(w, apiErr.HTTPStatusCode(), map[string]any{"error": apiErr})
}
