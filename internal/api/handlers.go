package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

const maxBodyBytes = 1 << 20

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse(s.inFlight.Load(), s.total.Load()))
}

// createReconciliation handles POST /api/reconciliations
func (s *Server) createReconciliation(w http.ResponseWriter, r *http.Request) {
	var body ReconcileRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: ErrCodeBadRequest, Message: "malformed request body: " + err.Error()})
		return
	}

	req, err := body.ToRequest()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: ErrCodeBadRequest, Message: err.Error()})
		return
	}

	s.inFlight.Inc()
	s.total.Inc()
	defer s.inFlight.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RunTimeout)
	defer cancel()

	outcome, err := s.orchestrator.Process(ctx, req)
	if err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{
			"run_id":      req.RunID,
			"external_id": req.ExternalID,
		}).Error("Reconciliation request failed")
		s.writeRunError(w, req.RunID, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconciliationResponse{
		RunID:   outcome.Result.RunID,
		Status:  reconciler.StatusUpdated,
		Period:  req.Period(),
		Summary: outcome.Result.Summary,
		Exports: outcome.Exports,
	})
}

// listRuns handles GET /api/reconciliations
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError, APIError{Code: ErrCodeInternalError, Message: "an internal error occurred"})
		return
	}

	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Count: len(runs)})
}

// getRun handles GET /api/reconciliations/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if rerr, ok := errors.AsReconcilerError(err); ok && rerr.Code == errors.CodeNotFound {
			writeJSON(w, http.StatusNotFound, APIError{Code: ErrCodeNotFound, Message: "run " + id + " not found"})
			return
		}
		s.logger.WithError(err).WithField("run_id", id).Error("Failed to read run")
		writeJSON(w, http.StatusInternalServerError, APIError{Code: ErrCodeInternalError, Message: "an internal error occurred"})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) writeRunError(w http.ResponseWriter, runID string, err error) {
	status, body := StatusFor(err)
	body.RunID = runID
	writeJSON(w, status, body)
}

// StatusFor maps a run error to its HTTP status and response body. Malformed
// requests are 400, input shape errors 422, everything else 500.
func StatusFor(err error) (int, APIError) {
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError, APIError{Code: ErrCodeInternalError, Message: err.Error()}
	}

	body := APIError{Code: string(rerr.Code), Message: rerr.Message, Suggestion: rerr.Suggestion}
	switch {
	case rerr.Code == errors.CodeInvalidRequest:
		return http.StatusBadRequest, body
	case rerr.Category == errors.CategoryInput:
		return http.StatusUnprocessableEntity, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
