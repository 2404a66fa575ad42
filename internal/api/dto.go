package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/storage"
)

// APIError represents a structured error response
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// Common error codes
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeInternalError = "internal_error"
)

// ReconcileRequest is the body of POST /api/reconciliations. Month and year
// may arrive as numbers or strings.
type ReconcileRequest struct {
	BookURI string      `json:"archivo_libro"`
	BankURI string      `json:"archivo_banco"`
	Month   interface{} `json:"month"`
	Year    interface{} `json:"year"`
	ID      interface{} `json:"id"`
}

// ToRequest converts the body to a reconciliation request
func (r *ReconcileRequest) ToRequest() (*reconciler.Request, error) {
	month, err := periodPart(r.Month)
	if err != nil {
		return nil, fmt.Errorf("invalid month %v: %w", r.Month, err)
	}
	year, err := periodPart(r.Year)
	if err != nil {
		return nil, fmt.Errorf("invalid year %v: %w", r.Year, err)
	}

	external := ""
	if r.ID != nil {
		external = strings.TrimSpace(cast.ToString(r.ID))
	}

	return &reconciler.Request{
		BookURI:    strings.TrimSpace(r.BookURI),
		BankURI:    strings.TrimSpace(r.BankURI),
		Month:      month,
		Year:       year,
		ExternalID: external,
	}, nil
}

// periodPart reads a month or year. Strings have thousand separators and
// leading zeros removed, so "2,024" and "03" are accepted.
func periodPart(v interface{}) (int, error) {
	if v == nil {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" {
			return 0, nil
		}
		if t := strings.TrimLeft(s, "0"); t != "" {
			s = t
		} else {
			s = "0"
		}
		v = s
	}
	return cast.ToIntE(v)
}

// ReconciliationResponse is returned for a finished run
type ReconciliationResponse struct {
	RunID   string              `json:"run_id"`
	Status  string              `json:"status"`
	Period  string              `json:"period,omitempty"`
	Summary *reconciler.Summary `json:"summary"`
	Exports []string            `json:"exports,omitempty"`
}

// RunListResponse is returned by GET /api/reconciliations
type RunListResponse struct {
	Runs  []*storage.RunRecord `json:"runs"`
	Count int                  `json:"count"`
}

// HealthResponse is returned by the health check endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	InFlight  int64  `json:"in_flight"`
	Total     int64  `json:"total"`
}

func newHealthResponse(inFlight, total int64) HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		InFlight:  inFlight,
		Total:     total,
	}
}
