package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
)

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := observability.GetCorrelationID(r.Context())

	var saveErr *save.Error
	if errors.As(err, &saveErr) {
		writeJSON(w, saveErr.ToHTTPStatus(), ErrorResponse{
			Error:         saveErr.Code.String(),
			Code:          saveErr.Code.String(),
			Message:       saveErr.Message,
			CorrelationID: correlationID,
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:         "internal_error",
		Message:       "An internal error occurred",
		CorrelationID: correlationID,
	})
}

// WriteBadRequest writes a 400 response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:         http.StatusText(http.StatusBadRequest),
		Message:       message,
		CorrelationID: observability.GetCorrelationID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // response already committed
}
