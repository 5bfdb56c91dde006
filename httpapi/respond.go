// Package httpapi implements the external HTTP interface:
// upload/process/status/result, feedback, and the pluggable-auth admin
// CRUD surface, routed with go-chi/chi and logged through
// core.LoggingMiddleware/core.CORSMiddleware.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/medlingua/pipeline/core"
)

// envelope is the uniform error shape:
// {error:{code, message, details, timestamp}}.
type envelope struct {
	Error *envelopeError `json:"error"`
}

type envelopeError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a domain error to the HTTP envelope, using a
// deterministic Kind -> status code table. Any error that isn't a
// *core.DomainError is treated as an opaque internal failure so no
// unclassified error message leaks implementation detail.
func writeError(w http.ResponseWriter, err error) {
	de, ok := err.(*core.DomainError)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, envelope{Error: &envelopeError{
			Code: string(core.KindInternal), Message: "internal error", Timestamp: time.Now().UTC(),
		}})
		return
	}
	writeJSON(w, statusForKind(de.Kind), envelope{Error: &envelopeError{
		Code:      string(de.Kind),
		Message:   de.Message,
		Details:   de.Details,
		Timestamp: time.Now().UTC(),
	}})
}

func statusForKind(k core.ErrorKind) int {
	switch k {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindRateLimit:
		return http.StatusTooManyRequests
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindServiceUnavailable, core.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case core.KindConnection:
		return http.StatusBadGateway
	case core.KindProcessing, core.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
