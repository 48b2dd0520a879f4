package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/chatpulse/internal/domain"
)

// Error codes returned in ErrorShape.Code.
const (
	codeValidation  = "validation_error"
	codeNotFound    = "not_found"
	codePersistence = "persistence_error"
	codeTooLarge    = "payload_too_large"
	codeTimeout     = "timeout"
	codeInternal    = "internal"
)

// classifyError maps a pipeline error to an HTTP status and error shape.
// Client-facing messages never include storage internals.
func classifyError(err error) (int, ErrorShape) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrorShape{Code: codeTooLarge, Message: "request body too large"}
	case domain.IsValidation(err):
		return http.StatusBadRequest, ErrorShape{Code: codeValidation, Message: err.Error()}
	case domain.IsNotFound(err):
		return http.StatusNotFound, ErrorShape{Code: codeNotFound, Message: "referenced record not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorShape{Code: codeTimeout, Message: "request timed out", Retryable: true}
	case domain.IsPersistence(err):
		return http.StatusServiceUnavailable, ErrorShape{Code: codePersistence, Message: "storage unavailable", Retryable: true}
	default:
		return http.StatusInternalServerError, ErrorShape{Code: codeInternal, Message: "internal error"}
	}
}

// errorChain flattens err and everything it wraps, outermost first.
func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, shape := classifyError(err)
	if !s.production {
		shape.Details = errorChain(err)
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("requestId", r.Header.Get(requestIDHeader)).
			Msg("request failed")
	}
	writeJSON(w, status, ErrorBody{Error: shape})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
