package service

import (
	"net/http"

	"notesrag/internal/ragerr"
)

// minMessageLen and maxMessageLen bound the chat endpoint's message field.
const (
	minMessageLen = 1
	maxMessageLen = 2000
)

// ValidateMessage enforces the [1, 2000] character bound on a chat request.
func ValidateMessage(message string) error {
	n := len(message)
	if n < minMessageLen || n > maxMessageLen {
		return ragerr.New(ragerr.Validation, "message must be between 1 and 2000 characters")
	}
	return nil
}

// HTTPStatus maps a ragerr.Kind to the status code the HTTP layer returns.
func HTTPStatus(err error) int {
	switch {
	case ragerr.Is(err, ragerr.Validation):
		return http.StatusBadRequest
	case ragerr.Is(err, ragerr.NotFound):
		return http.StatusNotFound
	case ragerr.Is(err, ragerr.RateLimited):
		return http.StatusTooManyRequests
	case ragerr.Is(err, ragerr.Transient), ragerr.Is(err, ragerr.Degraded):
		return http.StatusServiceUnavailable
	case ragerr.Is(err, ragerr.ContractViolation), ragerr.Is(err, ragerr.Configuration):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
