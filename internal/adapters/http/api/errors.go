package api

import (
	"errors"
	"net/http"

	service "github.com/okian/marksheet/internal/app"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrBodyTooBig = errors.New("request body too large")
)

// Error codes returned in error bodies.
const (
	codeBadRequest       = "bad_request"
	codeInvalidOperation = "invalid_operation"
	codeNotFound         = "not_found"
	codeConfigGap        = "configuration_gap"
	codeBackpressure     = "backpressure"
	codeUnavailable      = "unavailable"
	codeInternal         = "internal_error"
)

// classify maps an error to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, service.ErrInvalidOperation):
		return http.StatusBadRequest, codeInvalidOperation
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, ErrBodyTooBig):
		return http.StatusRequestEntityTooLarge, codeBadRequest
	case errors.Is(err, service.ErrConfigurationGap):
		return http.StatusUnprocessableEntity, codeConfigGap
	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, codeBackpressure
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
