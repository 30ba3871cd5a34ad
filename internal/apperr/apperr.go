// Package apperr classifies failures so the trigger surface can tell
// "the whole call failed" apart from recoverable per-item problems.
package apperr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrProviderExhausted = errors.New("provider exhausted")
	ErrPersistence       = errors.New("persistence failure")
	ErrNotFound          = errors.New("not found")
)

// Validation marks caller input as malformed.
func Validation(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func Unauthorized(msg string) error {
	return errors.Mark(errors.New(msg), ErrUnauthorized)
}

// ProviderExhausted is returned when an enrichment provider answers with a
// rate-limit response or its call budget is spent.
func ProviderExhausted(provider string) error {
	return errors.Mark(errors.Newf("%s: rate limit reached", provider), ErrProviderExhausted)
}

// Persistence wraps a store failure for the given operation.
func Persistence(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}

func NotFound(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// HTTPStatus maps an error to the status code a trigger responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProviderExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
