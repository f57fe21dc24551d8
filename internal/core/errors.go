package core

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Handlers map these onto HTTP status codes and
// executors use them to decide retry behaviour.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation")
	ErrCancelled  = errors.New("cancelled")
)

// UpstreamError reports a remote site responding with status >= 400.
// 403, 404 and 5xx are distinguished by the retry policy.
type UpstreamError struct {
	Status int
	URL    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
}

// ParseError reports unexpected content structure. Not retryable at the
// scraping layer.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationErrorf wraps ErrValidation with a formatted message.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
