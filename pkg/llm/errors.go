package llm

import (
	"errors"
	"fmt"
)

// ErrExhaustedRetries marks a call whose retry budget ran out. The last
// underlying failure is joined so callers can still inspect its class.
var ErrExhaustedRetries = errors.New("retries exhausted")

// TransportError reports a network or HTTP-level failure talking to the
// model endpoint.
type TransportError struct {
	Model string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure [%s]: %v", e.Model, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports a reply that arrived but failed schema or range
// validation.
type ValidationError struct {
	Model  string
	Schema string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failure [%s] schema %s: %s", e.Model, e.Schema, e.Reason)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
