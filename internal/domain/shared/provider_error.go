package shared

import (
	"errors"
	"fmt"
)

// Error codes for failures of external providers
const (
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeProviderRejected    = "PROVIDER_REJECTED"
)

// Sentinels matched by ProviderError.Is
var (
	ErrProviderUnavailable = NewDomainError(CodeProviderUnavailable, "External provider is temporarily unavailable")
	ErrProviderRejected    = NewDomainError(CodeProviderRejected, "External provider rejected the request")
)

// ProviderError is the result of a failed call to an external provider.
// Transient failures (network, timeouts, 5xx, rate limits) may be retried
// by the caller; permanent ones will fail the same way again.
// Nothing in this module retries provider calls itself.
type ProviderError struct {
	Provider  string
	Op        string
	Transient bool
	Err       error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Provider, e.Op, kind, e.Err)
}

// Unwrap returns the underlying error
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is maps the error onto ErrProviderUnavailable or ErrProviderRejected
func (e *ProviderError) Is(target error) bool {
	if e.Transient {
		return target == ErrProviderUnavailable
	}
	return target == ErrProviderRejected
}

// NewTransientProviderError wraps err as a retryable provider failure
func NewTransientProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Transient: true, Err: err}
}

// NewPermanentProviderError wraps err as a non-retryable provider failure
func NewPermanentProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is a ProviderError marked transient
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
