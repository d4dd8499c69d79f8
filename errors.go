package llmgate

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNoProviderAvailable = errors.New("llmgate: no provider available")
	ErrRateLimited         = errors.New("llmgate: rate limited by upstream")
	ErrUpstreamUnavailable = errors.New("llmgate: upstream unavailable")
	ErrAuthFailed          = errors.New("llmgate: authentication failed")
	ErrInvalidRequest      = errors.New("llmgate: invalid request")
	ErrQuotaUnavailable    = errors.New("llmgate: quota record unavailable")
)

// RateLimitError is returned by upstream adapters on HTTP 429. RetryAfter is
// zero when the response carried no Retry-After hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llmgate: rate limited by upstream (retry after %s)", e.RetryAfter)
	}
	return "llmgate: rate limited by upstream"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// DispatchError wraps an upstream error with dispatch context.
type DispatchError struct {
	Err      error
	Provider string
	Model    string
	Attempts int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("llmgate: provider=%s model=%s attempts=%d: %v",
		e.Provider, e.Model, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// AdmissionDeniedError carries a structured admission decision through the
// Complete pipeline. It is an expected, user-facing condition, not a system
// failure.
type AdmissionDeniedError struct {
	Decision Decision
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("llmgate: admission denied: %s (retry after %s)",
		e.Decision.Reason, e.Decision.RetryAfter)
}

// IsFatal returns true if the error should not be retried on any provider.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the error can be retried or failed over.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamUnavailable)
}
