package llmgate

import "time"

// Meter observes admission and dispatch events for monitoring/logging.
type Meter interface {
	// OnAdmission is called after every admission decision.
	OnAdmission(event AdmissionEvent)

	// OnDispatch is called when a provider attempt is about to be made.
	OnDispatch(event DispatchEvent)

	// OnResult is called when a provider attempt finishes.
	OnResult(event ResultEvent)
}

// AdmissionEvent describes an admission decision.
type AdmissionEvent struct {
	TenantID        string
	Allowed         bool
	Reason          Reason
	EstimatedTokens int64
	RetryAfter      time.Duration
}

// DispatchEvent describes a provider attempt about to be made.
type DispatchEvent struct {
	RequestID       string
	Provider        string
	Model           string
	Attempt         int
	Fallback        bool
	EstimatedTokens int64
	Load            float64
}

// ResultEvent describes the outcome of a provider attempt.
type ResultEvent struct {
	RequestID string
	Provider  string
	Model     string
	Success   bool
	Duration  time.Duration
	Usage     Usage
	Error     error
}
