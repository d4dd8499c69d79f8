package llmgate_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lexgate/llmgate"
)

func TestErrorClassification(t *testing.T) {
	assert.True(t, llmgate.IsFatal(llmgate.ErrAuthFailed))
	assert.True(t, llmgate.IsFatal(llmgate.ErrInvalidRequest))
	assert.True(t, llmgate.IsFatal(fmt.Errorf("wrapped: %w", llmgate.ErrAuthFailed)))
	assert.False(t, llmgate.IsFatal(llmgate.ErrUpstreamUnavailable))
	assert.False(t, llmgate.IsFatal(llmgate.ErrRateLimited))

	assert.True(t, llmgate.IsRetryable(llmgate.ErrRateLimited))
	assert.True(t, llmgate.IsRetryable(llmgate.ErrUpstreamUnavailable))
	assert.True(t, llmgate.IsRetryable(&llmgate.RateLimitError{RetryAfter: time.Second}))
	assert.True(t, llmgate.IsRetryable(fmt.Errorf("wrapped: %w", llmgate.ErrUpstreamUnavailable)))
	assert.False(t, llmgate.IsRetryable(llmgate.ErrAuthFailed))
	assert.False(t, llmgate.IsRetryable(errors.New("unclassified")))
}

func TestDispatchError_Unwrap(t *testing.T) {
	err := &llmgate.DispatchError{
		Err:      llmgate.ErrUpstreamUnavailable,
		Provider: "openai-primary",
		Model:    "gpt-4o",
		Attempts: 3,
	}
	assert.ErrorIs(t, err, llmgate.ErrUpstreamUnavailable)
	assert.True(t, llmgate.IsRetryable(err))
	assert.Contains(t, err.Error(), "openai-primary")
	assert.Contains(t, err.Error(), "attempts=3")
}
