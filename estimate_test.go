package llmgate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexgate/llmgate"
)

func TestEstimateText(t *testing.T) {
	assert.Equal(t, int64(0), llmgate.EstimateText(0))
	assert.Equal(t, int64(1), llmgate.EstimateText(1))
	assert.Equal(t, int64(1), llmgate.EstimateText(4))
	assert.Equal(t, int64(2), llmgate.EstimateText(5))
	assert.Equal(t, int64(250), llmgate.EstimateText(1000))
}

func TestEstimateDocument_SmallAndLarge(t *testing.T) {
	// 10 pages: base 18000 with the smallest chunking overhead.
	assert.InDelta(t, 20700, llmgate.EstimateDocument(10), 1) // 18000 * 1.15

	// 120 pages: base 216000, mid-tier chunking, no consolidation yet.
	assert.InDelta(t, 263520, llmgate.EstimateDocument(120), 1) // 216000 * 1.22

	// Very large documents hit the cap.
	assert.Equal(t, int64(llmgate.EstimateCap), llmgate.EstimateDocument(1000))
}

func TestEstimateDocument_Monotonic(t *testing.T) {
	prev := int64(0)
	for pages := 1; pages <= 800; pages++ {
		est := llmgate.EstimateDocument(pages)
		assert.GreaterOrEqual(t, est, prev, "pages=%d", pages)
		prev = est
	}
}

func TestEstimateFileSize(t *testing.T) {
	assert.Equal(t, int64(0), llmgate.EstimateFileSize(0))
	assert.Equal(t, int64(4), llmgate.EstimateFileSize(10)) // ceil(10 / 2.5)
	assert.Equal(t, int64(41), llmgate.EstimateFileSize(101))
	assert.Equal(t, int64(llmgate.EstimateCap), llmgate.EstimateFileSize(10_000_000))
}

func TestEstimateFileSize_Monotonic(t *testing.T) {
	prev := int64(0)
	for size := int64(1); size <= 100_000; size += 997 {
		est := llmgate.EstimateFileSize(size)
		assert.GreaterOrEqual(t, est, prev, "size=%d", size)
		prev = est
	}
}

func TestEstimate_PayloadSizeClasses(t *testing.T) {
	assert.Equal(t, llmgate.EstimateDocument(50), llmgate.Estimate(llmgate.Payload{Pages: 50, Chars: 100, Bytes: 100}))
	assert.Equal(t, llmgate.EstimateText(100), llmgate.Estimate(llmgate.Payload{Chars: 100, Bytes: 100}))
	assert.Equal(t, llmgate.EstimateFileSize(100), llmgate.Estimate(llmgate.Payload{Bytes: 100}))
	assert.Equal(t, int64(0), llmgate.Estimate(llmgate.Payload{}))
}

func TestEstimateMessages(t *testing.T) {
	msgs := []llmgate.Message{
		{Role: "user", Content: "Hello, how are you?"},
	}
	tokens := llmgate.EstimateMessages(msgs)
	assert.Greater(t, tokens, int64(0))

	more := llmgate.EstimateMessages(append(msgs, llmgate.Message{Role: "assistant", Content: "Fine."}))
	assert.Greater(t, more, tokens)
}

func TestEstimateRawPayload(t *testing.T) {
	payload := []byte(`{
		"model": "gpt-4o",
		"system": "You are a paralegal assistant.",
		"messages": [
			{"role": "user", "content": "Summarize the attached brief."},
			{"role": "user", "content": [{"type": "text", "text": "Focus on liability."}]}
		]
	}`)

	tokens := llmgate.EstimateRawPayload(payload)
	assert.Greater(t, tokens, int64(20))

	// No messages still yields the base overhead, never a negative count.
	assert.Greater(t, llmgate.EstimateRawPayload([]byte(`{}`)), int64(0))
}
