package llmgate

import (
	"math"

	"github.com/tidwall/gjson"
)

// EstimateCap bounds every estimate so a pathological document cannot
// produce an absurd quota charge.
const EstimateCap = 500_000

const (
	tokensPerPage   = 1800
	bytesPerToken   = 2.5
	charsPerToken   = 4
	messageOverhead = 4
	requestOverhead = 3
)

// Payload describes a request body by size class. Exactly one size class is
// consulted: page count first, then character count, then raw byte size.
type Payload struct {
	Chars int   // plain text length in characters
	Pages int   // page count for paged documents
	Bytes int64 // raw file size when no page count is available
}

// Estimate converts a payload descriptor into an estimated token cost.
// Pure function of the input size class; monotonic in input size.
func Estimate(p Payload) int64 {
	switch {
	case p.Pages > 0:
		return EstimateDocument(p.Pages)
	case p.Chars > 0:
		return EstimateText(p.Chars)
	case p.Bytes > 0:
		return EstimateFileSize(p.Bytes)
	}
	return 0
}

// EstimateText estimates tokens for plain text: ~4 characters per token.
func EstimateText(chars int) int64 {
	if chars <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(chars) / charsPerToken))
}

// EstimateDocument estimates tokens for a paged document. The base cost of
// 1800 tokens per page is inflated by a chunking overhead (larger documents
// are split into more overlapping chunks) and, for very large documents, a
// consolidation overhead for the merge pass.
func EstimateDocument(pages int) int64 {
	if pages <= 0 {
		return 0
	}

	base := float64(pages) * tokensPerPage

	chunking := 0.15
	switch {
	case pages > 150:
		chunking = 0.30
	case pages > 50:
		chunking = 0.22
	}

	consolidation := 0.0
	switch {
	case pages > 500:
		consolidation = 0.20
	case pages > 200:
		consolidation = 0.10
	}

	est := int64(math.Ceil(base * (1 + chunking + consolidation)))
	if est > EstimateCap {
		return EstimateCap
	}
	return est
}

// EstimateFileSize estimates tokens from raw byte size when no page count is
// available: ~2.5 bytes per token, capped like document estimates.
func EstimateFileSize(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	est := int64(math.Ceil(float64(bytes) / bytesPerToken))
	if est > EstimateCap {
		return EstimateCap
	}
	return est
}

// EstimateMessages provides a rough token count estimate for chat messages.
// Uses the approximation: ~4 chars per token + overhead per message.
func EstimateMessages(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += int64(len(m.Content)) / charsPerToken
		total += messageOverhead
	}
	total += requestOverhead
	return total
}

// EstimateRawPayload estimates tokens for a raw chat-completion JSON body
// without unmarshalling it. Walks the system prompt and message contents,
// which may each be a plain string or an array of {text} parts.
func EstimateRawPayload(payload []byte) int64 {
	var total int64

	system := gjson.GetBytes(payload, "system")
	if system.Type == gjson.String {
		total += EstimateText(len(system.String()))
	} else if system.IsArray() {
		system.ForEach(func(_, part gjson.Result) bool {
			total += EstimateText(len(part.Get("text").String()))
			return true
		})
	}

	gjson.GetBytes(payload, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.Type == gjson.String {
			total += EstimateText(len(content.String()))
		} else if content.IsArray() {
			content.ForEach(func(_, part gjson.Result) bool {
				total += EstimateText(len(part.Get("text").String()))
				return true
			})
		}
		total += messageOverhead
		return true
	})

	total += requestOverhead
	return total
}
