package llmgate

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// DispatchStream selects and paces a provider like Dispatch, then opens a
// streaming completion. Retry/backoff applies to opening the stream; once
// chunks are flowing, a mid-stream error is surfaced to the caller as-is.
func (g *Gate) DispatchStream(ctx context.Context, req ChatRequest, estimatedTokens int64) (*GateStream, error) {
	primary, ok := g.selectPrimary(estimatedTokens, req.Affinity)
	if !ok {
		return nil, ErrNoProviderAvailable
	}

	requestID := uuid.New().String()

	stream, attempts, err := g.openWithRetries(ctx, requestID, primary, req, estimatedTokens)
	if err == nil {
		return stream, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if IsFatal(err) {
		return nil, &DispatchError{Err: err, Provider: primary, Model: g.modelOf(primary), Attempts: attempts}
	}

	fallback, ok := g.selectFallback(primary, estimatedTokens)
	if !ok {
		return nil, &DispatchError{Err: err, Provider: primary, Model: g.modelOf(primary), Attempts: attempts}
	}

	stream, fbErr := g.openOnce(ctx, requestID, fallback, req, estimatedTokens, attempts+1, true)
	if fbErr != nil {
		if ctx.Err() == nil && !IsFatal(fbErr) && !errors.Is(fbErr, ErrRateLimited) {
			g.capacity.ObserveFailure(fallback)
		}
		return nil, &DispatchError{Err: fbErr, Provider: fallback, Model: g.modelOf(fallback), Attempts: attempts + 1}
	}
	return stream, nil
}

func (g *Gate) openWithRetries(ctx context.Context, requestID, provider string, req ChatRequest, estimatedTokens int64) (*GateStream, int, error) {
	maxAttempts := g.cfg.Dispatch.MaxAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stream, err := g.openOnce(ctx, requestID, provider, req, estimatedTokens, attempt, false)
		if err == nil {
			return stream, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil || IsFatal(err) {
			return nil, attempt, err
		}

		var rle *RateLimitError
		rateLimited := errors.As(err, &rle)
		if !rateLimited {
			g.capacity.ObserveFailure(provider)
		}

		if attempt == maxAttempts {
			break
		}

		wait := g.backoff(attempt)
		if rateLimited && rle.RetryAfter > 0 {
			wait = rle.RetryAfter
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}

	return nil, maxAttempts, lastErr
}

func (g *Gate) openOnce(ctx context.Context, requestID, provider string, req ChatRequest, estimatedTokens int64, attempt int, fallback bool) (*GateStream, error) {
	desc, _ := g.registry.Get(provider)

	delay := g.capacity.Reserve(provider, estimatedTokens)
	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}

	g.meter.OnDispatch(DispatchEvent{
		RequestID:       requestID,
		Provider:        provider,
		Model:           desc.Model,
		Attempt:         attempt,
		Fallback:        fallback,
		EstimatedTokens: estimatedTokens,
		Load:            g.capacity.Load(provider),
	})

	upReq := g.upstreamRequest(desc, req)
	upReq.Stream = true

	inner, err := g.upstreams[provider].CompleteStream(ctx, upReq)
	if err != nil {
		g.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  provider,
			Model:     desc.Model,
			Error:     err,
		})
		return nil, err
	}

	return &GateStream{
		inner:     inner,
		gate:      g,
		requestID: requestID,
		provider:  provider,
		model:     desc.Model,
		estimated: estimatedTokens,
		start:     g.now(),
		info:      DispatchInfo{Provider: provider, Model: desc.Model, Attempts: attempt, Fallback: fallback},
	}, nil
}

// GateStream wraps an upstream stream with capacity bookkeeping and tenant
// usage recording on Close.
type GateStream struct {
	inner     UpstreamStream
	gate      *Gate
	requestID string
	provider  string
	model     string
	tenantID  string // empty when opened through DispatchStream directly
	estimated int64
	start     time.Time
	info      DispatchInfo

	totalUsage Usage
	streamErr  error // first error encountered during streaming
	closed     bool
}

// Dispatch describes which provider is serving the stream.
func (s *GateStream) Dispatch() DispatchInfo { return s.info }

// Next returns the next chunk from the stream.
func (s *GateStream) Next() (StreamChunk, error) {
	chunk, err := s.inner.Next()
	if err != nil {
		if s.streamErr == nil {
			s.streamErr = err
		}
		return chunk, err
	}

	// The final chunk carries the authoritative usage.
	if chunk.Usage != nil {
		s.totalUsage = *chunk.Usage
	}

	return chunk, nil
}

// Close releases the stream, updates provider health, and records tenant
// usage. io.EOF is the normal end of stream, not an error.
func (s *GateStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.inner.Close()
	duration := s.gate.now().Sub(s.start)

	isSuccess := s.streamErr == nil || errors.Is(s.streamErr, io.EOF)

	if isSuccess {
		s.gate.capacity.ObserveSuccess(s.provider, duration)
		if s.tenantID != "" {
			actual := s.totalUsage.TotalTokens
			if actual == 0 {
				actual = s.estimated
			}
			s.gate.RecordUsage(context.Background(), s.tenantID, actual)
		}
	} else {
		s.gate.capacity.ObserveFailure(s.provider)
	}

	resultErr := s.streamErr
	if errors.Is(resultErr, io.EOF) {
		resultErr = nil
	}

	s.gate.meter.OnResult(ResultEvent{
		RequestID: s.requestID,
		Provider:  s.provider,
		Model:     s.model,
		Success:   isSuccess,
		Duration:  duration,
		Usage:     s.totalUsage,
		Error:     resultErr,
	})

	return err
}
