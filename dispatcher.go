package llmgate

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Dispatch selects a provider for the request, paces the call against the
// provider's request ceiling, performs the upstream call with bounded
// retries, and fails over to an alternate provider once when the primary is
// exhausted. The provider's configured model is used regardless of
// req.Model, so a request falls over cleanly between backends with
// different models.
//
// Fails with ErrNoProviderAvailable when every provider is saturated or
// cooling down, even after a recovery sweep.
func (g *Gate) Dispatch(ctx context.Context, req ChatRequest, estimatedTokens int64) (ChatResponse, error) {
	primary, ok := g.selectPrimary(estimatedTokens, req.Affinity)
	if !ok {
		return ChatResponse{}, ErrNoProviderAvailable
	}

	requestID := uuid.New().String()

	resp, attempts, err := g.attemptWithRetries(ctx, requestID, primary, req, estimatedTokens)
	if err == nil {
		resp.Dispatch = DispatchInfo{Provider: primary, Model: resp.Model, Attempts: attempts}
		return resp, nil
	}
	if ctx.Err() != nil {
		return ChatResponse{}, ctx.Err()
	}
	if IsFatal(err) {
		return ChatResponse{}, &DispatchError{Err: err, Provider: primary, Model: g.modelOf(primary), Attempts: attempts}
	}

	// One-shot fallback on the least-loaded provider excluding the primary.
	fallback, ok := g.selectFallback(primary, estimatedTokens)
	if !ok {
		return ChatResponse{}, &DispatchError{Err: err, Provider: primary, Model: g.modelOf(primary), Attempts: attempts}
	}

	resp, fbErr := g.attemptOnce(ctx, requestID, fallback, req, estimatedTokens, attempts+1, true)
	if fbErr != nil {
		if ctx.Err() == nil && !IsFatal(fbErr) && !errors.Is(fbErr, ErrRateLimited) {
			g.capacity.ObserveFailure(fallback)
		}
		return ChatResponse{}, &DispatchError{Err: fbErr, Provider: fallback, Model: g.modelOf(fallback), Attempts: attempts + 1}
	}

	resp.Dispatch = DispatchInfo{Provider: fallback, Model: resp.Model, Attempts: attempts + 1, Fallback: true}
	return resp, nil
}

// selectPrimary picks the preferred provider for the request. When nothing
// is available it runs a recovery sweep (re-enabling providers whose
// cooldown has elapsed) and retries the filter once.
func (g *Gate) selectPrimary(estimatedTokens int64, affinity string) (string, bool) {
	cands := g.candidates(estimatedTokens, affinity)
	if len(cands) == 0 {
		g.capacity.RecoverySweep()
		cands = g.candidates(estimatedTokens, affinity)
		if len(cands) == 0 {
			return "", false
		}
	}

	ordered := g.strategy.Select(cands)
	return ordered[0].Name, true
}

// selectFallback picks the least-loaded available provider other than the
// one that just failed.
func (g *Gate) selectFallback(exclude string, estimatedTokens int64) (string, bool) {
	best := ""
	bestLoad := math.Inf(1)
	for _, c := range g.candidates(estimatedTokens, "") {
		if c.Name == exclude {
			continue
		}
		if c.Load < bestLoad {
			best = c.Name
			bestLoad = c.Load
		}
	}
	return best, best != ""
}

// attemptWithRetries runs up to MaxAttempts calls on one provider with
// exponential backoff. On 429 an upstream Retry-After hint takes precedence
// over the computed backoff; on the final allowed attempt the caller falls
// back to another provider instead of waiting again. Transport and 5xx
// errors escalate the provider's consecutive-error count.
func (g *Gate) attemptWithRetries(ctx context.Context, requestID, provider string, req ChatRequest, estimatedTokens int64) (ChatResponse, int, error) {
	maxAttempts := g.cfg.Dispatch.MaxAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := g.attemptOnce(ctx, requestID, provider, req, estimatedTokens, attempt, false)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil || IsFatal(err) {
			return ChatResponse{}, attempt, err
		}

		var rle *RateLimitError
		rateLimited := errors.As(err, &rle)

		if !rateLimited {
			if disabled := g.capacity.ObserveFailure(provider); disabled {
				g.logger.Warn("provider disabled after consecutive errors",
					"provider", provider, "cooldown", g.cfg.Dispatch.Cooldown)
			}
		}

		if attempt == maxAttempts {
			break
		}

		wait := g.backoff(attempt)
		if rateLimited && rle.RetryAfter > 0 {
			wait = rle.RetryAfter
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return ChatResponse{}, attempt, err
		}
	}

	return ChatResponse{}, maxAttempts, lastErr
}

// attemptOnce performs one paced upstream call.
func (g *Gate) attemptOnce(ctx context.Context, requestID, provider string, req ChatRequest, estimatedTokens int64, attempt int, fallback bool) (ChatResponse, error) {
	desc, _ := g.registry.Get(provider)

	// Reserve the window slot before the call so concurrent requests
	// cannot all pass the availability check, then pace outside the lock.
	delay := g.capacity.Reserve(provider, estimatedTokens)
	if err := sleepCtx(ctx, delay); err != nil {
		return ChatResponse{}, err
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

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Dispatch.RequestTimeout)
	defer cancel()

	start := g.now()
	upResp, err := g.upstreams[provider].Complete(callCtx, g.upstreamRequest(desc, req))
	duration := g.now().Sub(start)

	if err != nil {
		g.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  provider,
			Model:     desc.Model,
			Duration:  duration,
			Error:     err,
		})
		return ChatResponse{}, err
	}

	g.capacity.ObserveSuccess(provider, duration)
	g.meter.OnResult(ResultEvent{
		RequestID: requestID,
		Provider:  provider,
		Model:     desc.Model,
		Success:   true,
		Duration:  duration,
		Usage:     upResp.Usage,
	})

	return ChatResponse{
		ID:    upResp.ID,
		Model: upResp.Model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      Message{Role: "assistant", Content: upResp.Content},
				FinishReason: upResp.FinishReason,
			},
		},
		Usage: upResp.Usage,
	}, nil
}

func (g *Gate) upstreamRequest(desc ProviderDescriptor, req ChatRequest) UpstreamRequest {
	apiKey := desc.APIKey
	if apiKey == "" {
		apiKey = g.cfg.APIKey
	}
	return UpstreamRequest{
		Auth:        Auth{APIKey: apiKey},
		Model:       desc.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Metadata:    req.Metadata,
	}
}

func (g *Gate) modelOf(provider string) string {
	d, _ := g.registry.Get(provider)
	return d.Model
}

// backoff computes the exponential delay for the given attempt number.
func (g *Gate) backoff(attempt int) time.Duration {
	d := g.cfg.Dispatch
	wait := time.Duration(float64(d.BackoffBase) * math.Pow(d.BackoffMultiplier, float64(attempt-1)))
	if wait > d.BackoffMax {
		wait = d.BackoffMax
	}
	return wait
}
