package llmgate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Gate is the admission-control and dispatch core. It gates calls against
// per-tenant token budgets and routes admitted requests across the
// configured providers under their throughput ceilings.
type Gate struct {
	cfg       Config
	registry  *Registry
	upstreams map[string]Upstream
	admission *AdmissionController
	capacity  *CapacityTracker
	strategy  Strategy
	meter     Meter
	store     Store
	logger    *slog.Logger
	now       func() time.Time

	rr atomic.Uint64 // round-robin rotation index
}

// Option configures a Gate.
type Option func(*Gate)

// WithQuotaStore sets the tenant quota store.
func WithQuotaStore(s Store) Option {
	return func(g *Gate) { g.store = s }
}

// WithStrategy sets the provider selection strategy.
func WithStrategy(s Strategy) Option {
	return func(g *Gate) { g.strategy = s }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(g *Gate) { g.meter = m }
}

// WithLogger sets the logger used for swallowed errors.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate with the given config and upstream adapters. Every
// configured provider must have an adapter whose Name matches it. Default
// components (no-op quota store, preference-then-least-loaded strategy,
// no-op meter) are used unless overridden via options.
//
// The default store keeps nothing, so tenant budgets only bound individual
// requests; wire quota.NewMemoryStore (or the Redis/Postgres stores) for
// real enforcement.
func NewGate(cfg Config, upstreams []Upstream, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Dispatch = cfg.Dispatch.withDefaults()

	upMap := make(map[string]Upstream, len(upstreams))
	for _, u := range upstreams {
		upMap[u.Name()] = u
	}
	for _, p := range cfg.Providers {
		if _, ok := upMap[p.Name]; !ok {
			return nil, fmt.Errorf("llmgate: no upstream adapter for provider %q", p.Name)
		}
	}

	g := &Gate{
		cfg:       cfg,
		registry:  NewRegistry(cfg.Providers),
		upstreams: upMap,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	// Apply defaults after options.
	if g.strategy == nil {
		g.strategy = defaultStrategy{}
	}
	if g.meter == nil {
		g.meter = noopMeter{}
	}
	if g.store == nil {
		g.store = noopStore{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	g.capacity = NewCapacityTracker(g.registry, cfg.Dispatch.ErrorThreshold, cfg.Dispatch.Cooldown)
	g.capacity.now = g.now

	g.admission = NewAdmissionController(g.store, cfg.Tenant, cfg.Unrestricted, g.logger)
	g.admission.now = g.now

	return g, nil
}

// Check decides whether a request of estimatedTokens may proceed for a
// tenant. A quota store failure fails closed: the request is denied and the
// error returned.
func (g *Gate) Check(ctx context.Context, tenantID string, estimatedTokens int64) (Decision, error) {
	dec, err := g.admission.Check(ctx, tenantID, estimatedTokens)
	g.meter.OnAdmission(AdmissionEvent{
		TenantID:        tenantID,
		Allowed:         dec.Allowed,
		Reason:          dec.Reason,
		EstimatedTokens: estimatedTokens,
		RetryAfter:      dec.RetryAfter,
	})
	return dec, err
}

// RecordUsage increments the tenant's counters with actual post-call usage.
// Storage errors are logged and swallowed; this never fails the caller.
func (g *Gate) RecordUsage(ctx context.Context, tenantID string, actualTokens int64) {
	g.admission.RecordUsage(ctx, tenantID, actualTokens)
}

// ApplyLimits hot-swaps the tenant budgets and unrestricted allow-list,
// typically from a config watcher.
func (g *Gate) ApplyLimits(limits TenantLimits, unrestricted []string) {
	g.admission.SetLimits(limits)
	g.admission.SetUnrestricted(unrestricted)
}

// Complete runs the full pipeline for one request: admission check,
// dispatch, then usage recording with the actual token count. Denials are
// returned as *AdmissionDeniedError carrying the structured decision.
func (g *Gate) Complete(ctx context.Context, tenantID string, req ChatRequest) (ChatResponse, error) {
	estimated := EstimateMessages(req.Messages)

	dec, err := g.Check(ctx, tenantID, estimated)
	if err != nil {
		return ChatResponse{}, err
	}
	if !dec.Allowed {
		return ChatResponse{}, &AdmissionDeniedError{Decision: dec}
	}

	resp, err := g.Dispatch(ctx, req, estimated)
	if err != nil {
		return ChatResponse{}, err
	}

	actual := resp.Usage.TotalTokens
	if actual == 0 {
		actual = estimated
	}
	g.RecordUsage(ctx, tenantID, actual)

	return resp, nil
}

// CompleteStream runs the pipeline for a streaming request. Usage is
// recorded when the returned stream is closed, using the usage reported by
// the final chunk (the estimate when the upstream reports none).
func (g *Gate) CompleteStream(ctx context.Context, tenantID string, req ChatRequest) (*GateStream, error) {
	estimated := EstimateMessages(req.Messages)

	dec, err := g.Check(ctx, tenantID, estimated)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, &AdmissionDeniedError{Decision: dec}
	}

	stream, err := g.DispatchStream(ctx, req, estimated)
	if err != nil {
		return nil, err
	}

	stream.tenantID = tenantID
	return stream, nil
}

// rotated returns the registry's descriptors starting at the round-robin
// offset for this request, so load ties break fairly across requests.
func (g *Gate) rotated() []ProviderDescriptor {
	all := g.registry.All()
	n := len(all)
	start := int(g.rr.Add(1)-1) % n

	out := make([]ProviderDescriptor, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, all[(start+i)%n])
	}
	return out
}

// candidates lists the providers currently available for the estimated
// cost, in rotated order.
func (g *Gate) candidates(estimatedTokens int64, affinity string) []ProviderCandidate {
	var out []ProviderCandidate
	for _, d := range g.rotated() {
		if !g.capacity.Available(d.Name, estimatedTokens) {
			continue
		}
		out = append(out, ProviderCandidate{
			Name:          d.Name,
			Load:          g.capacity.Load(d.Name),
			AffinityMatch: affinity != "" && d.HasAffinity(affinity),
		})
	}
	return out
}

// sleepCtx sleeps without holding any lock, honoring cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// noopStore keeps nothing: every Load misses, every Save is dropped.
type noopStore struct{}

func (noopStore) Load(context.Context, string) (TenantQuota, bool, error) {
	return TenantQuota{}, false, nil
}
func (noopStore) Save(context.Context, TenantQuota) error { return nil }

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnAdmission(AdmissionEvent) {}
func (noopMeter) OnDispatch(DispatchEvent)   {}
func (noopMeter) OnResult(ResultEvent)       {}
