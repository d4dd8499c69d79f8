package llmgate

import (
	"sync"
	"time"
)

const (
	capacityWindow   = time.Minute
	latencySmoothing = 0.1
)

// CapacityTracker owns the mutable runtime state for each configured
// provider: the sliding usage window, pacing timestamps, and failure
// escalation. It is an injectable component so tests can instantiate
// isolated instances instead of sharing process state.
//
// Each provider has its own lock; the table is small and fixed-size, so
// per-provider locking does not limit throughput.
type CapacityTracker struct {
	states map[string]*providerState
	now    func() time.Time

	errorThreshold int
	cooldown       time.Duration
}

type providerState struct {
	mu   sync.Mutex
	desc ProviderDescriptor

	windowStart time.Time
	requests    int
	tokens      int64
	lastRequest time.Time

	consecutiveErrors int
	disabledUntil     time.Time

	avgLatency time.Duration // exponential moving average
}

// NewCapacityTracker creates a tracker for the given registry.
func NewCapacityTracker(reg *Registry, errorThreshold int, cooldown time.Duration) *CapacityTracker {
	states := make(map[string]*providerState, reg.Len())
	for _, d := range reg.All() {
		states[d.Name] = &providerState{desc: d}
	}
	return &CapacityTracker{
		states:         states,
		now:            time.Now,
		errorThreshold: errorThreshold,
		cooldown:       cooldown,
	}
}

// resetWindowLocked resets the usage window once it is older than a minute.
func (s *providerState) resetWindowLocked(now time.Time) {
	if now.Sub(s.windowStart) > capacityWindow {
		s.windowStart = now
		s.requests = 0
		s.tokens = 0
	}
}

// Available reports whether a provider can take a request of estimatedTokens
// right now: not cooling down, token window not exceeded, request window not
// at its ceiling.
func (t *CapacityTracker) Available(name string, estimatedTokens int64) bool {
	s, ok := t.states[name]
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	if now.Before(s.disabledUntil) {
		return false
	}

	s.resetWindowLocked(now)

	if s.tokens+estimatedTokens > s.desc.TokensPerMinute {
		return false
	}
	if s.requests >= s.desc.RequestsPerMinute {
		return false
	}
	return true
}

// Load returns the provider's current load fraction in [0,1]: the worse of
// token and request window utilization.
func (t *CapacityTracker) Load(name string) float64 {
	s, ok := t.states[name]
	if !ok {
		return 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetWindowLocked(t.now())

	tokenLoad := float64(s.tokens) / float64(s.desc.TokensPerMinute)
	requestLoad := float64(s.requests) / float64(s.desc.RequestsPerMinute)

	load := tokenLoad
	if requestLoad > load {
		load = requestLoad
	}
	if load > 1 {
		load = 1
	}
	return load
}

// Reserve charges the window counters for one request before the upstream
// call is made (pessimistic reservation, so concurrent goroutines cannot all
// pass the availability check) and returns the pacing delay the caller must
// sleep before issuing the call. The delay enforces a minimum inter-request
// spacing of one minute divided by the request ceiling. The returned delay
// is slept without holding any lock.
func (t *CapacityTracker) Reserve(name string, estimatedTokens int64) time.Duration {
	s, ok := t.states[name]
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	s.resetWindowLocked(now)

	s.requests++
	s.tokens += estimatedTokens

	spacing := capacityWindow / time.Duration(s.desc.RequestsPerMinute)
	var delay time.Duration
	if !s.lastRequest.IsZero() {
		if elapsed := now.Sub(s.lastRequest); elapsed < spacing {
			delay = spacing - elapsed
		}
	}

	// The slot is claimed at the paced instant, not at reservation time.
	s.lastRequest = now.Add(delay)
	return delay
}

// ObserveSuccess resets failure escalation and folds the observed latency
// into the rolling average.
func (t *CapacityTracker) ObserveSuccess(name string, latency time.Duration) {
	s, ok := t.states[name]
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveErrors = 0
	s.disabledUntil = time.Time{}

	if s.avgLatency == 0 {
		s.avgLatency = latency
	} else {
		s.avgLatency = time.Duration(float64(s.avgLatency)*(1-latencySmoothing) + float64(latency)*latencySmoothing)
	}
}

// ObserveFailure counts a transport/HTTP failure against the provider.
// Once the consecutive-error threshold is crossed, the provider is disabled
// for the cooldown period. Returns true when this call disabled it.
func (t *CapacityTracker) ObserveFailure(name string) bool {
	s, ok := t.states[name]
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveErrors++
	if s.consecutiveErrors >= t.errorThreshold {
		s.disabledUntil = t.now().Add(t.cooldown)
		return true
	}
	return false
}

// RecoverySweep re-enables every provider whose cooldown has elapsed,
// making it eligible for a probe request.
func (t *CapacityTracker) RecoverySweep() {
	now := t.now()
	for _, s := range t.states {
		s.mu.Lock()
		if !s.disabledUntil.IsZero() && !now.Before(s.disabledUntil) {
			s.disabledUntil = time.Time{}
			s.consecutiveErrors = 0
		}
		s.mu.Unlock()
	}
}

// AvgLatency returns the provider's rolling-average response latency.
func (t *CapacityTracker) AvgLatency(name string) time.Duration {
	s, ok := t.states[name]
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgLatency
}
