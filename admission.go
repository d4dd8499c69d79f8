package llmgate

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Reason is a machine-readable admission denial code.
type Reason string

const (
	ReasonDailyLimitExceeded   Reason = "daily_limit_exceeded"
	ReasonMinuteLimitExceeded  Reason = "minute_limit_exceeded"
	ReasonSubscriptionInactive Reason = "subscription_inactive"
)

// Decision is the result of an admission check. Transient, never persisted.
type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration

	// Usage snapshot at decision time, for observability.
	DailyUsed   int64
	DailyLimit  int64
	MinuteUsed  int64
	MinuteLimit int64
}

// Message returns a human-readable fallback for denied decisions.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonDailyLimitExceeded:
		return "daily token budget exhausted, resets at midnight"
	case ReasonMinuteLimitExceeded:
		return "per-minute token budget exhausted, retry in a minute"
	case ReasonSubscriptionInactive:
		return "subscription is not active"
	}
	return ""
}

// TenantLimits holds the per-tenant token budgets.
type TenantLimits struct {
	DailyTokens  int64 `yaml:"daily_tokens"`
	MinuteTokens int64 `yaml:"minute_tokens"`
}

// AdmissionController decides whether a tenant's request may proceed and
// records actual usage after successful calls.
type AdmissionController struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	limits       TenantLimits
	unrestricted map[string]struct{}

	// Per-tenant locks, sharded by key, so the check-then-increment
	// sequence is a single critical section without one global lock.
	locks [32]sync.Mutex
}

// NewAdmissionController creates a controller backed by the given store.
func NewAdmissionController(store Store, limits TenantLimits, unrestricted []string, logger *slog.Logger) *AdmissionController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &AdmissionController{
		store:  store,
		logger: logger,
		now:    time.Now,
		limits: limits,
	}
	c.SetUnrestricted(unrestricted)
	return c
}

// SetLimits swaps the tenant budgets, for config hot-reload.
func (c *AdmissionController) SetLimits(limits TenantLimits) {
	c.mu.Lock()
	c.limits = limits
	c.mu.Unlock()
}

// SetUnrestricted swaps the unrestricted allow-list, for config hot-reload.
func (c *AdmissionController) SetUnrestricted(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	c.mu.Lock()
	c.unrestricted = set
	c.mu.Unlock()
}

func (c *AdmissionController) isUnrestricted(tenantID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.unrestricted[tenantID]
	return ok
}

func (c *AdmissionController) currentLimits() TenantLimits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits
}

func (c *AdmissionController) tenantLock(tenantID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return &c.locks[h.Sum32()%uint32(len(c.locks))]
}

// Check decides whether a request of estimatedTokens may proceed for a
// tenant. A store read failure fails closed: the zero Decision (denied) is
// returned along with the error.
func (c *AdmissionController) Check(ctx context.Context, tenantID string, estimatedTokens int64) (Decision, error) {
	if c.isUnrestricted(tenantID) {
		return Decision{Allowed: true}, nil
	}

	lock := c.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	rec, ok, err := c.store.Load(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrQuotaUnavailable, err)
	}

	now := c.now()
	if !ok {
		rec = NewTenantQuota(tenantID, now)
	}

	limits := c.currentLimits()
	dec := Decision{
		DailyUsed:   rec.DailyUsed(now),
		DailyLimit:  limits.DailyTokens,
		MinuteUsed:  rec.MinuteUsed(now),
		MinuteLimit: limits.MinuteTokens,
	}

	if !rec.SubscriptionActive {
		dec.Reason = ReasonSubscriptionInactive
		return dec, nil
	}

	// A request that exactly fills the remaining budget is allowed.
	if limits.DailyTokens > 0 && dec.DailyUsed+estimatedTokens > limits.DailyTokens {
		dec.Reason = ReasonDailyLimitExceeded
		dec.RetryAfter = untilNextMidnight(now)
		return dec, nil
	}

	if limits.MinuteTokens > 0 && dec.MinuteUsed+estimatedTokens > limits.MinuteTokens {
		dec.Reason = ReasonMinuteLimitExceeded
		dec.RetryAfter = time.Minute
		return dec, nil
	}

	dec.Allowed = true
	return dec, nil
}

// RecordUsage increments the tenant's daily and minute counters with actual
// usage after a successful call. Unrestricted tenants are exempt. This must
// never fail the caller's main flow: storage errors are logged and
// swallowed.
func (c *AdmissionController) RecordUsage(ctx context.Context, tenantID string, actualTokens int64) {
	if actualTokens <= 0 || c.isUnrestricted(tenantID) {
		return
	}

	now := c.now()

	if inc, ok := c.store.(UsageIncrementer); ok {
		if err := inc.IncrementUsage(ctx, tenantID, actualTokens, now); err != nil {
			c.logger.Warn("usage recording failed", "tenant", tenantID, "tokens", actualTokens, "error", err)
		}
		return
	}

	lock := c.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	rec, ok, err := c.store.Load(ctx, tenantID)
	if err != nil {
		c.logger.Warn("usage recording failed", "tenant", tenantID, "tokens", actualTokens, "error", err)
		return
	}
	if !ok {
		rec = NewTenantQuota(tenantID, now)
	}

	rec.ApplyUsage(actualTokens, now)

	if err := c.store.Save(ctx, rec); err != nil {
		c.logger.Warn("usage recording failed", "tenant", tenantID, "tokens", actualTokens, "error", err)
	}
}

// untilNextMidnight returns the duration until the next local midnight.
func untilNextMidnight(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}
