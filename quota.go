package llmgate

import (
	"context"
	"time"
)

// TenantQuota is the per-tenant usage record persisted by a Store.
//
// The minute window is approximate: usage is attributed to a single
// LastUsage timestamp, and the counter is treated as zero once that
// timestamp is more than a minute old. This under- or over-counts near the
// window boundary; it is a best-effort limiter, not an exact token bucket.
type TenantQuota struct {
	TenantID           string
	DailyTokensUsed    int64
	DailyResetDate     string // calendar date, "2006-01-02"
	MinuteTokensUsed   int64
	LastUsage          time.Time
	SubscriptionActive bool
	Unrestricted       bool
}

// Store is the abstract key-value persistence for tenant quota records.
// Any durable store (document database, relational table, in-memory map)
// satisfies this interface.
type Store interface {
	// Load returns the record for a tenant. ok is false when no record
	// exists yet; the caller creates one lazily.
	Load(ctx context.Context, tenantID string) (rec TenantQuota, ok bool, err error)

	// Save persists a record, overwriting any previous state.
	Save(ctx context.Context, rec TenantQuota) error
}

// UsageIncrementer is optionally implemented by stores that can apply a
// usage increment atomically (Redis Lua script, SQL transaction). When a
// store implements it, RecordUsage uses it instead of load-modify-save.
type UsageIncrementer interface {
	IncrementUsage(ctx context.Context, tenantID string, tokens int64, now time.Time) error
}

// DateKey formats an instant as the calendar date used for daily resets.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// DailyUsed returns the daily counter, zero when the stored reset date is no
// longer the current date.
func (q TenantQuota) DailyUsed(now time.Time) int64 {
	if q.DailyResetDate != DateKey(now) {
		return 0
	}
	return q.DailyTokensUsed
}

// MinuteUsed returns the minute counter, zero when the last usage is stale.
func (q TenantQuota) MinuteUsed(now time.Time) int64 {
	if now.Sub(q.LastUsage) > time.Minute {
		return 0
	}
	return q.MinuteTokensUsed
}

// ApplyUsage folds actual usage into the record, resetting expired windows
// first, and stamps LastUsage.
func (q *TenantQuota) ApplyUsage(tokens int64, now time.Time) {
	if q.DailyResetDate != DateKey(now) {
		q.DailyTokensUsed = 0
		q.DailyResetDate = DateKey(now)
	}
	if now.Sub(q.LastUsage) > time.Minute {
		q.MinuteTokensUsed = 0
	}
	q.DailyTokensUsed += tokens
	q.MinuteTokensUsed += tokens
	q.LastUsage = now
}

// NewTenantQuota returns a fresh record for a tenant seen for the first
// time. Subscription state defaults to active; billing code flips it off
// through the store when a subscription lapses.
func NewTenantQuota(tenantID string, now time.Time) TenantQuota {
	return TenantQuota{
		TenantID:           tenantID,
		DailyResetDate:     DateKey(now),
		SubscriptionActive: true,
	}
}
