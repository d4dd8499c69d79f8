// Package redis provides a Redis-backed tenant quota store.
//
// Records are stored in Redis hashes. Usage increments run as an atomic Lua
// script, so concurrent recorders across multiple gate instances cannot
// lose updates.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lexgate/llmgate"
)

// Store is a Redis-backed tenant quota store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ llmgate.Store            = (*Store)(nil)
	_ llmgate.UsageIncrementer = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "llmgate:tenant:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "llmgate:tenant:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tenantKey(tenantID string) string {
	return s.keyPrefix + tenantID
}

// Load returns the record for a tenant.
func (s *Store) Load(ctx context.Context, tenantID string) (llmgate.TenantQuota, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.tenantKey(tenantID)).Result()
	if err != nil {
		return llmgate.TenantQuota{}, false, fmt.Errorf("llmgate/redis: load %s: %w", tenantID, err)
	}
	if len(fields) == 0 {
		return llmgate.TenantQuota{}, false, nil
	}

	rec := llmgate.TenantQuota{
		TenantID:           tenantID,
		DailyResetDate:     fields["daily_date"],
		SubscriptionActive: fields["subscription_active"] != "0",
		Unrestricted:       fields["unrestricted"] == "1",
	}
	rec.DailyTokensUsed, _ = strconv.ParseInt(fields["daily_used"], 10, 64)
	rec.MinuteTokensUsed, _ = strconv.ParseInt(fields["minute_used"], 10, 64)
	if unix, err := strconv.ParseInt(fields["last_usage"], 10, 64); err == nil && unix > 0 {
		rec.LastUsage = time.Unix(unix, 0)
	}

	return rec, true, nil
}

// Save persists a record, overwriting any previous state.
func (s *Store) Save(ctx context.Context, rec llmgate.TenantQuota) error {
	err := s.client.HSet(ctx, s.tenantKey(rec.TenantID),
		"daily_used", rec.DailyTokensUsed,
		"daily_date", rec.DailyResetDate,
		"minute_used", rec.MinuteTokensUsed,
		"last_usage", rec.LastUsage.Unix(),
		"subscription_active", boolField(rec.SubscriptionActive),
		"unrestricted", boolField(rec.Unrestricted),
	).Err()
	if err != nil {
		return fmt.Errorf("llmgate/redis: save %s: %w", rec.TenantID, err)
	}
	return nil
}

// incrementScript atomically folds a usage increment into the tenant hash,
// applying the daily date reset and the stale-minute reset first.
// KEYS[1] = tenant hash key
// ARGV[1] = tokens
// ARGV[2] = now (unix seconds)
// ARGV[3] = today ("2006-01-02")
var incrementScript = goredis.NewScript(`
local key = KEYS[1]
local tokens = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local today = ARGV[3]

local daily_date = redis.call("HGET", key, "daily_date")
if daily_date ~= today then
    redis.call("HSET", key, "daily_used", "0", "daily_date", today)
end

local last_usage = tonumber(redis.call("HGET", key, "last_usage") or "0")
if now - last_usage > 60 then
    redis.call("HSET", key, "minute_used", "0")
end

redis.call("HINCRBY", key, "daily_used", tokens)
redis.call("HINCRBY", key, "minute_used", tokens)
redis.call("HSET", key, "last_usage", tostring(now))

if redis.call("HEXISTS", key, "subscription_active") == 0 then
    redis.call("HSET", key, "subscription_active", "1")
end
return 1
`)

// IncrementUsage applies a usage increment atomically.
func (s *Store) IncrementUsage(ctx context.Context, tenantID string, tokens int64, now time.Time) error {
	err := incrementScript.Run(ctx, s.client,
		[]string{s.tenantKey(tenantID)},
		tokens, now.Unix(), llmgate.DateKey(now),
	).Err()
	if err != nil {
		return fmt.Errorf("llmgate/redis: increment %s: %w", tenantID, err)
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
