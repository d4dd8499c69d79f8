// Package postgres provides a PostgreSQL-backed tenant quota store.
//
// Records live in a single table, one row per tenant. Usage increments run
// in a transaction with a row lock, so concurrent recorders across multiple
// gate instances cannot lose updates, and records survive restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexgate/llmgate"
)

// Store is a PostgreSQL-backed tenant quota store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ llmgate.Store            = (*Store)(nil)
	_ llmgate.UsageIncrementer = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "llmgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "llmgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table() string { return s.tablePrefix + "tenant_quotas" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id TEXT PRIMARY KEY,
			daily_used BIGINT NOT NULL DEFAULT 0,
			daily_date TEXT NOT NULL DEFAULT '',
			minute_used BIGINT NOT NULL DEFAULT 0,
			last_usage TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			subscription_active BOOLEAN NOT NULL DEFAULT true,
			unrestricted BOOLEAN NOT NULL DEFAULT false
		);
	`, s.table())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("llmgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// Load returns the record for a tenant.
func (s *Store) Load(ctx context.Context, tenantID string) (llmgate.TenantQuota, bool, error) {
	rec := llmgate.TenantQuota{TenantID: tenantID}
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT daily_used, daily_date, minute_used, last_usage, subscription_active, unrestricted
		FROM %s WHERE tenant_id = $1
	`, s.table()), tenantID).Scan(
		&rec.DailyTokensUsed,
		&rec.DailyResetDate,
		&rec.MinuteTokensUsed,
		&rec.LastUsage,
		&rec.SubscriptionActive,
		&rec.Unrestricted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return llmgate.TenantQuota{}, false, nil
	}
	if err != nil {
		return llmgate.TenantQuota{}, false, fmt.Errorf("llmgate/postgres: load %s: %w", tenantID, err)
	}
	return rec, true, nil
}

// Save persists a record, overwriting any previous state.
func (s *Store) Save(ctx context.Context, rec llmgate.TenantQuota) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (tenant_id, daily_used, daily_date, minute_used, last_usage, subscription_active, unrestricted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			daily_used = EXCLUDED.daily_used,
			daily_date = EXCLUDED.daily_date,
			minute_used = EXCLUDED.minute_used,
			last_usage = EXCLUDED.last_usage,
			subscription_active = EXCLUDED.subscription_active,
			unrestricted = EXCLUDED.unrestricted
	`, s.table()),
		rec.TenantID,
		rec.DailyTokensUsed,
		rec.DailyResetDate,
		rec.MinuteTokensUsed,
		rec.LastUsage,
		rec.SubscriptionActive,
		rec.Unrestricted,
	)
	if err != nil {
		return fmt.Errorf("llmgate/postgres: save %s: %w", rec.TenantID, err)
	}
	return nil
}

// IncrementUsage applies a usage increment in a transaction with a row
// lock, applying the daily date reset and the stale-minute reset first.
func (s *Store) IncrementUsage(ctx context.Context, tenantID string, tokens int64, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("llmgate/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Ensure the row exists, then lock it.
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (tenant_id, daily_date) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO NOTHING
	`, s.table()), tenantID, llmgate.DateKey(now)); err != nil {
		return fmt.Errorf("llmgate/postgres: upsert %s: %w", tenantID, err)
	}

	rec := llmgate.TenantQuota{TenantID: tenantID}
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT daily_used, daily_date, minute_used, last_usage
		FROM %s WHERE tenant_id = $1 FOR UPDATE
	`, s.table()), tenantID).Scan(
		&rec.DailyTokensUsed,
		&rec.DailyResetDate,
		&rec.MinuteTokensUsed,
		&rec.LastUsage,
	)
	if err != nil {
		return fmt.Errorf("llmgate/postgres: lock %s: %w", tenantID, err)
	}

	rec.ApplyUsage(tokens, now)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET daily_used = $2, daily_date = $3, minute_used = $4, last_usage = $5
		WHERE tenant_id = $1
	`, s.table()),
		tenantID,
		rec.DailyTokensUsed,
		rec.DailyResetDate,
		rec.MinuteTokensUsed,
		rec.LastUsage,
	); err != nil {
		return fmt.Errorf("llmgate/postgres: update %s: %w", tenantID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("llmgate/postgres: commit: %w", err)
	}
	return nil
}
