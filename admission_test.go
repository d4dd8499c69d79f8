package llmgate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore is an in-memory store with injectable failures.
type stubStore struct {
	mu      sync.Mutex
	records map[string]TenantQuota
	loadErr error
	saveErr error
	saves   int
}

func newStubStore() *stubStore {
	return &stubStore{records: make(map[string]TenantQuota)}
}

func (s *stubStore) Load(_ context.Context, tenantID string) (TenantQuota, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return TenantQuota{}, false, s.loadErr
	}
	rec, ok := s.records[tenantID]
	return rec, ok, nil
}

func (s *stubStore) Save(_ context.Context, rec TenantQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.records[rec.TenantID] = rec
	return nil
}

func (s *stubStore) get(tenantID string) (TenantQuota, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tenantID]
	return rec, ok
}

func (s *stubStore) put(rec TenantQuota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TenantID] = rec
}

func newTestController(store Store, limits TenantLimits, unrestricted []string) (*AdmissionController, *time.Time) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	c := NewAdmissionController(store, limits, unrestricted, slog.Default())
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCheck_AllowsWithinBudget(t *testing.T) {
	store := newStubStore()
	c, _ := newTestController(store, TenantLimits{DailyTokens: 1000, MinuteTokens: 200}, nil)

	dec, err := c.Check(context.Background(), "firm-1", 100)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCheck_DailyLimitExceeded(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 16700, MinuteTokens: 100000}, nil)

	store.put(TenantQuota{
		TenantID:           "firm-1",
		DailyTokensUsed:    16600,
		DailyResetDate:     DateKey(*now),
		SubscriptionActive: true,
	})

	dec, err := c.Check(context.Background(), "firm-1", 200)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonDailyLimitExceeded, dec.Reason)
	assert.Equal(t, int64(16600), dec.DailyUsed)
	assert.Equal(t, int64(16700), dec.DailyLimit)

	// Retry hint is the time until the next local midnight.
	midnight := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, midnight.Sub(*now), dec.RetryAfter)
}

func TestCheck_ExactFillAllowed(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 1000, MinuteTokens: 1000}, nil)

	store.put(TenantQuota{
		TenantID:           "firm-1",
		DailyTokensUsed:    900,
		DailyResetDate:     DateKey(*now),
		SubscriptionActive: true,
	})

	dec, err := c.Check(context.Background(), "firm-1", 100)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCheck_MinuteLimitExceeded(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 100000, MinuteTokens: 200}, nil)

	store.put(TenantQuota{
		TenantID:           "firm-1",
		DailyResetDate:     DateKey(*now),
		MinuteTokensUsed:   150,
		LastUsage:          now.Add(-10 * time.Second),
		SubscriptionActive: true,
	})

	// 150 + 40 = 190 ≤ 200: admitted.
	dec, err := c.Check(context.Background(), "firm-1", 40)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	c.RecordUsage(context.Background(), "firm-1", 40)

	// 190 + 40 = 230 > 200: denied with a one-minute retry hint.
	dec, err = c.Check(context.Background(), "firm-1", 40)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonMinuteLimitExceeded, dec.Reason)
	assert.Equal(t, time.Minute, dec.RetryAfter)
}

func TestCheck_MinuteCounterStaleIsZero(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 100000, MinuteTokens: 200}, nil)

	store.put(TenantQuota{
		TenantID:           "firm-1",
		DailyResetDate:     DateKey(*now),
		MinuteTokensUsed:   200,
		LastUsage:          now.Add(-2 * time.Minute),
		SubscriptionActive: true,
	})

	dec, err := c.Check(context.Background(), "firm-1", 200)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(0), dec.MinuteUsed)
}

func TestCheck_DailyResetOnDateChange(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 1000, MinuteTokens: 100000}, nil)

	store.put(TenantQuota{
		TenantID:           "firm-1",
		DailyTokensUsed:    999,
		DailyResetDate:     DateKey(now.AddDate(0, 0, -1)),
		SubscriptionActive: true,
	})

	dec, err := c.Check(context.Background(), "firm-1", 1000)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(0), dec.DailyUsed)
}

func TestCheck_SubscriptionInactive(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 1000, MinuteTokens: 1000}, nil)

	store.put(TenantQuota{
		TenantID:       "firm-1",
		DailyResetDate: DateKey(*now),
	})

	// Denied regardless of untouched budget.
	dec, err := c.Check(context.Background(), "firm-1", 1)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonSubscriptionInactive, dec.Reason)
}

func TestCheck_UnrestrictedBypassesEverything(t *testing.T) {
	store := newStubStore()
	store.loadErr = errors.New("store down")
	c, _ := newTestController(store, TenantLimits{DailyTokens: 1, MinuteTokens: 1}, []string{"vip-firm"})

	// No store access, no counter reads: even a broken store admits.
	dec, err := c.Check(context.Background(), "vip-firm", 1_000_000)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCheck_StoreFailureFailsClosed(t *testing.T) {
	store := newStubStore()
	store.loadErr = errors.New("store down")
	c, _ := newTestController(store, TenantLimits{DailyTokens: 1000, MinuteTokens: 1000}, nil)

	dec, err := c.Check(context.Background(), "firm-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaUnavailable)
	assert.False(t, dec.Allowed)
}

func TestRecordUsage_IncrementsBothCounters(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 100000, MinuteTokens: 100000}, nil)

	c.RecordUsage(context.Background(), "firm-1", 250)
	c.RecordUsage(context.Background(), "firm-1", 50)

	rec, ok := store.get("firm-1")
	require.True(t, ok)
	assert.Equal(t, int64(300), rec.DailyTokensUsed)
	assert.Equal(t, int64(300), rec.MinuteTokensUsed)
	assert.Equal(t, *now, rec.LastUsage)
}

func TestRecordUsage_MinuteWindowRestartsWhenStale(t *testing.T) {
	store := newStubStore()
	c, now := newTestController(store, TenantLimits{DailyTokens: 100000, MinuteTokens: 100000}, nil)

	c.RecordUsage(context.Background(), "firm-1", 100)

	*now = now.Add(90 * time.Second)
	c.RecordUsage(context.Background(), "firm-1", 40)

	rec, _ := store.get("firm-1")
	assert.Equal(t, int64(140), rec.DailyTokensUsed)
	assert.Equal(t, int64(40), rec.MinuteTokensUsed)
}

func TestRecordUsage_UnrestrictedNeverMutates(t *testing.T) {
	store := newStubStore()
	c, _ := newTestController(store, TenantLimits{DailyTokens: 1000, MinuteTokens: 1000}, []string{"vip-firm"})

	c.RecordUsage(context.Background(), "vip-firm", 500)

	_, ok := store.get("vip-firm")
	assert.False(t, ok)
	assert.Equal(t, 0, store.saves)
}

func TestRecordUsage_StorageErrorIsSwallowed(t *testing.T) {
	store := newStubStore()
	store.saveErr = errors.New("store down")
	c, _ := newTestController(store, TenantLimits{DailyTokens: 1000, MinuteTokens: 1000}, nil)

	// Must not panic or surface an error.
	c.RecordUsage(context.Background(), "firm-1", 100)
}

func TestRecordUsage_ConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	store := newStubStore()
	c, _ := newTestController(store, TenantLimits{DailyTokens: 1 << 40, MinuteTokens: 1 << 40}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordUsage(context.Background(), "firm-1", 10)
		}()
	}
	wg.Wait()

	rec, _ := store.get("firm-1")
	assert.Equal(t, int64(500), rec.DailyTokensUsed)
}

func TestSetLimits_HotSwap(t *testing.T) {
	store := newStubStore()
	c, _ := newTestController(store, TenantLimits{DailyTokens: 100, MinuteTokens: 100}, nil)

	dec, err := c.Check(context.Background(), "firm-1", 200)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	c.SetLimits(TenantLimits{DailyTokens: 1000, MinuteTokens: 1000})

	dec, err = c.Check(context.Background(), "firm-1", 200)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}
