// Package quota provides tenant quota store implementations.
package quota

import (
	"context"
	"sync"

	"github.com/lexgate/llmgate"
)

// MemoryStore is an in-memory tenant quota store. Suitable for tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]llmgate.TenantQuota
}

var _ llmgate.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]llmgate.TenantQuota),
	}
}

// Load returns the record for a tenant.
func (s *MemoryStore) Load(_ context.Context, tenantID string) (llmgate.TenantQuota, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[tenantID]
	return rec, ok, nil
}

// Save persists a record.
func (s *MemoryStore) Save(_ context.Context, rec llmgate.TenantQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.TenantID] = rec
	return nil
}

// SetSubscriptionActive flips a tenant's subscription state, creating the
// record if needed. Exposed for tests and for the surrounding billing glue.
func (s *MemoryStore) SetSubscriptionActive(tenantID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tenantID]
	if !ok {
		rec = llmgate.TenantQuota{TenantID: tenantID, SubscriptionActive: true}
	}
	rec.SubscriptionActive = active
	s.records[tenantID] = rec
}
