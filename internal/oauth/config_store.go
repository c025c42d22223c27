package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConfigStore keeps configs in process; used in dev mode and tests.
type MemoryConfigStore struct {
	mu   sync.RWMutex
	byID map[string]TenantConfig
}

var _ ConfigStore = (*MemoryConfigStore)(nil)

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{byID: map[string]TenantConfig{}}
}

func (s *MemoryConfigStore) FindActive(ctx context.Context, tenantID, organizationID string) (TenantConfig, bool, error) {
	c, ok, err := s.Find(ctx, tenantID, organizationID)
	if !ok || !c.IsActive {
		return TenantConfig{}, false, err
	}
	return c, true, nil
}

func (s *MemoryConfigStore) Find(_ context.Context, tenantID, organizationID string) (TenantConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if c.TenantID == tenantID && c.OrganizationID == organizationID {
			return c, true, nil
		}
	}
	return TenantConfig{}, false, nil
}

func (s *MemoryConfigStore) Get(_ context.Context, id string) (TenantConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	return c, ok, nil
}

func (s *MemoryConfigStore) Save(_ context.Context, cfg TenantConfig) (TenantConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if cfg.ID == "" {
		// same (tenant, org) pair keeps a single row
		for id, c := range s.byID {
			if c.TenantID == cfg.TenantID && c.OrganizationID == cfg.OrganizationID {
				cfg.ID = id
				cfg.CreatedAt = c.CreatedAt
			}
		}
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.byID[cfg.ID] = cfg
	return cfg, nil
}

func (s *MemoryConfigStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}
