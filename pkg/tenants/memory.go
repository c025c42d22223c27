// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

type memProvider struct {
	log        *zap.SugaredLogger
	mu         sync.RWMutex
	byID       map[string]Tenant
	permissive bool
}

// NewMemoryProvider seeds tenants from a JSON array; an empty seed yields a permissive
// dev provider that accepts any tenant reference as its own id.
//
//	[{"id":"...","slug":"acme","organizations":["..."]}]
func NewMemoryProvider(log *zap.SugaredLogger, seed string) Provider {
	p := &memProvider{log: log, byID: map[string]Tenant{}}
	if seed == "" {
		p.permissive = true
		return p
	}
	var entries []Tenant
	if err := json.Unmarshal([]byte(seed), &entries); err != nil {
		log.Warnw("tenant seed", "err", err)
	}
	for _, e := range entries {
		p.byID[e.ID] = e
	}
	return p
}

func (m *memProvider) ResolveTenant(ctx context.Context, ref string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[ref]; ok {
		return t, nil
	}
	for _, t := range m.byID {
		if t.Slug == ref {
			return t, nil
		}
	}
	if m.permissive && ref != "" {
		return Tenant{ID: ref, Slug: ref}, nil
	}
	return Tenant{}, ErrTenantNotFound
}

func (m *memProvider) OrganizationBelongs(ctx context.Context, tenantID, organizationID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[tenantID]
	if !ok {
		return m.permissive, nil
	}
	return t.HasOrganization(organizationID), nil
}
