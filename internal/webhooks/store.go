package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions.
type Store interface {
	// Create inserts in, or returns the existing row with the same
	// (targetUrl, event, tenantId, organizationId) and created=false.
	Create(ctx context.Context, in CreateInput) (Subscription, bool, error)
	Get(ctx context.Context, id string) (Subscription, bool, error)
	Delete(ctx context.Context, id string) error
	// List returns the tenant's subscriptions; a non-empty organizationID narrows to that organization.
	List(ctx context.Context, tenantID, organizationID string) ([]Subscription, error)
	// Active returns every active subscription of the tenant.
	Active(ctx context.Context, tenantID string) ([]Subscription, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{subs: map[string]Subscription{}} }

func (m *MemoryStore) Create(_ context.Context, in CreateInput) (Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.TargetURL == in.TargetURL && s.Event == in.Event && s.TenantID == in.TenantID && s.OrganizationID == in.OrganizationID {
			return s, false, nil
		}
	}
	now := time.Now().UTC()
	s := Subscription{
		ID: uuid.NewString(), TargetURL: in.TargetURL, Event: in.Event,
		TenantID: in.TenantID, OrganizationID: in.OrganizationID, IntegrationID: in.IntegrationID,
		Filter: in.Filter, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	m.subs[s.ID] = s
	return s, true, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Subscription, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	return s, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context, tenantID, organizationID string) ([]Subscription, error) {
	return m.filter(func(s Subscription) bool {
		return s.TenantID == tenantID && (organizationID == "" || s.OrganizationID == organizationID)
	}), nil
}

func (m *MemoryStore) Active(_ context.Context, tenantID string) ([]Subscription, error) {
	return m.filter(func(s Subscription) bool { return s.TenantID == tenantID && s.IsActive }), nil
}

func (m *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.IsActive = active
	s.UpdatedAt = time.Now().UTC()
	m.subs[id] = s
	return nil
}

func (m *MemoryStore) filter(keep func(Subscription) bool) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Subscription{}
	for _, s := range m.subs {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
