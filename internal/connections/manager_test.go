package connections

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automate/internal/oauth"
	"automate/internal/settings"
	"automate/pkg/logger"
	"automate/pkg/secrets"
)

type staticTokens struct{ err error }

func (staticTokens) Scope(tenantID, organizationID string) settings.Scope {
	return settings.Scope{TenantID: tenantID, OrganizationID: organizationID, Integration: "activepieces"}
}

func (s staticTokens) ValidToken(_ context.Context, scope settings.Scope) (oauth.TokenRecord, error) {
	if s.err != nil {
		return oauth.TokenRecord{}, s.err
	}
	return oauth.TokenRecord{TenantID: scope.TenantID, AccessToken: secrets.New("access-" + scope.TenantID), IsEnabled: true}, nil
}

// fakeProvider keeps app connections keyed by externalId, like the real upsert.
type fakeProvider struct {
	mu    sync.Mutex
	byExt map[string]Connection
	auth  []string
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	p := &fakeProvider{byExt: map[string]Connection{}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p.mu.Lock()
			p.auth = append(p.auth, req.Header.Get("Authorization"))
			p.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/v1/app-connections", func(w http.ResponseWriter, req *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(req.Body).Decode(&in)
		p.mu.Lock()
		defer p.mu.Unlock()
		ext := in["externalId"].(string)
		c, ok := p.byExt[ext]
		if !ok {
			c = Connection{ID: "conn-" + ext, ExternalID: ext}
		}
		c.DisplayName, _ = in["displayName"].(string)
		c.PieceName, _ = in["pieceName"].(string)
		c.ProjectID, _ = in["projectId"].(string)
		p.byExt[ext] = c
		_ = json.NewEncoder(w).Encode(c)
	})
	r.Get("/v1/app-connections", func(w http.ResponseWriter, req *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		page := Page{}
		for _, c := range p.byExt {
			if c.ProjectID == req.URL.Query().Get("projectId") {
				page.Data = append(page.Data, c)
			}
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	r.Get("/v1/app-connections/{id}", func(w http.ResponseWriter, req *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, c := range p.byExt {
			if c.ID == chi.URLParam(req, "id") {
				_ = json.NewEncoder(w).Encode(c)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	r.Delete("/v1/app-connections/{id}", func(w http.ResponseWriter, req *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for ext, c := range p.byExt {
			if c.ID == chi.URLParam(req, "id") {
				delete(p.byExt, ext)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"ENTITY_NOT_FOUND"}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *fakeProvider) snapshot() (int, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byExt), append([]string(nil), p.auth...)
}

func TestExternalID(t *testing.T) {
	assert.Equal(t, "tenant-t1", ExternalID("t1", ""))
	assert.Equal(t, "tenant-t1-org-o1", ExternalID("t1", "o1"))
}

func TestManager_UpsertIsStablePerTenant(t *testing.T) {
	ctx := context.Background()
	p, srv := newFakeProvider(t)
	store := settings.NewMemoryStore()
	m := NewManager(srv.URL, staticTokens{}, store, srv.Client(), logger.Nop())

	in := UpsertInput{TenantID: "t1", ProjectID: "proj-1", PieceName: "@acme/piece-crm", Value: map[string]any{"type": "SECRET_TEXT", "secret_text": "x"}}
	a, err := m.UpsertConnection(ctx, in)
	require.NoError(t, err)
	in.DisplayName = "renamed"
	b, err := m.UpsertConnection(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "renamed", b.DisplayName)
	n, auth := p.snapshot()
	assert.Equal(t, 1, n)
	assert.Equal(t, "Bearer access-t1", auth[0])

	v, err := store.Get(ctx, staticTokens{}.Scope("t1", ""))
	require.NoError(t, err)
	assert.Equal(t, a.ID, v[settings.ConnectionID])
	assert.Equal(t, "proj-1", v[settings.ProjectID])
}

func TestManager_ListUsesStoredProject(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeProvider(t)
	m := NewManager(srv.URL, staticTokens{}, settings.NewMemoryStore(), srv.Client(), logger.Nop())
	scope := staticTokens{}.Scope("t1", "o1")

	_, err := m.ListConnections(ctx, scope, "", ListFilter{})
	var verr *oauth.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = m.UpsertConnection(ctx, UpsertInput{TenantID: "t1", OrganizationID: "o1", ProjectID: "p9", PieceName: "piece", Value: map[string]any{"k": "v"}})
	require.NoError(t, err)
	page, err := m.ListConnections(ctx, scope, "", ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "tenant-t1-org-o1", page.Data[0].ExternalID)
}

func TestManager_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeProvider(t)
	store := settings.NewMemoryStore()
	m := NewManager(srv.URL, staticTokens{}, store, srv.Client(), logger.Nop())
	scope := staticTokens{}.Scope("t1", "")

	conn, err := m.UpsertConnection(ctx, UpsertInput{TenantID: "t1", ProjectID: "p", PieceName: "piece", Value: map[string]any{"k": "v"}})
	require.NoError(t, err)

	got, err := m.GetConnection(ctx, scope, conn.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPresent())
	assert.Equal(t, conn.ID, got.MustGet().ID)

	deleted, err := m.DeleteConnection(ctx, scope, conn.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	v, _ := store.Get(ctx, scope)
	assert.Empty(t, v[settings.ConnectionID])

	deleted, err = m.DeleteConnection(ctx, scope, conn.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err = m.GetConnection(ctx, scope, conn.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAbsent())
}

func TestManager_NotAuthorized(t *testing.T) {
	_, srv := newFakeProvider(t)
	m := NewManager(srv.URL, staticTokens{err: oauth.ErrNoToken}, settings.NewMemoryStore(), srv.Client(), logger.Nop())
	_, err := m.GetConnection(context.Background(), staticTokens{}.Scope("t1", ""), "c1")
	assert.ErrorIs(t, err, oauth.ErrNoToken)
}

func TestManager_ProviderErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"PERMISSION_DENIED","message":"project not accessible"}`))
	}))
	t.Cleanup(srv.Close)
	m := NewManager(srv.URL, staticTokens{}, settings.NewMemoryStore(), srv.Client(), logger.Nop())

	_, err := m.ListConnections(context.Background(), staticTokens{}.Scope("t1", ""), "p", ListFilter{})
	var pe *oauth.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusForbidden, pe.Status)
	assert.Equal(t, "PERMISSION_DENIED", pe.Code)
	assert.Equal(t, "project not accessible", pe.Description)
}
