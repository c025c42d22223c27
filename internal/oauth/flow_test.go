package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automate/internal/settings"
	"automate/pkg/config"
	"automate/pkg/logger"
	"automate/pkg/secrets"
)

// stubProvider is a token endpoint that answers with whatever handler says.
type stubProvider struct {
	*httptest.Server
	calls   atomic.Int32
	mu      sync.Mutex
	lastReq url.Values
	handler func(w http.ResponseWriter, form url.Values)
}

func newStubProvider(t *testing.T) *stubProvider {
	p := &stubProvider{}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		require.NoError(t, r.ParseForm())
		p.mu.Lock()
		p.lastReq = r.PostForm
		h := p.handler
		p.mu.Unlock()
		h(w, r.PostForm)
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *stubProvider) respond(status int, body any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = func(w http.ResponseWriter, _ url.Values) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (p *stubProvider) form() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

type flowFixture struct {
	flow     *FlowService
	store    *settings.MemoryStore
	pending  *MemoryPendingStore
	provider *stubProvider
	now      time.Time
}

func newFlowFixture(t *testing.T) *flowFixture {
	fx := &flowFixture{provider: newStubProvider(t), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	global := globalProvider
	global.TokenURL = fx.provider.URL + "/oauth/token"
	resolver, _ := newResolver(global)
	fx.store = settings.NewMemoryStore()
	fx.pending = NewMemoryPendingStore()
	fx.flow = NewFlowService(NewStateCodec("state-secret"), fx.pending, resolver, fx.store, logger.Nop(), FlowOptions{
		HTTPClient: fx.provider.Client(),
		Now:        func() time.Time { return fx.now },
	})
	return fx
}

func TestFlow_EndToEnd(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	fx.provider.respond(http.StatusOK, map[string]any{
		"access_token": "A", "refresh_token": "R", "token_type": "Bearer", "expires_in": 3600,
	})

	req, err := fx.flow.BuildAuthorizationURL(ctx, "T1", "")
	require.NoError(t, err)
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "global-client-id", q.Get("client_id"))
	assert.Equal(t, globalProvider.CallbackURL, q.Get("redirect_uri"))
	assert.Equal(t, req.State, q.Get("state"))

	scope := fx.flow.Scope("T1", "")
	st, err := fx.flow.Status(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Authorizing, st)

	rec, err := fx.flow.HandleCallback(ctx, "C", req.State)
	require.NoError(t, err)
	assert.Equal(t, "A", rec.AccessToken.Reveal())
	assert.Equal(t, "R", rec.RefreshToken.Reveal())
	assert.Equal(t, fx.now.Add(time.Hour), rec.ExpiresAt)

	form := fx.provider.form()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "C", form.Get("code"))
	assert.Equal(t, "global-client-id", form.Get("client_id"))
	assert.Equal(t, "global-secret", form.Get("client_secret"))

	stored, err := fx.flow.Token(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken.Reveal(), stored.AccessToken.Reveal())
	assert.WithinDuration(t, fx.now.Add(time.Hour), stored.ExpiresAt, time.Second)
	st, err = fx.flow.Status(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Authorized, st)

	_, err = fx.flow.HandleCallback(ctx, "C", req.State)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.EqualValues(t, 1, fx.provider.calls.Load())
}

func TestFlow_CallbackRejectsForgedState(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	forged, err := NewStateCodec("other-secret").Encode("T1", "", "n1")
	require.NoError(t, err)

	_, err = fx.flow.HandleCallback(ctx, "C", forged)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, fx.provider.calls.Load())
}

func TestFlow_CallbackExpiredState(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	req, err := fx.flow.BuildAuthorizationURL(ctx, "T1", "")
	require.NoError(t, err)

	fx.now = fx.now.Add(11 * time.Minute)
	_, err = fx.flow.HandleCallback(ctx, "C", req.State)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, fx.provider.calls.Load())
}

func TestFlow_ProviderRejectsCode(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	fx.provider.respond(http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code expired"})

	req, err := fx.flow.BuildAuthorizationURL(ctx, "T1", "o1")
	require.NoError(t, err)
	_, err = fx.flow.HandleCallback(ctx, "C", req.State)

	var te *TokenExchangeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.Status)
	assert.Equal(t, "invalid_grant", te.Code)
	assert.False(t, te.Transient())

	st, err := fx.flow.Status(ctx, fx.flow.Scope("T1", "o1"))
	require.NoError(t, err)
	assert.Equal(t, NotAuthorized, st)
	assert.Zero(t, fx.pending.Len(), "rejected state is not restored")
}

func TestFlow_TransientFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	req, err := fx.flow.BuildAuthorizationURL(ctx, "T1", "")
	require.NoError(t, err)

	fx.provider.Close()
	_, err = fx.flow.HandleCallback(ctx, "C", req.State)
	var te *TokenExchangeError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Transient())
	assert.Equal(t, 1, fx.pending.Len())
}

func TestFlow_RefreshReplacesTupleAtomically(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	scope := fx.flow.Scope("T1", "")
	require.NoError(t, fx.store.Set(ctx, scope, TokenRecord{
		AccessToken: secrets.New("old-A"), RefreshToken: secrets.New("old-R"), TokenType: "Bearer",
		ExpiresIn: 60, ExpiresAt: fx.now.Add(-time.Minute), IsEnabled: true,
	}.settingsValues()))

	fx.provider.respond(http.StatusOK, map[string]any{"access_token": "new-A", "token_type": "Bearer", "expires_in": 7200})
	rec, err := fx.flow.ValidToken(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, "new-A", rec.AccessToken.Reveal())
	assert.Equal(t, "old-R", rec.RefreshToken.Reveal(), "refresh token kept when provider omits it")
	assert.Equal(t, "refresh_token", fx.provider.form().Get("grant_type"))
	assert.Equal(t, "old-R", fx.provider.form().Get("refresh_token"))

	v, err := fx.store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, "new-A", v[settings.AccessToken])
	assert.Equal(t, "7200", v[settings.ExpiresIn])
	assert.Equal(t, string(Authorized), v[settings.FlowState])
}

func TestFlow_RefreshRejectedRevokes(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	scope := fx.flow.Scope("T1", "")
	require.NoError(t, fx.store.Set(ctx, scope, TokenRecord{
		AccessToken: secrets.New("A"), RefreshToken: secrets.New("R"), ExpiresAt: fx.now.Add(-time.Second), IsEnabled: true,
	}.settingsValues()))
	fx.provider.respond(http.StatusUnauthorized, map[string]any{"error": "invalid_grant"})

	_, err := fx.flow.RefreshToken(ctx, scope)
	var re *TokenRefreshError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Status)

	st, err := fx.flow.Status(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Revoked, st)
	_, err = fx.flow.ValidToken(ctx, scope)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFlow_RevokedScopeIsNotRevivedByRefresh(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	scope := fx.flow.Scope("T1", "")
	require.NoError(t, fx.store.Set(ctx, scope, TokenRecord{
		AccessToken: secrets.New("A"), RefreshToken: secrets.New("R"), ExpiresAt: fx.now.Add(-time.Second), IsEnabled: true,
	}.settingsValues()))
	fx.provider.respond(http.StatusUnauthorized, map[string]any{"error": "invalid_grant"})
	_, err := fx.flow.RefreshToken(ctx, scope)
	var re *TokenRefreshError
	require.ErrorAs(t, err, &re)

	v, err := fx.store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, string(Revoked), v[settings.FlowState])
	assert.Empty(t, v[settings.RefreshToken], "rejected refresh token is dropped")

	fx.provider.respond(http.StatusOK, map[string]any{"access_token": "A2", "refresh_token": "R2", "expires_in": 3600})
	_, err = fx.flow.RefreshToken(ctx, scope)
	assert.ErrorIs(t, err, ErrNoToken)
	assert.EqualValues(t, 1, fx.provider.calls.Load())

	st, err := fx.flow.Status(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Revoked, st)
}

// gate makes the token endpoint hold every request until release is closed.
func (p *stubProvider) gate(t *testing.T, body map[string]any) (entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{}, 16)
	release = make(chan struct{})
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = func(w http.ResponseWriter, _ url.Values) {
		in <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
	return in, release
}

func TestFlow_ConcurrentRefreshesShareOneCall(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	scope := fx.flow.Scope("T1", "")
	require.NoError(t, fx.store.Set(ctx, scope, TokenRecord{
		AccessToken: secrets.New("A"), RefreshToken: secrets.New("R"), ExpiresAt: fx.now.Add(-time.Second), IsEnabled: true,
	}.settingsValues()))
	entered, release := fx.provider.gate(t, map[string]any{"access_token": "A2", "refresh_token": "R2", "expires_in": 3600})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]TokenRecord, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = fx.flow.ValidToken(ctx, scope)
		}()
	}
	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "A2", results[i].AccessToken.Reveal())
		assert.Equal(t, "R2", results[i].RefreshToken.Reveal())
	}
	assert.EqualValues(t, 1, fx.provider.calls.Load())
}

func TestFlow_RefreshSurvivesFirstCallerCancel(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	scope := fx.flow.Scope("T1", "")
	require.NoError(t, fx.store.Set(ctx, scope, TokenRecord{
		AccessToken: secrets.New("A"), RefreshToken: secrets.New("R"), ExpiresAt: fx.now.Add(-time.Second), IsEnabled: true,
	}.settingsValues()))
	entered, release := fx.provider.gate(t, map[string]any{"access_token": "A2", "refresh_token": "R2", "expires_in": 3600})

	firstCtx, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := fx.flow.RefreshToken(firstCtx, scope)
		firstErr <- err
	}()
	<-entered

	second := make(chan error, 1)
	var got TokenRecord
	go func() {
		var err error
		got, err = fx.flow.ValidToken(ctx, scope)
		second <- err
	}()
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, <-second)
	assert.Equal(t, "A2", got.AccessToken.Reveal())
	assert.EqualValues(t, 1, fx.provider.calls.Load())

	st, err := fx.flow.Status(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Authorized, st)
}

func TestFlow_ValidTokenWithoutAuthorization(t *testing.T) {
	fx := newFlowFixture(t)
	_, err := fx.flow.ValidToken(context.Background(), fx.flow.Scope("T9", ""))
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFlow_RevokeAndDisable(t *testing.T) {
	ctx := context.Background()
	fx := newFlowFixture(t)
	scope := fx.flow.Scope("T1", "")
	require.NoError(t, fx.store.Set(ctx, scope, TokenRecord{AccessToken: secrets.New("A"), IsEnabled: true}.settingsValues()))

	require.NoError(t, fx.flow.SetEnabled(ctx, scope, false))
	_, err := fx.flow.ValidToken(ctx, scope)
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, fx.flow.Revoke(ctx, scope))
	_, err = fx.flow.Token(ctx, scope)
	assert.ErrorIs(t, err, ErrNoToken)
	st, err := fx.flow.Status(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Revoked, st)
}

func TestBuildAuthorizationURL_NoConfig(t *testing.T) {
	r, _ := newResolver(config.Provider{})
	f := NewFlowService(NewStateCodec("s"), NewMemoryPendingStore(), r, settings.NewMemoryStore(), logger.Nop(), FlowOptions{})
	_, err := f.BuildAuthorizationURL(context.Background(), "T1", "")
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}
