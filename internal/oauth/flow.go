package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"automate/internal/settings"
	"automate/pkg/secrets"
)

// FlowOptions tunes a FlowService. Zero values get defaults.
type FlowOptions struct {
	Integration string        // settings namespace, e.g. "activepieces"
	StateTTL    time.Duration // pending state lifetime (10m)
	HTTPClient  *http.Client  // used for provider token calls
	Now         func() time.Time
}

// FlowService drives NOT_AUTHORIZED → AUTHORIZING → AUTHORIZED (⇄ REFRESHING) → REVOKED
// for every tenant/organization scope.
type FlowService struct {
	codec       *StateCodec
	pending     PendingStore
	resolver    *ConfigResolver
	store       settings.Store
	log         *zap.SugaredLogger
	integration string
	ttl         time.Duration
	client      *http.Client
	now         func() time.Time
	refreshes   singleflight.Group
}

func NewFlowService(codec *StateCodec, pending PendingStore, resolver *ConfigResolver, store settings.Store, log *zap.SugaredLogger, opts FlowOptions) *FlowService {
	if opts.Integration == "" {
		opts.Integration = "activepieces"
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &FlowService{
		codec: codec, pending: pending, resolver: resolver, store: store, log: log,
		integration: opts.Integration, ttl: opts.StateTTL, client: opts.HTTPClient, now: opts.Now,
	}
}

// Scope returns the settings scope for a tenant/organization of this integration.
func (f *FlowService) Scope(tenantID, organizationID string) settings.Scope {
	return settings.Scope{TenantID: tenantID, OrganizationID: organizationID, Integration: f.integration}
}

func (f *FlowService) Integration() string { return f.integration }

// AuthorizationRequest is what the UI needs to send the browser to the provider.
type AuthorizationRequest struct {
	URL   string `json:"authorizationUrl"`
	State string `json:"state"`
}

// BuildAuthorizationURL mints a signed single-use state and the provider authorize URL.
func (f *FlowService) BuildAuthorizationURL(ctx context.Context, tenantID, organizationID string) (AuthorizationRequest, error) {
	if tenantID == "" {
		return AuthorizationRequest{}, &ValidationError{Msg: "tenantId is required"}
	}
	cfg, err := f.resolver.GetConfig(ctx, tenantID, organizationID)
	if err != nil {
		return AuthorizationRequest{}, err
	}
	if cfg.AuthorizeURL == "" {
		return AuthorizationRequest{}, fmt.Errorf("%w: provider authorize url not set", ErrConfigurationMissing)
	}
	nonce, err := NewNonce()
	if err != nil {
		return AuthorizationRequest{}, err
	}
	state, err := f.codec.Encode(tenantID, organizationID, nonce)
	if err != nil {
		return AuthorizationRequest{}, err
	}
	if err := f.pending.Put(ctx, nonce, f.now(), f.ttl); err != nil {
		return AuthorizationRequest{}, err
	}
	scope := f.Scope(tenantID, organizationID)
	if cur, err := f.Status(ctx, scope); err == nil && cur != Authorized && cur != Refreshing {
		f.transition(ctx, scope, cur, Authorizing)
	}
	return AuthorizationRequest{URL: f.oauth2Config(cfg).AuthCodeURL(state), State: state}, nil
}

// VerifyState checks the signature only; it does not consume the state.
func (f *FlowService) VerifyState(state string) (State, error) {
	st, err := f.codec.Decode(state)
	if err != nil {
		stateRejections.WithLabelValues("signature").Inc()
	}
	return st, err
}

// HandleCallback verifies and consumes state, then exchanges code for the embedded tenant.
func (f *FlowService) HandleCallback(ctx context.Context, code, state string) (TokenRecord, error) {
	if code == "" {
		return TokenRecord{}, &ValidationError{Msg: "code is required"}
	}
	st, err := f.VerifyState(state)
	if err != nil {
		return TokenRecord{}, err
	}
	scope := f.Scope(st.TenantID, st.OrganizationID)
	issuedAt, ok, err := f.pending.Take(ctx, st.Nonce)
	if err != nil {
		return TokenRecord{}, err
	}
	if !ok || !f.now().Before(issuedAt.Add(f.ttl)) {
		stateRejections.WithLabelValues("consumed_or_expired").Inc()
		if cur, _ := f.Status(ctx, scope); cur == Authorizing {
			f.transition(ctx, scope, cur, NotAuthorized)
		}
		return TokenRecord{}, fmt.Errorf("%w: expired or already used", ErrInvalidState)
	}
	cfg, err := f.resolver.GetConfig(ctx, st.TenantID, st.OrganizationID)
	if err != nil {
		f.restore(ctx, st.Nonce, issuedAt)
		return TokenRecord{}, err
	}
	rec, err := f.ExchangeCodeForToken(ctx, code, cfg)
	if err != nil {
		var te *TokenExchangeError
		if errors.As(err, &te) && te.Transient() {
			// provider never answered; the same state may be retried within its lifetime
			f.restore(ctx, st.Nonce, issuedAt)
			return TokenRecord{}, err
		}
		f.transition(ctx, scope, Authorizing, NotAuthorized)
		return TokenRecord{}, err
	}
	return rec, nil
}

func (f *FlowService) restore(ctx context.Context, nonce string, issuedAt time.Time) {
	remaining := f.ttl - f.now().Sub(issuedAt)
	if remaining <= 0 {
		return
	}
	if err := f.pending.Put(ctx, nonce, issuedAt, remaining); err != nil {
		f.log.Warnw("restore pending state", "err", err)
	}
}

// ExchangeCodeForToken posts the authorization_code grant and persists the token tuple atomically.
func (f *FlowService) ExchangeCodeForToken(ctx context.Context, code string, cfg EffectiveConfig) (TokenRecord, error) {
	scope := f.Scope(cfg.TenantID, cfg.OrganizationID)
	tok, err := f.oauth2Config(cfg).Exchange(f.clientContext(ctx), code)
	if err != nil {
		exchangeTotal.WithLabelValues("error").Inc()
		pe := providerError(err)
		f.log.Warnw("token exchange failed", "tenant", cfg.TenantID, "org", cfg.OrganizationID, "status", pe.Status, "code", pe.Code)
		return TokenRecord{}, &TokenExchangeError{ProviderError: *pe}
	}
	rec := f.recordFrom(scope, tok, "")
	rec.IsEnabled = true
	if err := f.store.Set(ctx, scope, rec.settingsValues()); err != nil {
		exchangeTotal.WithLabelValues("error").Inc()
		return TokenRecord{}, fmt.Errorf("persist token: %w", err)
	}
	exchangeTotal.WithLabelValues("ok").Inc()
	f.log.Infow("integration authorized", "tenant", cfg.TenantID, "org", cfg.OrganizationID, "source", cfg.Source, "expires_at", rec.ExpiresAt)
	return rec, nil
}

// RefreshToken runs the refresh grant for scope. Concurrent callers in this process
// share one provider call; the stored tuple is replaced in a single write.
func (f *FlowService) RefreshToken(ctx context.Context, scope settings.Scope) (TokenRecord, error) {
	return f.coalesced(ctx, scope, false)
}

// coalesced joins or starts the in-flight refresh for scope. The shared call outlives
// any single caller's cancellation and is bounded by refreshTimeout instead.
func (f *FlowService) coalesced(ctx context.Context, scope settings.Scope, onlyIfStale bool) (TokenRecord, error) {
	ch := f.refreshes.DoChan(scope.Key(), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return f.refresh(rctx, scope, onlyIfStale)
	})
	select {
	case <-ctx.Done():
		return TokenRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TokenRecord{}, res.Err
		}
		return res.Val.(TokenRecord), nil
	}
}

const refreshTimeout = 30 * time.Second

func (f *FlowService) refresh(ctx context.Context, scope settings.Scope, onlyIfStale bool) (TokenRecord, error) {
	v, err := f.store.Get(ctx, scope)
	if err != nil {
		return TokenRecord{}, err
	}
	if FlowState(v[settings.FlowState]) == Revoked {
		return TokenRecord{}, fmt.Errorf("%w: re-authorization required", ErrNoToken)
	}
	cur, ok := tokenFromSettings(scope, v)
	if !ok {
		return TokenRecord{}, ErrNoToken
	}
	// another caller refreshed between our read and this flight
	if onlyIfStale && !cur.Expired(f.now()) {
		return cur, nil
	}
	if cur.RefreshToken.IsZero() {
		refreshTotal.WithLabelValues("rejected").Inc()
		f.revoke(ctx, scope, "")
		return TokenRecord{}, &TokenRefreshError{ProviderError{Status: http.StatusUnauthorized, Code: "invalid_grant", Description: "no refresh token stored"}}
	}
	cfg, err := f.resolver.GetConfig(ctx, scope.TenantID, scope.OrganizationID)
	if err != nil {
		return TokenRecord{}, err
	}
	f.transition(ctx, scope, Authorized, Refreshing)
	src := f.oauth2Config(cfg).TokenSource(f.clientContext(ctx), &oauth2.Token{RefreshToken: cur.RefreshToken.Reveal()})
	tok, err := src.Token()
	if err != nil {
		pe := providerError(err)
		if pe.Transient() {
			refreshTotal.WithLabelValues("transient").Inc()
			f.transition(ctx, scope, Refreshing, Authorized)
		} else {
			refreshTotal.WithLabelValues("rejected").Inc()
			f.revoke(ctx, scope, Refreshing)
		}
		f.log.Warnw("token refresh failed", "tenant", scope.TenantID, "org", scope.OrganizationID, "status", pe.Status, "code", pe.Code)
		return TokenRecord{}, &TokenRefreshError{ProviderError: *pe}
	}
	rec := f.recordFrom(scope, tok, cur.RefreshToken.Reveal())
	rec.IsEnabled = cur.IsEnabled
	if err := f.store.Set(ctx, scope, rec.settingsValues()); err != nil {
		return TokenRecord{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	refreshTotal.WithLabelValues("ok").Inc()
	f.log.Infow("token refreshed", "tenant", scope.TenantID, "org", scope.OrganizationID, "expires_at", rec.ExpiresAt)
	return rec, nil
}

// revoke marks scope REVOKED and drops the refresh token in one write, so a rejected
// grant is never replayed. With from set, it only applies when the current state is from.
func (f *FlowService) revoke(ctx context.Context, scope settings.Scope, from FlowState) {
	if from != "" {
		if cur, err := f.Status(ctx, scope); err != nil || cur != from {
			return
		}
	}
	if err := f.store.Set(ctx, scope, map[string]string{
		settings.FlowState:    string(Revoked),
		settings.RefreshToken: "",
	}); err != nil {
		f.log.Warnw("persist flow state", "tenant", scope.TenantID, "to", Revoked, "err", err)
	}
}

// Token re-reads the persisted token for scope.
func (f *FlowService) Token(ctx context.Context, scope settings.Scope) (TokenRecord, error) {
	v, err := f.store.Get(ctx, scope)
	if err != nil {
		return TokenRecord{}, err
	}
	rec, ok := tokenFromSettings(scope, v)
	if !ok {
		return TokenRecord{}, ErrNoToken
	}
	return rec, nil
}

// ValidToken returns a usable token, refreshing synchronously when it is stale.
func (f *FlowService) ValidToken(ctx context.Context, scope settings.Scope) (TokenRecord, error) {
	v, err := f.store.Get(ctx, scope)
	if err != nil {
		return TokenRecord{}, err
	}
	if FlowState(v[settings.FlowState]) == Revoked {
		return TokenRecord{}, fmt.Errorf("%w: re-authorization required", ErrNoToken)
	}
	rec, ok := tokenFromSettings(scope, v)
	if !ok {
		return TokenRecord{}, ErrNoToken
	}
	if !rec.IsEnabled {
		return TokenRecord{}, fmt.Errorf("%w: integration disabled", ErrNoToken)
	}
	if rec.Expired(f.now()) {
		return f.coalesced(ctx, scope, true)
	}
	return rec, nil
}

// Status returns the persisted flow state, deriving it for records written without one.
func (f *FlowService) Status(ctx context.Context, scope settings.Scope) (FlowState, error) {
	v, err := f.store.Get(ctx, scope)
	if err != nil {
		return "", err
	}
	if s := FlowState(v[settings.FlowState]); s != "" {
		return s, nil
	}
	if v[settings.AccessToken] != "" {
		return Authorized, nil
	}
	return NotAuthorized, nil
}

// Revoke drops the stored tokens; a new authorization is required afterwards.
func (f *FlowService) Revoke(ctx context.Context, scope settings.Scope) error {
	if err := f.store.Delete(ctx, scope, settings.AccessToken, settings.RefreshToken, settings.TokenType, settings.ExpiresIn, settings.ExpiresAt); err != nil {
		return err
	}
	if err := f.store.Set(ctx, scope, map[string]string{settings.FlowState: string(Revoked), settings.IsEnabled: "false"}); err != nil {
		return err
	}
	f.log.Infow("integration revoked", "tenant", scope.TenantID, "org", scope.OrganizationID)
	return nil
}

func (f *FlowService) SetEnabled(ctx context.Context, scope settings.Scope, enabled bool) error {
	return f.store.Set(ctx, scope, map[string]string{settings.IsEnabled: strconv.FormatBool(enabled)})
}

// transition writes to only when the current state is from (or from is empty).
func (f *FlowService) transition(ctx context.Context, scope settings.Scope, from, to FlowState) {
	cur, err := f.Status(ctx, scope)
	if err != nil || (from != "" && cur != from) || cur == to {
		return
	}
	if err := f.store.Set(ctx, scope, map[string]string{settings.FlowState: string(to)}); err != nil {
		f.log.Warnw("persist flow state", "tenant", scope.TenantID, "to", to, "err", err)
		return
	}
	f.log.Debugw("flow state", "tenant", scope.TenantID, "org", scope.OrganizationID, "from", cur, "to", to)
}

func (f *FlowService) oauth2Config(cfg EffectiveConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID.Reveal(),
		ClientSecret: cfg.ClientSecret.Reveal(),
		RedirectURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizeURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (f *FlowService) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.client)
}

func (f *FlowService) recordFrom(scope settings.Scope, tok *oauth2.Token, fallbackRefresh string) TokenRecord {
	now := f.now()
	expiresIn := tok.ExpiresIn
	if expiresIn == 0 {
		expiresIn = extraInt(tok.Extra("expires_in"))
	}
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	rec := TokenRecord{
		TenantID: scope.TenantID, OrganizationID: scope.OrganizationID,
		TokenType: tokenType, ExpiresIn: expiresIn,
	}
	rec.AccessToken = secrets.New(tok.AccessToken)
	rec.RefreshToken = secrets.New(refresh)
	if expiresIn > 0 {
		rec.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	}
	return rec
}

func providerError(err error) *ProviderError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription, Err: err}
		if re.Response != nil {
			pe.Status = re.Response.StatusCode
		}
		if pe.Status == 0 {
			pe.Status = http.StatusBadGateway
		}
		return pe
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProviderError{Err: err}
	}
	// answered, but not with a usable token
	return &ProviderError{Status: http.StatusBadGateway, Code: "invalid_token_response", Description: err.Error(), Err: err}
}

func extraInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
