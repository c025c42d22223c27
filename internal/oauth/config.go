package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"automate/pkg/config"
	"automate/pkg/secrets"
)

// TenantConfig is a tenant (optionally organization) override of the global OAuth client.
type TenantConfig struct {
	ID             string
	TenantID       string
	OrganizationID string
	ClientID       secrets.Secret
	ClientSecret   secrets.Secret
	CallbackURL    string
	PostInstallURL string
	IsActive       bool
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RedactedConfig is the only shape a TenantConfig takes in API responses.
type RedactedConfig struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	OrganizationID  string    `json:"organizationId,omitempty"`
	ClientID        string    `json:"clientId"`
	HasClientSecret bool      `json:"hasClientSecret"`
	CallbackURL     string    `json:"callbackUrl,omitempty"`
	PostInstallURL  string    `json:"postInstallUrl,omitempty"`
	IsActive        bool      `json:"isActive"`
	Description     string    `json:"description,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (c TenantConfig) Redacted() RedactedConfig {
	return RedactedConfig{
		ID: c.ID, TenantID: c.TenantID, OrganizationID: c.OrganizationID,
		ClientID: c.ClientID.Mask(), HasClientSecret: !c.ClientSecret.IsZero(),
		CallbackURL: c.CallbackURL, PostInstallURL: c.PostInstallURL,
		IsActive: c.IsActive, Description: c.Description, UpdatedAt: c.UpdatedAt,
	}
}

// ConfigPatch carries optional updates; nil fields are left untouched.
type ConfigPatch struct {
	ClientID       *string
	ClientSecret   *string
	CallbackURL    *string
	PostInstallURL *string
	IsActive       *bool
	Description    *string
}

// ConfigSource tags where an EffectiveConfig came from.
type ConfigSource string

const (
	SourceTenant ConfigSource = "tenant"
	SourceGlobal ConfigSource = "global"
)

// EffectiveConfig is the client configuration resolved once per request.
type EffectiveConfig struct {
	Source         ConfigSource
	ConfigID       string // empty for SourceGlobal
	TenantID       string
	OrganizationID string
	ClientID       secrets.Secret
	ClientSecret   secrets.Secret
	CallbackURL    string
	PostInstallURL string
	AuthorizeURL   string
	TokenURL       string
	Scopes         []string
}

// ConfigStore persists TenantConfig rows.
type ConfigStore interface {
	// FindActive returns the active config for exactly (tenantID, organizationID).
	FindActive(ctx context.Context, tenantID, organizationID string) (TenantConfig, bool, error)
	// Find returns the config for (tenantID, organizationID) regardless of IsActive.
	Find(ctx context.Context, tenantID, organizationID string) (TenantConfig, bool, error)
	Get(ctx context.Context, id string) (TenantConfig, bool, error)
	// Save inserts when cfg.ID is empty, otherwise updates the row.
	Save(ctx context.Context, cfg TenantConfig) (TenantConfig, error)
	Delete(ctx context.Context, id string) error
}

// ConfigResolver produces the effective OAuth client configuration per tenant/organization.
type ConfigResolver struct {
	store  ConfigStore
	global config.Provider
	log    *zap.SugaredLogger
}

func NewConfigResolver(store ConfigStore, global config.Provider, log *zap.SugaredLogger) *ConfigResolver {
	return &ConfigResolver{store: store, global: global, log: log}
}

// GetConfig tries (tenant, org), then (tenant, no org), then the global defaults.
func (r *ConfigResolver) GetConfig(ctx context.Context, tenantID, organizationID string) (EffectiveConfig, error) {
	rec, ok, err := r.lookupActive(ctx, tenantID, organizationID)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff := EffectiveConfig{
		Source:         SourceGlobal,
		TenantID:       tenantID,
		OrganizationID: organizationID,
		ClientID:       secrets.New(r.global.ClientID),
		ClientSecret:   secrets.New(r.global.ClientSecret),
		CallbackURL:    r.global.CallbackURL,
		PostInstallURL: r.global.PostInstallURL,
		AuthorizeURL:   r.global.AuthorizeURL,
		TokenURL:       r.global.TokenURL,
		Scopes:         r.global.Scopes,
	}
	if ok && !rec.ClientID.IsZero() {
		eff.Source = SourceTenant
		eff.ConfigID = rec.ID
		eff.ClientID = rec.ClientID
		eff.ClientSecret = rec.ClientSecret
		if rec.CallbackURL != "" {
			eff.CallbackURL = rec.CallbackURL
		}
		if rec.PostInstallURL != "" {
			eff.PostInstallURL = rec.PostInstallURL
		}
	}
	if eff.ClientID.IsZero() {
		return EffectiveConfig{}, fmt.Errorf("%w for tenant %s", ErrConfigurationMissing, tenantID)
	}
	return eff, nil
}

func (r *ConfigResolver) lookupActive(ctx context.Context, tenantID, organizationID string) (TenantConfig, bool, error) {
	if organizationID != "" {
		rec, ok, err := r.store.FindActive(ctx, tenantID, organizationID)
		if err != nil || ok {
			return rec, ok, err
		}
	}
	return r.store.FindActive(ctx, tenantID, "")
}

// HasTenantConfig reports provenance without touching secrets.
func (r *ConfigResolver) HasTenantConfig(ctx context.Context, tenantID, organizationID string) (bool, error) {
	_, ok, err := r.lookupActive(ctx, tenantID, organizationID)
	return ok, err
}

// ConfigStatus is the provenance report served to the UI.
type ConfigStatus struct {
	Source          ConfigSource `json:"source"`
	HasTenantConfig bool         `json:"hasTenantConfig"`
	Configured      bool         `json:"configured"`
	ClientID        string       `json:"clientId,omitempty"`
	CallbackURL     string       `json:"callbackUrl,omitempty"`
	PostInstallURL  string       `json:"postInstallUrl,omitempty"`
}

func (r *ConfigResolver) Status(ctx context.Context, tenantID, organizationID string) (ConfigStatus, error) {
	has, err := r.HasTenantConfig(ctx, tenantID, organizationID)
	if err != nil {
		return ConfigStatus{}, err
	}
	eff, err := r.GetConfig(ctx, tenantID, organizationID)
	if errors.Is(err, ErrConfigurationMissing) {
		return ConfigStatus{Source: SourceGlobal, HasTenantConfig: has}, nil
	}
	if err != nil {
		return ConfigStatus{}, err
	}
	return ConfigStatus{
		Source: eff.Source, HasTenantConfig: has, Configured: true,
		ClientID: eff.ClientID.Mask(), CallbackURL: eff.CallbackURL, PostInstallURL: eff.PostInstallURL,
	}, nil
}

// GetTenantConfig returns the stored record for (tenant, org), active or not.
func (r *ConfigResolver) GetTenantConfig(ctx context.Context, tenantID, organizationID string) (TenantConfig, error) {
	rec, ok, err := r.store.Find(ctx, tenantID, organizationID)
	if err != nil {
		return TenantConfig{}, err
	}
	if !ok {
		return TenantConfig{}, ErrNotFound
	}
	return rec, nil
}

// SetTenantConfig upserts the single record for (tenant, org) and activates it.
func (r *ConfigResolver) SetTenantConfig(ctx context.Context, in TenantConfig) (TenantConfig, error) {
	if in.TenantID == "" {
		return TenantConfig{}, &ValidationError{Msg: "tenantId is required"}
	}
	if in.ClientID.IsZero() || in.ClientSecret.IsZero() {
		return TenantConfig{}, &ValidationError{Msg: "clientId and clientSecret are required"}
	}
	if err := validateURLs(in.CallbackURL, in.PostInstallURL); err != nil {
		return TenantConfig{}, err
	}
	existing, ok, err := r.store.Find(ctx, in.TenantID, in.OrganizationID)
	if err != nil {
		return TenantConfig{}, err
	}
	in.IsActive = true
	if ok {
		in.ID = existing.ID
		in.CreatedAt = existing.CreatedAt
	}
	saved, err := r.store.Save(ctx, in)
	if err != nil {
		return TenantConfig{}, fmt.Errorf("save tenant config: %w", err)
	}
	r.log.Infow("tenant oauth config saved", "tenant", in.TenantID, "org", in.OrganizationID, "client_id", saved.ClientID.Mask(), "updated", ok)
	return saved, nil
}

// UpdateTenantConfig applies patch to a record owned by tenantID.
func (r *ConfigResolver) UpdateTenantConfig(ctx context.Context, id, tenantID string, patch ConfigPatch) (TenantConfig, error) {
	rec, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return TenantConfig{}, err
	}
	if !ok {
		return TenantConfig{}, ErrNotFound
	}
	if rec.TenantID != tenantID {
		return TenantConfig{}, ErrForbidden
	}
	if patch.ClientID != nil {
		rec.ClientID = secrets.New(*patch.ClientID)
	}
	if patch.ClientSecret != nil {
		rec.ClientSecret = secrets.New(*patch.ClientSecret)
	}
	if patch.CallbackURL != nil {
		rec.CallbackURL = *patch.CallbackURL
	}
	if patch.PostInstallURL != nil {
		rec.PostInstallURL = *patch.PostInstallURL
	}
	if patch.Description != nil {
		rec.Description = *patch.Description
	}
	if patch.IsActive != nil {
		rec.IsActive = *patch.IsActive
	}
	if rec.ClientID.IsZero() {
		return TenantConfig{}, &ValidationError{Msg: "clientId cannot be empty"}
	}
	if err := validateURLs(rec.CallbackURL, rec.PostInstallURL); err != nil {
		return TenantConfig{}, err
	}
	return r.store.Save(ctx, rec)
}

// DeleteTenantConfig removes the (tenant, org) record; resolution falls back to global.
func (r *ConfigResolver) DeleteTenantConfig(ctx context.Context, tenantID, organizationID string) error {
	rec, ok, err := r.store.Find(ctx, tenantID, organizationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := r.store.Delete(ctx, rec.ID); err != nil {
		return err
	}
	r.log.Infow("tenant oauth config deleted", "tenant", tenantID, "org", organizationID)
	return nil
}

func validateURLs(urls ...string) error {
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Msg: fmt.Sprintf("invalid url %q", raw)}
		}
	}
	return nil
}
