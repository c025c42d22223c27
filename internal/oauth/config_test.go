package oauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automate/pkg/config"
	"automate/pkg/logger"
	"automate/pkg/secrets"
)

var globalProvider = config.Provider{
	Name:           "activepieces",
	AuthorizeURL:   "https://provider.example.com/oauth/authorize",
	TokenURL:       "https://provider.example.com/oauth/token",
	ClientID:       "global-client-id",
	ClientSecret:   "global-secret",
	CallbackURL:    "https://app.example.com/callback",
	PostInstallURL: "https://app.example.com/installed",
}

func newResolver(global config.Provider) (*ConfigResolver, *MemoryConfigStore) {
	store := NewMemoryConfigStore()
	return NewConfigResolver(store, global, logger.Nop()), store
}

func TestGetConfig_FallbackOrder(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(globalProvider)

	eff, err := r.GetConfig(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, SourceGlobal, eff.Source)
	assert.Equal(t, "global-client-id", eff.ClientID.Reveal())

	_, err = r.SetTenantConfig(ctx, TenantConfig{
		TenantID: "t1", ClientID: secrets.New("tenant-wide-id"), ClientSecret: secrets.New("tw-secret"),
	})
	require.NoError(t, err)
	eff, err = r.GetConfig(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, SourceTenant, eff.Source)
	assert.Equal(t, "tenant-wide-id", eff.ClientID.Reveal())
	assert.Equal(t, globalProvider.CallbackURL, eff.CallbackURL, "unset tenant urls inherit global")

	_, err = r.SetTenantConfig(ctx, TenantConfig{
		TenantID: "t1", OrganizationID: "o1",
		ClientID: secrets.New("org-id"), ClientSecret: secrets.New("org-secret"),
		CallbackURL: "https://o1.example.com/cb",
	})
	require.NoError(t, err)
	eff, err = r.GetConfig(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "org-id", eff.ClientID.Reveal())
	assert.Equal(t, "https://o1.example.com/cb", eff.CallbackURL)

	eff, err = r.GetConfig(ctx, "t1", "o2")
	require.NoError(t, err)
	assert.Equal(t, "tenant-wide-id", eff.ClientID.Reveal())

	eff, err = r.GetConfig(ctx, "t2", "")
	require.NoError(t, err)
	assert.Equal(t, SourceGlobal, eff.Source)
}

func TestGetConfig_MissingEverywhere(t *testing.T) {
	r, _ := newResolver(config.Provider{})
	_, err := r.GetConfig(context.Background(), "t1", "")
	assert.ErrorIs(t, err, ErrConfigurationMissing)

	st, err := r.Status(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.False(t, st.Configured)
}

func TestGetConfig_InactiveIgnored(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(globalProvider)
	saved, err := r.SetTenantConfig(ctx, TenantConfig{TenantID: "t1", ClientID: secrets.New("tid"), ClientSecret: secrets.New("ts")})
	require.NoError(t, err)

	off := false
	_, err = r.UpdateTenantConfig(ctx, saved.ID, "t1", ConfigPatch{IsActive: &off})
	require.NoError(t, err)

	eff, err := r.GetConfig(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, SourceGlobal, eff.Source)
	has, err := r.HasTenantConfig(ctx, "t1", "")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSetTenantConfig_UpsertsSingleRow(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(globalProvider)
	a, err := r.SetTenantConfig(ctx, TenantConfig{TenantID: "t1", ClientID: secrets.New("one"), ClientSecret: secrets.New("s1")})
	require.NoError(t, err)
	b, err := r.SetTenantConfig(ctx, TenantConfig{TenantID: "t1", ClientID: secrets.New("two"), ClientSecret: secrets.New("s2")})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	got, err := r.GetTenantConfig(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "two", got.ClientID.Reveal())
}

func TestSetTenantConfig_Validation(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(globalProvider)
	var verr *ValidationError

	_, err := r.SetTenantConfig(ctx, TenantConfig{TenantID: "t1", ClientID: secrets.New("id")})
	assert.ErrorAs(t, err, &verr)

	_, err = r.SetTenantConfig(ctx, TenantConfig{
		TenantID: "t1", ClientID: secrets.New("id"), ClientSecret: secrets.New("s"), CallbackURL: "ftp://nope",
	})
	assert.ErrorAs(t, err, &verr)
}

func TestUpdateTenantConfig_Ownership(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(globalProvider)
	saved, err := r.SetTenantConfig(ctx, TenantConfig{TenantID: "t1", ClientID: secrets.New("id"), ClientSecret: secrets.New("s")})
	require.NoError(t, err)

	desc := "stolen"
	_, err = r.UpdateTenantConfig(ctx, saved.ID, "t2", ConfigPatch{Description: &desc})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.UpdateTenantConfig(ctx, "missing", "t1", ConfigPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTenantConfig_RevertsToGlobal(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(globalProvider)
	_, err := r.SetTenantConfig(ctx, TenantConfig{TenantID: "t1", ClientID: secrets.New("id"), ClientSecret: secrets.New("s")})
	require.NoError(t, err)

	require.NoError(t, r.DeleteTenantConfig(ctx, "t1", ""))
	eff, err := r.GetConfig(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, SourceGlobal, eff.Source)

	assert.ErrorIs(t, r.DeleteTenantConfig(ctx, "t1", ""), ErrNotFound)
}

func TestRedacted_NeverLeaksSecret(t *testing.T) {
	c := TenantConfig{ID: "c1", TenantID: "t1", ClientID: secrets.New("abcd-1234-efgh"), ClientSecret: secrets.New("top-secret")}
	red := c.Redacted()
	assert.Equal(t, "abcd***", red.ClientID)
	assert.True(t, red.HasClientSecret)
}
