package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automate/pkg/config"
	"automate/pkg/logger"
	"automate/pkg/tenants"
)

const seed = `[{"id":"t1","slug":"acme","organizations":["o1"]}]`

func echoCaller(t *testing.T, got *Caller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CallerFrom(r.Context())
		require.True(t, ok)
		*got = c
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth_DevHeader(t *testing.T) {
	prov := tenants.NewMemoryProvider(logger.Nop(), seed)
	var got Caller
	h := Auth(config.Config{}, prov, logger.Nop())(echoCaller(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/x?organizationId=o1", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "t1", got.TenantID, "slug resolves to id")
	assert.Equal(t, "o1", got.OrganizationID)
	assert.True(t, got.Dev)

	cases := []struct {
		name   string
		tenant string
		org    string
		want   int
	}{
		{"missing tenant", "", "", http.StatusUnauthorized},
		{"unknown tenant", "t9", "", http.StatusForbidden},
		{"foreign organization", "t1", "o7", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.tenant != "" {
				req.Header.Set("X-Tenant-ID", tc.tenant)
			}
			if tc.org != "" {
				req.Header.Set("X-Organization-ID", tc.org)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestAuth_Bearer(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := key.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(jwks.Close)

	cfg := config.Config{Issuer: "https://idp.example.com", Audience: "automate-api", JWKSURL: jwks.URL}
	prov := tenants.NewMemoryProvider(logger.Nop(), seed)
	var got Caller
	h := Auth(cfg, prov, logger.Nop())(echoCaller(t, &got))

	sign := func(aud string, claims map[string]any) string {
		b := jwt.NewBuilder().Issuer(cfg.Issuer).Audience([]string{aud}).Subject("user-1").
			IssuedAt(time.Now()).Expiration(time.Now().Add(time.Hour))
		for k, v := range claims {
			b = b.Claim(k, v)
		}
		tok, err := b.Build()
		require.NoError(t, err)
		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
		require.NoError(t, err)
		return string(signed)
	}
	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call(sign("automate-api", map[string]any{"tid": "t1", "oid": "o1", "scope": "automation:events"})))
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, "o1", got.OrganizationID)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, []string{"automation:events"}, got.Scopes)
	assert.False(t, got.Dev)

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call(sign("other-api", map[string]any{"tid": "t1"})))
	assert.Equal(t, http.StatusForbidden, call(sign("automate-api", nil)))
	assert.Equal(t, http.StatusForbidden, call(sign("automate-api", map[string]any{"tid": "t1", "oid": "o2"})))
}

func TestRequireAnyScope(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireAnyScope("automation:events")(ok)

	run := func(c Caller) int {
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		req = req.WithContext(WithCaller(req.Context(), c))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, run(Caller{TenantID: "t1", Scopes: []string{"automation:events"}}))
	assert.Equal(t, http.StatusForbidden, run(Caller{TenantID: "t1", Scopes: []string{"read"}}))
	assert.Equal(t, http.StatusOK, run(Caller{TenantID: "t1", Dev: true}))
}
