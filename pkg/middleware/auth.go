// pkg/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"automate/pkg/config"
	"automate/pkg/problems"
	"automate/pkg/tenants"
)

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu   sync.RWMutex
	sets map[string]cachedJWKS
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(ttl)}
	return set, nil
}

// Auth resolves the calling tenant and organization.
// With JWKSURL set a bearer token is required and the tenant comes from its "tid" claim;
// without it (dev) the X-Tenant-ID header is trusted.
// The organization comes from the "oid" claim, X-Organization-ID or ?organizationId=,
// and must belong to the tenant.
func Auth(cfg config.Config, prov tenants.Provider, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	cache := &jwksCache{}
	jwksTTL := 6 * time.Hour
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			var caller Caller
			if cfg.JWKSURL == "" {
				caller.TenantID = strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
				caller.Dev = true
				if caller.TenantID == "" {
					problems.Error(w, http.StatusUnauthorized, "unauthenticated", "missing X-Tenant-ID")
					return
				}
			} else {
				set, err := cache.get(r.Context(), cfg.JWKSURL, jwksTTL)
				if err != nil {
					log.Errorw("jwks fetch failed", "url", cfg.JWKSURL, "err", err)
					problems.Error(w, http.StatusServiceUnavailable, "auth-unavailable", "jwks fetch failed")
					return
				}
				jt, err := parseBearer(r, set, cfg)
				if err != nil {
					problems.Error(w, http.StatusUnauthorized, "unauthenticated", err.Error())
					return
				}
				caller.TenantID = claimString(jt, "tid")
				caller.OrganizationID = claimString(jt, "oid")
				caller.Subject = jt.Subject()
				caller.Scopes = strings.Fields(claimString(jt, "scope"))
				if caller.TenantID == "" {
					problems.Error(w, http.StatusForbidden, "tenant-required", "token has no tid claim")
					return
				}
			}

			t, err := prov.ResolveTenant(r.Context(), caller.TenantID)
			if errors.Is(err, tenants.ErrTenantNotFound) {
				problems.Error(w, http.StatusForbidden, "unknown-tenant", "tenant not found")
				return
			}
			if err != nil {
				log.Errorw("resolve tenant", "tenant", caller.TenantID, "err", err)
				problems.Error(w, http.StatusInternalServerError, "internal", "tenant lookup failed")
				return
			}
			caller.TenantID = t.ID

			org := strings.TrimSpace(r.Header.Get("X-Organization-ID"))
			if org == "" {
				org = r.URL.Query().Get("organizationId")
			}
			switch {
			case caller.OrganizationID == "":
				caller.OrganizationID = org
			case org != "" && org != caller.OrganizationID:
				problems.Error(w, http.StatusForbidden, "organization-mismatch", "organization does not match token")
				return
			}
			if caller.OrganizationID != "" {
				ok, err := prov.OrganizationBelongs(r.Context(), caller.TenantID, caller.OrganizationID)
				if err != nil {
					log.Errorw("resolve organization", "tenant", caller.TenantID, "org", caller.OrganizationID, "err", err)
					problems.Error(w, http.StatusInternalServerError, "internal", "organization lookup failed")
					return
				}
				if !ok {
					problems.Error(w, http.StatusForbidden, "organization-mismatch", "organization is not part of tenant")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func parseBearer(r *http.Request, set jwk.Set, cfg config.Config) (jwt.Token, error) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return nil, errors.New("missing bearer")
	}
	raw := strings.TrimSpace(authz[len("Bearer "):])
	opts := []jwt.ParseOption{jwt.WithKeySet(set), jwt.WithValidate(true), jwt.WithAcceptableSkew(30 * time.Second)}
	if iss := strings.TrimRight(cfg.Issuer, "/"); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	jt, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, errors.New("invalid token")
	}
	return jt, nil
}

func claimString(jt jwt.Token, name string) string {
	if v, ok := jt.Get(name); ok {
		s, _ := v.(string)
		return s
	}
	return ""
}
