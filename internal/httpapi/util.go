package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"automate/internal/settings"
	"automate/pkg/middleware"
	"automate/pkg/problems"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body of at most 1 MiB into v. It writes the problem itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	problems.Error(w, http.StatusBadRequest, "invalid-body", err.Error())
	return false
}

// caller returns the authenticated caller. An explicit ?tenantId= naming another
// tenant is rejected so a tenant can never address someone else's records.
func (a *App) caller(w http.ResponseWriter, r *http.Request) (middleware.Caller, bool) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		problems.Error(w, http.StatusUnauthorized, "unauthenticated", "no caller")
		return c, false
	}
	if q := r.URL.Query().Get("tenantId"); q != "" && q != c.TenantID {
		t, err := a.Tenants.ResolveTenant(r.Context(), q)
		if err != nil || t.ID != c.TenantID {
			problems.Error(w, http.StatusForbidden, "tenant-mismatch", "tenantId does not match the caller")
			return c, false
		}
	}
	return c, true
}

func (a *App) scope(c middleware.Caller) settings.Scope {
	return a.Flow.Scope(c.TenantID, c.OrganizationID)
}
