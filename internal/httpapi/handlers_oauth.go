package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"automate/internal/oauth"
	"automate/internal/settings"
	"automate/pkg/problems"
)

func (a *App) authorize(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	req, err := a.Flow.BuildAuthorizationURL(r.Context(), c.TenantID, c.OrganizationID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, req, http.StatusOK)
}

// callback forwards the provider redirect to the tenant's post-install page.
// The code is exchanged later through POST /oauth/token by the authenticated UI.
func (a *App) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		p := problems.New(http.StatusBadRequest, "authorization-denied", q.Get("error_description"))
		p.Extensions = map[string]any{"providerError": e}
		problems.Write(w, p)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		problems.Error(w, http.StatusBadRequest, "validation", "code and state are required")
		return
	}
	st, err := a.Flow.VerifyState(state)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	cfg, err := a.Resolver.GetConfig(r.Context(), st.TenantID, st.OrganizationID)
	if errors.Is(err, oauth.ErrConfigurationMissing) || (err == nil && cfg.PostInstallURL == "") {
		a.log.Errorw("callback without post-install url", "tenant", st.TenantID, "org", st.OrganizationID, "err", err)
		problems.Error(w, http.StatusInternalServerError, "configuration-missing", "post-install url not configured")
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	target, err := url.Parse(cfg.PostInstallURL)
	if err != nil {
		problems.Error(w, http.StatusInternalServerError, "configuration-invalid", "post-install url is invalid")
		return
	}
	tq := target.Query()
	tq.Set("code", code)
	tq.Set("state", state)
	tq.Set("tenantId", st.TenantID)
	if st.OrganizationID != "" {
		tq.Set("organizationId", st.OrganizationID)
	}
	target.RawQuery = tq.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

type exchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (a *App) exchangeToken(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	var in exchangeRequest
	if !decode(w, r, &in) {
		return
	}
	if in.Code == "" || in.State == "" {
		problems.Error(w, http.StatusBadRequest, "validation", "code and state are required")
		return
	}
	st, err := a.Flow.VerifyState(in.State)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// state minted for another tenant or organization must not be consumed by this caller
	if st.TenantID != c.TenantID {
		problems.Error(w, http.StatusForbidden, "tenant-mismatch", "state was issued to another tenant")
		return
	}
	if st.OrganizationID != c.OrganizationID {
		problems.Error(w, http.StatusForbidden, "organization-mismatch", "state was issued to another organization")
		return
	}
	rec, err := a.Flow.HandleCallback(r.Context(), in.Code, in.State)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec.Response(), http.StatusOK)
}

func (a *App) refreshToken(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	rec, err := a.Flow.RefreshToken(r.Context(), a.scope(c))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec.Response(), http.StatusOK)
}

type statusResponse struct {
	State        oauth.FlowState    `json:"state"`
	IsEnabled    bool               `json:"isEnabled"`
	ExpiresAt    *time.Time         `json:"expiresAt,omitempty"`
	ConfigSource oauth.ConfigSource `json:"configSource,omitempty"`
	Configured   bool               `json:"configured"`
}

func (a *App) oauthStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	scope := a.scope(c)
	st, err := a.Flow.Status(r.Context(), scope)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := statusResponse{State: st}
	if rec, err := a.Flow.Token(r.Context(), scope); err == nil {
		out.IsEnabled = rec.IsEnabled
		if !rec.ExpiresAt.IsZero() {
			out.ExpiresAt = &rec.ExpiresAt
		}
	} else if !errors.Is(err, oauth.ErrNoToken) {
		a.writeError(w, r, err)
		return
	}
	cs, err := a.Resolver.Status(r.Context(), c.TenantID, c.OrganizationID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out.ConfigSource, out.Configured = cs.Source, cs.Configured
	writeJSON(w, out, http.StatusOK)
}

func (a *App) revokeToken(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.Flow.Revoke(r.Context(), a.scope(c)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) setEnabled(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	var in struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Enabled == nil {
		problems.Error(w, http.StatusBadRequest, "validation", "enabled is required")
		return
	}
	scope := a.scope(c)
	if _, err := a.Flow.Token(r.Context(), scope); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Flow.SetEnabled(r.Context(), scope, *in.Enabled); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{settings.IsEnabled: *in.Enabled}, http.StatusOK)
}
