package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"automate/internal/oauth"
	"automate/pkg/secrets"
)

type configRequest struct {
	ClientID       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	CallbackURL    string `json:"callbackUrl"`
	PostInstallURL string `json:"postInstallUrl"`
	Description    string `json:"description"`
}

func (a *App) setConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	var in configRequest
	if !decode(w, r, &in) {
		return
	}
	saved, err := a.Resolver.SetTenantConfig(r.Context(), oauth.TenantConfig{
		TenantID:       c.TenantID,
		OrganizationID: c.OrganizationID,
		ClientID:       secrets.New(in.ClientID),
		ClientSecret:   secrets.New(in.ClientSecret),
		CallbackURL:    in.CallbackURL,
		PostInstallURL: in.PostInstallURL,
		Description:    in.Description,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, saved.Redacted(), http.StatusOK)
}

func (a *App) configStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	st, err := a.Resolver.Status(r.Context(), c.TenantID, c.OrganizationID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, st, http.StatusOK)
}

func (a *App) getConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	rec, err := a.Resolver.GetTenantConfig(r.Context(), c.TenantID, c.OrganizationID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec.Redacted(), http.StatusOK)
}

type configPatchRequest struct {
	ClientID       *string `json:"clientId"`
	ClientSecret   *string `json:"clientSecret"`
	CallbackURL    *string `json:"callbackUrl"`
	PostInstallURL *string `json:"postInstallUrl"`
	IsActive       *bool   `json:"isActive"`
	Description    *string `json:"description"`
}

func (a *App) updateConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	var in configPatchRequest
	if !decode(w, r, &in) {
		return
	}
	saved, err := a.Resolver.UpdateTenantConfig(r.Context(), chi.URLParam(r, "id"), c.TenantID, oauth.ConfigPatch(in))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, saved.Redacted(), http.StatusOK)
}

func (a *App) deleteConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.Resolver.DeleteTenantConfig(r.Context(), c.TenantID, c.OrganizationID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
