package httpapi

import (
	"errors"
	"net/http"

	"automate/internal/oauth"
	"automate/internal/webhooks"
	"automate/pkg/middleware"
	"automate/pkg/problems"
)

// writeError maps domain errors onto problem+json responses.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		exch *oauth.TokenExchangeError
		refr *oauth.TokenRefreshError
		prov *oauth.ProviderError
		verr *oauth.ValidationError
	)
	switch {
	case errors.Is(err, oauth.ErrConfigurationMissing):
		problems.Error(w, http.StatusBadRequest, "configuration-missing", err.Error())
	case errors.Is(err, oauth.ErrInvalidState):
		problems.Error(w, http.StatusBadRequest, "invalid-state", err.Error())
	case errors.As(err, &exch):
		a.writeProviderError(w, &exch.ProviderError, "token-exchange-failed", err)
	case errors.As(err, &refr):
		a.writeProviderError(w, &refr.ProviderError, "token-refresh-failed", err)
	case errors.As(err, &prov):
		a.writeProviderError(w, prov, "provider-error", err)
	case errors.Is(err, oauth.ErrNoToken):
		problems.Error(w, http.StatusConflict, "not-authorized", err.Error())
	case errors.Is(err, oauth.ErrForbidden), errors.Is(err, webhooks.ErrForbidden):
		problems.Error(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, oauth.ErrNotFound), errors.Is(err, webhooks.ErrNotFound):
		problems.Error(w, http.StatusNotFound, "not-found", err.Error())
	case errors.As(err, &verr), errors.Is(err, webhooks.ErrInvalid):
		problems.Error(w, http.StatusBadRequest, "validation", err.Error())
	default:
		a.log.Errorw("request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
		problems.Error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// Provider 4xx pass through; 5xx and unanswered requests become 502.
func (a *App) writeProviderError(w http.ResponseWriter, pe *oauth.ProviderError, slug string, err error) {
	status := pe.Status
	if status < 400 || status >= 500 {
		status = http.StatusBadGateway
	}
	p := problems.New(status, slug, err.Error())
	p.Extensions = map[string]any{}
	if pe.Status != 0 {
		p.Extensions["providerStatus"] = pe.Status
	}
	if pe.Code != "" {
		p.Extensions["providerError"] = pe.Code
	}
	if pe.Description != "" {
		p.Extensions["providerErrorDescription"] = pe.Description
	}
	problems.Write(w, p)
}
