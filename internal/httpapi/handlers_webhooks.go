package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"automate/internal/webhooks"
	"automate/pkg/problems"
)

type webhookRequest struct {
	TargetURL     string `json:"targetUrl"`
	Event         string `json:"event"`
	IntegrationID string `json:"integrationId"`
	Filter        string `json:"filter"`
}

func (a *App) createWebhook(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	var in webhookRequest
	if !decode(w, r, &in) {
		return
	}
	sub, created, err := a.Webhooks.CreateSubscription(r.Context(), webhooks.CreateInput{
		TargetURL: in.TargetURL, Event: in.Event, IntegrationID: in.IntegrationID, Filter: in.Filter,
		TenantID: c.TenantID, OrganizationID: c.OrganizationID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, sub, status)
}

func (a *App) listWebhooks(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	subs, err := a.Webhooks.ListSubscriptions(r.Context(), c.TenantID, c.OrganizationID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, subs, http.StatusOK)
}

func (a *App) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.Webhooks.DeleteSubscription(r.Context(), chi.URLParam(r, "id"), c.TenantID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) validateWebhook(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	healthy, err := a.Webhooks.ValidateWebhook(r.Context(), id, c.TenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"id": id, "healthy": healthy}, http.StatusOK)
}

type eventRequest struct {
	ID    string         `json:"id"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// emitEvent fans an event out for the caller's tenant. By default delivery runs in the
// background and the call returns 202; ?wait=true returns the delivery report.
func (a *App) emitEvent(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	var in eventRequest
	if !decode(w, r, &in) {
		return
	}
	if in.Event == "" {
		problems.Error(w, http.StatusBadRequest, "validation", "event is required")
		return
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	ev := webhooks.Event{ID: in.ID, Type: in.Event, TenantID: c.TenantID, OrganizationID: c.OrganizationID, Data: in.Data}
	if r.URL.Query().Get("wait") == "true" {
		writeJSON(w, a.Webhooks.NotifyEvent(r.Context(), ev), http.StatusOK)
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(a.bgCtx, 2*time.Minute)
		defer cancel()
		a.Webhooks.NotifyEvent(ctx, ev)
	}()
	writeJSON(w, map[string]any{"eventId": ev.ID, "accepted": true}, http.StatusAccepted)
}
