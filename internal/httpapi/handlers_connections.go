package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"automate/internal/connections"
	"automate/pkg/problems"
)

func (a *App) upsertConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	var in connections.UpsertInput
	if !decode(w, r, &in) {
		return
	}
	in.TenantID, in.OrganizationID = c.TenantID, c.OrganizationID
	conn, err := a.Connections.UpsertConnection(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, conn, http.StatusOK)
}

func (a *App) listConnections(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := connections.ListFilter{PieceName: q.Get("pieceName"), DisplayName: q.Get("displayName"), Cursor: q.Get("cursor")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			problems.Error(w, http.StatusBadRequest, "validation", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	page, err := a.Connections.ListConnections(r.Context(), a.scope(c), q.Get("projectId"), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, page, http.StatusOK)
}

func (a *App) getConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	opt, err := a.Connections.GetConnection(r.Context(), a.scope(c), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	conn, found := opt.Get()
	if !found {
		problems.Error(w, http.StatusNotFound, "not-found", "connection not found")
		return
	}
	writeJSON(w, conn, http.StatusOK)
}

func (a *App) deleteConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := a.caller(w, r)
	if !ok {
		return
	}
	deleted, err := a.Connections.DeleteConnection(r.Context(), a.scope(c), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"deleted": deleted}, http.StatusOK)
}
