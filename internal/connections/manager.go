package connections

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/mo"
	"go.uber.org/zap"

	"automate/internal/oauth"
	"automate/internal/settings"
)

var callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "provider_connection_calls_total",
	Help: "Calls to the provider connections API by operation and result.",
}, []string{"op", "result"})

// Tokens hands out a usable access token for a scope, refreshing when stale.
type Tokens interface {
	Scope(tenantID, organizationID string) settings.Scope
	ValidToken(ctx context.Context, scope settings.Scope) (oauth.TokenRecord, error)
}

// Manager proxies connection calls to the provider on behalf of one tenant scope.
type Manager struct {
	baseURL string
	tokens  Tokens
	store   settings.Store
	client  *http.Client
	log     *zap.SugaredLogger
}

func NewManager(baseURL string, tokens Tokens, store settings.Store, client *http.Client, log *zap.SugaredLogger) *Manager {
	return &Manager{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens, store: store, client: client, log: log}
}

const maxBody = 4 << 20

// UpsertConnection creates or updates the tenant's connection and records its id and project.
func (m *Manager) UpsertConnection(ctx context.Context, in UpsertInput) (Connection, error) {
	if in.TenantID == "" {
		return Connection{}, &oauth.ValidationError{Msg: "tenantId is required"}
	}
	scope := m.tokens.Scope(in.TenantID, in.OrganizationID)
	if in.ProjectID == "" {
		v, err := m.store.Get(ctx, scope)
		if err != nil {
			return Connection{}, err
		}
		in.ProjectID = v[settings.ProjectID]
	}
	switch {
	case in.ProjectID == "":
		return Connection{}, &oauth.ValidationError{Msg: "projectId is required"}
	case in.PieceName == "":
		return Connection{}, &oauth.ValidationError{Msg: "pieceName is required"}
	case len(in.Value) == 0:
		return Connection{}, &oauth.ValidationError{Msg: "value is required"}
	}
	if in.Type == "" {
		in.Type = "SECRET_TEXT"
	}
	extID := ExternalID(in.TenantID, in.OrganizationID)
	if in.DisplayName == "" {
		in.DisplayName = extID
	}
	body := map[string]any{
		"externalId":  extID,
		"displayName": in.DisplayName,
		"pieceName":   in.PieceName,
		"projectId":   in.ProjectID,
		"type":        in.Type,
		"value":       in.Value,
	}
	var conn Connection
	if _, err := m.do(ctx, "upsert", scope, http.MethodPost, "/v1/app-connections", nil, body, &conn, false); err != nil {
		return Connection{}, err
	}
	if err := m.store.Set(ctx, scope, map[string]string{
		settings.ConnectionID: conn.ID,
		settings.ProjectID:    in.ProjectID,
	}); err != nil {
		return Connection{}, fmt.Errorf("persist connection linkage: %w", err)
	}
	m.log.Infow("connection upserted", "tenant", in.TenantID, "org", in.OrganizationID, "connection", conn.ID, "external_id", extID)
	return conn, nil
}

// ListConnections lists the project's connections. An empty projectID uses the stored one.
func (m *Manager) ListConnections(ctx context.Context, scope settings.Scope, projectID string, f ListFilter) (Page, error) {
	if projectID == "" {
		v, err := m.store.Get(ctx, scope)
		if err != nil {
			return Page{}, err
		}
		projectID = v[settings.ProjectID]
	}
	if projectID == "" {
		return Page{}, &oauth.ValidationError{Msg: "projectId is required"}
	}
	q := url.Values{"projectId": {projectID}}
	if f.PieceName != "" {
		q.Set("pieceName", f.PieceName)
	}
	if f.DisplayName != "" {
		q.Set("displayName", f.DisplayName)
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var page Page
	if _, err := m.do(ctx, "list", scope, http.MethodGet, "/v1/app-connections", q, nil, &page, false); err != nil {
		return Page{}, err
	}
	if page.Data == nil {
		page.Data = []Connection{}
	}
	return page, nil
}

// GetConnection returns None when the provider does not know id.
func (m *Manager) GetConnection(ctx context.Context, scope settings.Scope, id string) (mo.Option[Connection], error) {
	var conn Connection
	status, err := m.do(ctx, "get", scope, http.MethodGet, "/v1/app-connections/"+url.PathEscape(id), nil, nil, &conn, true)
	if err != nil {
		return mo.None[Connection](), err
	}
	if status == http.StatusNotFound {
		return mo.None[Connection](), nil
	}
	return mo.Some(conn), nil
}

// DeleteConnection reports false when the connection was already gone.
func (m *Manager) DeleteConnection(ctx context.Context, scope settings.Scope, id string) (bool, error) {
	status, err := m.do(ctx, "delete", scope, http.MethodDelete, "/v1/app-connections/"+url.PathEscape(id), nil, nil, nil, true)
	if err != nil {
		return false, err
	}
	v, err := m.store.Get(ctx, scope)
	if err == nil && v[settings.ConnectionID] == id {
		err = m.store.Delete(ctx, scope, settings.ConnectionID)
	}
	if err != nil {
		m.log.Warnw("clear connection linkage", "tenant", scope.TenantID, "connection", id, "err", err)
	}
	return status != http.StatusNotFound, nil
}

// do performs one authenticated provider call. With allow404 a 404 is returned as a status, not an error.
func (m *Manager) do(ctx context.Context, op string, scope settings.Scope, method, path string, q url.Values, in, out any, allow404 bool) (int, error) {
	if m.baseURL == "" {
		return 0, fmt.Errorf("%w: provider base url not set", oauth.ErrConfigurationMissing)
	}
	tok, err := m.tokens.ValidToken(ctx, scope)
	if err != nil {
		return 0, err
	}
	full := m.baseURL + path
	if len(q) > 0 {
		full += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken.Reveal())
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		callsTotal.WithLabelValues(op, "unreachable").Inc()
		return 0, &oauth.ProviderError{Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		callsTotal.WithLabelValues(op, "unreachable").Inc()
		return 0, &oauth.ProviderError{Err: err}
	}
	if allow404 && resp.StatusCode == http.StatusNotFound {
		callsTotal.WithLabelValues(op, "not_found").Inc()
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		callsTotal.WithLabelValues(op, "error").Inc()
		m.log.Warnw("provider call failed", "op", op, "tenant", scope.TenantID, "status", resp.StatusCode)
		return resp.StatusCode, providerError(resp.StatusCode, raw)
	}
	callsTotal.WithLabelValues(op, "ok").Inc()
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, &oauth.ProviderError{Status: http.StatusBadGateway, Code: "invalid_response", Description: err.Error(), Err: err}
		}
	}
	return resp.StatusCode, nil
}

func providerError(status int, raw []byte) *oauth.ProviderError {
	pe := &oauth.ProviderError{Status: status, Err: errors.New(http.StatusText(status))}
	var body struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		pe.Code = body.Code
		if pe.Code == "" {
			pe.Code = body.Error
		}
		pe.Description = body.Message
	}
	if pe.Description == "" && pe.Code == "" {
		pe.Description = strings.TrimSpace(string(raw))
		if len(pe.Description) > 512 {
			pe.Description = pe.Description[:512]
		}
	}
	return pe
}
