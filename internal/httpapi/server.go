package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"automate/pkg/middleware"
	"automate/pkg/openapi"
)

// EventsScope is required on /events for token callers.
const EventsScope = "automation:events"

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), chimw.RealIP, middleware.Recover(a.log), middleware.AccessLog(a.log), middleware.Metrics(), middleware.Tracing("http"))

	r.Get("/healthz", a.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/openapi.json", a.docs.ServeHandler("automation-connector", "v1"))

	r.Route(BasePath, func(ar chi.Router) {
		ar.Use(cors(a.Config.CORSOrigins))
		// browser redirect from the provider; the signed state is the only credential
		a.route(ar, http.MethodGet, "/callback", "Provider redirect target", a.callback, openapi.Operation{
			Public:     true,
			Parameters: []openapi.Parameter{{Name: "code", In: "query", Required: true}, {Name: "state", In: "query", Required: true}},
			Responses:  map[string]any{"302": map[string]any{"description": "Redirect to the post-install URL"}},
		})

		ar.Group(func(pr chi.Router) {
			pr.Use(middleware.Auth(a.Config, a.Tenants, a.log))

			a.route(pr, http.MethodGet, "/authorize", "Build the provider authorization URL", a.authorize, openapi.Operation{
				Parameters: []openapi.Parameter{{Name: "tenantId", In: "query"}, {Name: "organizationId", In: "query"}},
			})
			a.route(pr, http.MethodPost, "/oauth/token", "Exchange an authorization code", a.exchangeToken)
			a.route(pr, http.MethodPost, "/oauth/refresh", "Refresh the stored token", a.refreshToken)
			a.route(pr, http.MethodGet, "/oauth/status", "Authorization state", a.oauthStatus)
			a.route(pr, http.MethodDelete, "/oauth/token", "Revoke the stored token", a.revokeToken)
			a.route(pr, http.MethodPut, "/oauth/enabled", "Enable or disable the integration", a.setEnabled)

			a.route(pr, http.MethodPost, "/config", "Create or replace the tenant OAuth client", a.setConfig)
			a.route(pr, http.MethodGet, "/config/status", "Config provenance", a.configStatus)
			a.route(pr, http.MethodGet, "/config", "Tenant OAuth client (redacted)", a.getConfig)
			a.route(pr, http.MethodPut, "/config/{id}", "Update the tenant OAuth client", a.updateConfig)
			a.route(pr, http.MethodDelete, "/config", "Delete the tenant OAuth client", a.deleteConfig)

			a.route(pr, http.MethodPost, "/connections", "Upsert the tenant connection", a.upsertConnection)
			a.route(pr, http.MethodGet, "/connections", "List provider connections", a.listConnections, openapi.Operation{
				Parameters: []openapi.Parameter{{Name: "projectId", In: "query"}, {Name: "pieceName", In: "query"}, {Name: "cursor", In: "query"}, {Name: "limit", In: "query"}},
			})
			a.route(pr, http.MethodGet, "/connections/{id}", "Get a provider connection", a.getConnection)
			a.route(pr, http.MethodDelete, "/connections/{id}", "Delete a provider connection", a.deleteConnection)

			a.route(pr, http.MethodPost, "/webhooks", "Subscribe a webhook", a.createWebhook)
			a.route(pr, http.MethodGet, "/webhooks", "List webhook subscriptions", a.listWebhooks)
			a.route(pr, http.MethodDelete, "/webhooks/{id}", "Delete a webhook subscription", a.deleteWebhook)
			a.route(pr, http.MethodPost, "/webhooks/{id}/validate", "Probe a webhook target", a.validateWebhook)

			pr.With(middleware.RequireAnyScope(EventsScope)).Post("/events", a.emitEvent)
			a.docs.Register(openapi.Operation{Method: http.MethodPost, Path: BasePath + "/events", Summary: "Fan a domain event out to subscribers", Tags: []string{"automation"}, Scopes: []string{EventsScope},
				Responses: map[string]any{"202": map[string]any{"description": "Accepted"}, "200": map[string]any{"description": "Delivered (wait=true)"}}})
		})
	})
	return r
}

// route mounts h and documents it.
func (a *App) route(r chi.Router, method, path, summary string, h http.HandlerFunc, extra ...openapi.Operation) {
	r.Method(method, path, h)
	op := openapi.Operation{}
	if len(extra) > 0 {
		op = extra[0]
	}
	op.Method, op.Path, op.Summary, op.Tags = method, BasePath+path, summary, []string{"automation"}
	a.docs.Register(op)
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	if a.Ready != nil {
		if err := a.Ready(r.Context()); err != nil {
			a.log.Warnw("readiness check failed", "err", err)
			writeJSON(w, map[string]any{"ok": false}, http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
}

// cors returns a middleware that sets CORS headers and handles preflight requests.
// allowed may contain exact origins (e.g., http://localhost:4200) or "*" to allow all.
func cors(allowed []string) func(http.Handler) http.Handler {
	match := func(origin string) bool {
		if origin == "" {
			return false
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); match(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Tenant-ID, X-Organization-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
