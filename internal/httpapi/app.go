// Package httpapi is the HTTP boundary of the automation integration.
package httpapi

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"automate/internal/connections"
	"automate/internal/oauth"
	"automate/internal/webhooks"
	"automate/pkg/config"
	"automate/pkg/openapi"
	"automate/pkg/tenants"
)

// BasePath is where the integration routes are mounted.
const BasePath = "/api/integrations/automation"

// Deps are the services the handlers drive.
type Deps struct {
	Config      config.Config
	Log         *zap.SugaredLogger
	Tenants     tenants.Provider
	Flow        *oauth.FlowService
	Resolver    *oauth.ConfigResolver
	Connections *connections.Manager
	Webhooks    *webhooks.Service
	// Ready reports backing store health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// App is the HTTP application container. Handlers are methods on it.
type App struct {
	Deps
	log  *zap.SugaredLogger
	docs *openapi.Registry

	// background event fan-outs, drained by Wait
	bg     sync.WaitGroup
	bgCtx  context.Context
	cancel context.CancelFunc
}

func New(d Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{Deps: d, log: d.Log, docs: openapi.NewRegistry(), bgCtx: ctx, cancel: cancel}
}

// Wait blocks until in-flight background deliveries finish or ctx expires, then cancels the rest.
func (a *App) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.cancel()
		<-done
	}
}
