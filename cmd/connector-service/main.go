// cmd/connector-service/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"automate/internal/connections"
	"automate/internal/httpapi"
	"automate/internal/oauth"
	"automate/internal/settings"
	"automate/internal/webhooks"
	"automate/pkg/config"
	"automate/pkg/db"
	"automate/pkg/httpclient"
	"automate/pkg/logger"
	"automate/pkg/middleware"
	"automate/pkg/secrets"
	"automate/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	shutdownTracing := middleware.InitTracing("automation-connector", log)

	box, err := secrets.NewBox(cfg.EncryptionKey)
	if err != nil {
		log.Fatalw("encryption key", "err", err)
	}
	if !box.Enabled() {
		log.Warnw("ENCRYPTION_KEY not set; secrets are stored unsealed")
	}

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var (
		prov     tenants.Provider
		store    settings.Store
		cfgStore oauth.ConfigStore
		subs     webhooks.Store
		pending  oauth.PendingStore
	)
	if pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		migrate(ctx, pool, log)
		if err := tenants.SeedFromEnv(ctx, pool, os.Getenv("TENANT_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
		cancel()
		prov = tenants.NewPostgresProvider(pool, log)
		store = settings.NewPostgresStore(pool, box)
		cfgStore = oauth.NewPostgresConfigStore(pool, box)
		subs = webhooks.NewPostgresStore(pool)
	} else {
		prov = tenants.NewMemoryProvider(log, os.Getenv("TENANT_SEED_JSON"))
		store = settings.NewMemoryStore()
		cfgStore = oauth.NewMemoryConfigStore()
		subs = webhooks.NewMemoryStore()
	}
	if rdb != nil {
		pending = oauth.NewRedisPendingStore(rdb)
	} else {
		// single instance only: a callback landing on another replica would be rejected
		pending = oauth.NewMemoryPendingStore()
	}

	providerClient := httpclient.New(cfg.HTTPClientTimeout)
	resolver := oauth.NewConfigResolver(cfgStore, cfg.Provider, log)
	flow := oauth.NewFlowService(oauth.NewStateCodec(cfg.StateSecret), pending, resolver, store, log, oauth.FlowOptions{
		Integration: cfg.Provider.Name,
		StateTTL:    cfg.StateTTL,
		HTTPClient:  providerClient,
	})

	app := httpapi.New(httpapi.Deps{
		Config:      cfg,
		Log:         log,
		Tenants:     prov,
		Flow:        flow,
		Resolver:    resolver,
		Connections: connections.NewManager(cfg.Provider.BaseURL, flow, store, providerClient, log),
		Webhooks: webhooks.NewService(subs, log, webhooks.Options{
			Client:          httpclient.NoRedirects(max(cfg.WebhookTimeout, cfg.WebhookProbeTimeout)),
			DeliveryTimeout: cfg.WebhookTimeout,
			ProbeTimeout:    cfg.WebhookProbeTimeout,
			Workers:         cfg.WebhookWorkers,
		}),
		Ready: readiness(pool, rdb),
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("connector-service listening", "addr", cfg.HTTPAddr, "provider", cfg.Provider.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	app.Wait(ctx)
	if err := shutdownTracing(ctx); err != nil {
		log.Warnw("tracing shutdown", "err", err)
	}
	if pool != nil {
		pool.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Infow("connector-service stopped")
}

func migrate(ctx context.Context, pool *pgxpool.Pool, log *zap.SugaredLogger) {
	steps := []struct {
		name string
		fn   func(context.Context, *pgxpool.Pool) error
	}{
		{"tenants", tenants.EnsureSchema},
		{"integration_settings", settings.EnsureSchema},
		{"tenant_oauth_configs", oauth.EnsureConfigSchema},
		{"webhook_subscriptions", webhooks.EnsureSchema},
	}
	for _, s := range steps {
		if err := s.fn(ctx, pool); err != nil {
			log.Fatalw("schema", "table", s.name, "err", err)
		}
	}
}

func readiness(pool *pgxpool.Pool, rdb *redis.Client) func(context.Context) error {
	if pool == nil && rdb == nil {
		return nil
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
}
