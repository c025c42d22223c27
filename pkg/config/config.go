// pkg/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider holds the global OAuth client defaults and provider endpoints.
// Tenants may override the client credentials and URLs per tenant/organization.
type Provider struct {
	Name           string   `yaml:"name"`
	BaseURL        string   `yaml:"base_url"`
	AuthorizeURL   string   `yaml:"authorize_url"`
	TokenURL       string   `yaml:"token_url"`
	ClientID       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret"`
	CallbackURL    string   `yaml:"callback_url"`
	PostInstallURL string   `yaml:"post_install_url"`
	Scopes         []string `yaml:"scopes"`
}

type Config struct {
	Env      string
	HTTPAddr string

	BasePublicURL string

	// Admin bearer validation; dev mode accepts X-Tenant-ID when JWKSURL is empty.
	Issuer   string
	Audience string
	JWKSURL  string

	RedisURL      string
	DatabaseURL   string
	EncryptionKey string

	Provider Provider

	StateSecret string
	StateTTL    time.Duration

	HTTPClientTimeout   time.Duration
	WebhookTimeout      time.Duration
	WebhookProbeTimeout time.Duration
	WebhookWorkers      int

	CORSOrigins []string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                 env("AUTOMATE_ENV", "dev"),
		HTTPAddr:            env("AUTOMATE_HTTP_ADDR", ":8080"),
		BasePublicURL:       env("BASE_PUBLIC_URL", "http://localhost:8080"),
		Issuer:              env("OIDC_ISSUER", ""),
		Audience:            env("OIDC_AUDIENCE", "automate-api"),
		JWKSURL:             env("JWKS_URL", ""),
		RedisURL:            env("REDIS_URL", ""),
		DatabaseURL:         env("DATABASE_URL", ""),
		EncryptionKey:       env("ENCRYPTION_KEY", ""),
		StateSecret:         env("OAUTH_STATE_SECRET", ""),
		StateTTL:            envDur("OAUTH_STATE_TTL_SEC", 600) * time.Second,
		HTTPClientTimeout:   envDur("HTTP_CLIENT_TIMEOUT_SEC", 10) * time.Second,
		WebhookTimeout:      envDur("WEBHOOK_TIMEOUT_SEC", 5) * time.Second,
		WebhookProbeTimeout: envDur("WEBHOOK_PROBE_TIMEOUT_SEC", 5) * time.Second,
		WebhookWorkers:      envInt("WEBHOOK_WORKERS", 8),
		CORSOrigins:         envList("CORS_ORIGINS", []string{"http://localhost:4200"}),
	}
	if path := env("INTEGRATION_CONFIG_FILE", ""); path != "" {
		p, err := LoadProviderFile(path)
		if err != nil {
			log.Printf("[WARN] integration config file %s: %v", path, err)
		} else {
			cfg.Provider = p
		}
	}
	cfg.Provider = overrideProvider(cfg.Provider)
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory stores for dev")
	}
	if cfg.StateSecret == "" {
		log.Println("[WARN] OAUTH_STATE_SECRET not set — authorization callbacks will be rejected")
	}
	return cfg
}

// LoadProviderFile reads global provider defaults from a YAML document.
func LoadProviderFile(path string) (Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Provider{}, err
	}
	var doc struct {
		Provider Provider `yaml:"provider"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Provider{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Provider, nil
}

func overrideProvider(p Provider) Provider {
	p.Name = env("PROVIDER_NAME", or(p.Name, "activepieces"))
	p.BaseURL = strings.TrimRight(env("PROVIDER_BASE_URL", p.BaseURL), "/")
	p.AuthorizeURL = env("OAUTH_AUTHORIZE_URL", p.AuthorizeURL)
	p.TokenURL = env("OAUTH_TOKEN_URL", p.TokenURL)
	if p.BaseURL != "" {
		p.AuthorizeURL = or(p.AuthorizeURL, p.BaseURL+"/oauth/authorize")
		p.TokenURL = or(p.TokenURL, p.BaseURL+"/oauth/token")
	}
	p.ClientID = env("OAUTH_CLIENT_ID", p.ClientID)
	p.ClientSecret = env("OAUTH_CLIENT_SECRET", p.ClientSecret)
	p.CallbackURL = env("OAUTH_CALLBACK_URL", p.CallbackURL)
	p.PostInstallURL = env("OAUTH_POST_INSTALL_URL", p.PostInstallURL)
	p.Scopes = envList("OAUTH_SCOPES", p.Scopes)
	return p
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
func envList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
