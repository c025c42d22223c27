// Package settings is the tenant/organization scoped name/value store that backs
// integration state (tokens, flags, connection linkage).
package settings

import (
	"context"
	"strings"
)

// Well-known setting names persisted against an integration.
const (
	AccessToken  = "access_token"
	RefreshToken = "refresh_token"
	TokenType    = "token_type"
	ExpiresIn    = "expires_in"
	ExpiresAt    = "expires_at"
	IsEnabled    = "is_enabled"
	WebhookURL   = "webhook_url"
	FlowState    = "flow_state"
	ConnectionID = "connection_id"
	ProjectID    = "project_id"
)

// sensitive names are sealed at rest by stores that support encryption.
var sensitive = map[string]bool{AccessToken: true, RefreshToken: true}

func IsSensitive(name string) bool { return sensitive[name] }

// Scope identifies one integration instance. OrganizationID is empty for tenant-wide integrations.
type Scope struct {
	TenantID       string
	OrganizationID string
	Integration    string
}

// Key is a stable string form used for in-process maps and locks.
func (s Scope) Key() string {
	return strings.Join([]string{s.TenantID, s.OrganizationID, s.Integration}, "|")
}

// Store persists settings. Set writes all values atomically; readers never observe a partial write.
type Store interface {
	Get(ctx context.Context, scope Scope) (map[string]string, error)
	Set(ctx context.Context, scope Scope, values map[string]string) error
	// Delete removes the named settings, or every setting of the scope when names is empty.
	Delete(ctx context.Context, scope Scope, names ...string) error
}
