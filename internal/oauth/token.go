package oauth

import (
	"strconv"
	"time"

	"automate/internal/settings"
	"automate/pkg/secrets"
)

// FlowState is the authorization lifecycle of one integration scope.
type FlowState string

const (
	NotAuthorized FlowState = "NOT_AUTHORIZED"
	Authorizing   FlowState = "AUTHORIZING"
	Authorized    FlowState = "AUTHORIZED"
	Refreshing    FlowState = "REFRESHING"
	Revoked       FlowState = "REVOKED"
)

// TokenRecord is the persisted token state of an integration instance.
type TokenRecord struct {
	TenantID       string
	OrganizationID string
	AccessToken    secrets.Secret
	RefreshToken   secrets.Secret
	TokenType      string
	ExpiresIn      int64 // seconds
	ExpiresAt      time.Time
	IsEnabled      bool
}

// Expired reports whether the token must be refreshed before use.
// A token without expiry never expires.
func (t TokenRecord) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// TokenResponse is the OAuth wire shape returned to the UI after an exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (t TokenRecord) Response() TokenResponse {
	return TokenResponse{
		AccessToken:  t.AccessToken.Reveal(),
		RefreshToken: t.RefreshToken.Reveal(),
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
	}
}

// settingsValues is the full token tuple written in one Set call.
func (t TokenRecord) settingsValues() map[string]string {
	exp := ""
	if !t.ExpiresAt.IsZero() {
		exp = t.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]string{
		settings.AccessToken:  t.AccessToken.Reveal(),
		settings.RefreshToken: t.RefreshToken.Reveal(),
		settings.TokenType:    t.TokenType,
		settings.ExpiresIn:    strconv.FormatInt(t.ExpiresIn, 10),
		settings.ExpiresAt:    exp,
		settings.IsEnabled:    strconv.FormatBool(t.IsEnabled),
		settings.FlowState:    string(Authorized),
	}
}

func tokenFromSettings(scope settings.Scope, v map[string]string) (TokenRecord, bool) {
	if v[settings.AccessToken] == "" {
		return TokenRecord{}, false
	}
	t := TokenRecord{
		TenantID:       scope.TenantID,
		OrganizationID: scope.OrganizationID,
		AccessToken:    secrets.New(v[settings.AccessToken]),
		RefreshToken:   secrets.New(v[settings.RefreshToken]),
		TokenType:      v[settings.TokenType],
		IsEnabled:      v[settings.IsEnabled] != "false",
	}
	t.ExpiresIn, _ = strconv.ParseInt(v[settings.ExpiresIn], 10, 64)
	if exp := v[settings.ExpiresAt]; exp != "" {
		t.ExpiresAt, _ = time.Parse(time.RFC3339Nano, exp)
	}
	return t, true
}
