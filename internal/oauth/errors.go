package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing means neither the tenant nor the global defaults provide a client id.
	ErrConfigurationMissing = errors.New("oauth configuration missing")
	// ErrInvalidState covers forged, malformed, expired and replayed state values.
	// The flow has to restart from BuildAuthorizationURL.
	ErrInvalidState = errors.New("invalid oauth state")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrNoToken      = errors.New("integration not authorized")
)

// ProviderError carries what the remote token endpoint said about a failed request.
type ProviderError struct {
	Status      int    // HTTP status from the provider, 0 when the request never completed
	Code        string // OAuth "error" field
	Description string // OAuth "error_description" field
	Err         error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("provider returned %d: %s: %s", e.Status, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("provider returned %d: %s", e.Status, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("provider returned %d", e.Status)
	default:
		return fmt.Sprintf("provider unreachable: %v", e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports a failure where the provider never answered (network, timeout).
func (e *ProviderError) Transient() bool { return e.Status == 0 }

// TokenExchangeError is returned when the authorization code could not be exchanged.
type TokenExchangeError struct{ ProviderError }

func (e *TokenExchangeError) Error() string { return "token exchange failed: " + e.ProviderError.Error() }

// TokenRefreshError is returned when the refresh grant was rejected; the integration is revoked.
type TokenRefreshError struct{ ProviderError }

func (e *TokenRefreshError) Error() string { return "token refresh failed: " + e.ProviderError.Error() }

// ValidationError is a caller input problem (bad URL, missing field).
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }
