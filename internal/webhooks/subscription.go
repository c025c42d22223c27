// Package webhooks registers tenant-owned event destinations and fans events out to them.
package webhooks

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	jmes "github.com/jmespath/go-jmespath"
)

var (
	ErrNotFound  = errors.New("subscription not found")
	ErrForbidden = errors.New("subscription belongs to another tenant")
	ErrInvalid   = errors.New("invalid subscription")
)

// Subscription is a tenant-registered destination for one event type or matcher.
// OrganizationID empty means every organization of the tenant.
type Subscription struct {
	ID             string    `json:"id"`
	TargetURL      string    `json:"targetUrl"`
	Event          string    `json:"event"`
	TenantID       string    `json:"tenantId"`
	OrganizationID string    `json:"organizationId,omitempty"`
	IntegrationID  string    `json:"integrationId,omitempty"`
	Filter         string    `json:"filter,omitempty"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type CreateInput struct {
	TargetURL      string `json:"targetUrl"`
	Event          string `json:"event"`
	TenantID       string `json:"tenantId"`
	OrganizationID string `json:"organizationId,omitempty"`
	IntegrationID  string `json:"integrationId,omitempty"`
	Filter         string `json:"filter,omitempty"`
}

func (in CreateInput) validate() error {
	if in.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalid)
	}
	if strings.TrimSpace(in.Event) == "" {
		return fmt.Errorf("%w: event is required", ErrInvalid)
	}
	u, err := url.Parse(in.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: targetUrl must be an absolute http(s) url", ErrInvalid)
	}
	if in.Filter != "" {
		if _, err := jmes.Compile(in.Filter); err != nil {
			return fmt.Errorf("%w: filter: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Event is a domain event raised inside a tenant.
type Event struct {
	ID             string         `json:"id,omitempty"`
	Type           string         `json:"event"`
	TenantID       string         `json:"tenantId"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Matches reports whether ev should be delivered to s. The filter is not evaluated here.
func (s Subscription) Matches(ev Event) bool {
	if !s.IsActive || s.TenantID != ev.TenantID {
		return false
	}
	if s.OrganizationID != "" && s.OrganizationID != ev.OrganizationID {
		return false
	}
	return eventMatches(s.Event, ev.Type)
}

// eventMatches supports exact names, "*" and namespace matchers such as "employee.*".
func eventMatches(pattern, event string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(event, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == event
	}
}

// passesFilter evaluates the JMESPath filter against the event data.
func passesFilter(expr string, data map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	v, err := jmes.Search(expr, data)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
