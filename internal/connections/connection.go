// Package connections manages the provider-side handles the automation platform
// uses to call back into a tenant.
package connections

import "fmt"

// Connection mirrors the provider's app-connection resource.
type Connection struct {
	ID          string `json:"id"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName"`
	PieceName   string `json:"pieceName"`
	ProjectID   string `json:"projectId"`
	Type        string `json:"type,omitempty"`
	Status      string `json:"status,omitempty"`
	Created     string `json:"created,omitempty"`
	Updated     string `json:"updated,omitempty"`
}

// UpsertInput describes the connection to create or update for a tenant.
type UpsertInput struct {
	TenantID       string         `json:"tenantId"`
	OrganizationID string         `json:"organizationId,omitempty"`
	ProjectID      string         `json:"projectId"`
	PieceName      string         `json:"pieceName"`
	DisplayName    string         `json:"displayName,omitempty"`
	Type           string         `json:"type,omitempty"`
	Value          map[string]any `json:"value"`
}

type ListFilter struct {
	PieceName   string
	DisplayName string
	Cursor      string
	Limit       int
}

// Page is one page of a cursor-paginated listing.
type Page struct {
	Data     []Connection `json:"data"`
	Next     string       `json:"next,omitempty"`
	Previous string       `json:"previous,omitempty"`
}

// ExternalID is stable per tenant/organization so repeated upserts hit the same remote record.
func ExternalID(tenantID, organizationID string) string {
	if organizationID == "" {
		return fmt.Sprintf("tenant-%s", tenantID)
	}
	return fmt.Sprintf("tenant-%s-org-%s", tenantID, organizationID)
}
