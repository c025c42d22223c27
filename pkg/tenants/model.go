package tenants

import "errors"

var ErrTenantNotFound = errors.New("tenant not found")

// Tenant represents a logical customer / account space.
type Tenant struct {
	ID            string   `json:"id"`   // uuid
	Slug          string   `json:"slug"` // short name (acme)
	Name          string   `json:"name,omitempty"`
	Organizations []string `json:"organizations,omitempty"` // organization ids inside the tenant
}

func (t Tenant) HasOrganization(id string) bool {
	for _, o := range t.Organizations {
		if o == id {
			return true
		}
	}
	return false
}
