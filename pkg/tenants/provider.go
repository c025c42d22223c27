package tenants

import (
	"context"
)

type Provider interface {
	// ResolveTenant accepts a tenant id or slug.
	ResolveTenant(ctx context.Context, ref string) (Tenant, error)
	// OrganizationBelongs reports whether organizationID is part of tenantID.
	OrganizationBelongs(ctx context.Context, tenantID, organizationID string) (bool, error)
}
