// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates the tenant tables if they do not already exist. Idempotent.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  name text,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS organizations (
  id uuid PRIMARY KEY,
  tenant_id uuid NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  name text,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS organizations_tenant_idx ON organizations(tenant_id);
`)
	return err
}

// SeedFromEnv ingests tenants and organizations (TENANT_SEED_JSON, same format as the memory provider).
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []Tenant
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := dbPool.Exec(ctx, `INSERT INTO tenants(id,slug,name) VALUES ($1,$2,$3)
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug, name=EXCLUDED.name`, e.ID, e.Slug, e.Name); err != nil {
			return err
		}
		for _, org := range e.Organizations {
			if _, err := dbPool.Exec(ctx, `INSERT INTO organizations(id,tenant_id) VALUES ($1,$2) ON CONFLICT (id) DO NOTHING`, org, e.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResolveTenant fetches a tenant by uuid or slug.
func (p *pgProvider) ResolveTenant(ctx context.Context, ref string) (Tenant, error) {
	q := `SELECT id::text, COALESCE(slug,''), COALESCE(name,'') FROM tenants WHERE slug=$1`
	if _, err := uuid.Parse(ref); err == nil {
		q = `SELECT id::text, COALESCE(slug,''), COALESCE(name,'') FROM tenants WHERE id=$1::uuid`
	}
	var t Tenant
	if err := p.dbPool.QueryRow(ctx, q, ref).Scan(&t.ID, &t.Slug, &t.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgProvider) OrganizationBelongs(ctx context.Context, tenantID, organizationID string) (bool, error) {
	if _, err := uuid.Parse(organizationID); err != nil {
		return false, nil
	}
	var ok bool
	err := p.dbPool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE id=$1::uuid AND tenant_id=$2::uuid)`, organizationID, tenantID).Scan(&ok)
	return ok, err
}
