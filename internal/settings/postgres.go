package settings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"automate/pkg/db"
	"automate/pkg/secrets"
)

// PostgresStore keeps one row per (tenant, organization, integration, name).
// Token values are sealed with the configured box.
type PostgresStore struct {
	pool *pgxpool.Pool
	box  *secrets.Box
}

func NewPostgresStore(pool *pgxpool.Pool, box *secrets.Box) *PostgresStore {
	return &PostgresStore{pool: pool, box: box}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS integration_settings (
  tenant_id text NOT NULL,
  organization_id text NOT NULL DEFAULT '',
  integration text NOT NULL,
  name text NOT NULL,
  value bytea,
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tenant_id, organization_id, integration, name)
);
`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, scope Scope) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, value FROM integration_settings
		WHERE tenant_id=$1 AND organization_id=$2 AND integration=$3`, scope.TenantID, scope.OrganizationID, scope.Integration)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		if IsSensitive(name) {
			if raw, err = s.box.Open(raw); err != nil {
				return nil, fmt.Errorf("open setting %s: %w", name, err)
			}
		}
		out[name] = string(raw)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Set(ctx context.Context, scope Scope, values map[string]string) error {
	return db.InTenantTx(ctx, s.pool, scope.TenantID, scope.OrganizationID, func(tx pgx.Tx) error {
		for name, v := range values {
			raw := []byte(v)
			if IsSensitive(name) {
				var err error
				if raw, err = s.box.Seal(raw); err != nil {
					return fmt.Errorf("seal setting %s: %w", name, err)
				}
			}
			if _, err := tx.Exec(ctx, `INSERT INTO integration_settings(tenant_id, organization_id, integration, name, value)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (tenant_id, organization_id, integration, name) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
				scope.TenantID, scope.OrganizationID, scope.Integration, name, raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, scope Scope, names ...string) error {
	if len(names) == 0 {
		_, err := s.pool.Exec(ctx, `DELETE FROM integration_settings WHERE tenant_id=$1 AND organization_id=$2 AND integration=$3`,
			scope.TenantID, scope.OrganizationID, scope.Integration)
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM integration_settings WHERE tenant_id=$1 AND organization_id=$2 AND integration=$3 AND name = ANY($4)`,
		scope.TenantID, scope.OrganizationID, scope.Integration, names)
	return err
}
