package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"automate/pkg/secrets"
)

// PostgresConfigStore persists tenant OAuth configs; client credentials are sealed with box.
type PostgresConfigStore struct {
	pool *pgxpool.Pool
	box  *secrets.Box
}

var _ ConfigStore = (*PostgresConfigStore)(nil)

func NewPostgresConfigStore(pool *pgxpool.Pool, box *secrets.Box) *PostgresConfigStore {
	return &PostgresConfigStore{pool: pool, box: box}
}

// EnsureConfigSchema creates tenant_oauth_configs. The unique index on
// (tenant_id, organization_id) backs the single-record invariant.
func EnsureConfigSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenant_oauth_configs (
  id uuid PRIMARY KEY,
  tenant_id text NOT NULL,
  organization_id text NOT NULL DEFAULT '',
  client_id_encrypted bytea NOT NULL,
  client_secret_encrypted bytea,
  callback_url text,
  post_install_url text,
  is_active boolean NOT NULL DEFAULT true,
  description text,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS tenant_oauth_configs_scope_idx ON tenant_oauth_configs(tenant_id, organization_id);
`)
	return err
}

const configColumns = `id::text, tenant_id, organization_id, client_id_encrypted, client_secret_encrypted,
	COALESCE(callback_url,''), COALESCE(post_install_url,''), is_active, COALESCE(description,''), created_at, updated_at`

func (s *PostgresConfigStore) scan(row pgx.Row) (TenantConfig, bool, error) {
	var c TenantConfig
	var cid, csec []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.OrganizationID, &cid, &csec, &c.CallbackURL, &c.PostInstallURL, &c.IsActive, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantConfig{}, false, nil
	}
	if err != nil {
		return TenantConfig{}, false, err
	}
	if c.ClientID, err = s.box.OpenString(cid); err != nil {
		return TenantConfig{}, false, fmt.Errorf("open client id: %w", err)
	}
	if c.ClientSecret, err = s.box.OpenString(csec); err != nil {
		return TenantConfig{}, false, fmt.Errorf("open client secret: %w", err)
	}
	return c, true, nil
}

func (s *PostgresConfigStore) FindActive(ctx context.Context, tenantID, organizationID string) (TenantConfig, bool, error) {
	return s.scan(s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM tenant_oauth_configs
		WHERE tenant_id=$1 AND organization_id=$2 AND is_active`, tenantID, organizationID))
}

func (s *PostgresConfigStore) Find(ctx context.Context, tenantID, organizationID string) (TenantConfig, bool, error) {
	return s.scan(s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM tenant_oauth_configs
		WHERE tenant_id=$1 AND organization_id=$2`, tenantID, organizationID))
}

func (s *PostgresConfigStore) Get(ctx context.Context, id string) (TenantConfig, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return TenantConfig{}, false, nil
	}
	return s.scan(s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM tenant_oauth_configs WHERE id=$1::uuid`, id))
}

func (s *PostgresConfigStore) Save(ctx context.Context, c TenantConfig) (TenantConfig, error) {
	cid, err := s.box.SealString(c.ClientID)
	if err != nil {
		return TenantConfig{}, err
	}
	csec, err := s.box.SealString(c.ClientSecret)
	if err != nil {
		return TenantConfig{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	// conflict on the scope index turns a racing insert into an update of the existing row
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tenant_oauth_configs(id, tenant_id, organization_id, client_id_encrypted, client_secret_encrypted, callback_url, post_install_url, is_active, description)
		VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant_id, organization_id) DO UPDATE SET
		  client_id_encrypted=EXCLUDED.client_id_encrypted,
		  client_secret_encrypted=EXCLUDED.client_secret_encrypted,
		  callback_url=EXCLUDED.callback_url,
		  post_install_url=EXCLUDED.post_install_url,
		  is_active=EXCLUDED.is_active,
		  description=EXCLUDED.description,
		  updated_at=NOW()
		RETURNING `+configColumns,
		c.ID, c.TenantID, c.OrganizationID, cid, csec, c.CallbackURL, c.PostInstallURL, c.IsActive, c.Description)
	saved, _, err := s.scan(row)
	return saved, err
}

func (s *PostgresConfigStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tenant_oauth_configs WHERE id=$1::uuid`, id)
	return err
}
