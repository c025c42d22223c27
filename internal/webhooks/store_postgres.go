package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"automate/pkg/db"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore { return &PostgresStore{pool: pool} }

// EnsureSchema creates webhook_subscriptions; the unique constraint backs idempotent create.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS webhook_subscriptions (
  id uuid PRIMARY KEY,
  tenant_id text NOT NULL,
  organization_id text NOT NULL DEFAULT '',
  integration_id text,
  target_url text NOT NULL,
  event text NOT NULL,
  filter text,
  is_active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  UNIQUE (target_url, event, tenant_id, organization_id)
);
CREATE INDEX IF NOT EXISTS webhook_subscriptions_tenant_idx ON webhook_subscriptions(tenant_id) WHERE is_active;
`)
	return err
}

const subColumns = `id::text, tenant_id, organization_id, COALESCE(integration_id,''), target_url, event, COALESCE(filter,''), is_active, created_at, updated_at`

func scanSub(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.TenantID, &s.OrganizationID, &s.IntegrationID, &s.TargetURL, &s.Event, &s.Filter, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (p *PostgresStore) Create(ctx context.Context, in CreateInput) (Subscription, bool, error) {
	var out Subscription
	created := false
	err := db.InTenantTx(ctx, p.pool, in.TenantID, in.OrganizationID, func(tx pgx.Tx) error {
		s, err := scanSub(tx.QueryRow(ctx, `INSERT INTO webhook_subscriptions(id, tenant_id, organization_id, integration_id, target_url, event, filter)
			VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,NULLIF($7,''))
			ON CONFLICT (target_url, event, tenant_id, organization_id) DO NOTHING
			RETURNING `+subColumns,
			uuid.NewString(), in.TenantID, in.OrganizationID, in.IntegrationID, in.TargetURL, in.Event, in.Filter))
		if err == nil {
			out, created = s, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		out, err = scanSub(tx.QueryRow(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions
			WHERE target_url=$1 AND event=$2 AND tenant_id=$3 AND organization_id=$4`,
			in.TargetURL, in.Event, in.TenantID, in.OrganizationID))
		return err
	})
	return out, created, err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Subscription, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Subscription{}, false, nil
	}
	s, err := scanSub(p.pool.QueryRow(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, false, nil
	}
	return s, err == nil, err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id=$1`, id)
	return err
}

func (p *PostgresStore) List(ctx context.Context, tenantID, organizationID string) ([]Subscription, error) {
	return p.query(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE tenant_id=$1 AND ($2 = '' OR organization_id=$2) ORDER BY created_at`, tenantID, organizationID)
}

func (p *PostgresStore) Active(ctx context.Context, tenantID string) ([]Subscription, error) {
	return p.query(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions WHERE tenant_id=$1 AND is_active ORDER BY created_at`, tenantID)
}

func (p *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhook_subscriptions SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Subscription, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Subscription{}
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
