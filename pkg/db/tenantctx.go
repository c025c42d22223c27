package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InTenantTx runs fn inside a transaction with app.tenant_id (and app.organization_id
// when set) configured for row level security. fn's error rolls the transaction back.
func InTenantTx(ctx context.Context, pool *pgxpool.Pool, tenantID, organizationID string, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true), set_config('app.organization_id', $2, true)", tenantID, organizationID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
