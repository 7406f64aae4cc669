package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cadencehq/cadence/pkg/models"
)

// UmbrellaRepo owns umbrellas and tenant assignments. The runtime model
// is multi-umbrella; a single-umbrella deployment is the configuration
// where exactly one row is active.
type UmbrellaRepo struct {
	db *sqlx.DB
}

// NewUmbrellaRepo creates the repository.
func NewUmbrellaRepo(db *sqlx.DB) *UmbrellaRepo {
	return &UmbrellaRepo{db: db}
}

// Get loads one umbrella.
func (r *UmbrellaRepo) Get(ctx context.Context, id string) (*models.Umbrella, error) {
	var u models.Umbrella
	err := r.db.GetContext(ctx, &u, `SELECT * FROM umbrellas WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading umbrella %s: %w", id, err)
	}
	return &u, nil
}

// GetByProviderOrg resolves the umbrella a provider webhook belongs to.
func (r *UmbrellaRepo) GetByProviderOrg(ctx context.Context, orgID string) (*models.Umbrella, error) {
	var u models.Umbrella
	err := r.db.GetContext(ctx, &u, `
		SELECT * FROM umbrellas WHERE provider_org_id = $1 AND active = true`, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading umbrella for org %s: %w", orgID, err)
	}
	return &u, nil
}

// ListActive returns every active umbrella.
func (r *UmbrellaRepo) ListActive(ctx context.Context) ([]*models.Umbrella, error) {
	var out []*models.Umbrella
	if err := r.db.SelectContext(ctx, &out, `SELECT * FROM umbrellas WHERE active = true`); err != nil {
		return nil, fmt.Errorf("listing active umbrellas: %w", err)
	}
	return out, nil
}

// AssignmentForTenant returns the tenant's umbrella assignment.
func (r *UmbrellaRepo) AssignmentForTenant(ctx context.Context, tenantID string) (*models.UmbrellaAssignment, error) {
	var a models.UmbrellaAssignment
	err := r.db.GetContext(ctx, &a, `
		SELECT * FROM tenant_umbrella_assignments WHERE tenant_id = $1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading umbrella assignment for tenant %s: %w", tenantID, err)
	}
	return &a, nil
}

// RecordSync stores the provider-reported concurrency snapshot.
func (r *UmbrellaRepo) RecordSync(ctx context.Context, id string, reported, limit int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE umbrellas
		SET last_reported = $2, concurrency_limit = $3, last_sync_at = $4
		WHERE id = $1`,
		id, reported, limit, at)
	if err != nil {
		return fmt.Errorf("recording sync on umbrella %s: %w", id, err)
	}
	return nil
}
