package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cadencehq/cadence/pkg/models"
)

// ContactRepo owns reads and writes on contacts and tenants.
type ContactRepo struct {
	db *sqlx.DB
}

// NewContactRepo creates the repository.
func NewContactRepo(db *sqlx.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

// Get loads one contact.
func (r *ContactRepo) Get(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	err := r.db.GetContext(ctx, &c, `SELECT * FROM contacts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading contact %s: %w", id, err)
	}
	return &c, nil
}

// GetByPhone looks a contact up by tenant and phone number, used by the
// inbound assistant-request webhook.
func (r *ContactRepo) GetByPhone(ctx context.Context, tenantID, phone string) (*models.Contact, error) {
	var c models.Contact
	err := r.db.GetContext(ctx, &c, `
		SELECT * FROM contacts WHERE tenant_id = $1 AND phone = $2 LIMIT 1`,
		tenantID, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading contact by phone: %w", err)
	}
	return &c, nil
}

// SetEngagement updates the rolling engagement score and sentiment trend.
func (r *ContactRepo) SetEngagement(ctx context.Context, id string, score int, trend models.SentimentTrend) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET engagement_score = $2, sentiment_trend = $3, updated_at = now()
		WHERE id = $1`,
		id, score, trend)
	if err != nil {
		return fmt.Errorf("updating engagement on contact %s: %w", id, err)
	}
	return nil
}

// SetLandline flags the contact's phone as a landline.
func (r *ContactRepo) SetLandline(ctx context.Context, id string, landline bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET phone_is_landline = $2, updated_at = now() WHERE id = $1`,
		id, landline)
	if err != nil {
		return fmt.Errorf("flagging contact %s landline: %w", id, err)
	}
	return nil
}

// GetTenant loads a tenant.
func (r *ContactRepo) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", id, err)
	}
	return &t, nil
}
