package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cadencehq/cadence/pkg/models"
)

// InteractionRepo owns the append-only interactions table.
type InteractionRepo struct {
	db *sqlx.DB
}

// NewInteractionRepo creates the repository.
func NewInteractionRepo(db *sqlx.DB) *InteractionRepo {
	return &InteractionRepo{db: db}
}

// Append inserts one interaction. The partial unique index on
// (provider_id, event_type) makes event replays a no-op: on conflict the
// insert is skipped and inserted=false is returned, which the event
// processor uses as its idempotence check.
func (r *InteractionRepo) Append(ctx context.Context, in *models.Interaction) (inserted bool, err error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO interactions (
			id, tenant_id, enrollment_id, contact_id, channel, direction,
			content, outcome, sentiment, intent, call_duration,
			call_disposition, objections, key_topics, provider_id,
			event_type, analysis_json, created_at
		) VALUES (
			:id, :tenant_id, :enrollment_id, :contact_id, :channel, :direction,
			:content, :outcome, :sentiment, :intent, :call_duration,
			:call_disposition, :objections, :key_topics, :provider_id,
			:event_type, :analysis_json, now()
		)
		ON CONFLICT (provider_id, event_type) WHERE provider_id <> '' DO NOTHING`,
		in)
	if err != nil {
		return false, fmt.Errorf("appending interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking interaction insert: %w", err)
	}
	return n > 0, nil
}

// UpdateOutcome updates the outcome fields of the outbound interaction
// identified by provider id. Outbound calls start as delivered and are
// finalized by the end-of-call event rather than duplicated.
func (r *InteractionRepo) UpdateOutcome(ctx context.Context, providerID, outcome, disposition string, duration int, analysisJSON []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE interactions
		SET outcome = $2,
		    call_disposition = $3,
		    call_duration = $4,
		    analysis_json = COALESCE($5, analysis_json)
		WHERE provider_id = $1 AND direction = 'outbound'`,
		providerID, outcome, disposition, duration, analysisJSON)
	if err != nil {
		return fmt.Errorf("updating interaction outcome for %s: %w", providerID, err)
	}
	return nil
}

// Recent returns the most recent interactions for an enrollment, newest
// first, capped at limit.
func (r *InteractionRepo) Recent(ctx context.Context, enrollmentID string, limit int) ([]models.Interaction, error) {
	var out []models.Interaction
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM interactions
		WHERE enrollment_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, enrollmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading interactions for enrollment %s: %w", enrollmentID, err)
	}
	return out, nil
}

// FirstContactAt returns the timestamp of the oldest interaction, or
// the zero time when the enrollment has none.
func (r *InteractionRepo) FirstContactAt(ctx context.Context, enrollmentID string) (time.Time, error) {
	var t sql.NullTime
	err := r.db.GetContext(ctx, &t, `
		SELECT MIN(created_at) FROM interactions WHERE enrollment_id = $1`, enrollmentID)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading first contact time: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

// ExistsByProviderEvent reports whether an interaction with this provider
// id and event type was already recorded.
func (r *InteractionRepo) ExistsByProviderEvent(ctx context.Context, providerID, eventType string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM interactions WHERE provider_id = $1 AND event_type = $2
		)`, providerID, eventType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("checking interaction existence: %w", err)
	}
	return exists, nil
}
