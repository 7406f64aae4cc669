package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cadencehq/cadence/pkg/models"
)

// SequenceRepo owns reads on sequences, steps, and variants, plus the
// variant attribution counters.
type SequenceRepo struct {
	db *sqlx.DB
}

// NewSequenceRepo creates the repository.
func NewSequenceRepo(db *sqlx.DB) *SequenceRepo {
	return &SequenceRepo{db: db}
}

// Get loads one sequence.
func (r *SequenceRepo) Get(ctx context.Context, id string) (*models.Sequence, error) {
	var s models.Sequence
	err := r.db.GetContext(ctx, &s, `SELECT * FROM sequences WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading sequence %s: %w", id, err)
	}
	return &s, nil
}

// Step loads the step at the given 1-based order, or ErrNotFound past
// the end of the sequence.
func (r *SequenceRepo) Step(ctx context.Context, sequenceID string, order int) (*models.Step, error) {
	var s models.Step
	err := r.db.GetContext(ctx, &s, `
		SELECT * FROM sequence_steps WHERE sequence_id = $1 AND step_order = $2`,
		sequenceID, order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading step %d of sequence %s: %w", order, sequenceID, err)
	}
	return &s, nil
}

// ActiveVariants returns the active A/B arms for a step, ordered by id
// so weighted draws break ties deterministically.
func (r *SequenceRepo) ActiveVariants(ctx context.Context, stepID string) ([]models.StepVariant, error) {
	var out []models.StepVariant
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM variants WHERE step_id = $1 AND active = true ORDER BY id ASC`,
		stepID)
	if err != nil {
		return nil, fmt.Errorf("loading variants for step %s: %w", stepID, err)
	}
	return out, nil
}

// RecordVariantSent increments the sent counter for attribution.
func (r *SequenceRepo) RecordVariantSent(ctx context.Context, variantID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE variants SET sent = sent + 1 WHERE id = $1`, variantID)
	if err != nil {
		return fmt.Errorf("recording variant %s sent: %w", variantID, err)
	}
	return nil
}

// RecordVariantReply increments the reply counter.
func (r *SequenceRepo) RecordVariantReply(ctx context.Context, variantID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE variants SET replies = replies + 1 WHERE id = $1`, variantID)
	if err != nil {
		return fmt.Errorf("recording variant %s reply: %w", variantID, err)
	}
	return nil
}

// RecordVariantConversion increments the conversion counter.
func (r *SequenceRepo) RecordVariantConversion(ctx context.Context, variantID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE variants SET conversions = conversions + 1 WHERE id = $1`, variantID)
	if err != nil {
		return fmt.Errorf("recording variant %s conversion: %w", variantID, err)
	}
	return nil
}
