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

// EnrollmentRepo owns reads and writes on the enrollments table.
//
// Write authority is split by field (last-writer wins on non-overlapping
// fields): the scheduler advances step order and fire time and may set
// status only to completed/failed; the event processor owns booked,
// replied, and manual_stop plus the flag and emotional-state fields; the
// self-healer owns channel overrides and failure history.
type EnrollmentRepo struct {
	db *sqlx.DB
}

// NewEnrollmentRepo creates the repository.
func NewEnrollmentRepo(db *sqlx.DB) *EnrollmentRepo {
	return &EnrollmentRepo{db: db}
}

// Due returns up to limit active enrollments whose next_fire_time has
// passed, ordered by ascending fire time.
func (r *EnrollmentRepo) Due(ctx context.Context, now time.Time, limit int) ([]models.Enrollment, error) {
	var out []models.Enrollment
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM enrollments
		WHERE status = 'active'
		  AND next_fire_time IS NOT NULL
		  AND next_fire_time <= $1
		ORDER BY next_fire_time ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("querying due enrollments: %w", err)
	}
	return out, nil
}

// Get loads one enrollment.
func (r *EnrollmentRepo) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	var e models.Enrollment
	err := r.db.GetContext(ctx, &e, `SELECT * FROM enrollments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading enrollment %s: %w", id, err)
	}
	return &e, nil
}

// Advance moves the enrollment to newOrder with the given next fire time,
// incrementing total_attempts when dispatched is true. The step order is
// guarded against going backwards.
func (r *EnrollmentRepo) Advance(ctx context.Context, id string, newOrder int, nextFire time.Time, dispatched bool) error {
	attempts := 0
	if dispatched {
		attempts = 1
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET current_step_order = $2,
		    next_fire_time = $3,
		    total_attempts = total_attempts + $4,
		    updated_at = now()
		WHERE id = $1 AND current_step_order < $2`,
		id, newOrder, nextFire, attempts)
	if err != nil {
		return fmt.Errorf("advancing enrollment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("enrollment %s not advanced: step order would not increase", id)
	}
	return nil
}

// Reschedule sets only next_fire_time (gates deferring a step).
func (r *EnrollmentRepo) Reschedule(ctx context.Context, id string, nextFire time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET next_fire_time = $2, updated_at = now() WHERE id = $1`,
		id, nextFire)
	if err != nil {
		return fmt.Errorf("rescheduling enrollment %s: %w", id, err)
	}
	return nil
}

// SetTerminal moves the enrollment to a terminal status and clears
// next_fire_time, preserving the invariant that terminal enrollments
// never fire again.
func (r *EnrollmentRepo) SetTerminal(ctx context.Context, id string, status models.EnrollmentStatus, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = $2, status_reason = $3, next_fire_time = NULL, updated_at = now()
		WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return fmt.Errorf("terminating enrollment %s: %w", id, err)
	}
	return nil
}

// MarkBooked is the idempotent booking shortcut: sets appointment_booked,
// status booked, and clears next_fire_time.
func (r *EnrollmentRepo) MarkBooked(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET appointment_booked = true, status = 'booked',
		    next_fire_time = NULL, updated_at = now()
		WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("marking enrollment %s booked: %w", id, err)
	}
	return nil
}

// SetReplied records an inbound reply on the enrollment flags. Status
// is untouched: a replied enrollment stays schedulable, and whether a
// reply halts the sequence is decided per step by its skip conditions.
func (r *EnrollmentRepo) SetReplied(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET contact_replied = true,
		    updated_at = now()
		WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("marking enrollment %s replied: %w", id, err)
	}
	return nil
}

// SetAnsweredCall records that the contact answered a call.
func (r *EnrollmentRepo) SetAnsweredCall(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET answered_call = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking enrollment %s answered: %w", id, err)
	}
	return nil
}

// SetNeedsHuman sets or clears the human-intervention hold.
func (r *EnrollmentRepo) SetNeedsHuman(ctx context.Context, id string, needsHuman bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET needs_human = $2, updated_at = now() WHERE id = $1`,
		id, needsHuman)
	if err != nil {
		return fmt.Errorf("setting needs_human on enrollment %s: %w", id, err)
	}
	return nil
}

// SetEmotionalState replaces the cached emotional state.
func (r *EnrollmentRepo) SetEmotionalState(ctx context.Context, id string, state models.EmotionalState) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET emotional_state = $2, updated_at = now() WHERE id = $1`,
		id, state)
	if err != nil {
		return fmt.Errorf("updating emotional state on enrollment %s: %w", id, err)
	}
	return nil
}

// SetChannelOverrides replaces the healer's channel substitution map.
func (r *EnrollmentRepo) SetChannelOverrides(ctx context.Context, id string, overrides models.ChannelOverrides) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET channel_overrides = $2, updated_at = now() WHERE id = $1`,
		id, overrides)
	if err != nil {
		return fmt.Errorf("updating channel overrides on enrollment %s: %w", id, err)
	}
	return nil
}

// AppendFailure appends one failure record to the healing history.
func (r *EnrollmentRepo) AppendFailure(ctx context.Context, id string, rec models.FailureRecord) error {
	e, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	history := append(e.FailureHistory, rec)
	_, err = r.db.ExecContext(ctx, `
		UPDATE enrollments SET failure_history = $2, updated_at = now() WHERE id = $1`,
		id, models.FailureRecords(history))
	if err != nil {
		return fmt.Errorf("appending failure to enrollment %s: %w", id, err)
	}
	return nil
}
