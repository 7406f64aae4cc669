package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cadencehq/cadence/pkg/models"
)

// AuditRepo owns the append-only audit tables: execution log, healing
// log, mutation records, and notifications.
type AuditRepo struct {
	db *sqlx.DB
}

// NewAuditRepo creates the repository.
func NewAuditRepo(db *sqlx.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// LogExecution appends one execution-log entry.
func (r *AuditRepo) LogExecution(ctx context.Context, entry models.ExecutionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO execution_log (id, enrollment_id, step_id, action, status, detail, provider_call_id, created_at)
		VALUES (:id, :enrollment_id, :step_id, :action, :status, :detail, :provider_call_id, now())`,
		entry)
	if err != nil {
		return fmt.Errorf("writing execution log: %w", err)
	}
	return nil
}

// SlotReleaseRecorded reports whether a slot release for this provider
// call id was already logged. Used to release each call's slot exactly
// once even when end-of-call events are redelivered.
func (r *AuditRepo) SlotReleaseRecorded(ctx context.Context, providerCallID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM execution_log
			WHERE provider_call_id = $1 AND action = $2
		)`, providerCallID, models.ActionSlotReleased)
	if err != nil {
		return false, fmt.Errorf("checking slot release for call %s: %w", providerCallID, err)
	}
	return exists, nil
}

// LogHealing appends one healing-log entry.
func (r *AuditRepo) LogHealing(ctx context.Context, entry models.HealingLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO healing_log (id, enrollment_id, step_order, failure_type, action, detail, created_at)
		VALUES (:id, :enrollment_id, :step_order, :failure_type, :action, :detail, now())`,
		entry)
	if err != nil {
		return fmt.Errorf("writing healing log: %w", err)
	}
	return nil
}

// SaveMutation appends one mutation audit record.
func (r *AuditRepo) SaveMutation(ctx context.Context, rec models.MutationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO mutations (
			id, enrollment_id, step_id, original_content, mutated_content,
			confidence, aggressiveness, model, resulted_in_reply,
			resulted_in_conversion, created_at
		) VALUES (
			:id, :enrollment_id, :step_id, :original_content, :mutated_content,
			:confidence, :aggressiveness, :model, :resulted_in_reply,
			:resulted_in_conversion, now()
		)`,
		rec)
	if err != nil {
		return fmt.Errorf("writing mutation record: %w", err)
	}
	return nil
}

// MarkMutationOutcome flags the latest mutation of an enrollment as
// having produced a reply or a conversion, for attribution.
func (r *AuditRepo) MarkMutationOutcome(ctx context.Context, enrollmentID string, reply, conversion bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mutations
		SET resulted_in_reply = resulted_in_reply OR $2,
		    resulted_in_conversion = resulted_in_conversion OR $3
		WHERE id = (
			SELECT id FROM mutations WHERE enrollment_id = $1
			ORDER BY created_at DESC LIMIT 1
		)`, enrollmentID, reply, conversion)
	if err != nil {
		return fmt.Errorf("marking mutation outcome: %w", err)
	}
	return nil
}

// Notify writes one notification for external UI consumption.
func (r *AuditRepo) Notify(ctx context.Context, n models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, enrollment_id, kind, message, read, created_at)
		VALUES (:id, :tenant_id, :enrollment_id, :kind, :message, false, now())`,
		n)
	if err != nil {
		return fmt.Errorf("writing notification: %w", err)
	}
	return nil
}
