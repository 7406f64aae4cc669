package eventproc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/content"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/models"
)

type healingContactStore interface {
	Get(ctx context.Context, id string) (*models.Contact, error)
}

type healingEnrollmentStore interface {
	Get(ctx context.Context, id string) (*models.Enrollment, error)
}

// HealingHandler drains the healing queue into the self-healer. It
// shares the per-enrollment locks with the event processor so a heal
// cannot race a state update for the same enrollment.
type HealingHandler struct {
	enrollments healingEnrollmentStore
	contacts    healingContactStore
	healer      *content.Healer
	locks       *keyedLocks
	logger      *slog.Logger
}

// NewHealingHandler creates a HealingHandler bound to the processor's
// lock table.
func NewHealingHandler(enrollments healingEnrollmentStore, contacts healingContactStore, healer *content.Healer, processor *Processor, logger *slog.Logger) *HealingHandler {
	return &HealingHandler{
		enrollments: enrollments,
		contacts:    contacts,
		healer:      healer,
		locks:       &processor.locks,
		logger:      logger.With("component", "healing_handler"),
	}
}

// Handle applies one healing decision for one recorded failure.
func (h *HealingHandler) Handle(ctx context.Context, job *jobs.Job) error {
	var hj jobs.HealingJob
	if err := job.Decode(&hj); err != nil {
		h.logger.Error("dropping undecodable healing job", "job_id", job.ID, "error", err)
		return nil
	}

	mu := h.locks.lock(hj.EnrollmentID)
	defer mu.Unlock()

	enrollment, err := h.enrollments.Get(ctx, hj.EnrollmentID)
	if err != nil {
		return fmt.Errorf("loading enrollment %s: %w", hj.EnrollmentID, err)
	}
	if enrollment.Status.Terminal() {
		h.logger.Info("skipping heal for terminal enrollment",
			"enrollment_id", enrollment.ID, "status", enrollment.Status)
		return nil
	}
	contact, err := h.contacts.Get(ctx, enrollment.ContactID)
	if err != nil {
		return fmt.Errorf("loading contact %s: %w", enrollment.ContactID, err)
	}

	action, err := h.healer.HandleFailure(ctx, enrollment, contact, hj.Channel, hj.FailureType, hj.Detail)
	if err != nil {
		return fmt.Errorf("healing enrollment %s: %w", enrollment.ID, err)
	}
	h.logger.Info("failure healed",
		"enrollment_id", enrollment.ID, "failure_type", hj.FailureType, "action", action)
	return nil
}
