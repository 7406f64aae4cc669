package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/providers"
)

const sendRetryBase = 30 * time.Second

// SMSSender sends one text message and returns the provider id.
type SMSSender interface {
	Send(ctx context.Context, to, body, enrollmentID, stepID string) (string, error)
}

// SMSWorker drains the sms queue: send, record the interaction, retry
// transient provider errors with exponential backoff, and route
// permanent failures to the self-healer.
type SMSWorker struct {
	cfg          config.WorkerConfig
	sender       SMSSender
	bus          *jobs.Bus
	audit        executionLogger
	interactions interactionAppender
	logger       *slog.Logger
}

// NewSMSWorker creates an SMSWorker.
func NewSMSWorker(cfg config.WorkerConfig, sender SMSSender, bus *jobs.Bus, audit executionLogger, interactions interactionAppender, logger *slog.Logger) *SMSWorker {
	return &SMSWorker{
		cfg:          cfg,
		sender:       sender,
		bus:          bus,
		audit:        audit,
		interactions: interactions,
		logger:       logger.With("component", "sms_worker"),
	}
}

// Handle processes one sms job.
func (w *SMSWorker) Handle(ctx context.Context, job *jobs.Job) error {
	var sj jobs.SMSJob
	if err := job.Decode(&sj); err != nil {
		w.logger.Error("dropping undecodable sms job", "job_id", job.ID, "error", err)
		return nil
	}

	providerID, err := w.sender.Send(ctx, sj.Phone, sj.Body, sj.EnrollmentID, sj.StepID)
	if err != nil {
		return w.handleSendFailure(ctx, job, sj.EnrollmentID, models.ChannelSMS, err,
			models.FailureInvalidNumber, models.FailureSMSUndelivered)
	}

	if _, err := w.interactions.Append(ctx, &models.Interaction{
		TenantID:     sj.TenantID,
		EnrollmentID: sj.EnrollmentID,
		ContactID:    sj.ContactID,
		Channel:      models.ChannelSMS,
		Direction:    models.DirectionOutbound,
		Content:      sj.Body,
		Outcome:      "sent",
		ProviderID:   providerID,
		EventType:    "message_sent",
	}); err != nil {
		w.logger.Error("failed to record outbound sms interaction", "enrollment_id", sj.EnrollmentID, "error", err)
	}
	w.logger.Info("sms sent", "enrollment_id", sj.EnrollmentID, "provider_id", providerID)
	return nil
}

// handleSendFailure implements the shared retry/heal policy for the
// send-only channels. Permanent provider rejections heal immediately;
// transient errors retry with exponential backoff until the attempt
// budget runs out, then heal as an undeliverable.
func (w *SMSWorker) handleSendFailure(
	ctx context.Context,
	job *jobs.Job,
	enrollmentID string,
	channel models.Channel,
	sendErr error,
	permanentFailure, exhaustedFailure models.FailureType,
) error {
	var provErr *providers.Error
	permanent := errors.As(sendErr, &provErr) && provErr.Permanent()

	if !permanent && job.Attempt < w.cfg.MaxSendAttempts {
		delay := sendRetryBase * (1 << job.Attempt)
		if err := w.bus.Requeue(ctx, job, delay); err != nil {
			return fmt.Errorf("requeueing %s send: %w", channel, err)
		}
		w.logger.Warn("send failed, retrying",
			"channel", channel, "enrollment_id", enrollmentID,
			"attempt", job.Attempt, "delay", delay, "error", sendErr)
		return nil
	}

	failureType := exhaustedFailure
	if permanent {
		failureType = permanentFailure
	}
	if _, err := w.bus.Enqueue(ctx, jobs.QueueHealing, jobs.HealingJob{
		EnrollmentID: enrollmentID,
		Channel:      channel,
		FailureType:  failureType,
		Detail:       sendErr.Error(),
	}, 0, 0); err != nil {
		return fmt.Errorf("enqueueing healing job: %w", err)
	}
	w.logger.Warn("send failed permanently, healing queued",
		"channel", channel, "enrollment_id", enrollmentID, "failure_type", failureType, "error", sendErr)
	return nil
}
