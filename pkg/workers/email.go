package workers

import (
	"context"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/providers"
)

// EmailSender sends one email and returns the provider id.
type EmailSender interface {
	Send(ctx context.Context, msg providers.EmailMessage) (string, error)
}

// EmailWorker drains the email queue with the same retry/heal policy
// as the sms worker.
type EmailWorker struct {
	sms          *SMSWorker // shared failure policy
	sender       EmailSender
	interactions interactionAppender
	logger       *slog.Logger
}

// NewEmailWorker creates an EmailWorker.
func NewEmailWorker(cfg config.WorkerConfig, sender EmailSender, bus *jobs.Bus, audit executionLogger, interactions interactionAppender, logger *slog.Logger) *EmailWorker {
	return &EmailWorker{
		sms:          NewSMSWorker(cfg, nil, bus, audit, interactions, logger),
		sender:       sender,
		interactions: interactions,
		logger:       logger.With("component", "email_worker"),
	}
}

// Handle processes one email job.
func (w *EmailWorker) Handle(ctx context.Context, job *jobs.Job) error {
	var ej jobs.EmailJob
	if err := job.Decode(&ej); err != nil {
		w.logger.Error("dropping undecodable email job", "job_id", job.ID, "error", err)
		return nil
	}

	providerID, err := w.sender.Send(ctx, providers.EmailMessage{
		To:           ej.To,
		Subject:      ej.Subject,
		HTMLBody:     ej.HTMLBody,
		TextBody:     ej.TextBody,
		EnrollmentID: ej.EnrollmentID,
		StepID:       ej.StepID,
	})
	if err != nil {
		return w.sms.handleSendFailure(ctx, job, ej.EnrollmentID, models.ChannelEmail, err,
			models.FailureEmailBounced, models.FailureEmailBounced)
	}

	if _, err := w.interactions.Append(ctx, &models.Interaction{
		TenantID:     ej.TenantID,
		EnrollmentID: ej.EnrollmentID,
		ContactID:    ej.ContactID,
		Channel:      models.ChannelEmail,
		Direction:    models.DirectionOutbound,
		Content:      ej.TextBody,
		Outcome:      "sent",
		ProviderID:   providerID,
		EventType:    "message_sent",
	}); err != nil {
		w.logger.Error("failed to record outbound email interaction", "enrollment_id", ej.EnrollmentID, "error", err)
	}
	w.logger.Info("email sent", "enrollment_id", ej.EnrollmentID, "provider_id", providerID)
	return nil
}
