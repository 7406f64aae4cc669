// Package eventproc consumes provider webhook events off the events
// queue: it records interactions idempotently, updates enrollment
// state, feeds the emotional analyzer, and routes failures to the
// self-healer.
package eventproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/clock"
	"github.com/cadencehq/cadence/pkg/convo"
	"github.com/cadencehq/cadence/pkg/coord"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/models"
)

type enrollmentStore interface {
	Get(ctx context.Context, id string) (*models.Enrollment, error)
	MarkBooked(ctx context.Context, id string) error
	SetReplied(ctx context.Context, id string) error
	SetAnsweredCall(ctx context.Context, id string) error
	SetNeedsHuman(ctx context.Context, id string, needsHuman bool) error
	SetEmotionalState(ctx context.Context, id string, state models.EmotionalState) error
	SetTerminal(ctx context.Context, id string, status models.EnrollmentStatus, reason string) error
}

type contactStore interface {
	Get(ctx context.Context, id string) (*models.Contact, error)
	SetEngagement(ctx context.Context, id string, score int, trend models.SentimentTrend) error
}

type interactionStore interface {
	Append(ctx context.Context, in *models.Interaction) (bool, error)
	UpdateOutcome(ctx context.Context, providerID, outcome, disposition string, duration int, analysisJSON []byte) error
	Recent(ctx context.Context, enrollmentID string, limit int) ([]models.Interaction, error)
	ExistsByProviderEvent(ctx context.Context, providerID, eventType string) (bool, error)
}

type auditStore interface {
	SlotReleaseRecorded(ctx context.Context, providerCallID string) (bool, error)
	LogExecution(ctx context.Context, entry models.ExecutionLogEntry) error
	MarkMutationOutcome(ctx context.Context, enrollmentID string, reply, conversion bool) error
	Notify(ctx context.Context, n models.Notification) error
}

type slotReleaser interface {
	Release(ctx context.Context, umbrellaID, tenantID string) error
}

type umbrellaResolver interface {
	Resolve(ctx context.Context, tenantID string) (*coord.ResolvedUmbrella, error)
}

// Call dispositions that count as the contact picking up.
var answeredDispositions = map[string]bool{
	"answered":  true,
	"completed": true,
	"ended":     true,
}

// End reasons that count as a dispatch failure for healing.
var failedEndReasons = map[string]bool{
	"no-answer": true,
	"busy":      true,
	"voicemail": true,
	"failed":    true,
}

// Processor is the event worker's handler.
type Processor struct {
	enrollments  enrollmentStore
	contacts     contactStore
	interactions interactionStore
	audit        auditStore
	ucm          slotReleaser
	tracker      *coord.SlotTracker
	resolver     umbrellaResolver
	analyzer     *convo.Analyzer
	memory       *convo.Builder
	bus          *jobs.Bus
	clock        *clock.Service
	locks        keyedLocks
	logger       *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(
	enrollments enrollmentStore,
	contacts contactStore,
	interactions interactionStore,
	audit auditStore,
	ucm slotReleaser,
	tracker *coord.SlotTracker,
	resolver umbrellaResolver,
	analyzer *convo.Analyzer,
	memory *convo.Builder,
	bus *jobs.Bus,
	clk *clock.Service,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		enrollments:  enrollments,
		contacts:     contacts,
		interactions: interactions,
		audit:        audit,
		ucm:          ucm,
		tracker:      tracker,
		resolver:     resolver,
		analyzer:     analyzer,
		memory:       memory,
		bus:          bus,
		clock:        clk,
		logger:       logger.With("component", "event_processor"),
	}
}

// Handle processes one event job. State updates for a single
// enrollment are serialized through a keyed lock.
func (p *Processor) Handle(ctx context.Context, job *jobs.Job) error {
	var ev jobs.EventJob
	if err := job.Decode(&ev); err != nil {
		p.logger.Error("dropping undecodable event job", "job_id", job.ID, "error", err)
		return nil
	}
	if ev.EnrollmentID == "" {
		p.logger.Warn("dropping event without enrollment correlation", "kind", ev.Kind, "provider_id", ev.ProviderID)
		return nil
	}

	mu := p.locks.lock(ev.EnrollmentID)
	defer mu.Unlock()

	enrollment, err := p.enrollments.Get(ctx, ev.EnrollmentID)
	if err != nil {
		return fmt.Errorf("loading enrollment %s: %w", ev.EnrollmentID, err)
	}
	contact, err := p.contacts.Get(ctx, enrollment.ContactID)
	if err != nil {
		return fmt.Errorf("loading contact %s: %w", enrollment.ContactID, err)
	}

	switch ev.Kind {
	case jobs.EventCallOutcome:
		return p.handleCallOutcome(ctx, &ev, enrollment, contact)
	case jobs.EventSMSReply:
		return p.handleSMSReply(ctx, &ev, enrollment, contact)
	case jobs.EventSMSDelivery:
		return p.handleSMSDelivery(ctx, &ev, enrollment)
	case jobs.EventEmailOpened, jobs.EventEmailClicked:
		return p.handleEmailEngagement(ctx, &ev, enrollment)
	case jobs.EventEmailBounced:
		return p.handleEmailBounce(ctx, &ev, enrollment)
	default:
		p.logger.Warn("unknown event kind", "kind", ev.Kind)
		return nil
	}
}

func (p *Processor) handleCallOutcome(ctx context.Context, ev *jobs.EventJob, enrollment *models.Enrollment, contact *models.Contact) error {
	// The execution log's slot-release record is the idempotence marker
	// for call outcomes: the slot is released on first delivery, and a
	// redelivered webhook stops here.
	first, err := p.releaseSlotOnce(ctx, ev, enrollment)
	if err != nil {
		return err
	}
	if !first {
		p.logger.Info("duplicate call outcome ignored", "provider_id", ev.ProviderID)
		return nil
	}

	// The voice worker already wrote the outbound interaction for this
	// call; the outcome finalizes that row rather than duplicating it.
	if err := p.interactions.UpdateOutcome(ctx, ev.ProviderID, "completed", ev.Disposition, ev.DurationSeconds, nil); err != nil {
		p.logger.Error("failed to update outbound call record", "provider_id", ev.ProviderID, "error", err)
	}

	if answeredDispositions[ev.Disposition] && ev.DurationSeconds > 0 {
		// Only an answered call counts as contact activity and gets an
		// inbound row; no-answer and busy outcomes live on the outbound
		// record alone.
		if _, err := p.interactions.Append(ctx, &models.Interaction{
			TenantID:        enrollment.TenantID,
			EnrollmentID:    enrollment.ID,
			ContactID:       contact.ID,
			Channel:         models.ChannelVoice,
			Direction:       models.DirectionInbound,
			Content:         ev.Transcript,
			Outcome:         ev.Disposition,
			CallDuration:    ev.DurationSeconds,
			CallDisposition: ev.Disposition,
			ProviderID:      ev.ProviderID,
			EventType:       string(ev.Kind),
		}); err != nil {
			return fmt.Errorf("recording answered call: %w", err)
		}
		if err := p.enrollments.SetAnsweredCall(ctx, enrollment.ID); err != nil {
			return fmt.Errorf("marking answered call: %w", err)
		}
	}

	if ev.AppointmentBooked {
		if err := p.markBooked(ctx, enrollment); err != nil {
			return err
		}
	}

	if len(ev.Transcript) > convo.MinTranscriptChars {
		analysis, err := p.analyzer.AnalyzeCall(ctx, ev.Transcript, ev.DurationSeconds, ev.Disposition)
		if err != nil {
			p.logger.Warn("transcript analysis unavailable", "enrollment_id", enrollment.ID, "error", err)
		} else {
			if err := p.applyAnalysis(ctx, enrollment, contact, analysis); err != nil {
				return err
			}
		}
	}

	if failedEndReasons[ev.EndedReason] {
		if _, err := p.bus.Enqueue(ctx, jobs.QueueHealing, jobs.HealingJob{
			EnrollmentID: enrollment.ID,
			StepOrder:    enrollment.CurrentStepOrder,
			Channel:      models.ChannelVoice,
			FailureType:  models.FailureCallFailed,
			Detail:       "call ended: " + ev.EndedReason,
		}, 0, 0); err != nil {
			return fmt.Errorf("enqueueing healing job: %w", err)
		}
	}
	return nil
}

// releaseSlotOnce gives back the umbrella slot held by this call,
// exactly once across webhook redeliveries. Returns false when a prior
// delivery already released it.
func (p *Processor) releaseSlotOnce(ctx context.Context, ev *jobs.EventJob, enrollment *models.Enrollment) (bool, error) {
	released, err := p.audit.SlotReleaseRecorded(ctx, ev.ProviderID)
	if err != nil {
		return false, fmt.Errorf("checking slot release: %w", err)
	}
	if released {
		return false, nil
	}

	umbrellaID := ev.UmbrellaID
	if umbrellaID == "" {
		resolved, err := p.resolver.Resolve(ctx, enrollment.TenantID)
		if err != nil {
			return false, fmt.Errorf("resolving umbrella for release: %w", err)
		}
		umbrellaID = resolved.UmbrellaID
	}
	if err := p.ucm.Release(ctx, umbrellaID, enrollment.TenantID); err != nil {
		return false, fmt.Errorf("releasing slot: %w", err)
	}
	p.tracker.Untrack(ev.ProviderID)

	if err := p.audit.LogExecution(ctx, models.ExecutionLogEntry{
		EnrollmentID:   enrollment.ID,
		Action:         models.ActionSlotReleased,
		Status:         "ok",
		ProviderCallID: ev.ProviderID,
	}); err != nil {
		return false, fmt.Errorf("recording slot release: %w", err)
	}
	return true, nil
}

func (p *Processor) handleSMSReply(ctx context.Context, ev *jobs.EventJob, enrollment *models.Enrollment, contact *models.Contact) error {
	// Replays short-circuit before the analyzer runs; the insert's
	// conflict arbiter below remains the atomic backstop.
	seen, err := p.interactions.ExistsByProviderEvent(ctx, ev.ProviderID, string(ev.Kind))
	if err != nil {
		return fmt.Errorf("checking sms reply replay: %w", err)
	}
	if seen {
		p.logger.Info("duplicate sms reply ignored", "provider_id", ev.ProviderID)
		return nil
	}

	mem, err := p.memory.Build(ctx, enrollment.ID, p.clock.Now())
	if err != nil {
		p.logger.Warn("conversation memory unavailable for analysis", "enrollment_id", enrollment.ID, "error", err)
		mem = nil
	}
	analysis, err := p.analyzer.AnalyzeInbound(ctx, ev.Body, models.ChannelSMS, mem)
	if err != nil {
		p.logger.Warn("reply analysis unavailable", "enrollment_id", enrollment.ID, "error", err)
	}

	interaction := &models.Interaction{
		TenantID:     enrollment.TenantID,
		EnrollmentID: enrollment.ID,
		ContactID:    contact.ID,
		Channel:      models.ChannelSMS,
		Direction:    models.DirectionInbound,
		Content:      ev.Body,
		Outcome:      "received",
		ProviderID:   ev.ProviderID,
		EventType:    string(ev.Kind),
	}
	if analysis != nil {
		interaction.Sentiment = convo.SentimentClass(analysis)
		interaction.Intent = analysis.Intent
		for _, o := range analysis.Objections {
			interaction.Objections = append(interaction.Objections, o.Type)
		}
		if raw, err := json.Marshal(analysis); err == nil {
			interaction.AnalysisJSON = raw
		}
	}
	inserted, err := p.interactions.Append(ctx, interaction)
	if err != nil {
		return fmt.Errorf("recording sms reply: %w", err)
	}
	if !inserted {
		p.logger.Info("duplicate sms reply ignored", "provider_id", ev.ProviderID)
		return nil
	}

	if err := p.enrollments.SetReplied(ctx, enrollment.ID); err != nil {
		return fmt.Errorf("marking replied: %w", err)
	}
	if err := p.audit.MarkMutationOutcome(ctx, enrollment.ID, true, false); err != nil {
		p.logger.Error("failed to attribute reply to mutation", "enrollment_id", enrollment.ID, "error", err)
	}

	if analysis != nil {
		if err := p.applyAnalysis(ctx, enrollment, contact, analysis); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) handleSMSDelivery(ctx context.Context, ev *jobs.EventJob, enrollment *models.Enrollment) error {
	inserted, err := p.interactions.Append(ctx, &models.Interaction{
		TenantID:     enrollment.TenantID,
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Channel:      models.ChannelSMS,
		// A delivery receipt reports on our own send and is not contact
		// activity, so it stays on the outbound side of the ledger.
		Direction:  models.DirectionOutbound,
		Content:    ev.DeliveryStatus,
		Outcome:    ev.DeliveryStatus,
		ProviderID: ev.ProviderID,
		EventType:  string(ev.Kind),
	})
	if err != nil {
		return fmt.Errorf("recording sms delivery status: %w", err)
	}
	if !inserted {
		return nil
	}

	if err := p.interactions.UpdateOutcome(ctx, ev.ProviderID, ev.DeliveryStatus, "", 0, nil); err != nil {
		p.logger.Error("failed to update outbound sms record", "provider_id", ev.ProviderID, "error", err)
	}

	if ev.DeliveryStatus == "undelivered" || ev.DeliveryStatus == "failed" {
		if _, err := p.bus.Enqueue(ctx, jobs.QueueHealing, jobs.HealingJob{
			EnrollmentID: enrollment.ID,
			StepOrder:    enrollment.CurrentStepOrder,
			Channel:      models.ChannelSMS,
			FailureType:  models.FailureSMSUndelivered,
			Detail:       "delivery status: " + ev.DeliveryStatus,
		}, 0, 0); err != nil {
			return fmt.Errorf("enqueueing healing job: %w", err)
		}
	}
	return nil
}

func (p *Processor) handleEmailEngagement(ctx context.Context, ev *jobs.EventJob, enrollment *models.Enrollment) error {
	_, err := p.interactions.Append(ctx, &models.Interaction{
		TenantID:     enrollment.TenantID,
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Channel:      models.ChannelEmail,
		Direction:    models.DirectionInbound,
		Outcome:      string(ev.Kind),
		ProviderID:   ev.ProviderID,
		EventType:    string(ev.Kind),
	})
	if err != nil {
		return fmt.Errorf("recording email engagement: %w", err)
	}
	return nil
}

func (p *Processor) handleEmailBounce(ctx context.Context, ev *jobs.EventJob, enrollment *models.Enrollment) error {
	inserted, err := p.interactions.Append(ctx, &models.Interaction{
		TenantID:     enrollment.TenantID,
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Channel:      models.ChannelEmail,
		// A bounce is a failed send, not contact activity.
		Direction:  models.DirectionOutbound,
		Outcome:    "bounced",
		ProviderID: ev.ProviderID,
		EventType:  string(ev.Kind),
	})
	if err != nil {
		return fmt.Errorf("recording email bounce: %w", err)
	}
	if !inserted {
		return nil
	}

	if _, err := p.bus.Enqueue(ctx, jobs.QueueHealing, jobs.HealingJob{
		EnrollmentID: enrollment.ID,
		StepOrder:    enrollment.CurrentStepOrder,
		Channel:      models.ChannelEmail,
		FailureType:  models.FailureEmailBounced,
		Detail:       "email bounced",
	}, 0, 0); err != nil {
		return fmt.Errorf("enqueueing healing job: %w", err)
	}
	return nil
}

// markBooked is the idempotent booking shortcut: terminal status,
// attribution, and nothing else.
func (p *Processor) markBooked(ctx context.Context, enrollment *models.Enrollment) error {
	if err := p.enrollments.MarkBooked(ctx, enrollment.ID); err != nil {
		return fmt.Errorf("marking booked: %w", err)
	}
	if enrollment.Status != models.StatusBooked {
		if err := p.audit.MarkMutationOutcome(ctx, enrollment.ID, false, true); err != nil {
			p.logger.Error("failed to attribute conversion to mutation", "enrollment_id", enrollment.ID, "error", err)
		}
		p.logger.Info("appointment booked", "enrollment_id", enrollment.ID)
	}
	return nil
}

// applyAnalysis folds a fresh verdict into the enrollment's cached
// emotional state, the contact's engagement score, and notifications.
func (p *Processor) applyAnalysis(ctx context.Context, enrollment *models.Enrollment, contact *models.Contact, analysis *llm.Analysis) error {
	now := p.clock.Now()
	recent, err := p.interactions.Recent(ctx, enrollment.ID, convo.HistoryWindow)
	if err != nil {
		return fmt.Errorf("loading recent interactions: %w", err)
	}

	engagement := convo.EngagementScore(recent, now)
	trend := convo.Trend(recent)
	state := convo.StateFromAnalysis(analysis, trend, engagement)

	if err := p.enrollments.SetEmotionalState(ctx, enrollment.ID, state); err != nil {
		return fmt.Errorf("caching emotional state: %w", err)
	}
	if err := p.contacts.SetEngagement(ctx, contact.ID, engagement, trend); err != nil {
		return fmt.Errorf("updating contact engagement: %w", err)
	}
	if analysis.NeedsHuman && !enrollment.NeedsHuman {
		if err := p.enrollments.SetNeedsHuman(ctx, enrollment.ID, true); err != nil {
			return fmt.Errorf("flagging needs human: %w", err)
		}
	}

	p.notify(ctx, enrollment, analysis)

	if analysis.Intent == llm.IntentStop {
		if err := p.enrollments.SetTerminal(ctx, enrollment.ID, models.StatusManualStop, "contact asked to stop"); err != nil {
			return fmt.Errorf("stopping enrollment: %w", err)
		}
		p.logger.Info("stop intent honored", "enrollment_id", enrollment.ID)
	}
	return nil
}

func (p *Processor) notify(ctx context.Context, enrollment *models.Enrollment, analysis *llm.Analysis) {
	emit := func(kind models.NotificationKind, message string) {
		if err := p.audit.Notify(ctx, models.Notification{
			TenantID:     enrollment.TenantID,
			EnrollmentID: enrollment.ID,
			Kind:         kind,
			Message:      message,
		}); err != nil {
			p.logger.Error("failed to write notification", "kind", kind, "enrollment_id", enrollment.ID, "error", err)
		}
	}

	if analysis.IsHotLead {
		emit(models.NotifyHotLead, "contact is showing strong buying interest")
	}
	if analysis.NeedsHuman {
		emit(models.NotifyNeedsHuman, "conversation needs human attention")
	}
	for _, o := range analysis.Objections {
		if o.Severity == "strong" {
			emit(models.NotifyObjectionDetected, "strong objection: "+o.Type)
		}
	}
	if analysis.IsAtRisk {
		emit(models.NotifyAtRisk, "relationship is at risk of going cold")
	}
}
