// Package scheduler runs the tick loop that finds due enrollments,
// gates them through compliance and healing checks, renders and
// dispatches their next step, and advances their state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/clock"
	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/content"
	"github.com/cadencehq/cadence/pkg/convo"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/store"
)

type enrollmentSource interface {
	Due(ctx context.Context, now time.Time, limit int) ([]models.Enrollment, error)
	Advance(ctx context.Context, id string, newOrder int, nextFire time.Time, dispatched bool) error
	Reschedule(ctx context.Context, id string, nextFire time.Time) error
	SetTerminal(ctx context.Context, id string, status models.EnrollmentStatus, reason string) error
}

type sequenceSource interface {
	Get(ctx context.Context, id string) (*models.Sequence, error)
	Step(ctx context.Context, sequenceID string, order int) (*models.Step, error)
	ActiveVariants(ctx context.Context, stepID string) ([]models.StepVariant, error)
	RecordVariantSent(ctx context.Context, variantID string) error
}

type contactSource interface {
	Get(ctx context.Context, id string) (*models.Contact, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
}

type executionLogger interface {
	LogExecution(ctx context.Context, entry models.ExecutionLogEntry) error
}

type busEnqueuer interface {
	Enqueue(ctx context.Context, queue string, payload any, priority int, delay time.Duration) (*jobs.Job, error)
}

// Scheduler is the single-threaded tick loop.
type Scheduler struct {
	cfg         config.SchedulerConfig
	enrollments enrollmentSource
	sequences   sequenceSource
	contacts    contactSource
	audit       executionLogger
	bus         busEnqueuer
	clock       *clock.Service
	healer      *content.Healer
	mutator     *content.Mutator
	picker      *content.Picker
	memory      *convo.Builder
	logger      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler.
func New(
	cfg config.SchedulerConfig,
	enrollments enrollmentSource,
	sequences sequenceSource,
	contacts contactSource,
	audit executionLogger,
	bus busEnqueuer,
	clk *clock.Service,
	healer *content.Healer,
	mutator *content.Mutator,
	memory *convo.Builder,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		enrollments: enrollments,
		sequences:   sequences,
		contacts:    contacts,
		audit:       audit,
		bus:         bus,
		clock:       clk,
		healer:      healer,
		mutator:     mutator,
		picker:      content.NewPicker(),
		memory:      memory,
		logger:      logger.With("component", "scheduler"),
	}
}

// Start launches the tick loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval, "batch_size", s.cfg.BatchSize)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes one batch of due enrollments. Failures inside one
// enrollment never affect the rest of the batch.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.clock.Now()
	due, err := s.enrollments.Due(ctx, start, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to load due enrollments", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	for i := range due {
		if err := s.processEnrollment(ctx, &due[i]); err != nil {
			s.logger.Error("enrollment processing failed",
				"enrollment_id", due[i].ID, "error", err)
		}
	}

	elapsed := s.clock.Now().Sub(start)
	if elapsed > s.cfg.PollInterval {
		s.logger.Warn("tick exceeded poll interval, scheduler is falling behind",
			"elapsed", elapsed, "poll_interval", s.cfg.PollInterval, "batch", len(due))
	}
}

func (s *Scheduler) processEnrollment(ctx context.Context, e *models.Enrollment) error {
	now := s.clock.Now()

	seq, err := s.sequences.Get(ctx, e.SequenceID)
	if err != nil {
		return fmt.Errorf("loading sequence %s: %w", e.SequenceID, err)
	}

	if seq.TimeoutHours > 0 && now.Sub(e.EnrolledAt) > time.Duration(seq.TimeoutHours)*time.Hour {
		if err := s.enrollments.SetTerminal(ctx, e.ID, models.StatusFailed, "timeout"); err != nil {
			return fmt.Errorf("timing out enrollment: %w", err)
		}
		s.logger.Info("enrollment timed out", "enrollment_id", e.ID, "timeout_hours", seq.TimeoutHours)
		return nil
	}

	nextOrder := e.CurrentStepOrder + 1
	step, err := s.sequences.Step(ctx, e.SequenceID, nextOrder)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.enrollments.SetTerminal(ctx, e.ID, models.StatusCompleted, "sequence exhausted"); err != nil {
			return fmt.Errorf("completing enrollment: %w", err)
		}
		s.logger.Info("enrollment completed", "enrollment_id", e.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading step %d: %w", nextOrder, err)
	}

	if e.NeedsHuman {
		// A human owns the conversation; the enrollment sits untouched
		// until an external action clears the flag or closes it out.
		s.logger.Debug("enrollment held for human", "enrollment_id", e.ID)
		return nil
	}

	if reason := s.skipReason(e, step); reason != "" {
		return s.skipStep(ctx, e, step, reason, now)
	}

	contact, err := s.contacts.Get(ctx, e.ContactID)
	if err != nil {
		return fmt.Errorf("loading contact %s: %w", e.ContactID, err)
	}
	tenant, err := s.contacts.GetTenant(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("loading tenant %s: %w", e.TenantID, err)
	}

	channel := s.healer.EffectiveChannel(e, step.Channel)

	if deferred, until := s.gateWindows(seq, tenant, channel, now); deferred {
		if err := s.enrollments.Reschedule(ctx, e.ID, until); err != nil {
			return fmt.Errorf("deferring to send window: %w", err)
		}
		s.logger.Info("dispatch deferred to send window",
			"enrollment_id", e.ID, "channel", channel, "until", until)
		return nil
	}

	// Memory assembly is best-effort; a step still goes out with bare
	// template variables when history cannot be loaded.
	mem, err := s.memory.Build(ctx, e.ID, now)
	if err != nil {
		s.logger.Warn("conversation memory unavailable", "enrollment_id", e.ID, "error", err)
		mem = nil
	}

	payload, variantID := s.buildContent(ctx, tenant, seq, step, e, contact, mem, channel)

	if validity := s.healer.CheckContactValidity(contact, channel); !validity.Valid {
		if _, err := s.bus.Enqueue(ctx, jobs.QueueHealing, jobs.HealingJob{
			EnrollmentID: e.ID,
			StepOrder:    e.CurrentStepOrder,
			Channel:      channel,
			FailureType:  validity.FailureType,
			Detail:       validity.Reason,
		}, 0, 0); err != nil {
			return fmt.Errorf("enqueueing healing job: %w", err)
		}
		s.logger.Warn("contact not addressable, healing queued",
			"enrollment_id", e.ID, "channel", channel, "failure_type", validity.FailureType)
		return nil
	}

	if err := s.dispatch(ctx, e, seq, step, contact, mem, channel, payload); err != nil {
		// Not advanced; the enrollment stays due and retries next tick.
		return fmt.Errorf("dispatching step %d: %w", nextOrder, err)
	}

	if variantID != "" {
		if err := s.sequences.RecordVariantSent(ctx, variantID); err != nil {
			s.logger.Error("failed to count variant send", "variant_id", variantID, "error", err)
		}
	}
	if err := s.audit.LogExecution(ctx, models.ExecutionLogEntry{
		EnrollmentID: e.ID,
		StepID:       step.ID,
		Action:       models.ActionStepDispatched,
		Status:       "ok",
		Detail:       string(channel),
	}); err != nil {
		s.logger.Error("failed to log dispatch", "enrollment_id", e.ID, "error", err)
	}

	return s.advance(ctx, e, nextOrder, now, true)
}

// skipReason returns the matched skip condition, or empty when the
// step should go out.
func (s *Scheduler) skipReason(e *models.Enrollment, step *models.Step) string {
	for _, cond := range step.SkipConditions {
		switch cond {
		case "contact_replied":
			if e.ContactReplied {
				return cond
			}
		case "contact_answered_call":
			if e.AnsweredCall {
				return cond
			}
		case "appointment_booked":
			if e.AppointmentBooked {
				return cond
			}
		}
	}
	return ""
}

func (s *Scheduler) skipStep(ctx context.Context, e *models.Enrollment, step *models.Step, reason string, now time.Time) error {
	if err := s.audit.LogExecution(ctx, models.ExecutionLogEntry{
		EnrollmentID: e.ID,
		StepID:       step.ID,
		Action:       models.ActionStepSkipped,
		Status:       "ok",
		Detail:       reason,
	}); err != nil {
		s.logger.Error("failed to log skip", "enrollment_id", e.ID, "error", err)
	}
	s.logger.Info("step skipped", "enrollment_id", e.ID, "step_order", step.StepOrder, "reason", reason)
	return s.advance(ctx, e, step.StepOrder, now, false)
}

// gateWindows applies the tenant business-hours window and the fixed
// regulatory window. Email is exempt from both; the regulatory window
// cannot be configured away.
func (s *Scheduler) gateWindows(seq *models.Sequence, tenant *models.Tenant, channel models.Channel, now time.Time) (bool, time.Time) {
	if channel == models.ChannelEmail {
		return false, time.Time{}
	}
	if seq.RespectBusinessHours && !s.clock.InBusinessWindow(tenant.Timezone, tenant.BusinessHours, now) {
		return true, s.clock.NextBusinessWindow(tenant.Timezone, tenant.BusinessHours, now)
	}
	if !s.clock.InComplianceWindow(tenant.Timezone, now) {
		return true, s.clock.NextComplianceWindow(tenant.Timezone, now)
	}
	return false, time.Time{}
}

// buildContent runs variant selection, rendering, and mutation, and
// returns the final payload plus the selected variant id (empty when
// the authored content was used).
func (s *Scheduler) buildContent(
	ctx context.Context,
	tenant *models.Tenant,
	seq *models.Sequence,
	step *models.Step,
	e *models.Enrollment,
	contact *models.Contact,
	mem *convo.Memory,
	channel models.Channel,
) (models.StepContent, string) {
	var memVars, toneVars map[string]string
	if mem != nil {
		memVars = mem.TemplateVariables()
	}
	toneVars = convo.ToneVariables(e.Emotional.EmotionalStateCache)
	vars := content.MergeVariables(
		content.ContactVariables(contact),
		contact.CustomFields,
		e.CustomVariables,
		memVars,
		toneVars,
	)

	chosen := step.Content
	variantID := ""
	if variants, err := s.sequences.ActiveVariants(ctx, step.ID); err != nil {
		s.logger.Error("failed to load variants", "step_id", step.ID, "error", err)
	} else if v := s.picker.Pick(variants); v != nil {
		chosen = v.Content
		variantID = v.ID
	}

	chosen = content.AdaptToChannel(chosen, channel, seq.Name)
	rendered := content.Render(chosen, vars)

	if content.Eligible(seq, step, e, mem) {
		rendered, _ = s.mutator.Apply(ctx, tenant, seq, step, e, mem, rendered, vars)
	}
	return rendered, variantID
}

func (s *Scheduler) dispatch(
	ctx context.Context,
	e *models.Enrollment,
	seq *models.Sequence,
	step *models.Step,
	contact *models.Contact,
	mem *convo.Memory,
	channel models.Channel,
	payload models.StepContent,
) error {
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid step content: %w", err)
	}
	switch channel {
	case models.ChannelVoice:
		voice := *payload.Voice
		voice.SystemPrompt = appendVoiceContext(voice.SystemPrompt, mem, e.Emotional.EmotionalStateCache)
		_, err := s.bus.Enqueue(ctx, jobs.QueueVoice, jobs.VoiceJob{
			TenantID:     e.TenantID,
			EnrollmentID: e.ID,
			StepID:       step.ID,
			ContactID:    contact.ID,
			Phone:        contact.Phone,
			Content:      voice,
			Priority:     seq.Urgency.QueuePriority(),
		}, seq.Urgency.QueuePriority(), 0)
		return err
	case models.ChannelSMS:
		_, err := s.bus.Enqueue(ctx, jobs.QueueSMS, jobs.SMSJob{
			TenantID:     e.TenantID,
			EnrollmentID: e.ID,
			StepID:       step.ID,
			ContactID:    contact.ID,
			Phone:        contact.Phone,
			Body:         payload.SMS.Body,
		}, seq.Urgency.QueuePriority(), 0)
		return err
	case models.ChannelEmail:
		to := ""
		if contact.Email != nil {
			to = *contact.Email
		}
		_, err := s.bus.Enqueue(ctx, jobs.QueueEmail, jobs.EmailJob{
			TenantID:     e.TenantID,
			EnrollmentID: e.ID,
			StepID:       step.ID,
			ContactID:    contact.ID,
			To:           to,
			Subject:      payload.Email.Subject,
			HTMLBody:     payload.Email.HTMLBody,
			TextBody:     payload.Email.TextBody,
		}, seq.Urgency.QueuePriority(), 0)
		return err
	default:
		return fmt.Errorf("unknown dispatch channel %q", channel)
	}
}

// advance moves the enrollment to newOrder and schedules the step
// after it, stretched or compressed by the emotional delay multiplier.
// When no further step exists the enrollment fires again immediately
// and the next tick transitions it to completed.
func (s *Scheduler) advance(ctx context.Context, e *models.Enrollment, newOrder int, now time.Time, dispatched bool) error {
	nextFire := now
	next, err := s.sequences.Step(ctx, e.SequenceID, newOrder+1)
	if err == nil {
		m := DelayMultiplier(e.Emotional.EmotionalStateCache)
		delay := time.Duration(float64(next.DelaySeconds) * m * float64(time.Second))
		nextFire = now.Add(delay)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading step %d: %w", newOrder+1, err)
	}

	if err := s.enrollments.Advance(ctx, e.ID, newOrder, nextFire, dispatched); err != nil {
		return fmt.Errorf("advancing enrollment: %w", err)
	}
	e.CurrentStepOrder = newOrder
	return nil
}

// DelayMultiplier maps the cached emotional state onto the delay
// stretch factor for the next step. Conditions are evaluated in order;
// the first match wins.
func DelayMultiplier(state models.EmotionalStateCache) float64 {
	switch {
	case state.IsHotLead && state.SentimentTrend == models.TrendHot:
		return 0.6
	case state.SentimentTrend == models.TrendWarming || state.SentimentTrend == models.TrendHot:
		return 0.8
	case state.SentimentTrend == models.TrendCooling:
		return 1.5
	case state.SentimentTrend == models.TrendCold:
		return 2.0
	case state.LastEmotion == "angry" || state.LastEmotion == "frustrated":
		return 1.8
	case state.IsAtRisk:
		return 1.3
	default:
		return 1.0
	}
}

// appendVoiceContext attaches the conversation timeline and the tone
// directive to the assistant's system prompt.
func appendVoiceContext(systemPrompt string, mem *convo.Memory, state models.EmotionalStateCache) string {
	if mem != nil && mem.FormattedTimeline != "" {
		systemPrompt += "\n\nConversation so far:\n" + mem.FormattedTimeline
	}
	if directive := convo.ToneDirective(state); directive != "" {
		systemPrompt += "\n\n" + directive
	}
	return systemPrompt
}
