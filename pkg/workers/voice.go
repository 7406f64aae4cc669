package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/coord"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/providers"
)

// CallPlacer places calls with the voice provider.
type CallPlacer interface {
	InitiateCall(ctx context.Context, in providers.CallRequest) (string, error)
}

// UmbrellaResolver maps a tenant to its resolved umbrella assignment.
type UmbrellaResolver interface {
	Resolve(ctx context.Context, tenantID string) (*coord.ResolvedUmbrella, error)
}

type executionLogger interface {
	LogExecution(ctx context.Context, entry models.ExecutionLogEntry) error
}

type interactionAppender interface {
	Append(ctx context.Context, in *models.Interaction) (bool, error)
}

// VoiceWorker drains the voice queue: acquire a slot under the
// umbrella limit, place the call, persist the execution record. The
// slot is released by the end-of-call webhook, never here on success.
type VoiceWorker struct {
	cfg          config.VoiceConfig
	resolver     UmbrellaResolver
	ucm          *coord.Manager
	tracker      *coord.SlotTracker
	placer       CallPlacer
	bus          *jobs.Bus
	audit        executionLogger
	interactions interactionAppender
	logger       *slog.Logger
}

// NewVoiceWorker creates a VoiceWorker.
func NewVoiceWorker(
	cfg config.VoiceConfig,
	resolver UmbrellaResolver,
	ucm *coord.Manager,
	tracker *coord.SlotTracker,
	placer CallPlacer,
	bus *jobs.Bus,
	audit executionLogger,
	interactions interactionAppender,
	logger *slog.Logger,
) *VoiceWorker {
	return &VoiceWorker{
		cfg:          cfg,
		resolver:     resolver,
		ucm:          ucm,
		tracker:      tracker,
		placer:       placer,
		bus:          bus,
		audit:        audit,
		interactions: interactions,
		logger:       logger.With("component", "voice_worker"),
	}
}

// Handle processes one voice job. A nil return acks the job; capacity
// rejections and provider failures are handled here, not redelivered.
func (w *VoiceWorker) Handle(ctx context.Context, job *jobs.Job) error {
	var vj jobs.VoiceJob
	if err := job.Decode(&vj); err != nil {
		w.logger.Error("dropping undecodable voice job", "job_id", job.ID, "error", err)
		return nil
	}

	umbrella, err := w.resolver.Resolve(ctx, vj.TenantID)
	if err != nil {
		return fmt.Errorf("resolving umbrella for tenant %s: %w", vj.TenantID, err)
	}

	result, err := w.ucm.TryAcquire(ctx, umbrella.UmbrellaID, vj.TenantID, umbrella.Limit, umbrella.TenantCap)
	if err != nil {
		return fmt.Errorf("acquiring slot: %w", err)
	}
	if result.Rejected() {
		return w.handleRejection(ctx, &vj, result)
	}

	callID, err := w.placer.InitiateCall(ctx, providers.CallRequest{
		APIKey:       umbrella.ProviderAPIKey,
		Phone:        vj.Phone,
		Content:      vj.Content,
		TenantID:     vj.TenantID,
		UmbrellaID:   umbrella.UmbrellaID,
		EnrollmentID: vj.EnrollmentID,
		StepID:       vj.StepID,
	})
	if err != nil {
		return w.handleProviderFailure(ctx, &vj, umbrella, err)
	}

	w.tracker.Track(callID, umbrella.UmbrellaID, vj.TenantID)
	if err := w.audit.LogExecution(ctx, models.ExecutionLogEntry{
		EnrollmentID:   vj.EnrollmentID,
		StepID:         vj.StepID,
		Action:         models.ActionCallInitiated,
		Status:         "ok",
		ProviderCallID: callID,
	}); err != nil {
		w.logger.Error("failed to log call initiation", "enrollment_id", vj.EnrollmentID, "error", err)
	}
	if _, err := w.interactions.Append(ctx, &models.Interaction{
		TenantID:     vj.TenantID,
		EnrollmentID: vj.EnrollmentID,
		ContactID:    vj.ContactID,
		Channel:      models.ChannelVoice,
		Direction:    models.DirectionOutbound,
		Content:      vj.Content.FirstMessage,
		Outcome:      "delivered",
		ProviderID:   callID,
		EventType:    "call_initiated",
	}); err != nil {
		w.logger.Error("failed to record outbound call interaction", "enrollment_id", vj.EnrollmentID, "error", err)
	}

	w.logger.Info("call placed",
		"enrollment_id", vj.EnrollmentID, "call_id", callID, "umbrella_id", umbrella.UmbrellaID)
	return nil
}

// handleRejection re-queues the job with a linearly growing delay, or
// gives up after the retry budget and records the skip.
func (w *VoiceWorker) handleRejection(ctx context.Context, vj *jobs.VoiceJob, result coord.AcquireResult) error {
	if vj.Retry < w.cfg.MaxRetries {
		retried := *vj
		retried.Retry++
		delay := w.cfg.RetryDelay * time.Duration(retried.Retry)
		if _, err := w.bus.Enqueue(ctx, jobs.QueueVoice, retried, vj.Priority, delay); err != nil {
			return fmt.Errorf("requeueing capacity-rejected call: %w", err)
		}
		w.logger.Info("capacity rejection, call requeued",
			"enrollment_id", vj.EnrollmentID, "reason", result, "retry", retried.Retry, "delay", delay)
		return nil
	}

	if err := w.audit.LogExecution(ctx, models.ExecutionLogEntry{
		EnrollmentID: vj.EnrollmentID,
		StepID:       vj.StepID,
		Action:       models.ActionSkippedCapacity,
		Status:       "capacity_exhausted",
		Detail:       fmt.Sprintf("dropped after %d acquisition attempts: %s", vj.Retry+1, result),
	}); err != nil {
		w.logger.Error("failed to log capacity skip", "enrollment_id", vj.EnrollmentID, "error", err)
	}
	w.logger.Warn("call dropped after repeated capacity rejections",
		"enrollment_id", vj.EnrollmentID, "reason", result)
	return nil
}

// handleProviderFailure releases the just-acquired slot and routes the
// failure to the self-healer.
func (w *VoiceWorker) handleProviderFailure(ctx context.Context, vj *jobs.VoiceJob, umbrella *coord.ResolvedUmbrella, callErr error) error {
	if err := w.ucm.Release(ctx, umbrella.UmbrellaID, vj.TenantID); err != nil {
		w.logger.Error("failed to release slot after provider error",
			"umbrella_id", umbrella.UmbrellaID, "error", err)
	}
	if err := w.audit.LogExecution(ctx, models.ExecutionLogEntry{
		EnrollmentID: vj.EnrollmentID,
		StepID:       vj.StepID,
		Action:       models.ActionCallInitiationFailed,
		Status:       "error",
		Detail:       callErr.Error(),
	}); err != nil {
		w.logger.Error("failed to log call initiation failure", "enrollment_id", vj.EnrollmentID, "error", err)
	}

	failureType := models.FailureCallFailed
	var provErr *providers.Error
	if errors.As(callErr, &provErr) && provErr.Permanent() {
		failureType = models.FailureProviderRejected
	}
	if _, err := w.bus.Enqueue(ctx, jobs.QueueHealing, jobs.HealingJob{
		EnrollmentID: vj.EnrollmentID,
		Channel:      models.ChannelVoice,
		FailureType:  failureType,
		Detail:       callErr.Error(),
	}, 0, 0); err != nil {
		return fmt.Errorf("enqueueing healing job: %w", err)
	}
	w.logger.Warn("call initiation failed, healing queued",
		"enrollment_id", vj.EnrollmentID, "failure_type", failureType, "error", callErr)
	return nil
}
