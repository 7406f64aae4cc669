package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/clock"
	"github.com/cadencehq/cadence/pkg/models"
)

// Healing reschedule offsets. A healed channel switch retries the
// current step almost immediately; an extended delay backs off without
// abandoning the enrollment.
const (
	healRetryDelay  = time.Minute
	healExtendDelay = 6 * time.Hour
)

// repeatedFailureThreshold is how many failures of one type on one
// channel the healer tolerates before abandoning that channel.
const repeatedFailureThreshold = 2

// Validity is the verdict of a pre-dispatch contact check.
type Validity struct {
	Valid       bool
	FailureType models.FailureType
	Reason      string
}

type enrollmentHealer interface {
	SetChannelOverrides(ctx context.Context, id string, overrides models.ChannelOverrides) error
	AppendFailure(ctx context.Context, id string, rec models.FailureRecord) error
	SetTerminal(ctx context.Context, id string, status models.EnrollmentStatus, reason string) error
	Reschedule(ctx context.Context, id string, nextFire time.Time) error
}

type contactHealer interface {
	SetLandline(ctx context.Context, id string, landline bool) error
}

type healingLogger interface {
	LogHealing(ctx context.Context, entry models.HealingLogEntry) error
}

// Healer owns channel substitution after dispatch failures. Every
// failure produces exactly one healing decision; there is no automatic
// retry of a heal.
type Healer struct {
	enrollments enrollmentHealer
	contacts    contactHealer
	audit       healingLogger
	clock       *clock.Service
	logger      *slog.Logger
}

// NewHealer creates a Healer.
func NewHealer(enrollments enrollmentHealer, contacts contactHealer, audit healingLogger, clk *clock.Service, logger *slog.Logger) *Healer {
	return &Healer{
		enrollments: enrollments,
		contacts:    contacts,
		audit:       audit,
		clock:       clk,
		logger:      logger.With("component", "healer"),
	}
}

// EffectiveChannel applies the enrollment's active override for the
// step's channel, if any. Overrides never chain.
func (h *Healer) EffectiveChannel(e *models.Enrollment, original models.Channel) models.Channel {
	if override, ok := e.ChannelOverrides[original]; ok && override.Valid() {
		return override
	}
	return original
}

// CheckContactValidity verifies the contact is addressable on the
// channel before a job is enqueued.
func (h *Healer) CheckContactValidity(c *models.Contact, channel models.Channel) Validity {
	switch channel {
	case models.ChannelVoice:
		if c.Phone == "" {
			return Validity{FailureType: models.FailureNoContactMethod, Reason: "contact has no phone number"}
		}
		if c.PhoneIsLandline {
			return Validity{FailureType: models.FailureLandlineDetected, Reason: "phone is flagged as a landline"}
		}
	case models.ChannelSMS:
		if c.Phone == "" {
			return Validity{FailureType: models.FailureNoContactMethod, Reason: "contact has no phone number"}
		}
	case models.ChannelEmail:
		if c.Email == nil || *c.Email == "" {
			return Validity{FailureType: models.FailureNoContactMethod, Reason: "contact has no email address"}
		}
	}
	return Validity{Valid: true}
}

// HandleFailure appends the failure to the enrollment's history, picks
// one healing action by policy, applies it, and logs it.
func (h *Healer) HandleFailure(
	ctx context.Context,
	e *models.Enrollment,
	c *models.Contact,
	channel models.Channel,
	failureType models.FailureType,
	detail string,
) (models.HealingAction, error) {
	now := h.clock.Now()
	rec := models.FailureRecord{
		Channel:   channel,
		Type:      failureType,
		StepOrder: e.CurrentStepOrder,
		At:        now,
	}
	if err := h.enrollments.AppendFailure(ctx, e.ID, rec); err != nil {
		return "", fmt.Errorf("appending failure record: %w", err)
	}
	e.FailureHistory = append(e.FailureHistory, rec)

	action, actionDetail, err := h.decide(ctx, e, c, channel, failureType, now)
	if err != nil {
		return "", err
	}
	if detail != "" {
		actionDetail = detail + "; " + actionDetail
	}

	if err := h.audit.LogHealing(ctx, models.HealingLogEntry{
		EnrollmentID: e.ID,
		StepOrder:    e.CurrentStepOrder,
		FailureType:  failureType,
		Action:       action,
		Detail:       actionDetail,
	}); err != nil {
		h.logger.Error("failed to log healing decision", "enrollment_id", e.ID, "error", err)
	}
	h.logger.Info("healing decision applied",
		"enrollment_id", e.ID, "channel", channel, "failure_type", failureType, "action", action)
	return action, nil
}

func (h *Healer) decide(
	ctx context.Context,
	e *models.Enrollment,
	c *models.Contact,
	channel models.Channel,
	failureType models.FailureType,
	now time.Time,
) (models.HealingAction, string, error) {
	switch failureType {
	case models.FailureLandlineDetected:
		if err := h.contacts.SetLandline(ctx, c.ID, true); err != nil {
			return "", "", fmt.Errorf("flagging landline: %w", err)
		}
		c.PhoneIsLandline = true
		if err := h.setOverride(ctx, e, models.ChannelVoice, models.ChannelSMS); err != nil {
			return "", "", err
		}
		if err := h.enrollments.Reschedule(ctx, e.ID, now.Add(healRetryDelay)); err != nil {
			return "", "", fmt.Errorf("rescheduling after heal: %w", err)
		}
		return models.HealSwitchChannel, "voice rerouted to sms, landline flagged", nil

	case models.FailureInvalidNumber:
		// The number is unusable for any phone channel. Route voice to
		// sms pre-emptively in case the flag is corrected later, and
		// move the current step to email if the contact has one.
		if err := h.contacts.SetLandline(ctx, c.ID, true); err != nil {
			return "", "", fmt.Errorf("flagging landline: %w", err)
		}
		c.PhoneIsLandline = true
		if err := h.setOverride(ctx, e, models.ChannelVoice, models.ChannelSMS); err != nil {
			return "", "", err
		}
		if c.Email != nil && *c.Email != "" {
			if err := h.setOverride(ctx, e, channel, models.ChannelEmail); err != nil {
				return "", "", err
			}
			if err := h.enrollments.Reschedule(ctx, e.ID, now.Add(healRetryDelay)); err != nil {
				return "", "", fmt.Errorf("rescheduling after heal: %w", err)
			}
			return models.HealSwitchChannel, fmt.Sprintf("%s rerouted to email, number invalid", channel), nil
		}
		if err := h.endSequence(ctx, e, "phone number invalid and no email on file"); err != nil {
			return "", "", err
		}
		return models.HealEndSequence, "no usable contact method remains", nil

	case models.FailureSMSUndelivered:
		if h.failureCount(e, channel, failureType) < repeatedFailureThreshold {
			if err := h.enrollments.Reschedule(ctx, e.ID, now.Add(healExtendDelay)); err != nil {
				return "", "", fmt.Errorf("rescheduling after heal: %w", err)
			}
			return models.HealExtendDelay, "sms delivery deferred, will retry later", nil
		}
		if c.Email != nil && *c.Email != "" {
			if err := h.setOverride(ctx, e, models.ChannelSMS, models.ChannelEmail); err != nil {
				return "", "", err
			}
			if err := h.enrollments.Reschedule(ctx, e.ID, now.Add(healRetryDelay)); err != nil {
				return "", "", fmt.Errorf("rescheduling after heal: %w", err)
			}
			return models.HealSwitchChannel, "sms repeatedly undelivered, rerouted to email", nil
		}
		if err := h.endSequence(ctx, e, "sms repeatedly undelivered and no email on file"); err != nil {
			return "", "", err
		}
		return models.HealEndSequence, "sms undeliverable with no alternative channel", nil

	case models.FailureEmailBounced:
		if c.Phone != "" && !c.PhoneIsLandline {
			if err := h.setOverride(ctx, e, models.ChannelEmail, models.ChannelSMS); err != nil {
				return "", "", err
			}
			if err := h.enrollments.Reschedule(ctx, e.ID, now.Add(healRetryDelay)); err != nil {
				return "", "", fmt.Errorf("rescheduling after heal: %w", err)
			}
			return models.HealFallbackSMS, "email bounced, fallback sms installed", nil
		}
		if err := h.endSequence(ctx, e, "email bounced and no sms-capable phone on file"); err != nil {
			return "", "", err
		}
		return models.HealEndSequence, "email undeliverable with no alternative channel", nil

	case models.FailureCallFailed:
		if h.failureCount(e, channel, failureType) < repeatedFailureThreshold+1 {
			if err := h.enrollments.Reschedule(ctx, e.ID, now.Add(healExtendDelay)); err != nil {
				return "", "", fmt.Errorf("rescheduling after heal: %w", err)
			}
			return models.HealExtendDelay, "call failed, will retry later", nil
		}
		if err := h.setOverride(ctx, e, models.ChannelVoice, models.ChannelSMS); err != nil {
			return "", "", err
		}
		if err := h.enrollments.Reschedule(ctx, e.ID, now.Add(healRetryDelay)); err != nil {
			return "", "", fmt.Errorf("rescheduling after heal: %w", err)
		}
		return models.HealSwitchChannel, "calls repeatedly failing, rerouted to sms", nil

	case models.FailureProviderRejected:
		if err := h.endSequence(ctx, e, "provider permanently rejected the destination"); err != nil {
			return "", "", err
		}
		return models.HealMarkInvalid, "destination rejected by provider", nil

	case models.FailureNoContactMethod:
		fallthrough
	default:
		if err := h.endSequence(ctx, e, "no usable contact method for channel "+string(channel)); err != nil {
			return "", "", err
		}
		return models.HealEndSequence, "no contact method available", nil
	}
}

func (h *Healer) setOverride(ctx context.Context, e *models.Enrollment, from, to models.Channel) error {
	if e.ChannelOverrides == nil {
		e.ChannelOverrides = models.ChannelOverrides{}
	}
	e.ChannelOverrides[from] = to
	if err := h.enrollments.SetChannelOverrides(ctx, e.ID, e.ChannelOverrides); err != nil {
		return fmt.Errorf("installing channel override %s->%s: %w", from, to, err)
	}
	return nil
}

func (h *Healer) endSequence(ctx context.Context, e *models.Enrollment, reason string) error {
	if err := h.enrollments.SetTerminal(ctx, e.ID, models.StatusFailed, reason); err != nil {
		return fmt.Errorf("ending sequence: %w", err)
	}
	e.Status = models.StatusFailed
	e.StatusReason = reason
	return nil
}

func (h *Healer) failureCount(e *models.Enrollment, channel models.Channel, t models.FailureType) int {
	n := 0
	for _, rec := range e.FailureHistory {
		if rec.Channel == channel && rec.Type == t {
			n++
		}
	}
	return n
}
