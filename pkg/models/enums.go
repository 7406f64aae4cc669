// Package models defines the domain entities shared across the sequencer:
// tenants, sequences, enrollments, interactions, and the records the
// pipeline appends as it runs.
package models

// Channel identifies an outbound communication channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelVoice Channel = "voice"
)

// Valid reports whether c is a recognized channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelVoice:
		return true
	}
	return false
}

// EnrollmentStatus is the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	StatusActive     EnrollmentStatus = "active"
	StatusPaused     EnrollmentStatus = "paused"
	StatusCompleted  EnrollmentStatus = "completed"
	StatusReplied    EnrollmentStatus = "replied"
	StatusBooked     EnrollmentStatus = "booked"
	StatusFailed     EnrollmentStatus = "failed"
	StatusManualStop EnrollmentStatus = "manual_stop"
)

// Terminal reports whether the status ends scheduling for good.
// Terminal enrollments must have a nil next_fire_time.
func (s EnrollmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBooked, StatusManualStop:
		return true
	}
	return false
}

// UrgencyTier orders sequences by how aggressively their voice steps
// should be drained from the queue.
type UrgencyTier string

const (
	UrgencyCritical UrgencyTier = "critical"
	UrgencyHigh     UrgencyTier = "high"
	UrgencyMedium   UrgencyTier = "medium"
	UrgencyLow      UrgencyTier = "low"
)

// QueuePriority maps the urgency tier to a voice-queue priority integer.
// Lower values drain sooner.
func (u UrgencyTier) QueuePriority() int {
	switch u {
	case UrgencyCritical:
		return 1
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 5
	case UrgencyLow:
		return 8
	default:
		return 5
	}
}

// Aggressiveness controls how much latitude the content mutator has.
type Aggressiveness string

const (
	AggressivenessConservative Aggressiveness = "conservative"
	AggressivenessModerate     Aggressiveness = "moderate"
	AggressivenessAggressive   Aggressiveness = "aggressive"
)

// Direction marks an interaction as inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SentimentTrend is the coarse classification of where a conversation
// is heading across recent interactions.
type SentimentTrend string

const (
	TrendHot     SentimentTrend = "hot"
	TrendWarming SentimentTrend = "warming"
	TrendStable  SentimentTrend = "stable"
	TrendCooling SentimentTrend = "cooling"
	TrendCold    SentimentTrend = "cold"
)

// FailureType classifies a dispatch failure for the self-healer.
type FailureType string

const (
	FailureNoContactMethod  FailureType = "no_contact_method"
	FailureLandlineDetected FailureType = "landline_detected"
	FailureInvalidNumber    FailureType = "invalid_number"
	FailureEmailBounced     FailureType = "email_bounced"
	FailureSMSUndelivered   FailureType = "sms_undelivered"
	FailureCallFailed       FailureType = "call_failed"
	FailureProviderRejected FailureType = "provider_rejected"
)

// HealingAction is the single decision the self-healer takes per failure.
type HealingAction string

const (
	HealSwitchChannel   HealingAction = "switch_channel"
	HealFallbackSMS     HealingAction = "inject_fallback_sms"
	HealExtendDelay     HealingAction = "extend_delay"
	HealEndSequence     HealingAction = "end_sequence"
	HealMarkInvalid     HealingAction = "mark_invalid"
)

// NotificationKind is emitted by the event processor for UI consumption.
type NotificationKind string

const (
	NotifyHotLead           NotificationKind = "hot_lead"
	NotifyNeedsHuman        NotificationKind = "needs_human"
	NotifyObjectionDetected NotificationKind = "objection_detected"
	NotifyAtRisk            NotificationKind = "at_risk"
)
