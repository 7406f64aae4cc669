package models

import (
	"time"
)

// Tenant is the billing/customer unit that owns sequences, contacts,
// and enrollments. Business hours gate sms/voice dispatch.
type Tenant struct {
	ID            string        `db:"id" json:"id"`
	Name          string        `db:"name" json:"name"`
	Timezone      string        `db:"timezone" json:"timezone"`
	BusinessHours BusinessHours `db:"business_hours" json:"business_hours"`
	BrandVoice    string        `db:"brand_voice" json:"brand_voice"`
	CustomPhrases StringList    `db:"custom_phrases" json:"custom_phrases"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// BusinessHours describes a tenant's dispatch windows in local time.
// Hours are fractional (9.5 = 09:30). Emergency 24/7 bypasses windows.
type BusinessHours struct {
	WeekdayStart float64 `json:"weekday_start"`
	WeekdayEnd   float64 `json:"weekday_end"`
	WeekendStart float64 `json:"weekend_start"`
	WeekendEnd   float64 `json:"weekend_end"`
	Emergency247 bool    `json:"emergency_247"`
}

// Umbrella is a shared outbound-voice provider account whose concurrency
// limit is multiplexed across tenants.
type Umbrella struct {
	ID               string     `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	ProviderOrgID    string     `db:"provider_org_id" json:"provider_org_id"`
	ProviderAPIKey   string     `db:"provider_api_key" json:"-"`
	ConcurrencyLimit int        `db:"concurrency_limit" json:"concurrency_limit"`
	LastReported     int        `db:"last_reported" json:"last_reported"`
	LastSyncAt       *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	Active           bool       `db:"active" json:"active"`
}

// UmbrellaAssignment maps a tenant onto an umbrella with an optional
// per-tenant soft cap and priority weight.
type UmbrellaAssignment struct {
	TenantID       string `db:"tenant_id" json:"tenant_id"`
	UmbrellaID     string `db:"umbrella_id" json:"umbrella_id"`
	TenantCap      int    `db:"tenant_cap" json:"tenant_cap"`
	PriorityWeight int    `db:"priority_weight" json:"priority_weight"`
}

// Contact is an addressable recipient.
type Contact struct {
	ID                  string         `db:"id" json:"id"`
	TenantID            string         `db:"tenant_id" json:"tenant_id"`
	Phone               string         `db:"phone" json:"phone"`
	Email               *string        `db:"email" json:"email,omitempty"`
	DisplayName         string         `db:"display_name" json:"display_name"`
	Company             string         `db:"company" json:"company"`
	CustomFields        StringMap      `db:"custom_fields" json:"custom_fields"`
	EngagementScore     int            `db:"engagement_score" json:"engagement_score"`
	SentimentTrend      SentimentTrend `db:"sentiment_trend" json:"sentiment_trend"`
	ConversationSummary string         `db:"conversation_summary" json:"conversation_summary"`
	PhoneIsLandline     bool           `db:"phone_is_landline" json:"phone_is_landline"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// Sequence is an ordered template of steps.
type Sequence struct {
	ID                     string         `db:"id" json:"id"`
	TenantID               string         `db:"tenant_id" json:"tenant_id"`
	Name                   string         `db:"name" json:"name"`
	Urgency                UrgencyTier    `db:"urgency" json:"urgency"`
	RespectBusinessHours   bool           `db:"respect_business_hours" json:"respect_business_hours"`
	MutationEnabled        bool           `db:"mutation_enabled" json:"mutation_enabled"`
	MutationAggressiveness Aggressiveness `db:"mutation_aggressiveness" json:"mutation_aggressiveness"`
	TriggerConditions      StringList     `db:"trigger_conditions" json:"trigger_conditions"`
	TimeoutHours           int            `db:"timeout_hours" json:"timeout_hours"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
}

// MutationOverride is the per-step override of the sequence mutation flag.
type MutationOverride string

const (
	MutationInherit  MutationOverride = "inherit"
	MutationDisabled MutationOverride = "disabled"
	MutationForced   MutationOverride = "forced"
)

// Step is one scheduled outbound touch within a sequence.
// DelaySeconds is relative to enrollment for step 1, otherwise to the
// previous step's dispatch.
type Step struct {
	ID                   string           `db:"id" json:"id"`
	SequenceID           string           `db:"sequence_id" json:"sequence_id"`
	StepOrder            int              `db:"step_order" json:"step_order"`
	Channel              Channel          `db:"channel" json:"channel"`
	DelaySeconds         int              `db:"delay_seconds" json:"delay_seconds"`
	Content              StepContent      `db:"content" json:"content"`
	SkipConditions       StringList       `db:"skip_conditions" json:"skip_conditions"`
	OnSuccess            string           `db:"on_success" json:"on_success"`
	OnFailure            string           `db:"on_failure" json:"on_failure"`
	MutationOverride     MutationOverride `db:"mutation_override" json:"mutation_override"`
	MutationInstructions string           `db:"mutation_instructions" json:"mutation_instructions"`
	OnlyIf               StringList       `db:"only_if" json:"only_if"`
}

// EmotionalStateCache is the enrollment-resident snapshot of the last
// emotional analysis, consulted by the scheduler for timing and tone.
type EmotionalStateCache struct {
	SentimentTrend     SentimentTrend `json:"sentiment_trend"`
	LastEmotion        string         `json:"last_emotion"`
	RecommendedTone    string         `json:"recommended_tone"`
	EngagementScore    int            `json:"engagement_score"`
	NeedsHuman         bool           `json:"needs_human"`
	IsHotLead          bool           `json:"is_hot_lead"`
	IsAtRisk           bool           `json:"is_at_risk"`
	ObjectionsDetected StringList     `json:"objections_detected"`
}

// Enrollment is a single contact's live traversal of a sequence.
type Enrollment struct {
	ID                string           `db:"id" json:"id"`
	TenantID          string           `db:"tenant_id" json:"tenant_id"`
	ContactID         string           `db:"contact_id" json:"contact_id"`
	SequenceID        string           `db:"sequence_id" json:"sequence_id"`
	CurrentStepOrder  int              `db:"current_step_order" json:"current_step_order"`
	NextFireTime      *time.Time       `db:"next_fire_time" json:"next_fire_time,omitempty"`
	Status            EnrollmentStatus `db:"status" json:"status"`
	StatusReason      string           `db:"status_reason" json:"status_reason"`
	CustomVariables   StringMap        `db:"custom_variables" json:"custom_variables"`
	ContactReplied    bool             `db:"contact_replied" json:"contact_replied"`
	AnsweredCall      bool             `db:"answered_call" json:"answered_call"`
	AppointmentBooked bool             `db:"appointment_booked" json:"appointment_booked"`
	NeedsHuman        bool             `db:"needs_human" json:"needs_human"`
	Emotional         EmotionalState   `db:"emotional_state" json:"emotional_state"`
	ChannelOverrides  ChannelOverrides `db:"channel_overrides" json:"channel_overrides"`
	FailureHistory    FailureRecords   `db:"failure_history" json:"failure_history"`
	TotalAttempts     int              `db:"total_attempts" json:"total_attempts"`
	EnrolledAt        time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// FailureRecord is kept on the enrollment as healing history.
type FailureRecord struct {
	Channel   Channel     `json:"channel"`
	Type      FailureType `json:"type"`
	StepOrder int         `json:"step_order"`
	At        time.Time   `json:"at"`
}

// Interaction is an immutable record of any inbound or outbound touch.
type Interaction struct {
	ID              string     `db:"id" json:"id"`
	TenantID        string     `db:"tenant_id" json:"tenant_id"`
	EnrollmentID    string     `db:"enrollment_id" json:"enrollment_id"`
	ContactID       string     `db:"contact_id" json:"contact_id"`
	Channel         Channel    `db:"channel" json:"channel"`
	Direction       Direction  `db:"direction" json:"direction"`
	Content         string     `db:"content" json:"content"`
	Outcome         string     `db:"outcome" json:"outcome"`
	Sentiment       string     `db:"sentiment" json:"sentiment"`
	Intent          string     `db:"intent" json:"intent"`
	CallDuration    int        `db:"call_duration" json:"call_duration"`
	CallDisposition string     `db:"call_disposition" json:"call_disposition"`
	Objections      StringList `db:"objections" json:"objections"`
	KeyTopics       StringList `db:"key_topics" json:"key_topics"`
	ProviderID      string     `db:"provider_id" json:"provider_id"`
	EventType       string     `db:"event_type" json:"event_type"`
	AnalysisJSON    []byte     `db:"analysis_json" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// MutationRecord audits an LLM rewrite of a step's content.
type MutationRecord struct {
	ID                   string         `db:"id" json:"id"`
	EnrollmentID         string         `db:"enrollment_id" json:"enrollment_id"`
	StepID               string         `db:"step_id" json:"step_id"`
	OriginalContent      string         `db:"original_content" json:"original_content"`
	MutatedContent       string         `db:"mutated_content" json:"mutated_content"`
	Confidence           float64        `db:"confidence" json:"confidence"`
	Aggressiveness       Aggressiveness `db:"aggressiveness" json:"aggressiveness"`
	Model                string         `db:"model" json:"model"`
	ResultedInReply      bool           `db:"resulted_in_reply" json:"resulted_in_reply"`
	ResultedInConversion bool           `db:"resulted_in_conversion" json:"resulted_in_conversion"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
}

// StepVariant is one arm of an A/B split on a step's content.
type StepVariant struct {
	ID          string      `db:"id" json:"id"`
	StepID      string      `db:"step_id" json:"step_id"`
	Content     StepContent `db:"content" json:"content"`
	Weight      float64     `db:"weight" json:"weight"`
	Active      bool        `db:"active" json:"active"`
	Sent        int         `db:"sent" json:"sent"`
	Replies     int         `db:"replies" json:"replies"`
	Conversions int         `db:"conversions" json:"conversions"`
}

// ExecutionLogEntry traces every dispatch decision for audit.
type ExecutionLogEntry struct {
	ID             string    `db:"id" json:"id"`
	EnrollmentID   string    `db:"enrollment_id" json:"enrollment_id"`
	StepID         string    `db:"step_id" json:"step_id"`
	Action         string    `db:"action" json:"action"`
	Status         string    `db:"status" json:"status"`
	Detail         string    `db:"detail" json:"detail"`
	ProviderCallID string    `db:"provider_call_id" json:"provider_call_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Execution log actions written by the workers and the scheduler.
const (
	ActionCallInitiated        = "call_initiated"
	ActionCallInitiationFailed = "call_initiation_failed"
	ActionSkippedCapacity      = "skipped_capacity"
	ActionStepDispatched       = "step_dispatched"
	ActionStepSkipped          = "step_skipped"
	ActionMutationDiscarded    = "mutation_discarded_low_confidence"
	ActionSlotReleased         = "slot_released"
)

// HealingLogEntry records the single decision taken for one failure.
type HealingLogEntry struct {
	ID           string        `db:"id" json:"id"`
	EnrollmentID string        `db:"enrollment_id" json:"enrollment_id"`
	StepOrder    int           `db:"step_order" json:"step_order"`
	FailureType  FailureType   `db:"failure_type" json:"failure_type"`
	Action       HealingAction `db:"action" json:"action"`
	Detail       string        `db:"detail" json:"detail"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// Notification is written for external UI consumption; it has no effect
// on scheduling.
type Notification struct {
	ID           string           `db:"id" json:"id"`
	TenantID     string           `db:"tenant_id" json:"tenant_id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	Kind         NotificationKind `db:"kind" json:"kind"`
	Message      string           `db:"message" json:"message"`
	Read         bool             `db:"read" json:"read"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}
