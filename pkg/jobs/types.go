// Package jobs implements the typed job bus: priority queues with
// delayed delivery, attempt counters, and lease-based redelivery,
// backed by the coordination store.
package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// Queue names. Each channel worker drains its own queue; webhook
// deliveries land on events and dispatch failures on healing.
const (
	QueueSMS     = "sms"
	QueueEmail   = "email"
	QueueVoice   = "voice"
	QueueEvents  = "events"
	QueueHealing = "healing"
)

// ErrNoJobs indicates the queue has no ready job.
var ErrNoJobs = errors.New("no jobs available")

// Job is one unit of work on the bus.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Priority   int             `json:"priority"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// VoiceJob is the payload drained by the voice worker.
type VoiceJob struct {
	TenantID     string               `json:"tenant_id"`
	EnrollmentID string               `json:"enrollment_id"`
	StepID       string               `json:"step_id"`
	ContactID    string               `json:"contact_id"`
	Phone        string               `json:"phone"`
	Content      models.VoiceContent  `json:"content"`
	Priority     int                  `json:"priority"`
	Retry        int                  `json:"retry"`
}

// SMSJob is the payload drained by the SMS worker.
type SMSJob struct {
	TenantID     string `json:"tenant_id"`
	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	ContactID    string `json:"contact_id"`
	Phone        string `json:"phone"`
	Body         string `json:"body"`
}

// EmailJob is the payload drained by the email worker.
type EmailJob struct {
	TenantID     string `json:"tenant_id"`
	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	ContactID    string `json:"contact_id"`
	To           string `json:"to"`
	Subject      string `json:"subject"`
	HTMLBody     string `json:"html_body"`
	TextBody     string `json:"text_body"`
}

// EventKind discriminates provider webhook events on the events queue.
type EventKind string

const (
	EventCallOutcome  EventKind = "call-outcome"
	EventSMSReply     EventKind = "sms-reply"
	EventSMSDelivery  EventKind = "sms-delivery"
	EventEmailOpened  EventKind = "email-opened"
	EventEmailClicked EventKind = "email-clicked"
	EventEmailBounced EventKind = "email-bounced"
)

// EventJob is one provider webhook delivery, enqueued by the HTTP
// surface and consumed by the event processor.
type EventJob struct {
	Kind         EventKind `json:"kind"`
	ProviderID   string    `json:"provider_id"`
	TenantID     string    `json:"tenant_id"`
	UmbrellaID   string    `json:"umbrella_id"`
	EnrollmentID string    `json:"enrollment_id"`
	ContactID    string    `json:"contact_id"`

	// call-outcome fields
	Disposition       string `json:"disposition,omitempty"`
	DurationSeconds   int    `json:"duration_seconds,omitempty"`
	Transcript        string `json:"transcript,omitempty"`
	AppointmentBooked bool   `json:"appointment_booked,omitempty"`
	EndedReason       string `json:"ended_reason,omitempty"`

	// sms/email fields
	Body           string `json:"body,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
}

// HealingJob routes one dispatch failure to the self-healer.
type HealingJob struct {
	EnrollmentID string             `json:"enrollment_id"`
	StepOrder    int                `json:"step_order"`
	Channel      models.Channel     `json:"channel"`
	FailureType  models.FailureType `json:"failure_type"`
	Detail       string             `json:"detail"`
}
