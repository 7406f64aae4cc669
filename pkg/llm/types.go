// Package llm wraps the large-language-model service behind a narrow
// interface. The deterministic fallback is part of the contract: when
// the service is unreachable the keyword classifier produces the same
// shape and callers cannot tell the two paths apart.
package llm

import (
	"context"

	"github.com/cadencehq/cadence/pkg/models"
)

// Emotion labels of the fixed-shape analysis.
const (
	EmotionExcited    = "excited"
	EmotionInterested = "interested"
	EmotionNeutral    = "neutral"
	EmotionHesitant   = "hesitant"
	EmotionFrustrated = "frustrated"
	EmotionConfused   = "confused"
	EmotionAngry      = "angry"
	EmotionDismissive = "dismissive"
)

// Intent labels.
const (
	IntentInterested    = "interested"
	IntentNotInterested = "not_interested"
	IntentStop          = "stop"
	IntentReschedule    = "reschedule"
	IntentQuestion      = "question"
	IntentUnknown       = "unknown"
	IntentObjection     = "objection"
	IntentReadyToBuy    = "ready_to_buy"
	IntentNeedsInfo     = "needs_info"
)

// Recommended actions.
const (
	ActionEscalateToHuman  = "escalate_to_human"
	ActionContinueSequence = "continue_sequence"
	ActionPauseAndNotify   = "pause_and_notify"
	ActionFastTrack        = "fast_track"
	ActionEndSequence      = "end_sequence"
	ActionSwitchChannel    = "switch_channel"
	ActionAddressObjection = "address_objection"
)

// Objection is one detected objection with severity.
type Objection struct {
	Type     string `json:"type"`     // price, timing, competitor, authority, need, trust, urgency
	Detail   string `json:"detail"`
	Severity string `json:"severity"` // mild, moderate, strong
}

// BuyingSignal is one detected buying signal with strength.
type BuyingSignal struct {
	Signal   string `json:"signal"`
	Strength string `json:"strength"` // weak, moderate, strong
}

// Analysis is the fixed-shape emotional/intent verdict. Every field is
// always populated; there is no partial analysis.
type Analysis struct {
	PrimaryEmotion     string         `json:"primary_emotion"`
	EmotionConfidence  float64        `json:"emotion_confidence"`
	Intent             string         `json:"intent"`
	Objections         []Objection    `json:"objections"`
	BuyingSignals      []BuyingSignal `json:"buying_signals"`
	UrgencyLevel       string         `json:"urgency_level"` // immediate, soon, flexible, no_rush, lost
	RecommendedAction  string         `json:"recommended_action"`
	RecommendedChannel string         `json:"recommended_channel"` // sms, email, voice, any
	RecommendedTone    string         `json:"recommended_tone"`    // empathetic, urgent, casual, professional, reassuring
	NeedsHuman         bool           `json:"needs_human_intervention"`
	IsHotLead          bool           `json:"is_hot_lead"`
	IsAtRisk           bool           `json:"is_at_risk"`
}

// MessageInput is an inbound text message to analyze.
type MessageInput struct {
	Body    string
	Channel models.Channel
	History []string // recent conversation lines, oldest first
}

// TranscriptInput is a finished call to analyze.
type TranscriptInput struct {
	Transcript      string
	DurationSeconds int
	Disposition     string
}

// MutateInput asks for a context-adapted rewrite of step content.
type MutateInput struct {
	Channel        models.Channel
	Original       string
	Context        string // formatted conversation timeline
	BrandVoice     string
	Aggressiveness models.Aggressiveness
	Guidance       string // optional per-step human guidance
}

// MutationResult is the rewrite with the model's self-reported
// confidence. Confidence below the configured threshold discards it.
type MutationResult struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"-"`
}

// SequenceInput asks for a generated sequence outline (used by
// onboarding tooling, not by the core loop).
type SequenceInput struct {
	Goal       string
	BrandVoice string
	Channels   []models.Channel
	StepCount  int
}

// GeneratedStep is one step of a generated sequence outline.
type GeneratedStep struct {
	Channel      models.Channel `json:"channel"`
	DelaySeconds int            `json:"delay_seconds"`
	Content      string         `json:"content"`
}

// Client is the complete LLM surface the sequencer consumes.
type Client interface {
	AnalyzeMessage(ctx context.Context, in MessageInput) (*Analysis, error)
	AnalyzeTranscript(ctx context.Context, in TranscriptInput) (*Analysis, error)
	MutateContent(ctx context.Context, in MutateInput) (*MutationResult, error)
	GenerateSequence(ctx context.Context, in SequenceInput) ([]GeneratedStep, error)
}
