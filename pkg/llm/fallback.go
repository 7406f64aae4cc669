package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// fallback confidence: the keyword classifier never claims more than
// this, and healing/mutation paths treat its verdicts conservatively.
const fallbackConfidence = 0.5

var stopKeywords = []string{"stop", "unsubscribe", "remove me", "do not contact", "don't contact", "opt out"}
var angryKeywords = []string{"angry", "furious", "scam", "harassment", "lawyer", "sue ", "reported"}
var hotKeywords = []string{"price", "pricing", "cost", "how much", "quote", "available", "availability", "book", "schedule", "sign up", "ready to"}
var objectionKeywords = map[string][]string{
	"price":      {"expensive", "too much", "afford", "cheaper"},
	"timing":     {"not now", "later", "next month", "next quarter", "busy"},
	"competitor": {"already use", "another provider", "competitor"},
	"authority":  {"my boss", "my manager", "decision maker", "not my call"},
	"trust":      {"scam", "legit", "trust"},
}
var rescheduleKeywords = []string{"call me back", "call back", "reschedule", "another time", "tomorrow"}
var negativeKeywords = []string{"not interested", "no thanks", "no thank you", "leave me alone"}

// KeywordAnalyzer is the deterministic fallback analyzer. It produces
// the same fixed shape as the model path at confidence 0.5 with
// conservative defaults: no hot lead without explicit pricing or
// availability keywords, no human escalation without angry or scam
// keywords.
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer creates the fallback analyzer.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// classify runs the keyword rules over normalized text.
func (k *KeywordAnalyzer) classify(body string) *Analysis {
	text := strings.ToLower(body)

	a := &Analysis{
		PrimaryEmotion:     EmotionNeutral,
		EmotionConfidence:  fallbackConfidence,
		Intent:             IntentUnknown,
		Objections:         []Objection{},
		BuyingSignals:      []BuyingSignal{},
		UrgencyLevel:       "flexible",
		RecommendedAction:  ActionContinueSequence,
		RecommendedChannel: "any",
		RecommendedTone:    "professional",
	}

	switch {
	case containsAny(text, stopKeywords):
		a.Intent = IntentStop
		a.PrimaryEmotion = EmotionDismissive
		a.RecommendedAction = ActionEndSequence
		a.UrgencyLevel = "lost"
	case containsAny(text, angryKeywords):
		a.Intent = IntentObjection
		a.PrimaryEmotion = EmotionAngry
		a.NeedsHuman = true
		a.RecommendedAction = ActionEscalateToHuman
		a.RecommendedTone = "empathetic"
		a.IsAtRisk = true
	case containsAny(text, negativeKeywords):
		a.Intent = IntentNotInterested
		a.PrimaryEmotion = EmotionDismissive
		a.UrgencyLevel = "no_rush"
	case containsAny(text, rescheduleKeywords):
		a.Intent = IntentReschedule
		a.PrimaryEmotion = EmotionInterested
	case containsAny(text, hotKeywords):
		a.Intent = IntentInterested
		a.PrimaryEmotion = EmotionInterested
		a.IsHotLead = true
		a.UrgencyLevel = "soon"
		a.BuyingSignals = append(a.BuyingSignals, BuyingSignal{Signal: "pricing_or_availability_keywords", Strength: "moderate"})
	case strings.Contains(text, "?"):
		a.Intent = IntentQuestion
	}

	for objType, keywords := range objectionKeywords {
		if containsAny(text, keywords) {
			a.Objections = append(a.Objections, Objection{Type: objType, Detail: "keyword match", Severity: "mild"})
		}
	}
	if len(a.Objections) > 0 && a.Intent == IntentUnknown {
		a.Intent = IntentObjection
	}
	return a
}

// AnalyzeMessage classifies an inbound message with keyword rules.
func (k *KeywordAnalyzer) AnalyzeMessage(_ context.Context, in MessageInput) (*Analysis, error) {
	return k.classify(in.Body), nil
}

// AnalyzeTranscript classifies a transcript with the same rules, plus
// disposition hints.
func (k *KeywordAnalyzer) AnalyzeTranscript(_ context.Context, in TranscriptInput) (*Analysis, error) {
	a := k.classify(in.Transcript)
	if in.Disposition == "no-answer" || in.Disposition == "voicemail" {
		a.Intent = IntentUnknown
		a.PrimaryEmotion = EmotionNeutral
	}
	return a, nil
}

// MutateContent always declines: the fallback path proposes no rewrite,
// so the scheduler keeps the rendered original.
func (k *KeywordAnalyzer) MutateContent(_ context.Context, _ MutateInput) (*MutationResult, error) {
	return nil, fmt.Errorf("mutation unavailable without model")
}

// GenerateSequence is unavailable without the model.
func (k *KeywordAnalyzer) GenerateSequence(_ context.Context, _ SequenceInput) ([]GeneratedStep, error) {
	return nil, fmt.Errorf("sequence generation unavailable without model")
}

// resilientClient tries the model first and degrades to the keyword
// classifier for analysis. Callers see one Client and cannot
// distinguish the paths.
type resilientClient struct {
	primary  Client
	fallback *KeywordAnalyzer
}

// WithFallback wraps a model client with the deterministic fallback.
func WithFallback(primary Client) Client {
	return &resilientClient{primary: primary, fallback: NewKeywordAnalyzer()}
}

func (c *resilientClient) AnalyzeMessage(ctx context.Context, in MessageInput) (*Analysis, error) {
	a, err := c.primary.AnalyzeMessage(ctx, in)
	if err != nil {
		slog.Warn("Model analysis unavailable, using keyword classifier", "error", err)
		return c.fallback.AnalyzeMessage(ctx, in)
	}
	return a, nil
}

func (c *resilientClient) AnalyzeTranscript(ctx context.Context, in TranscriptInput) (*Analysis, error) {
	a, err := c.primary.AnalyzeTranscript(ctx, in)
	if err != nil {
		slog.Warn("Model transcript analysis unavailable, using keyword classifier", "error", err)
		return c.fallback.AnalyzeTranscript(ctx, in)
	}
	return a, nil
}

func (c *resilientClient) MutateContent(ctx context.Context, in MutateInput) (*MutationResult, error) {
	return c.primary.MutateContent(ctx, in)
}

func (c *resilientClient) GenerateSequence(ctx context.Context, in SequenceInput) ([]GeneratedStep, error) {
	return c.primary.GenerateSequence(ctx, in)
}
