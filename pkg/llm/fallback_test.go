package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, body string) *Analysis {
	t.Helper()
	a, err := NewKeywordAnalyzer().AnalyzeMessage(context.Background(), MessageInput{Body: body})
	require.NoError(t, err)
	return a
}

func TestKeywordClassifierStopIntent(t *testing.T) {
	a := analyze(t, "Please STOP texting me")
	assert.Equal(t, IntentStop, a.Intent)
	assert.Equal(t, ActionEndSequence, a.RecommendedAction)
	assert.Equal(t, "lost", a.UrgencyLevel)

	a = analyze(t, "unsubscribe")
	assert.Equal(t, IntentStop, a.Intent)
}

func TestKeywordClassifierAngryEscalates(t *testing.T) {
	a := analyze(t, "This feels like a scam, I'm calling my lawyer")
	assert.Equal(t, EmotionAngry, a.PrimaryEmotion)
	assert.True(t, a.NeedsHuman)
	assert.True(t, a.IsAtRisk)
	assert.Equal(t, ActionEscalateToHuman, a.RecommendedAction)
}

func TestKeywordClassifierHotLead(t *testing.T) {
	a := analyze(t, "How much would that cost?")
	assert.True(t, a.IsHotLead)
	assert.Equal(t, IntentInterested, a.Intent)
	assert.NotEmpty(t, a.BuyingSignals)

	// Plain questions are not hot leads.
	a = analyze(t, "Who is this?")
	assert.False(t, a.IsHotLead)
	assert.Equal(t, IntentQuestion, a.Intent)
}

func TestKeywordClassifierObjections(t *testing.T) {
	a := analyze(t, "That sounds way too expensive for us")
	require.NotEmpty(t, a.Objections)
	assert.Equal(t, "price", a.Objections[0].Type)
	assert.Equal(t, IntentObjection, a.Intent)

	a = analyze(t, "I need to check with my boss first")
	require.Len(t, a.Objections, 1)
	assert.Equal(t, "authority", a.Objections[0].Type)
}

func TestKeywordClassifierNeutralDefaults(t *testing.T) {
	a := analyze(t, "ok")
	assert.Equal(t, IntentUnknown, a.Intent)
	assert.Equal(t, EmotionNeutral, a.PrimaryEmotion)
	assert.InDelta(t, 0.5, a.EmotionConfidence, 0.001)
	assert.False(t, a.NeedsHuman)
	assert.False(t, a.IsHotLead)
	assert.NotNil(t, a.Objections)
	assert.NotNil(t, a.BuyingSignals)
}

func TestTranscriptNoAnswerIsNeutral(t *testing.T) {
	a, err := NewKeywordAnalyzer().AnalyzeTranscript(context.Background(), TranscriptInput{
		Transcript:  "You have reached the voicemail of",
		Disposition: "voicemail",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, a.Intent)
	assert.Equal(t, EmotionNeutral, a.PrimaryEmotion)
}

type failingClient struct{}

func (failingClient) AnalyzeMessage(context.Context, MessageInput) (*Analysis, error) {
	return nil, errors.New("service unavailable")
}

func (failingClient) AnalyzeTranscript(context.Context, TranscriptInput) (*Analysis, error) {
	return nil, errors.New("service unavailable")
}

func (failingClient) MutateContent(context.Context, MutateInput) (*MutationResult, error) {
	return nil, errors.New("service unavailable")
}

func (failingClient) GenerateSequence(context.Context, SequenceInput) ([]GeneratedStep, error) {
	return nil, errors.New("service unavailable")
}

func TestWithFallbackDegradesAnalysis(t *testing.T) {
	client := WithFallback(failingClient{})

	a, err := client.AnalyzeMessage(context.Background(), MessageInput{Body: "what is the price?"})
	require.NoError(t, err)
	assert.True(t, a.IsHotLead)

	// Mutation never degrades to the keyword path.
	_, err = client.MutateContent(context.Background(), MutateInput{Original: "hi"})
	assert.Error(t, err)
}
