package convo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/models"
)

type stubInteractions struct {
	recent []models.Interaction
	first  time.Time
}

func (s *stubInteractions) Recent(_ context.Context, _ string, _ int) ([]models.Interaction, error) {
	return s.recent, nil
}

func (s *stubInteractions) FirstContactAt(_ context.Context, _ string) (time.Time, error) {
	return s.first, nil
}

func TestBuildEmptyHistory(t *testing.T) {
	b := NewBuilder(&stubInteractions{})
	m, err := b.Build(context.Background(), "e1", scoreNow)
	require.NoError(t, err)

	assert.Zero(t, m.Counts.Total)
	assert.Equal(t, "neutral", m.OverallSentiment)
	assert.False(t, m.Informative())
	assert.Empty(t, m.HistoryLines())
}

func TestBuildAssemblesMemory(t *testing.T) {
	analysis, err := json.Marshal(llm.Analysis{PrimaryEmotion: llm.EmotionInterested, IsHotLead: true})
	require.NoError(t, err)

	// newest-first.
	recent := []models.Interaction{
		{
			Channel:      models.ChannelSMS,
			Direction:    models.DirectionInbound,
			Content:      "what would this cost?",
			Sentiment:    "interested",
			Intent:       llm.IntentQuestion,
			Objections:   models.StringList{"price"},
			KeyTopics:    models.StringList{"pricing"},
			AnalysisJSON: analysis,
			CreatedAt:    scoreNow.Add(-time.Hour),
		},
		{
			Channel:         models.ChannelVoice,
			Direction:       models.DirectionOutbound,
			CallDisposition: "no-answer",
			CreatedAt:       scoreNow.Add(-49 * time.Hour),
		},
	}
	b := NewBuilder(&stubInteractions{recent: recent})
	m, err := b.Build(context.Background(), "e1", scoreNow)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Counts.Total)
	assert.Equal(t, 1, m.Counts.Inbound)
	assert.Equal(t, 1, m.Counts.Calls)
	assert.Equal(t, 1, m.Counts.SMS)
	assert.Equal(t, []string{"price"}, m.ObjectionsHistory)
	assert.Equal(t, []string{"pricing"}, m.KeyTopicsHistory)
	assert.Equal(t, "interested", m.OverallSentiment)
	assert.Equal(t, 2, m.DaysSinceFirstContact)
	require.NotNil(t, m.LastInbound)
	assert.Equal(t, "what would this cost?", m.LastInbound.Content)
	require.NotNil(t, m.LastAnalysis)
	assert.True(t, m.LastAnalysis.IsHotLead)
	assert.True(t, m.Informative())

	// Timeline is oldest-first.
	lines := m.HistoryLines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "no-answer")
	assert.Contains(t, lines[1], "what would this cost?")
}

func TestBuildUsesFirstContactBeyondWindow(t *testing.T) {
	recent := []models.Interaction{
		{
			Channel:   models.ChannelSMS,
			Direction: models.DirectionOutbound,
			Content:   "checking in",
			CreatedAt: scoreNow.Add(-24 * time.Hour),
		},
	}
	// The oldest row in the window is a day old, but the enrollment's
	// real history started ten days before that.
	b := NewBuilder(&stubInteractions{
		recent: recent,
		first:  scoreNow.Add(-11 * 24 * time.Hour),
	})
	m, err := b.Build(context.Background(), "e1", scoreNow)
	require.NoError(t, err)
	assert.Equal(t, 11, m.DaysSinceFirstContact)
}

func TestTemplateVariables(t *testing.T) {
	m := &Memory{
		Counts:                Counts{Total: 4, Inbound: 1},
		OverallSentiment:      "interested",
		DaysSinceFirstContact: 3,
		ObjectionsHistory:     []string{"price", "timing"},
		LastInbound: &models.Interaction{
			Channel: models.ChannelSMS,
			Intent:  llm.IntentQuestion,
		},
	}
	vars := m.TemplateVariables()
	assert.Equal(t, "3", vars["days_since_contact"])
	assert.Equal(t, "interested", vars["overall_sentiment"])
	assert.Equal(t, "4", vars["total_touches"])
	assert.Equal(t, "sms", vars["last_channel_used"])
	assert.Equal(t, llm.IntentQuestion, vars["last_reply_intent"])
	assert.Equal(t, "price, timing", vars["known_objections"])
}

func TestInformative(t *testing.T) {
	assert.False(t, (&Memory{OverallSentiment: "neutral"}).Informative())
	assert.True(t, (&Memory{Counts: Counts{Inbound: 1}}).Informative())
	assert.True(t, (&Memory{ObjectionsHistory: []string{"price"}}).Informative())
	assert.True(t, (&Memory{LastAnalysis: &llm.Analysis{}}).Informative())
	assert.True(t, (&Memory{OverallSentiment: "negative"}).Informative())
}
