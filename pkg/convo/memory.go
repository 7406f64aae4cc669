// Package convo assembles conversation memory from the interaction
// history and runs emotional analysis over inbound touches. The memory
// feeds template variables, voice system prompts, and the mutator's
// context block.
package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/models"
)

// HistoryWindow is how many recent interactions memory is built from.
const HistoryWindow = 10

// TimelineMaxLines bounds the formatted timeline injected into voice
// system prompts.
const TimelineMaxLines = 12

// InteractionSource is the slice of the store the builder reads.
type InteractionSource interface {
	Recent(ctx context.Context, enrollmentID string, limit int) ([]models.Interaction, error)
	FirstContactAt(ctx context.Context, enrollmentID string) (time.Time, error)
}

// Counts summarizes interaction volume per channel and direction.
type Counts struct {
	Total    int
	Calls    int
	SMS      int
	Emails   int
	Inbound  int
	Outbound int
}

// Memory is the assembled conversation context for one enrollment.
type Memory struct {
	LastByChannel         map[models.Channel]string
	Counts                Counts
	ObjectionsHistory     []string
	KeyTopicsHistory      []string
	OverallSentiment      string
	DaysSinceFirstContact int
	LastAnalysis          *llm.Analysis
	LastInbound           *models.Interaction
	FormattedTimeline     string
}

// Builder assembles Memory from the durable store.
type Builder struct {
	interactions InteractionSource
}

// NewBuilder creates a Builder.
func NewBuilder(interactions InteractionSource) *Builder {
	return &Builder{interactions: interactions}
}

// Build assembles memory from the last HistoryWindow interactions.
// Returns an empty (but usable) Memory when the enrollment has none.
func (b *Builder) Build(ctx context.Context, enrollmentID string, now time.Time) (*Memory, error) {
	recent, err := b.interactions.Recent(ctx, enrollmentID, HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("building conversation memory: %w", err)
	}

	m := &Memory{
		LastByChannel:    map[models.Channel]string{},
		OverallSentiment: "neutral",
	}
	if len(recent) == 0 {
		return m, nil
	}

	// recent is newest-first.
	seenObjections := map[string]bool{}
	seenTopics := map[string]bool{}
	for i := range recent {
		in := &recent[i]
		m.Counts.Total++
		switch in.Channel {
		case models.ChannelVoice:
			m.Counts.Calls++
		case models.ChannelSMS:
			m.Counts.SMS++
		case models.ChannelEmail:
			m.Counts.Emails++
		}
		if in.Direction == models.DirectionInbound {
			m.Counts.Inbound++
			if m.LastInbound == nil {
				m.LastInbound = in
			}
		} else {
			m.Counts.Outbound++
		}
		if _, ok := m.LastByChannel[in.Channel]; !ok {
			m.LastByChannel[in.Channel] = summarize(in)
		}
		for _, o := range in.Objections {
			if !seenObjections[o] {
				seenObjections[o] = true
				m.ObjectionsHistory = append(m.ObjectionsHistory, o)
			}
		}
		for _, t := range in.KeyTopics {
			if !seenTopics[t] {
				seenTopics[t] = true
				m.KeyTopicsHistory = append(m.KeyTopicsHistory, t)
			}
		}
		if m.LastAnalysis == nil && len(in.AnalysisJSON) > 0 {
			var a llm.Analysis
			if err := json.Unmarshal(in.AnalysisJSON, &a); err == nil {
				m.LastAnalysis = &a
			}
		}
	}

	m.OverallSentiment = majoritySentiment(recent)
	// The window only reaches back HistoryWindow rows; the true first
	// contact may be older, so prefer the store's answer when it has one.
	first := recent[len(recent)-1].CreatedAt
	if t, err := b.interactions.FirstContactAt(ctx, enrollmentID); err == nil && !t.IsZero() {
		first = t
	}
	m.DaysSinceFirstContact = int(now.Sub(first).Hours() / 24)
	m.FormattedTimeline = formatTimeline(recent)
	return m, nil
}

// summarize renders one interaction as a single timeline line.
func summarize(in *models.Interaction) string {
	var detail string
	switch {
	case in.Channel == models.ChannelVoice && in.CallDisposition != "":
		detail = in.CallDisposition
		if in.CallDuration > 0 {
			detail += fmt.Sprintf(" %ds", in.CallDuration)
		}
	case in.Content != "":
		detail = truncate(in.Content, 80)
	default:
		detail = in.Outcome
	}
	return fmt.Sprintf("%s %s: %s", in.Direction, in.Channel, detail)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// majoritySentiment picks the most common sentiment class across the
// window, neutral on ties and when untagged.
func majoritySentiment(recent []models.Interaction) string {
	counts := map[string]int{}
	for i := range recent {
		if s := recent[i].Sentiment; s != "" {
			counts[s]++
		}
	}
	best, bestCount := "neutral", 0
	for s, c := range counts {
		if c > bestCount {
			best, bestCount = s, c
		}
	}
	return best
}

// formatTimeline renders the recent history oldest-first as a plain
// text block suitable for injection into a voice system prompt.
func formatTimeline(recent []models.Interaction) string {
	n := len(recent)
	if n > TimelineMaxLines {
		n = TimelineMaxLines
	}
	lines := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		in := &recent[i]
		lines = append(lines, fmt.Sprintf("- [%s] %s",
			in.CreatedAt.Format("Jan 2 15:04"), summarize(in)))
	}
	return strings.Join(lines, "\n")
}

// TemplateVariables flattens memory into renderer variables.
func (m *Memory) TemplateVariables() map[string]string {
	vars := map[string]string{
		"days_since_contact": strconv.Itoa(m.DaysSinceFirstContact),
		"overall_sentiment":  m.OverallSentiment,
		"total_touches":      strconv.Itoa(m.Counts.Total),
	}
	var lastChannel string
	var lastIntent string
	if m.LastInbound != nil {
		lastChannel = string(m.LastInbound.Channel)
		lastIntent = m.LastInbound.Intent
	}
	if lastChannel == "" {
		for ch := range m.LastByChannel {
			lastChannel = string(ch)
			break
		}
	}
	if lastChannel != "" {
		vars["last_channel_used"] = lastChannel
	}
	if lastIntent != "" {
		vars["last_reply_intent"] = lastIntent
	}
	if len(m.ObjectionsHistory) > 0 {
		vars["known_objections"] = strings.Join(m.ObjectionsHistory, ", ")
	}
	if len(m.KeyTopicsHistory) > 0 {
		vars["key_topics"] = strings.Join(m.KeyTopicsHistory, ", ")
	}
	return vars
}

// Informative reports whether the memory carries enough signal for the
// mutator to adapt content: a reply, a call transcript, recorded
// objections, a prior analysis, or a non-neutral overall sentiment.
func (m *Memory) Informative() bool {
	if m.Counts.Inbound > 0 {
		return true
	}
	if len(m.ObjectionsHistory) > 0 {
		return true
	}
	if m.LastAnalysis != nil {
		return true
	}
	return m.OverallSentiment != "neutral" && m.OverallSentiment != ""
}

// HistoryLines renders recent inbound/outbound content lines for the
// analyzer prompt, oldest first.
func (m *Memory) HistoryLines() []string {
	if m.FormattedTimeline == "" {
		return nil
	}
	return strings.Split(m.FormattedTimeline, "\n")
}
