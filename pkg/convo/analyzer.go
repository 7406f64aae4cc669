package convo

import (
	"context"

	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/models"
)

// MinTranscriptChars is the threshold under which a call transcript is
// not worth analyzing.
const MinTranscriptChars = 30

// Analyzer runs emotional analysis through the LLM surface. The client
// is expected to be wrapped with the keyword fallback, so analysis
// always yields a verdict.
type Analyzer struct {
	llm llm.Client
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(client llm.Client) *Analyzer {
	return &Analyzer{llm: client}
}

// AnalyzeInbound classifies an inbound message in conversation context.
func (a *Analyzer) AnalyzeInbound(ctx context.Context, body string, channel models.Channel, mem *Memory) (*llm.Analysis, error) {
	var history []string
	if mem != nil {
		history = mem.HistoryLines()
	}
	return a.llm.AnalyzeMessage(ctx, llm.MessageInput{
		Body:    body,
		Channel: channel,
		History: history,
	})
}

// AnalyzeCall classifies a finished call transcript.
func (a *Analyzer) AnalyzeCall(ctx context.Context, transcript string, durationSeconds int, disposition string) (*llm.Analysis, error) {
	return a.llm.AnalyzeTranscript(ctx, llm.TranscriptInput{
		Transcript:      transcript,
		DurationSeconds: durationSeconds,
		Disposition:     disposition,
	})
}

// SentimentClass maps an analysis onto the interaction sentiment tag
// consumed by the trend and engagement calculations.
func SentimentClass(a *llm.Analysis) string {
	switch a.PrimaryEmotion {
	case llm.EmotionExcited:
		return "positive"
	case llm.EmotionInterested:
		return "interested"
	case llm.EmotionNeutral:
		return "neutral"
	case llm.EmotionHesitant, llm.EmotionConfused:
		return "confused"
	case llm.EmotionFrustrated, llm.EmotionAngry, llm.EmotionDismissive:
		return "negative"
	default:
		if len(a.Objections) > 0 {
			return "objection"
		}
		return "neutral"
	}
}

// StateFromAnalysis builds the enrollment-resident emotional cache from
// a fresh verdict plus the recomputed trend and engagement score.
func StateFromAnalysis(a *llm.Analysis, trend models.SentimentTrend, engagement int) models.EmotionalState {
	objections := make(models.StringList, 0, len(a.Objections))
	for _, o := range a.Objections {
		objections = append(objections, o.Type)
	}
	return models.EmotionalState{
		EmotionalStateCache: models.EmotionalStateCache{
			SentimentTrend:     trend,
			LastEmotion:        a.PrimaryEmotion,
			RecommendedTone:    a.RecommendedTone,
			EngagementScore:    engagement,
			NeedsHuman:         a.NeedsHuman,
			IsHotLead:          a.IsHotLead,
			IsAtRisk:           a.IsAtRisk,
			ObjectionsDetected: objections,
		},
	}
}

// ToneVariables derives renderer variables from the cached emotional
// state; they bind at the highest precedence tier.
func ToneVariables(state models.EmotionalStateCache) map[string]string {
	vars := map[string]string{}
	if state.RecommendedTone != "" {
		vars["recommended_tone"] = state.RecommendedTone
	}
	if state.LastEmotion != "" {
		vars["last_emotion"] = state.LastEmotion
	}
	if state.SentimentTrend != "" {
		vars["sentiment_trend"] = string(state.SentimentTrend)
	}
	return vars
}

// ToneDirective renders the tone block appended to voice system
// prompts.
func ToneDirective(state models.EmotionalStateCache) string {
	if state.RecommendedTone == "" && state.LastEmotion == "" {
		return ""
	}
	out := "Tone guidance:"
	if state.RecommendedTone != "" {
		out += " speak in a " + state.RecommendedTone + " tone."
	}
	if state.LastEmotion != "" {
		out += " The prospect last sounded " + state.LastEmotion + "."
	}
	if state.IsAtRisk {
		out += " The relationship is at risk; do not push."
	}
	return out
}
