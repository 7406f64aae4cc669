package convo

import (
	"encoding/json"
	"time"

	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/models"
)

// sentimentScore maps a sentiment class onto the trend scale.
func sentimentScore(s string) float64 {
	switch s {
	case "positive", "excited":
		return 2
	case "interested":
		return 2
	case "neutral", "":
		return 0
	case "confused", "hesitant":
		return -0.5
	case "objection":
		return -1
	case "negative", "angry", "frustrated", "dismissive":
		return -2
	default:
		return 0
	}
}

// EngagementScore blends the last-window interactions into a bounded
// [0,100] score used for tone and timing only, never for gating.
//
// Components: inbound ratio (±20), recency-decayed sentiment (±15),
// answered-call rate (±10), appointment discussed (+10), staleness
// decay (−up to 15 after 3 days), per-interaction flags (hot_lead +5,
// at_risk −5, buying signals +2 each).
func EngagementScore(recent []models.Interaction, now time.Time) int {
	score := 50.0
	if len(recent) == 0 {
		return int(score)
	}

	inbound := 0
	callsTotal, callsAnswered := 0, 0
	appointmentDiscussed := false
	var sentimentSum, weightSum float64

	for i := range recent {
		in := &recent[i]
		if in.Direction == models.DirectionInbound {
			inbound++
		}
		if in.Channel == models.ChannelVoice && in.Direction == models.DirectionOutbound {
			callsTotal++
			if in.CallDisposition == "answered" || in.CallDuration > 0 {
				callsAnswered++
			}
		}
		// recent is newest-first; weight decays with age in the window.
		weight := 1.0 / float64(i+1)
		sentimentSum += sentimentScore(in.Sentiment) * weight
		weightSum += weight

		for _, topic := range in.KeyTopics {
			if topic == "appointment" || topic == "meeting" || topic == "demo" {
				appointmentDiscussed = true
			}
		}
		if len(in.AnalysisJSON) > 0 {
			var a llm.Analysis
			if json.Unmarshal(in.AnalysisJSON, &a) == nil {
				if a.IsHotLead {
					score += 5
				}
				if a.IsAtRisk {
					score -= 5
				}
				score += 2 * float64(len(a.BuyingSignals))
			}
		}
	}

	total := float64(len(recent))
	score += (float64(inbound)/total - 0.5) * 40 // ±20
	if weightSum > 0 {
		score += (sentimentSum / weightSum) / 2 * 15 // ±15 over [-2,+2]
	}
	if callsTotal > 0 {
		score += (float64(callsAnswered)/float64(callsTotal) - 0.5) * 20 // ±10
	}
	if appointmentDiscussed {
		score += 10
	}

	// Staleness: up to −15 once the conversation has sat idle 3+ days.
	idle := now.Sub(recent[0].CreatedAt)
	if days := idle.Hours() / 24; days > 0 {
		penalty := days / 3 * 15
		if penalty > 15 {
			penalty = 15
		}
		score -= penalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// Trend classifies the direction of the conversation by comparing the
// average sentiment of the recent half of the window against the older
// half.
func Trend(recent []models.Interaction) models.SentimentTrend {
	if len(recent) < 2 {
		return models.TrendStable
	}
	// recent is newest-first.
	mid := len(recent) / 2
	newer, older := recent[:mid], recent[mid:]

	avg := func(batch []models.Interaction) float64 {
		if len(batch) == 0 {
			return 0
		}
		var sum float64
		for i := range batch {
			sum += sentimentScore(batch[i].Sentiment)
		}
		return sum / float64(len(batch))
	}

	newerAvg, olderAvg := avg(newer), avg(older)
	delta := newerAvg - olderAvg

	switch {
	case newerAvg >= 1.5:
		return models.TrendHot
	case newerAvg <= -1.5:
		return models.TrendCold
	case delta > 0.8:
		return models.TrendWarming
	case delta < -0.8:
		return models.TrendCooling
	default:
		return models.TrendStable
	}
}
