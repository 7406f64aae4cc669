package llm

import (
	"fmt"
	"strings"

	"github.com/cadencehq/cadence/pkg/models"
)

const analysisSystemPrompt = `You are a sales conversation analyst. Respond with a single JSON object matching exactly this shape, no prose:
{
  "primary_emotion": "excited|interested|neutral|hesitant|frustrated|confused|angry|dismissive",
  "emotion_confidence": 0.0,
  "intent": "interested|not_interested|stop|reschedule|question|unknown|objection|ready_to_buy|needs_info",
  "objections": [{"type": "price|timing|competitor|authority|need|trust|urgency", "detail": "", "severity": "mild|moderate|strong"}],
  "buying_signals": [{"signal": "", "strength": "weak|moderate|strong"}],
  "urgency_level": "immediate|soon|flexible|no_rush|lost",
  "recommended_action": "escalate_to_human|continue_sequence|pause_and_notify|fast_track|end_sequence|switch_channel|address_objection",
  "recommended_channel": "sms|email|voice|any",
  "recommended_tone": "empathetic|urgent|casual|professional|reassuring",
  "needs_human_intervention": false,
  "is_hot_lead": false,
  "is_at_risk": false
}`

func messageAnalysisPrompt(in MessageInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", in.Channel)
	if len(in.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, line := range in.History {
			b.WriteString("  " + line + "\n")
		}
	}
	fmt.Fprintf(&b, "Inbound message:\n%s\n", in.Body)
	b.WriteString("Analyze the inbound message.")
	return b.String()
}

func transcriptAnalysisPrompt(in TranscriptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call disposition: %s\nDuration: %d seconds\nTranscript:\n%s\n",
		in.Disposition, in.DurationSeconds, in.Transcript)
	b.WriteString("Analyze the prospect side of this call.")
	return b.String()
}

func mutationSystemPrompt(in MutateInput) string {
	var b strings.Builder
	b.WriteString("You rewrite outbound sales messages to fit the conversation so far. ")
	b.WriteString("Respond with a single JSON object: {\"content\": \"...\", \"confidence\": 0.0}. ")
	b.WriteString("Confidence is your own estimate in [0,1] that the rewrite outperforms the original.\n\n")

	switch in.Aggressiveness {
	case models.AggressivenessConservative:
		b.WriteString("Latitude: CONSERVATIVE. Adjust tone and add at most 1-2 references to the conversation. Keep the call to action and the offer word for word.\n")
	case models.AggressivenessModerate:
		b.WriteString("Latitude: MODERATE. You may restructure the message but preserve the call to action and the intent.\n")
	case models.AggressivenessAggressive:
		b.WriteString("Latitude: AGGRESSIVE. Regenerate freely; the original is topic inspiration only.\n")
	}

	b.WriteString("Hard rules for every channel: phone numbers, URLs, legal disclaimers, and opt-out language must remain literally present and unaltered. ")
	b.WriteString("Keep {{placeholder}} tokens intact. ")
	if in.Channel == models.ChannelSMS {
		b.WriteString("SMS body must stay under 320 characters, preferably under 160. ")
	}
	if in.Channel == models.ChannelVoice {
		b.WriteString("Voice prompts stay natural-language instructions for a voice agent. ")
	}
	if in.BrandVoice != "" {
		b.WriteString("\nBrand voice: " + in.BrandVoice)
	}
	return b.String()
}

func mutationUserPrompt(in MutateInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n\nOriginal message:\n%s\n", in.Channel, in.Original)
	if in.Context != "" {
		fmt.Fprintf(&b, "\nConversation context:\n%s\n", in.Context)
	}
	if in.Guidance != "" {
		fmt.Fprintf(&b, "\nOperator guidance: %s\n", in.Guidance)
	}
	b.WriteString("\nRewrite the message.")
	return b.String()
}

const sequenceSystemPrompt = `You design outbound follow-up sequences. Respond with a single JSON object: {"steps": [{"channel": "sms|email|voice", "delay_seconds": 0, "content": ""}]}.`

func sequencePrompt(in SequenceInput) string {
	channels := make([]string, len(in.Channels))
	for i, c := range in.Channels {
		channels[i] = string(c)
	}
	return fmt.Sprintf("Goal: %s\nBrand voice: %s\nAllowed channels: %s\nStep count: %d",
		in.Goal, in.BrandVoice, strings.Join(channels, ", "), in.StepCount)
}
