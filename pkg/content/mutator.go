package content

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/cadencehq/cadence/pkg/convo"
	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/models"
)

// MaxSMSGraphemes caps a mutated SMS body. The renderer never enforces
// this; only mutations are rejected for overrunning it.
const MaxSMSGraphemes = 320

var (
	phonePattern  = regexp.MustCompile(`\+?\d[\d\-\s().]{6,}\d`)
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"]+`)
	optOutPattern = regexp.MustCompile(`(?i)(reply\s+stop[^.!\n]*|stop\s+to\s+(?:opt\s*out|unsubscribe|cancel)|unsubscribe[^.!\n]*)`)
)

// mutationStore is the audit slice the mutator writes through.
type mutationStore interface {
	SaveMutation(ctx context.Context, rec models.MutationRecord) error
	LogExecution(ctx context.Context, entry models.ExecutionLogEntry) error
}

// Mutator asks the LLM for a context-adapted rewrite of rendered step
// content and applies it only when it clears the confidence threshold
// and the channel invariants.
type Mutator struct {
	llm           llm.Client
	audit         mutationStore
	minConfidence float64
	logger        *slog.Logger
}

// NewMutator creates a Mutator.
func NewMutator(client llm.Client, audit mutationStore, minConfidence float64, logger *slog.Logger) *Mutator {
	return &Mutator{
		llm:           client,
		audit:         audit,
		minConfidence: minConfidence,
		logger:        logger.With("component", "mutator"),
	}
}

// Eligible reports whether this dispatch may be mutated at all. The
// first step always goes out as authored, and mutation without real
// conversation context would just be paraphrase.
func Eligible(seq *models.Sequence, step *models.Step, enrollment *models.Enrollment, mem *convo.Memory) bool {
	enabled := seq.MutationEnabled && step.MutationOverride != models.MutationDisabled
	if step.MutationOverride == models.MutationForced {
		enabled = true
	}
	if !enabled {
		return false
	}
	if enrollment.CurrentStepOrder == 0 {
		return false
	}
	return mem != nil && mem.Informative()
}

// Apply returns the content to dispatch: the accepted mutation
// re-rendered through the substituter, or the rendered original when
// the mutation is discarded or the LLM is unavailable. A mutation
// record is persisted only when the rewrite is used.
func (m *Mutator) Apply(
	ctx context.Context,
	tenant *models.Tenant,
	seq *models.Sequence,
	step *models.Step,
	enrollment *models.Enrollment,
	mem *convo.Memory,
	rendered models.StepContent,
	vars map[string]string,
) (models.StepContent, bool) {
	original := rendered.Text()
	if original == "" {
		return rendered, false
	}

	res, err := m.llm.MutateContent(ctx, llm.MutateInput{
		Channel:        rendered.Channel,
		Original:       original,
		Context:        mem.FormattedTimeline,
		BrandVoice:     tenant.BrandVoice,
		Aggressiveness: seq.MutationAggressiveness,
		Guidance:       step.MutationInstructions,
	})
	if err != nil {
		m.logger.Warn("mutation unavailable, dispatching original",
			"enrollment_id", enrollment.ID, "step_id", step.ID, "error", err)
		return rendered, false
	}

	if res.Confidence < m.minConfidence {
		if logErr := m.audit.LogExecution(ctx, models.ExecutionLogEntry{
			EnrollmentID: enrollment.ID,
			StepID:       step.ID,
			Action:       models.ActionMutationDiscarded,
			Status:       "discarded",
			Detail:       fmt.Sprintf("confidence %.2f below threshold %.2f", res.Confidence, m.minConfidence),
		}); logErr != nil {
			m.logger.Error("failed to log discarded mutation", "enrollment_id", enrollment.ID, "error", logErr)
		}
		return rendered, false
	}

	mutatedText := RenderText(res.Content, vars)
	if reason := violatedInvariant(original, mutatedText, rendered.Channel); reason != "" {
		m.logger.Warn("mutation violates content invariant, dispatching original",
			"enrollment_id", enrollment.ID, "step_id", step.ID, "reason", reason)
		return rendered, false
	}

	mutated := withText(rendered, mutatedText)
	if err := m.audit.SaveMutation(ctx, models.MutationRecord{
		EnrollmentID:    enrollment.ID,
		StepID:          step.ID,
		OriginalContent: original,
		MutatedContent:  mutatedText,
		Confidence:      res.Confidence,
		Aggressiveness:  seq.MutationAggressiveness,
		Model:           res.Model,
	}); err != nil {
		m.logger.Error("failed to persist mutation record", "enrollment_id", enrollment.ID, "error", err)
	}
	return mutated, true
}

// withText swaps the primary text of the payload for the mutated one,
// leaving channel-specific scaffolding (subject, system prompt,
// assistant id) untouched.
func withText(c models.StepContent, text string) models.StepContent {
	out := c.Clone()
	switch out.Channel {
	case models.ChannelSMS:
		if out.SMS != nil {
			out.SMS.Body = text
		}
	case models.ChannelEmail:
		if out.Email != nil {
			out.Email.TextBody = text
			if out.Email.HTMLBody == "" {
				out.Email.HTMLBody = text
			}
		}
	case models.ChannelVoice:
		if out.Voice != nil {
			out.Voice.FirstMessage = text
		}
	}
	return out
}

// violatedInvariant checks the hard rules a rewrite must respect:
// phone numbers, URLs, opt-out language, and unbound placeholders from
// the original must survive literally, and SMS bodies stay within the
// grapheme cap. Returns an empty string when the mutation is clean.
func violatedInvariant(original, mutated string, channel models.Channel) string {
	if strings.TrimSpace(mutated) == "" {
		return "empty rewrite"
	}
	for _, phone := range phonePattern.FindAllString(original, -1) {
		if !strings.Contains(mutated, phone) {
			return "dropped phone number " + phone
		}
	}
	for _, url := range urlPattern.FindAllString(original, -1) {
		if !strings.Contains(mutated, url) {
			return "dropped url " + url
		}
	}
	if optOut := optOutPattern.FindString(original); optOut != "" {
		if !strings.Contains(mutated, optOut) {
			return "altered opt-out language"
		}
	}
	for _, key := range Placeholders(original) {
		if !strings.Contains(mutated, "{{"+key+"}}") && !strings.Contains(mutated, key) {
			return "dropped placeholder " + key
		}
	}
	if channel == models.ChannelSMS && uniseg.GraphemeClusterCount(mutated) > MaxSMSGraphemes {
		return fmt.Sprintf("sms body exceeds %d characters", MaxSMSGraphemes)
	}
	return ""
}
