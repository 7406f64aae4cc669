// Package content is the adaptation pipeline between a stored step
// template and the payload a channel worker dispatches: variable
// rendering, A/B variant selection, LLM mutation, and the self-healer
// that substitutes channels after failures.
package content

import (
	"regexp"
	"strings"

	"github.com/cadencehq/cadence/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// RenderText substitutes {{key}} placeholders in s. Keys absent from
// vars render as the literal placeholder, so rendering is idempotent
// and a later pass can bind what this one could not.
func RenderText(s string, vars map[string]string) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
}

// Render substitutes placeholders across every text field of the
// payload. The stored template is never mutated.
func Render(c models.StepContent, vars map[string]string) models.StepContent {
	out := c.Clone()
	switch out.Channel {
	case models.ChannelSMS:
		if out.SMS != nil {
			out.SMS.Body = RenderText(out.SMS.Body, vars)
		}
	case models.ChannelEmail:
		if out.Email != nil {
			out.Email.Subject = RenderText(out.Email.Subject, vars)
			out.Email.HTMLBody = RenderText(out.Email.HTMLBody, vars)
			out.Email.TextBody = RenderText(out.Email.TextBody, vars)
		}
	case models.ChannelVoice:
		if out.Voice != nil {
			out.Voice.FirstMessage = RenderText(out.Voice.FirstMessage, vars)
			out.Voice.SystemPrompt = RenderText(out.Voice.SystemPrompt, vars)
			for k, v := range out.Voice.Metadata {
				out.Voice.Metadata[k] = RenderText(v, vars)
			}
		}
	}
	return out
}

// Placeholders returns the distinct placeholder keys in s, in order of
// first appearance.
func Placeholders(s string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// MergeVariables flattens layers lowest-precedence first; later layers
// win on key collisions.
func MergeVariables(layers ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// ContactVariables exposes the contact's core fields to the renderer.
func ContactVariables(c *models.Contact) map[string]string {
	vars := map[string]string{
		"name":    c.DisplayName,
		"phone":   c.Phone,
		"company": c.Company,
	}
	if first, _, ok := strings.Cut(c.DisplayName, " "); ok {
		vars["first_name"] = first
	} else if c.DisplayName != "" {
		vars["first_name"] = c.DisplayName
	}
	if c.Email != nil {
		vars["email"] = *c.Email
	}
	return vars
}
