package content

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cadencehq/cadence/pkg/models"
)

func TestRenderTextSubstitutesKnownKeys(t *testing.T) {
	out := RenderText("Hi {{first_name}}, this is {{company}}.", map[string]string{
		"first_name": "Dana",
		"company":    "Acme Plumbing",
	})
	assert.Equal(t, "Hi Dana, this is Acme Plumbing.", out)
}

func TestRenderTextKeepsUnknownPlaceholders(t *testing.T) {
	vars := map[string]string{"first_name": "Dana"}
	out := RenderText("Hi {{first_name}}, re {{ appointment_date }}.", vars)
	assert.Equal(t, "Hi Dana, re {{ appointment_date }}.", out)

	// Rendering again with the missing key bound completes the text.
	vars["appointment_date"] = "Tuesday"
	assert.Equal(t, "Hi Dana, re Tuesday.", RenderText(out, vars))
}

func TestRenderDoesNotMutateTemplate(t *testing.T) {
	template := models.StepContent{
		Channel: models.ChannelSMS,
		SMS:     &models.SMSContent{Body: "Hi {{name}}"},
	}
	rendered := Render(template, map[string]string{"name": "Dana"})
	assert.Equal(t, "Hi Dana", rendered.SMS.Body)
	assert.Equal(t, "Hi {{name}}", template.SMS.Body)
}

func TestRenderCoversVoiceFields(t *testing.T) {
	c := models.StepContent{
		Channel: models.ChannelVoice,
		Voice: &models.VoiceContent{
			FirstMessage: "Hi {{name}}",
			SystemPrompt: "You are calling {{name}} from {{company}}.",
			Metadata:     models.StringMap{"campaign": "{{campaign}}"},
		},
	}
	out := Render(c, map[string]string{"name": "Dana", "company": "Acme", "campaign": "spring"})
	assert.Equal(t, "Hi Dana", out.Voice.FirstMessage)
	assert.Equal(t, "You are calling Dana from Acme.", out.Voice.SystemPrompt)
	assert.Equal(t, "spring", out.Voice.Metadata["campaign"])
}

func TestPlaceholders(t *testing.T) {
	keys := Placeholders("{{a}} then {{b}} then {{a}} again")
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Nil(t, Placeholders("no placeholders here"))
}

func TestMergeVariablesLaterLayersWin(t *testing.T) {
	merged := MergeVariables(
		map[string]string{"name": "base", "phone": "+15550100"},
		map[string]string{"name": "override"},
		nil,
	)
	assert.Equal(t, "override", merged["name"])
	assert.Equal(t, "+15550100", merged["phone"])
}

func TestContactVariables(t *testing.T) {
	email := "dana@example.com"
	c := &models.Contact{
		DisplayName: "Dana Smith",
		Phone:       "+15550100",
		Company:     "Acme",
		Email:       &email,
	}
	vars := ContactVariables(c)
	assert.Equal(t, "Dana Smith", vars["name"])
	assert.Equal(t, "Dana", vars["first_name"])
	assert.Equal(t, "dana@example.com", vars["email"])

	// Single-word names still bind first_name.
	vars = ContactVariables(&models.Contact{DisplayName: "Dana"})
	assert.Equal(t, "Dana", vars["first_name"])
}
