package content

import "github.com/cadencehq/cadence/pkg/models"

// AdaptToChannel rewraps a payload for a healed channel substitution.
// The primary text of the authored content becomes the body on the
// target channel; nothing is invented beyond a subject line for email.
// A payload already on the target channel is returned unchanged.
func AdaptToChannel(c models.StepContent, target models.Channel, subject string) models.StepContent {
	if c.Channel == target {
		return c
	}
	text := c.Text()
	switch target {
	case models.ChannelSMS:
		return models.StepContent{
			Channel: models.ChannelSMS,
			SMS:     &models.SMSContent{Body: text},
		}
	case models.ChannelEmail:
		if subject == "" {
			subject = "Following up"
		}
		return models.StepContent{
			Channel: models.ChannelEmail,
			Email:   &models.EmailContent{Subject: subject, TextBody: text, HTMLBody: text},
		}
	case models.ChannelVoice:
		return models.StepContent{
			Channel: models.ChannelVoice,
			Voice:   &models.VoiceContent{FirstMessage: text},
		}
	}
	return c
}
