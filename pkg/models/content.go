package models

import (
	"database/sql/driver"
	"fmt"
)

// StepContent is the channel-tagged content payload of a step or variant.
// Exactly one channel's field set is meaningful; validators at every
// boundary keep cross-channel fields from leaking.
type StepContent struct {
	Channel Channel       `json:"channel"`
	SMS     *SMSContent   `json:"sms,omitempty"`
	Email   *EmailContent `json:"email,omitempty"`
	Voice   *VoiceContent `json:"voice,omitempty"`
}

// SMSContent is the plain-text body of an SMS step.
type SMSContent struct {
	Body string `json:"body"`
}

// EmailContent carries subject plus HTML and text bodies.
type EmailContent struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// VoiceContent configures an outbound AI call.
type VoiceContent struct {
	FirstMessage string    `json:"first_message"`
	SystemPrompt string    `json:"system_prompt"`
	AssistantID  string    `json:"assistant_id,omitempty"`
	Metadata     StringMap `json:"metadata,omitempty"`
}

func (c StepContent) Value() (driver.Value, error) { return jsonValue(c) }
func (c *StepContent) Scan(src any) error          { return jsonScan(src, c) }

// Validate checks that the payload carries exactly the fields of its
// declared channel.
func (c StepContent) Validate() error {
	if !c.Channel.Valid() {
		return fmt.Errorf("invalid content channel %q", c.Channel)
	}
	switch c.Channel {
	case ChannelSMS:
		if c.SMS == nil {
			return fmt.Errorf("sms content missing sms payload")
		}
		if c.Email != nil || c.Voice != nil {
			return fmt.Errorf("sms content carries foreign channel fields")
		}
		if c.SMS.Body == "" {
			return fmt.Errorf("sms body is empty")
		}
	case ChannelEmail:
		if c.Email == nil {
			return fmt.Errorf("email content missing email payload")
		}
		if c.SMS != nil || c.Voice != nil {
			return fmt.Errorf("email content carries foreign channel fields")
		}
		if c.Email.Subject == "" {
			return fmt.Errorf("email subject is empty")
		}
	case ChannelVoice:
		if c.Voice == nil {
			return fmt.Errorf("voice content missing voice payload")
		}
		if c.SMS != nil || c.Email != nil {
			return fmt.Errorf("voice content carries foreign channel fields")
		}
		if c.Voice.FirstMessage == "" && c.Voice.AssistantID == "" {
			return fmt.Errorf("voice content needs a first message or assistant id")
		}
	}
	return nil
}

// Clone returns a deep copy so renderers can substitute placeholders
// without mutating the stored template.
func (c StepContent) Clone() StepContent {
	out := StepContent{Channel: c.Channel}
	if c.SMS != nil {
		sms := *c.SMS
		out.SMS = &sms
	}
	if c.Email != nil {
		email := *c.Email
		out.Email = &email
	}
	if c.Voice != nil {
		voice := *c.Voice
		voice.Metadata = make(StringMap, len(c.Voice.Metadata))
		for k, v := range c.Voice.Metadata {
			voice.Metadata[k] = v
		}
		out.Voice = &voice
	}
	return out
}

// Text returns the primary human-readable text of the payload, used by
// the mutator and for audit records.
func (c StepContent) Text() string {
	switch c.Channel {
	case ChannelSMS:
		if c.SMS != nil {
			return c.SMS.Body
		}
	case ChannelEmail:
		if c.Email != nil {
			return c.Email.TextBody
		}
	case ChannelVoice:
		if c.Voice != nil {
			return c.Voice.FirstMessage
		}
	}
	return ""
}
