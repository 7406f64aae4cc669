package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cadencehq/cadence/pkg/config"
)

// EmailClient sends email through the external email vendor.
type EmailClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewEmailClient creates an EmailClient.
func NewEmailClient(cfg config.ProviderConfig) *EmailClient {
	return &EmailClient{
		baseURL: cfg.EmailBaseURL,
		apiKey:  cfg.EmailAPIKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// EmailMessage is one outbound email.
type EmailMessage struct {
	To           string
	Subject      string
	HTMLBody     string
	TextBody     string
	EnrollmentID string
	StepID       string
}

type emailPayload struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	HTML     string            `json:"html,omitempty"`
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata"`
}

type emailResponse struct {
	ID string `json:"id"`
}

// Send delivers one email and returns the provider's message id.
// Open/click/bounce webhooks echo the metadata envelope.
func (c *EmailClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	payload := emailPayload{
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
		Text:    msg.TextBody,
		Metadata: map[string]string{
			"enrollmentId": msg.EnrollmentID,
			"stepId":       msg.StepID,
		},
	}
	var resp emailResponse
	if err := postJSON(ctx, c.http, c.baseURL+"/send", c.apiKey, payload, &resp); err != nil {
		return "", fmt.Errorf("sending email to %s: %w", msg.To, err)
	}
	return resp.ID, nil
}
