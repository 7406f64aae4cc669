package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cadencehq/cadence/pkg/config"
)

// SMSClient sends text messages through the external SMS vendor.
type SMSClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewSMSClient creates an SMSClient.
func NewSMSClient(cfg config.ProviderConfig) *SMSClient {
	return &SMSClient{
		baseURL: cfg.SMSBaseURL,
		apiKey:  cfg.SMSAPIKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type smsPayload struct {
	To       string            `json:"to"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata"`
}

type smsResponse struct {
	ID string `json:"id"`
}

// Send delivers one message and returns the provider's message id.
// Delivery-status webhooks echo the metadata envelope.
func (c *SMSClient) Send(ctx context.Context, to, body, enrollmentID, stepID string) (string, error) {
	payload := smsPayload{
		To:   to,
		Body: body,
		Metadata: map[string]string{
			"enrollmentId": enrollmentID,
			"stepId":       stepID,
		},
	}
	var resp smsResponse
	if err := postJSON(ctx, c.http, c.baseURL+"/messages", c.apiKey, payload, &resp); err != nil {
		return "", fmt.Errorf("sending sms to %s: %w", to, err)
	}
	return resp.ID, nil
}
