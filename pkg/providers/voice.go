package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/models"
)

// CallRequest is everything needed to place one outbound AI call. The
// API key is per-umbrella, not per-process, so the worker passes the
// resolved umbrella's key with each request.
type CallRequest struct {
	APIKey       string
	Phone        string
	Content      models.VoiceContent
	TenantID     string
	UmbrellaID   string
	EnrollmentID string
	StepID       string
}

// VoiceClient places calls with the external voice provider.
type VoiceClient struct {
	baseURL     string
	callbackURL string
	http        *http.Client
}

// NewVoiceClient creates a VoiceClient.
func NewVoiceClient(cfg config.ProviderConfig) *VoiceClient {
	return &VoiceClient{
		baseURL:     cfg.VoiceBaseURL,
		callbackURL: cfg.CallbackBaseURL + "/webhooks/voice/call-events",
		http:        &http.Client{Timeout: requestTimeout},
	}
}

type callPayload struct {
	PhoneNumber string            `json:"phoneNumber"`
	AssistantID string            `json:"assistantId,omitempty"`
	Assistant   *assistantConfig  `json:"assistant,omitempty"`
	ServerURL   string            `json:"serverUrl"`
	Metadata    map[string]string `json:"metadata"`
}

type assistantConfig struct {
	FirstMessage string         `json:"firstMessage"`
	Model        assistantModel `json:"model"`
}

type assistantModel struct {
	SystemPrompt string `json:"systemPrompt"`
}

type callResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// InitiateCall submits the call and returns the provider's call id.
// The metadata envelope is echoed back verbatim on every webhook for
// this call.
func (c *VoiceClient) InitiateCall(ctx context.Context, in CallRequest) (string, error) {
	payload := callPayload{
		PhoneNumber: in.Phone,
		ServerURL:   c.callbackURL,
		Metadata: map[string]string{
			"tenantId":     in.TenantID,
			"umbrellaId":   in.UmbrellaID,
			"enrollmentId": in.EnrollmentID,
			"stepId":       in.StepID,
		},
	}
	if in.Content.AssistantID != "" {
		payload.AssistantID = in.Content.AssistantID
	} else {
		payload.Assistant = &assistantConfig{
			FirstMessage: in.Content.FirstMessage,
			Model:        assistantModel{SystemPrompt: in.Content.SystemPrompt},
		}
	}
	for k, v := range in.Content.Metadata {
		payload.Metadata[k] = v
	}

	var resp callResponse
	if err := postJSON(ctx, c.http, c.baseURL+"/call/phone", in.APIKey, payload, &resp); err != nil {
		return "", fmt.Errorf("initiating call to %s: %w", in.Phone, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provider accepted call but returned no call id")
	}
	return resp.ID, nil
}
