package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/cadencehq/cadence/pkg/config"
)

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint
// with strict-JSON prompts. Calls run behind a circuit breaker and a
// bounded exponential retry; persistent failure surfaces as an error the
// fallback layer absorbs.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient creates the client from configuration.
func NewHTTPClient(cfg config.LLMConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llm",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete runs one chat completion and returns the assistant text.
func (c *HTTPClient) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	var content string
	operation := func() error {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.doRequest(ctx, body)
		})
		if err != nil {
			if ctx.Err() != nil || err == gobreaker.ErrOpenState {
				return backoff.Permanent(err)
			}
			return err
		}
		content = result.(string)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("llm completion: %w", err)
	}
	return content, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling llm: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// AnalyzeMessage classifies an inbound message.
func (c *HTTPClient) AnalyzeMessage(ctx context.Context, in MessageInput) (*Analysis, error) {
	out, err := c.complete(ctx, analysisSystemPrompt, messageAnalysisPrompt(in), 0.2)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(out)
}

// AnalyzeTranscript classifies a finished call.
func (c *HTTPClient) AnalyzeTranscript(ctx context.Context, in TranscriptInput) (*Analysis, error) {
	out, err := c.complete(ctx, analysisSystemPrompt, transcriptAnalysisPrompt(in), 0.2)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(out)
}

// MutateContent requests a conversation-adapted rewrite.
func (c *HTTPClient) MutateContent(ctx context.Context, in MutateInput) (*MutationResult, error) {
	out, err := c.complete(ctx, mutationSystemPrompt(in), mutationUserPrompt(in), 0.7)
	if err != nil {
		return nil, err
	}
	var result MutationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		return nil, fmt.Errorf("mutator returned schema-invalid JSON: %w", err)
	}
	if result.Content == "" {
		return nil, fmt.Errorf("mutator returned empty content")
	}
	result.Model = c.model
	return &result, nil
}

// GenerateSequence produces a sequence outline.
func (c *HTTPClient) GenerateSequence(ctx context.Context, in SequenceInput) ([]GeneratedStep, error) {
	out, err := c.complete(ctx, sequenceSystemPrompt, sequencePrompt(in), 0.7)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Steps []GeneratedStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(out), &wrapper); err != nil {
		return nil, fmt.Errorf("sequence generator returned schema-invalid JSON: %w", err)
	}
	return wrapper.Steps, nil
}

// parseAnalysis decodes and normalizes a model verdict, rejecting
// incomplete shapes so callers never see a partial analysis.
func parseAnalysis(raw string) (*Analysis, error) {
	var a Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("analysis is schema-invalid JSON: %w", err)
	}
	if a.PrimaryEmotion == "" || a.Intent == "" {
		return nil, fmt.Errorf("analysis missing required fields")
	}
	if a.Objections == nil {
		a.Objections = []Objection{}
	}
	if a.BuyingSignals == nil {
		a.BuyingSignals = []BuyingSignal{}
	}
	if a.RecommendedAction == "" {
		a.RecommendedAction = ActionContinueSequence
	}
	if a.RecommendedChannel == "" {
		a.RecommendedChannel = "any"
	}
	if a.RecommendedTone == "" {
		a.RecommendedTone = "professional"
	}
	if a.UrgencyLevel == "" {
		a.UrgencyLevel = "flexible"
	}
	return &a, nil
}
