// Package httpmodel implements protocol.ModelClient against OpenAI-style
// chat completion endpoints. One client serves multiple providers, each with
// its own base URL and credentials.
package httpmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stride-run/stride/pkg/protocol"
)

const defaultTimeout = 120 * time.Second

// ProviderConfig locates one provider's completion endpoint.
type ProviderConfig struct {
	BaseURL      string `json:"base_url"      yaml:"base_url"`
	APIKey       string `json:"api_key"       yaml:"api_key"`
	DefaultModel string `json:"default_model" yaml:"default_model"`
}

type Client struct {
	providers  map[string]ProviderConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(providers map[string]ProviderConfig, logger *slog.Logger) *Client {
	return &Client{
		providers:  providers,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "httpmodel"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt to the provider's chat completions endpoint.
// HTTP 429 surfaces as protocol.ErrProviderThrottled so the dispatcher can
// adapt the provider's limit.
func (c *Client) Complete(ctx context.Context, req protocol.ModelRequest) (protocol.ModelResponse, error) {
	provider, ok := c.providers[req.Provider]
	if !ok {
		return protocol.ModelResponse{}, fmt.Errorf("unknown model provider: %s", req.Provider)
	}

	model := req.Model
	if model == "" {
		model = provider.DefaultModel
	}

	payload := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		provider.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("failed to build completion request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("completion request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return protocol.ModelResponse{}, fmt.Errorf("%w: provider %s", protocol.ErrProviderThrottled, req.Provider)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.ErrorContext(ctx, "Completion request rejected",
			"provider", req.Provider, "status", resp.StatusCode)

		return protocol.ModelResponse{}, fmt.Errorf("provider %s returned status %d", req.Provider, resp.StatusCode)
	}

	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("failed to decode completion response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return protocol.ModelResponse{}, fmt.Errorf("provider %s returned no choices", req.Provider)
	}

	return protocol.ModelResponse{
		Text:          completion.Choices[0].Message.Content,
		ResourceUnits: completion.Usage.TotalTokens,
	}, nil
}
