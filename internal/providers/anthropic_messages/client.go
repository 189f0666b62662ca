// Package anthropic_messages talks to the Anthropic /v1/messages endpoint.
package anthropic_messages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"chathub/internal/apperr"
	"chathub/internal/httpx"
	"chathub/internal/providers"
)

// Version is pinned; Anthropic requires it on every request.
const Version = "2023-06-01"

const defaultMaxTokens = 1024

type Config struct {
	BaseURL string
	APIKey  string
	HTTP    *httpx.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTP == nil {
		cfg.HTTP = httpx.NewClient(0)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = providers.Anthropic.BaseURL()
	}
	return &Client{cfg: cfg}
}

var _ providers.Chatter = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, err := buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	err = c.cfg.HTTP.Do(ctx, c.cfg.BaseURL, httpx.Endpoint{
		Path:   "/messages",
		Method: http.MethodPost,
		Header: map[string]string{
			"x-api-key":         c.cfg.APIKey,
			"anthropic-version": Version,
		},
		Body: body,
	}, &resp)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return providers.ChatResponse{}, apperr.NoData("missing text content in messages response")
	}
	return providers.ChatResponse{Text: sb.String()}, nil
}

func buildPayload(req providers.ChatRequest) ([]byte, error) {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		// Anthropic carries the system prompt in a top-level field and only
		// accepts user/assistant turns in the messages array.
		if m.Role == "system" {
			continue
		}
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		payload["system"] = req.SystemPrompt
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, nil
}
