// Package openai_compat talks to any provider exposing the OpenAI
// chat-completions surface: OpenAI itself, Groq, Perplexity, DeepSeek,
// OpenRouter and user-configured custom endpoints.
package openai_compat

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

type Config struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
	HTTP    *httpx.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTP == nil {
		cfg.HTTP = httpx.NewClient(0)
	}
	return &Client{cfg: cfg}
}

var _ providers.Chatter = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, err := buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	headers := map[string]string{}
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	for k, v := range c.cfg.Headers {
		headers[k] = v
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		// Perplexity attaches source URLs at the top level.
		Citations []string `json:"citations"`
	}
	err = c.cfg.HTTP.Do(ctx, c.cfg.BaseURL, httpx.Endpoint{
		Path:   "/chat/completions",
		Method: http.MethodPost,
		Header: headers,
		Body:   body,
	}, &resp)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	if len(resp.Choices) == 0 {
		return providers.ChatResponse{}, apperr.NoData("empty choices in chat completion response")
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return providers.ChatResponse{}, apperr.NoData("missing message content in chat completion response")
	}
	return providers.ChatResponse{Text: text, Citations: resp.Citations}, nil
}

func buildPayload(req providers.ChatRequest) ([]byte, error) {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   false,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, nil
}
