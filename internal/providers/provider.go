// Package providers defines the closed set of supported AI providers and the
// chat client contract. Adding a provider means extending the enum and every
// exhaustive switch in this package and in catalog; the compiler flags the
// rest.
package providers

import (
	"context"

	"chathub/internal/apperr"
)

type Provider string

const (
	OpenAI     Provider = "openai"
	Anthropic  Provider = "anthropic"
	Groq       Provider = "groq"
	Perplexity Provider = "perplexity"
	DeepSeek   Provider = "deepseek"
	OpenRouter Provider = "openrouter"
	Custom     Provider = "custom"
)

// All lists every provider in display order.
var All = []Provider{OpenAI, Anthropic, Groq, Perplexity, DeepSeek, OpenRouter, Custom}

// Parse maps a stored provider identifier back to the enum. Unknown
// identifiers are an invalid-provider error, never a silent default.
func Parse(identifier string) (Provider, error) {
	switch Provider(identifier) {
	case OpenAI, Anthropic, Groq, Perplexity, DeepSeek, OpenRouter, Custom:
		return Provider(identifier), nil
	default:
		return "", apperr.InvalidProvider(identifier)
	}
}

// BaseURL is total: custom resolves to a placeholder, real custom endpoints
// come from user configuration outside this registry.
func (p Provider) BaseURL() string {
	switch p {
	case OpenAI:
		return "https://api.openai.com/v1"
	case Anthropic:
		return "https://api.anthropic.com/v1"
	case Groq:
		return "https://api.groq.com/openai/v1"
	case Perplexity:
		return "https://api.perplexity.ai"
	case DeepSeek:
		return "https://api.deepseek.com/v1"
	case OpenRouter:
		return "https://openrouter.ai/api/v1"
	case Custom:
		return "https://custom.endpoint.invalid"
	default:
		return ""
	}
}

func (p Provider) DisplayName() string {
	switch p {
	case OpenAI:
		return "OpenAI"
	case Anthropic:
		return "Anthropic"
	case Groq:
		return "Groq"
	case Perplexity:
		return "Perplexity"
	case DeepSeek:
		return "DeepSeek"
	case OpenRouter:
		return "OpenRouter"
	case Custom:
		return "Custom"
	default:
		return string(p)
	}
}

func (p Provider) IconRef() string {
	switch p {
	case OpenAI:
		return "openai-icon"
	case Anthropic:
		return "anthropic-icon"
	case Groq:
		return "groq-icon"
	case Perplexity:
		return "perplexity-icon"
	case DeepSeek:
		return "deepseek-icon"
	case OpenRouter:
		return "openrouter-icon"
	case Custom:
		return "custom-icon"
	default:
		return "custom-icon"
	}
}

type ChatMessage struct {
	Role    string
	Content string
}

type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
	MaxTokens    int
	Temperature  float64
}

type ChatResponse struct {
	Text string

	// Citations are source URLs some providers attach to the reply.
	Citations []string
}

// Chatter performs one chat-completion round trip. Implementations make
// exactly one attempt per call; a failed attempt is terminal for that send.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
