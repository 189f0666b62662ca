// Package registry builds the chat client for a provider. The switch is
// exhaustive over the provider enum so a new provider cannot be merged without
// deciding its wire surface here.
package registry

import (
	"strings"

	"chathub/internal/apperr"
	"chathub/internal/httpx"
	"chathub/internal/providers"
	"chathub/internal/providers/anthropic_messages"
	"chathub/internal/providers/openai_compat"
)

type BuildOptions struct {
	Provider providers.Provider
	APIKey   string

	// CustomBaseURL is required for providers.Custom and ignored otherwise.
	CustomBaseURL string

	HTTP *httpx.Client
}

func Build(opts BuildOptions) (providers.Chatter, error) {
	switch opts.Provider {
	case providers.Anthropic:
		return anthropic_messages.New(anthropic_messages.Config{
			APIKey: opts.APIKey,
			HTTP:   opts.HTTP,
		}), nil

	case providers.Custom:
		base := strings.TrimSpace(opts.CustomBaseURL)
		if base == "" {
			return nil, apperr.MissingField("custom base URL")
		}
		return openai_compat.New(openai_compat.Config{
			BaseURL: base,
			APIKey:  opts.APIKey,
			HTTP:    opts.HTTP,
		}), nil

	case providers.OpenAI, providers.Groq, providers.Perplexity, providers.DeepSeek, providers.OpenRouter:
		return openai_compat.New(openai_compat.Config{
			BaseURL: opts.Provider.BaseURL(),
			APIKey:  opts.APIKey,
			HTTP:    opts.HTTP,
		}), nil

	default:
		return nil, apperr.InvalidProvider(string(opts.Provider))
	}
}
