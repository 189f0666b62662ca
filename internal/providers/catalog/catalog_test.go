package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chathub/internal/providers"
)

func newTestService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := New(nil, zerolog.Nop(), nil, time.Minute)
	s.baseURL = func(providers.Provider) string { return srv.URL }
	return s, srv
}

func TestDefaultModelsShape(t *testing.T) {
	for _, p := range providers.All {
		models := DefaultModels(p)
		if p == providers.Custom {
			if len(models) != 0 {
				t.Errorf("custom should have no default models, got %d", len(models))
			}
			continue
		}
		if len(models) == 0 {
			t.Errorf("provider %s has no default models", p)
		}
		for _, m := range models {
			if m.ContextSize <= 0 {
				t.Errorf("provider %s model %s has context size %d", p, m.ID, m.ContextSize)
			}
			if m.ID == "" || m.Name == "" {
				t.Errorf("provider %s has a model with empty id or name: %+v", p, m)
			}
		}
	}
}

func TestEmptyKeyShortCircuits(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected with an empty key")
	}))

	for _, p := range providers.All {
		got := s.FetchAvailableModels(context.Background(), p, "")
		want := DefaultModels(p)
		if len(got) != len(want) {
			t.Errorf("provider %s: expected %d default models, got %d", p, len(want), len(got))
		}
	}
}

func TestLiveFailureFallsBackToDefaults(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))

	got := s.FetchAvailableModels(context.Background(), providers.OpenAI, "sk-1")
	want := DefaultModels(providers.OpenAI)
	if len(got) != len(want) {
		t.Fatalf("expected default models on failure, got %d entries", len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Fatalf("expected default model %q at %d, got %q", want[i].ID, i, got[i].ID)
		}
	}
}

func TestDecodeFailureFallsBackToDefaults(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))

	got := s.FetchAvailableModels(context.Background(), providers.Groq, "gsk-1")
	if len(got) != len(DefaultModels(providers.Groq)) {
		t.Fatalf("expected groq defaults on decode failure, got %d entries", len(got))
	}
}

func TestOpenAIFilterAndMapping(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"gpt-4o-2024-05-13"},
			{"id":"gpt-3.5-turbo-instruct"},
			{"id":"gpt-4-ft-custom-ft-1"},
			{"id":"whisper-1"},
			{"id":"gpt-4-turbo-preview"}
		]}`))
	}))

	got := s.FetchAvailableModels(context.Background(), providers.OpenAI, "sk-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 models after filtering, got %d: %+v", len(got), got)
	}
	if got[0].Name != "GPT-4o" || got[0].ContextSize != 128000 {
		t.Fatalf("unexpected mapping for gpt-4o id: %+v", got[0])
	}
	if got[1].Name != "GPT-4 Turbo" || got[1].ContextSize != 128000 {
		t.Fatalf("unexpected mapping for gpt-4-turbo id: %+v", got[1])
	}
}

func TestAnthropicListing(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "ak-1" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		w.Write([]byte(`{"data":[
			{"id":"claude-3-opus-20240229","context_window":200000},
			{"id":"claude-3-haiku-20240307"}
		]}`))
	}))

	got := s.FetchAvailableModels(context.Background(), providers.Anthropic, "ak-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 models, got %d", len(got))
	}
	if got[0].Name != "Claude 3 Opus" {
		t.Fatalf("unexpected name %q", got[0].Name)
	}
	if got[1].ContextSize != 200000 {
		t.Fatalf("expected context_window default 200000, got %d", got[1].ContextSize)
	}
}

func TestProvidersWithoutListingUseDefaults(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("perplexity/deepseek/openrouter must not hit the network")
	}))

	for _, p := range []providers.Provider{providers.Perplexity, providers.DeepSeek, providers.OpenRouter} {
		got := s.FetchAvailableModels(context.Background(), p, "some-key")
		if len(got) != len(DefaultModels(p)) {
			t.Errorf("provider %s: expected defaults, got %d entries", p, len(got))
		}
	}
	if got := s.FetchAvailableModels(context.Background(), providers.Custom, "some-key"); len(got) != 0 {
		t.Errorf("custom with key should list no models, got %d", len(got))
	}
}

func TestListingCache(t *testing.T) {
	hits := 0
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"data":[{"id":"llama3-70b-8192"}]}`))
	}))

	s.FetchAvailableModels(context.Background(), providers.Groq, "gsk-1")
	s.FetchAvailableModels(context.Background(), providers.Groq, "gsk-1")
	if hits != 1 {
		t.Fatalf("expected one live fetch with a warm cache, got %d", hits)
	}
}
