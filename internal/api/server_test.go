package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chathub/internal/chat"
	"chathub/internal/crypto"
	"chathub/internal/providers"
	"chathub/internal/providers/catalog"
	"chathub/internal/providers/registry"
	"chathub/internal/secrets"
	"chathub/internal/storage"
)

type stubChatter struct {
	reply string
	err   error
}

func (c *stubChatter) Chat(context.Context, providers.ChatRequest) (providers.ChatResponse, error) {
	if c.err != nil {
		return providers.ChatResponse{}, c.err
	}
	return providers.ChatResponse{Text: c.reply}, nil
}

func newTestServer(t *testing.T, chatter *stubChatter) (*httptest.Server, *storage.Store) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "api.db")
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	key := make([]byte, 32)
	kr, err := crypto.NewKeyring("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	vault := secrets.New(store, kr, zerolog.Nop())

	orch := chat.New(chat.Options{
		Store: store,
		Vault: vault,
		Factory: func(registry.BuildOptions) (providers.Chatter, error) {
			return chatter, nil
		},
		ChunkInterval: time.Millisecond,
		Logger:        zerolog.Nop(),
	})

	srv := New(Config{
		Store:   store,
		Orch:    orch,
		Catalog: catalog.New(nil, zerolog.Nop(), nil, time.Minute),
		Vault:   vault,
		Logger:  zerolog.Nop(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// Every test chat runs on openai; store a key up front.
	if err := vault.Set(context.Background(), providers.OpenAI, "sk-test"); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func createChat(t *testing.T, ts *httptest.Server) chatJSON {
	t.Helper()
	var c chatJSON
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/chats", map[string]string{
		"provider": "openai",
		"model":    "gpt-4o",
	}, &c)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat status = %d", resp.StatusCode)
	}
	return c
}

func TestSendEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "pong"})
	c := createChat(t, ts)

	var msg messageJSON
	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/chats/%s/messages", ts.URL, c.ID), sendRequest{Text: "ping"}, &msg)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	if msg.Role != storage.RoleAssistant || msg.Content != "pong" {
		t.Fatalf("reply = %+v", msg)
	}

	var full chatJSON
	doJSON(t, http.MethodGet, ts.URL+"/v1/chats/"+c.ID, nil, &full)
	if len(full.Messages) != 2 {
		t.Fatalf("chat has %d messages, want 2", len(full.Messages))
	}
	if full.Messages[0].Content != "ping" || full.Messages[1].Content != "pong" {
		t.Fatalf("messages = %+v", full.Messages)
	}
}

func TestSendMissingChatIs404(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "x"})

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/chats/nope/messages", sendRequest{Text: "hi"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSendEmptyTextIs400(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "x"})
	c := createChat(t, ts)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/chats/%s/messages", ts.URL, c.ID), sendRequest{Text: "  "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamEndpointEmitsSSE(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "hey"})
	c := createChat(t, ts)

	body := strings.NewReader(`{"text":"hi"}`)
	resp, err := http.Post(fmt.Sprintf("%s/v1/chats/%s/stream", ts.URL, c.ID), "application/json", body)
	if err != nil {
		t.Fatalf("post stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	events := strings.Count(raw.String(), "event: chunk")
	if events != len("hey") {
		t.Fatalf("got %d chunk events, want %d\n%s", events, len("hey"), raw.String())
	}
	if !strings.Contains(raw.String(), `"is_complete":true`) {
		t.Fatalf("no completion marker in stream:\n%s", raw.String())
	}
}

func TestKeyLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "x"})

	resp := doJSON(t, http.MethodPut, ts.URL+"/v1/keys/anthropic", map[string]string{"api_key": "sk-ant"}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put key status = %d", resp.StatusCode)
	}

	var keys struct {
		Configured []string `json:"configured"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/v1/keys", nil, &keys)
	found := false
	for _, p := range keys.Configured {
		if p == "anthropic" {
			found = true
		}
	}
	if !found {
		t.Fatalf("configured = %v, want anthropic present", keys.Configured)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/keys/anthropic", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/keys/anthropic", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete absent key status = %d, want 404", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/v1/keys/doesnotexist", map[string]string{"api_key": "x"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown provider status = %d, want 400", resp.StatusCode)
	}
}

func TestRewrapKeysEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "x"})

	var out struct {
		Rewrapped int `json:"rewrapped"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/keys/rewrap", nil, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rewrap status = %d", resp.StatusCode)
	}
	// newTestServer seeds one key.
	if out.Rewrapped != 1 {
		t.Fatalf("rewrapped = %d, want 1", out.Rewrapped)
	}

	var keys struct {
		Configured []string `json:"configured"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/v1/keys", nil, &keys)
	if len(keys.Configured) != 1 || keys.Configured[0] != "openai" {
		t.Fatalf("configured after rewrap = %v", keys.Configured)
	}
}

func TestModelsEndpointFallsBackToDefaults(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "x"})

	// deepseek has no live listing; the response is the default table.
	var models []catalog.ModelInfo
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/providers/deepseek/models", nil, &models)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("models status = %d", resp.StatusCode)
	}
	if len(models) == 0 {
		t.Fatal("expected default models for deepseek")
	}
}

func TestRelevantMemoriesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &stubChatter{reply: "x"})

	doJSON(t, http.MethodPost, ts.URL+"/v1/memories", map[string]any{
		"title": "Deadline", "content": "ship friday", "tags": []string{"urgent"},
	}, nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/memories", map[string]any{
		"title": "Groceries", "content": "milk",
	}, nil)

	var got []memoryJSON
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/memories/relevant?text=urgent+work&limit=1", nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relevant status = %d", resp.StatusCode)
	}
	if len(got) != 1 || got[0].Title != "Deadline" {
		t.Fatalf("relevant = %+v", got)
	}
}

func TestBotGuardSurfacesAs400(t *testing.T) {
	ts, store := newTestServer(t, &stubChatter{reply: "x"})

	stock, err := store.CreateBot(context.Background(), storage.Bot{
		Name: "Built-in", Provider: "openai", Model: "gpt-4o", IsEditable: false,
	})
	if err != nil {
		t.Fatalf("seed stock bot: %v", err)
	}

	resp := doJSON(t, http.MethodDelete, ts.URL+"/v1/bots/"+stock.ID, nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("delete stock bot status = %d, want 400", resp.StatusCode)
	}
}
