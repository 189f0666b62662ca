package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chathub/internal/apperr"
	"chathub/internal/providers"
	"chathub/internal/providers/registry"
	"chathub/internal/storage"
)

type fakeStore struct {
	chats    map[string]storage.Chat
	bots     map[string]storage.Bot
	memories []storage.Memory

	appended  []storage.Message
	contents  map[string]string
	citations map[string][]storage.Citation
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:    make(map[string]storage.Chat),
		bots:     make(map[string]storage.Bot),
		contents: make(map[string]string),
	}
}

func (f *fakeStore) GetChat(_ context.Context, id string) (storage.Chat, error) {
	c, ok := f.chats[id]
	if !ok {
		return storage.Chat{}, apperr.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetBot(_ context.Context, id string) (storage.Bot, error) {
	b, ok := f.bots[id]
	if !ok {
		return storage.Bot{}, apperr.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) ListKnowledgeSources(_ context.Context, _ string) ([]storage.KnowledgeSource, error) {
	return nil, nil
}

func (f *fakeStore) FindRelevantMemories(_ context.Context, _ string, limit int) ([]storage.Memory, error) {
	if limit > 0 && len(f.memories) > limit {
		return f.memories[:limit], nil
	}
	return f.memories, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, m storage.Message) (storage.Message, error) {
	f.nextID++
	m.ID = fmt.Sprintf("msg-%d", f.nextID)
	f.appended = append(f.appended, m)
	f.contents[m.ID] = m.Content
	return m, nil
}

func (f *fakeStore) SetMessageContent(_ context.Context, messageID, content string) error {
	if _, ok := f.contents[messageID]; !ok {
		return apperr.ErrNotFound
	}
	f.contents[messageID] = content
	return nil
}

func (f *fakeStore) AddCitations(_ context.Context, messageID string, citations []storage.Citation) error {
	if f.citations == nil {
		f.citations = make(map[string][]storage.Citation)
	}
	f.citations[messageID] = append(f.citations[messageID], citations...)
	return nil
}

type fakeChatter struct {
	reply     string
	citations []string
	err       error

	gotReq providers.ChatRequest
	calls  int
}

func (f *fakeChatter) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	f.calls++
	f.gotReq = req
	if f.err != nil {
		return providers.ChatResponse{}, f.err
	}
	return providers.ChatResponse{Text: f.reply, Citations: f.citations}, nil
}

type fakeVault map[providers.Provider]string

func (v fakeVault) Get(_ context.Context, p providers.Provider) (string, error) {
	return v[p], nil
}

func newTestOrchestrator(store *fakeStore, vault Vault, chatter *fakeChatter) *Orchestrator {
	return New(Options{
		Store: store,
		Vault: vault,
		Factory: func(registry.BuildOptions) (providers.Chatter, error) {
			return chatter, nil
		},
		ChunkInterval: time.Millisecond,
		Logger:        zerolog.Nop(),
	})
}

func seedChat(store *fakeStore) storage.Chat {
	c := storage.Chat{ID: "chat-1", Provider: "openai", Model: "gpt-4o"}
	store.chats[c.ID] = c
	return c
}

func TestSendHappyPath(t *testing.T) {
	store := newFakeStore()
	seedChat(store)
	chatter := &fakeChatter{reply: "hello there"}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	msg, err := o.Send(context.Background(), "chat-1", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != "hello there" {
		t.Fatalf("reply = %q", msg.Content)
	}
	if len(store.appended) != 2 {
		t.Fatalf("appended %d messages, want user + assistant", len(store.appended))
	}
	if store.appended[0].Role != storage.RoleUser || store.appended[0].Content != "hi" {
		t.Fatalf("user message = %+v", store.appended[0])
	}
	if store.appended[1].Role != storage.RoleAssistant || store.appended[1].Content != "" {
		t.Fatalf("placeholder = %+v", store.appended[1])
	}
	if store.contents[msg.ID] != "hello there" {
		t.Fatalf("persisted content = %q", store.contents[msg.ID])
	}
	if chatter.calls != 1 {
		t.Fatalf("provider called %d times, want exactly 1", chatter.calls)
	}
	if len(chatter.gotReq.Messages) != 1 || chatter.gotReq.Messages[0].Content != "hi" {
		t.Fatalf("request messages = %+v", chatter.gotReq.Messages)
	}
}

func TestSendChatNotFound(t *testing.T) {
	store := newFakeStore()
	chatter := &fakeChatter{reply: "x"}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	if _, err := o.Send(context.Background(), "missing", "hi"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if chatter.calls != 0 {
		t.Fatal("provider called for a missing chat")
	}
	if len(store.appended) != 0 {
		t.Fatal("messages persisted for a missing chat")
	}
}

func TestSendMissingAPIKey(t *testing.T) {
	store := newFakeStore()
	seedChat(store)
	chatter := &fakeChatter{reply: "x"}
	o := newTestOrchestrator(store, fakeVault{}, chatter)

	_, err := o.Send(context.Background(), "chat-1", "hi")
	if apperr.KindOf(err) != apperr.KindMissingKey {
		t.Fatalf("want missing-key error, got %v", err)
	}
	if chatter.calls != 0 {
		t.Fatal("provider called without a key")
	}
	// The user message survives; no assistant placeholder is created.
	if len(store.appended) != 1 || store.appended[0].Role != storage.RoleUser {
		t.Fatalf("appended = %+v, want just the user message", store.appended)
	}
}

func TestSendProviderErrorMarksPlaceholder(t *testing.T) {
	store := newFakeStore()
	seedChat(store)
	chatter := &fakeChatter{err: apperr.ServerError(500, "boom")}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	_, err := o.Send(context.Background(), "chat-1", "hi")
	if apperr.KindOf(err) != apperr.KindServerError {
		t.Fatalf("want server error, got %v", err)
	}
	if len(store.appended) != 2 {
		t.Fatalf("appended %d messages", len(store.appended))
	}
	placeholder := store.appended[1]
	got := store.contents[placeholder.ID]
	if !strings.HasPrefix(got, "Error: ") {
		t.Fatalf("placeholder content = %q, want error marker", got)
	}
}

func TestSendUsesBotSystemPromptAndMemories(t *testing.T) {
	store := newFakeStore()
	botID := "bot-1"
	store.bots[botID] = storage.Bot{ID: botID, SystemPrompt: "You are a pirate."}
	store.chats["chat-1"] = storage.Chat{ID: "chat-1", Provider: "openai", Model: "gpt-4o", BotID: &botID}
	store.memories = []storage.Memory{{Title: "Name", Content: "The user is called Sam"}}

	chatter := &fakeChatter{reply: "arr"}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	if _, err := o.Send(context.Background(), "chat-1", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	sp := chatter.gotReq.SystemPrompt
	if !strings.Contains(sp, "You are a pirate.") {
		t.Fatalf("system prompt missing bot prompt: %q", sp)
	}
	if !strings.Contains(sp, "The user is called Sam") {
		t.Fatalf("system prompt missing memory: %q", sp)
	}
}

func TestSendPersistsCitations(t *testing.T) {
	store := newFakeStore()
	seedChat(store)
	chatter := &fakeChatter{reply: "sourced answer", citations: []string{"https://example.com/a"}}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	msg, err := o.Send(context.Background(), "chat-1", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	cites := store.citations[msg.ID]
	if len(cites) != 1 || cites[0].SourceRef != "https://example.com/a" {
		t.Fatalf("citations = %+v", cites)
	}
}

func TestStreamOneChunkPerCharacter(t *testing.T) {
	store := newFakeStore()
	seedChat(store)
	reply := "héllo"
	chatter := &fakeChatter{reply: reply}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	s, err := o.Stream(context.Background(), "chat-1", "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer s.Close()

	var got strings.Builder
	n := 0
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		n++
		got.WriteString(chunk.Content)
		wantComplete := n == len([]rune(reply))
		if chunk.IsComplete != wantComplete {
			t.Fatalf("chunk %d: IsComplete = %v", n, chunk.IsComplete)
		}
	}
	if n != len([]rune(reply)) {
		t.Fatalf("got %d chunks, want one per character (%d)", n, len([]rune(reply)))
	}
	if got.String() != reply {
		t.Fatalf("reassembled = %q, want %q", got.String(), reply)
	}

	placeholder := store.appended[1]
	if store.contents[placeholder.ID] != reply {
		t.Fatalf("persisted = %q, want full reply", store.contents[placeholder.ID])
	}
}

func TestStreamProviderErrorSurfaces(t *testing.T) {
	store := newFakeStore()
	seedChat(store)
	chatter := &fakeChatter{err: apperr.ServerError(429, "slow down")}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	s, err := o.Stream(context.Background(), "chat-1", "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer s.Close()

	_, err = s.Recv()
	if apperr.KindOf(err) != apperr.KindRateLimited {
		t.Fatalf("want rate-limited error from Recv, got %v", err)
	}
	placeholder := store.appended[1]
	if !strings.HasPrefix(store.contents[placeholder.ID], "Error: ") {
		t.Fatalf("placeholder = %q, want error marker", store.contents[placeholder.ID])
	}
}

func TestSendsSerializedPerChat(t *testing.T) {
	store := newFakeStore()
	seedChat(store)
	chatter := &fakeChatter{reply: "ok"}
	o := newTestOrchestrator(store, fakeVault{providers.OpenAI: "sk-x"}, chatter)

	unlock := o.lockChat("chat-1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Send(context.Background(), "chat-1", "hi")
	}()

	select {
	case <-done:
		t.Fatal("second send proceeded while the chat was locked")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send never completed after unlock")
	}
}
