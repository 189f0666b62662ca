// Package chat drives a conversation turn end to end: persist the user
// message, call the provider, persist the assistant reply. The streaming path
// delivers the same reply as a character-by-character chunk stream so clients
// can render a typing effect without parsing provider wire formats.
package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chathub/internal/apperr"
	"chathub/internal/diag"
	"chathub/internal/httpx"
	"chathub/internal/metrics"
	"chathub/internal/providers"
	"chathub/internal/providers/registry"
	"chathub/internal/storage"
)

const (
	// One chunk per character, paced like a human-visible typing effect.
	defaultChunkInterval = 30 * time.Millisecond

	relevantMemoryLimit = 5
)

// Store is the slice of the persistence layer a conversation turn needs.
type Store interface {
	GetChat(ctx context.Context, id string) (storage.Chat, error)
	GetBot(ctx context.Context, id string) (storage.Bot, error)
	ListKnowledgeSources(ctx context.Context, botID string) ([]storage.KnowledgeSource, error)
	FindRelevantMemories(ctx context.Context, text string, limit int) ([]storage.Memory, error)
	AppendMessage(ctx context.Context, m storage.Message) (storage.Message, error)
	SetMessageContent(ctx context.Context, messageID, content string) error
	AddCitations(ctx context.Context, messageID string, citations []storage.Citation) error
}

// Vault resolves the API key for a provider; absent keys read as "".
type Vault interface {
	Get(ctx context.Context, p providers.Provider) (string, error)
}

// ClientFactory builds the wire client for one send. Swapped in tests.
type ClientFactory func(opts registry.BuildOptions) (providers.Chatter, error)

type Orchestrator struct {
	store   Store
	vault   Vault
	build   ClientFactory
	http    *httpx.Client
	diag    *diag.Recorder
	logger  zerolog.Logger
	metrics *metrics.Metrics

	customBaseURL string
	chunkInterval time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Options struct {
	Store Store
	Vault Vault
	HTTP  *httpx.Client
	Diag  *diag.Recorder

	// CustomBaseURL backs the "custom" provider; chats on other providers
	// ignore it.
	CustomBaseURL string

	// Factory overrides registry.Build, for tests.
	Factory ClientFactory

	// ChunkInterval overrides the streaming cadence, for tests.
	ChunkInterval time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func New(opts Options) *Orchestrator {
	build := opts.Factory
	if build == nil {
		build = registry.Build
	}
	interval := opts.ChunkInterval
	if interval <= 0 {
		interval = defaultChunkInterval
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Global()
	}
	d := opts.Diag
	if d == nil {
		d = diag.NewWriter(io.Discard)
	}
	return &Orchestrator{
		store:         opts.Store,
		vault:         opts.Vault,
		build:         build,
		http:          opts.HTTP,
		diag:          d,
		logger:        opts.Logger.With().Str("component", "chat").Logger(),
		metrics:       m,
		customBaseURL: opts.CustomBaseURL,
		chunkInterval: interval,
		locks:         make(map[string]*sync.Mutex),
	}
}

// Send runs one blocking conversation turn and returns the persisted
// assistant message. Turns on the same chat are serialized; turns on
// different chats run concurrently.
func (o *Orchestrator) Send(ctx context.Context, chatID, text string) (storage.Message, error) {
	unlock := o.lockChat(chatID)
	defer unlock()

	turn, err := o.beginTurn(ctx, chatID, text)
	if err != nil {
		return storage.Message{}, err
	}

	resp, err := o.generate(ctx, turn)
	if err != nil {
		o.failTurn(ctx, turn, err)
		return storage.Message{}, err
	}

	if err := o.store.SetMessageContent(ctx, turn.assistant.ID, resp.Text); err != nil {
		return storage.Message{}, err
	}
	if err := o.persistCitations(ctx, turn, resp.Citations); err != nil {
		return storage.Message{}, err
	}
	turn.assistant.Content = resp.Text
	return turn.assistant, nil
}

// Stream runs one conversation turn and emits the reply one character at a
// time. The full reply is fetched first, then trickled; the assistant message
// is persisted once the final chunk has gone out. Cancelling the context stops
// emission and persists whatever was already emitted.
func (o *Orchestrator) Stream(ctx context.Context, chatID, text string) (*Stream, error) {
	unlock := o.lockChat(chatID)

	turn, err := o.beginTurn(ctx, chatID, text)
	if err != nil {
		unlock()
		return nil, err
	}

	s := &Stream{events: make(chan event), closed: make(chan struct{})}
	go func() {
		defer unlock()
		defer close(s.events)
		o.streamTurn(ctx, turn, s)
	}()
	return s, nil
}

// turn carries the per-send state between the shared setup and the two
// delivery paths.
type turn struct {
	chat      storage.Chat
	assistant storage.Message
	request   providers.ChatRequest
	provider  providers.Provider
	apiKey    string
}

// beginTurn is steps 1-5 of the send state machine: load, persist the user
// message, resolve provider and key, persist the empty assistant placeholder.
func (o *Orchestrator) beginTurn(ctx context.Context, chatID, text string) (*turn, error) {
	o.metrics.SendsTotal.Inc()

	c, err := o.store.GetChat(ctx, chatID)
	if err != nil {
		o.recordFailure("send.load_chat", err)
		return nil, err
	}

	// The user's message is durable before provider resolution: a send that
	// fails on a bad provider or missing key still shows what the user said.
	userMsg, err := o.store.AppendMessage(ctx, storage.Message{
		ChatID:  c.ID,
		Role:    storage.RoleUser,
		Content: text,
	})
	if err != nil {
		o.recordFailure("send.persist_user", err)
		return nil, err
	}
	c.Messages = append(c.Messages, userMsg)

	provider, err := providers.Parse(c.Provider)
	if err != nil {
		o.recordFailure("send.parse_provider", err)
		return nil, err
	}

	apiKey, err := o.vault.Get(ctx, provider)
	if err != nil {
		o.recordFailure("send.vault", err)
		return nil, err
	}
	if apiKey == "" {
		err := apperr.MissingAPIKey(string(provider))
		o.recordFailure("send.vault", err)
		return nil, err
	}

	systemPrompt, err := o.buildSystemPrompt(ctx, c, text)
	if err != nil {
		o.recordFailure("send.system_prompt", err)
		return nil, err
	}

	assistant, err := o.store.AppendMessage(ctx, storage.Message{
		ChatID:  c.ID,
		Role:    storage.RoleAssistant,
		Content: "",
	})
	if err != nil {
		o.recordFailure("send.persist_placeholder", err)
		return nil, err
	}

	req := providers.ChatRequest{
		Model:        c.Model,
		SystemPrompt: systemPrompt,
	}
	for _, m := range c.Messages {
		req.Messages = append(req.Messages, providers.ChatMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return &turn{
		chat:      c,
		assistant: assistant,
		request:   req,
		provider:  provider,
		apiKey:    apiKey,
	}, nil
}

func (o *Orchestrator) generate(ctx context.Context, t *turn) (providers.ChatResponse, error) {
	client, err := o.build(registry.BuildOptions{
		Provider:      t.provider,
		APIKey:        t.apiKey,
		CustomBaseURL: o.customBaseURL,
		HTTP:          o.http,
	})
	if err != nil {
		return providers.ChatResponse{}, err
	}
	resp, err := client.Chat(ctx, t.request)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	o.logger.Debug().
		Str("chat_id", t.chat.ID).
		Str("provider", string(t.provider)).
		Int("reply_len", len(resp.Text)).
		Msg("reply generated")
	return resp, nil
}

// persistCitations records provider-attached source URLs against the
// assistant message.
func (o *Orchestrator) persistCitations(ctx context.Context, t *turn, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	citations := make([]storage.Citation, 0, len(urls))
	for _, u := range urls {
		citations = append(citations, storage.Citation{
			Text:       u,
			SourceType: "url",
			SourceRef:  u,
		})
	}
	return o.store.AddCitations(ctx, t.assistant.ID, citations)
}

// failTurn overwrites the placeholder with a user-readable error marker so the
// conversation shows what happened instead of a blank bubble.
func (o *Orchestrator) failTurn(ctx context.Context, t *turn, cause error) {
	o.recordFailure("send.generate", cause)
	marker := "Error: " + apperr.UserMessage(cause)
	if err := o.store.SetMessageContent(ctx, t.assistant.ID, marker); err != nil {
		o.logger.Error().Err(err).Str("message_id", t.assistant.ID).Msg("persist error marker")
	}
}

func (o *Orchestrator) streamTurn(ctx context.Context, t *turn, s *Stream) {
	resp, err := o.generate(ctx, t)
	if err != nil {
		o.failTurn(ctx, t, err)
		s.send(ctx, event{err: err})
		return
	}
	reply := resp.Text

	runes := []rune(reply)
	ticker := time.NewTicker(o.chunkInterval)
	defer ticker.Stop()

	emitted := 0
	for i, r := range runes {
		select {
		case <-ctx.Done():
			o.persistPartial(t, string(runes[:emitted]))
			return
		case <-ticker.C:
		}
		ok := s.send(ctx, event{chunk: httpx.Chunk{
			ID:         t.assistant.ID,
			Content:    string(r),
			IsComplete: i == len(runes)-1,
		}})
		if !ok {
			o.persistPartial(t, string(runes[:emitted]))
			return
		}
		emitted++
		o.metrics.StreamChunks.Inc()
	}

	if err := o.store.SetMessageContent(ctx, t.assistant.ID, reply); err != nil {
		o.recordFailure("send.persist_reply", err)
		s.send(ctx, event{err: err})
		return
	}
	if err := o.persistCitations(ctx, t, resp.Citations); err != nil {
		o.recordFailure("send.persist_citations", err)
	}
}

// persistPartial keeps an interrupted stream's progress durable. Uses a fresh
// context: the caller's is already cancelled.
func (o *Orchestrator) persistPartial(t *turn, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SetMessageContent(ctx, t.assistant.ID, content); err != nil {
		o.recordFailure("send.persist_partial", err)
	}
}

func (o *Orchestrator) buildSystemPrompt(ctx context.Context, c storage.Chat, text string) (string, error) {
	var prompt string
	if c.BotID != nil {
		bot, err := o.store.GetBot(ctx, *c.BotID)
		if err != nil {
			return "", fmt.Errorf("load bot for chat %s: %w", c.ID, err)
		}
		prompt = bot.SystemPrompt

		sources, err := o.store.ListKnowledgeSources(ctx, bot.ID)
		if err != nil {
			return "", err
		}
		for _, ks := range sources {
			prompt += "\n\n[Knowledge: " + ks.Name + "]\n" + ks.Content
		}
	}

	memories, err := o.store.FindRelevantMemories(ctx, text, relevantMemoryLimit)
	if err != nil {
		return "", err
	}
	if len(memories) > 0 {
		prompt += "\n\nRelevant context about the user:"
		for _, m := range memories {
			prompt += "\n- " + m.Title + ": " + m.Content
		}
	}
	return prompt, nil
}

func (o *Orchestrator) recordFailure(operation string, err error) {
	o.metrics.SendFailures.Inc()
	o.diag.Record(operation, err)
	o.logger.Warn().Err(err).Str("operation", operation).Msg("send failed")
}

func (o *Orchestrator) lockChat(chatID string) func() {
	o.mu.Lock()
	lock, ok := o.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[chatID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

type event struct {
	chunk httpx.Chunk
	err   error
}

// Stream is the channel-backed chunk stream handed to callers. Recv returns
// io.EOF after the final chunk.
type Stream struct {
	events    chan event
	closed    chan struct{}
	closeOnce sync.Once
}

var _ httpx.ChunkStream = (*Stream)(nil)

func (s *Stream) Recv() (httpx.Chunk, error) {
	ev, ok := <-s.events
	if !ok {
		return httpx.Chunk{}, io.EOF
	}
	if ev.err != nil {
		return httpx.Chunk{}, ev.err
	}
	return ev.chunk, nil
}

// Close stops delivery. The producer notices on its next send and persists
// the partial reply.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// send delivers ev unless the stream was closed or ctx is done. Returns false
// when the consumer is gone.
func (s *Stream) send(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}
