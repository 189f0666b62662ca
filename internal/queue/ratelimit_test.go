package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRateLimiterAllow(t *testing.T) {
	rdb := newTestRedis(t)

	rl := NewRateLimiter(rdb, 2)
	now := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

	allowed, used, _, err := rl.Allow(context.Background(), "chat-1", now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "chat-1", now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "chat-1", now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}

	// A different chat has its own window.
	allowed, used, _, err = rl.Allow(context.Background(), "chat-2", now)
	if err != nil {
		t.Fatalf("allow other chat: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected fresh window for other chat, got allowed=%v used=%d", allowed, used)
	}
}

func TestStreamQueueRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)

	q := NewStreamQueue(rdb, "chathub:image_jobs", "workers", "worker-1", 10*time.Millisecond)
	ctx := context.Background()

	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	// Idempotent on an existing group.
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group again: %v", err)
	}

	job := ImageJob{ChatID: "chat-1", Prompt: "a lighthouse at dusk", Size: "1024x1024"}
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := q.Read(ctx, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("read %d messages, want 1", len(msgs))
	}
	got := msgs[0].Job
	if got.Prompt != job.Prompt || got.ChatID != job.ChatID || got.Size != job.Size {
		t.Fatalf("job = %+v", got)
	}
	if got.JobID == "" {
		t.Fatal("job id was not assigned on enqueue")
	}
	if got.EnqueuedAt.IsZero() {
		t.Fatal("enqueued_at was not stamped")
	}

	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	msgs, err = q.Read(ctx, 10)
	if err != nil {
		t.Fatalf("read after ack: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("read %d messages after ack, want 0", len(msgs))
	}
}
