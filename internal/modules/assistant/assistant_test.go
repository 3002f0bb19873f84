// README: Assistant session store tests (Redis-gated) and input validation.
package assistant

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestChatRejectsBlankMessage(t *testing.T) {
	// Validation fires before any store access, so a nil store is safe here.
	svc := NewService(nil, "", zerolog.Nop())
	for _, msg := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Chat(context.Background(), "", msg); err != ErrBadRequest {
			t.Fatalf("message %q: expected ErrBadRequest, got %v", msg, err)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// An unknown session reads as empty, not as an error.
	sess, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get fresh session: %v", err)
	}
	if sess.ID != "s1" || len(sess.Turns) != 0 {
		t.Fatalf("expected empty session, got %+v", sess)
	}

	sess.Turns = append(sess.Turns,
		Turn{Role: "user", Content: "What should I eat before donating?"},
		Turn{Role: "model", Content: "A light meal and plenty of water."},
	)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got.Turns))
	}
	if got.Turns[0].Role != "user" || got.Turns[1].Role != "model" {
		t.Fatalf("unexpected transcript: %+v", got.Turns)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at stamped on save")
	}
}

func TestSaveTrimsTranscript(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess := &Session{ID: "s_long"}
	for i := 0; i < maxTurns+6; i++ {
		sess.Turns = append(sess.Turns, Turn{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "s_long")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Turns) != maxTurns {
		t.Fatalf("expected transcript trimmed to %d turns, got %d", maxTurns, len(got.Turns))
	}
	// The oldest turns are the ones dropped.
	if got.Turns[0].Content != "turn 6" {
		t.Fatalf("expected oldest turns dropped, first is %q", got.Turns[0].Content)
	}
}

func TestCorruptSessionIsDropped(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.redis.Set(ctx, sessionKey("s_bad"), "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	sess, err := store.Get(ctx, "s_bad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(sess.Turns) != 0 {
		t.Fatalf("expected corrupt record replaced by empty session, got %+v", sess)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("HEMOHIVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HEMOHIVE_TEST_REDIS_ADDR not set; skipping Redis-backed assistant tests")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	for _, id := range []string{"s1", "s_long", "s_bad"} {
		_ = rdb.Del(ctx, sessionKey(id)).Err()
	}

	return NewStore(rdb, time.Hour)
}
