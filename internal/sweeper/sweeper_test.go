package sweeper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"subscriber/internal/delivery"
	"subscriber/internal/model"
	"subscriber/internal/storage"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []delivery.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job delivery.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type posted struct {
	id       int64
	deadline time.Time
}

// setup stores one posted message per deadline for a single telegram chat.
func setup(t *testing.T, deadlines ...time.Time) (*storage.SQLite, *model.Chat, []posted) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	src := model.Source{UpdateURL: "feed/x", Name: "X", Type: "RSS"}
	if _, err := store.GetOrCreateSource(ctx, &src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	chat, _, err := store.GetOrCreateChat(ctx, delivery.KindTelegram, "100")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := store.Subscribe(ctx, chat.ID, src.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var out []posted
	for i, deadline := range deadlines {
		post := &model.Post{Identifier: string(rune('a' + i)), SourceID: src.ID}
		deliveries, _, err := store.SavePost(ctx, post, true)
		if err != nil || len(deliveries) != 1 {
			t.Fatalf("save post: %v", err)
		}
		id := deliveries[0].ChatPostID
		if err := store.MarkPosted(ctx, id, string(rune('1'+i)), deadline); err != nil {
			t.Fatalf("mark posted: %v", err)
		}
		out = append(out, posted{id: id, deadline: deadline})
	}
	return store, chat, out
}

func TestSweepIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, chat, rows := setup(t, now.Add(-time.Hour), now.Add(time.Hour))

	queue := &recordingQueue{}
	s := New(store, queue, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }

	if got := s.Sweep(ctx); got != 1 {
		t.Fatalf("first sweep queued %d, want 1", got)
	}
	if got := s.Sweep(ctx); got != 0 {
		t.Fatalf("second sweep queued %d, want 0", got)
	}

	want := []delivery.Job{{Kind: delivery.JobRemove, ChatPostID: rows[0].id, Chat: *chat, MessageID: "1"}}
	if diff := cmp.Diff(want, queue.jobs); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}

	expired, err := store.GetChatPost(ctx, rows[0].id)
	if err != nil {
		t.Fatalf("get chat post: %v", err)
	}
	if expired.State != model.StateDeleted {
		t.Errorf("expired state = %s, want deleted", expired.State)
	}
	fresh, err := store.GetChatPost(ctx, rows[1].id)
	if err != nil {
		t.Fatalf("get chat post: %v", err)
	}
	if fresh.State != model.StatePosted {
		t.Errorf("fresh state = %s, want posted", fresh.State)
	}
}

func TestSweepSkipsKept(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, chat, rows := setup(t, now.Add(-time.Hour))

	ok, err := store.Keep(ctx, chat.Type, chat.Identifier, "1")
	if err != nil || !ok {
		t.Fatalf("keep: %v, %v", ok, err)
	}

	queue := &recordingQueue{}
	s := New(store, queue, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }

	if got := s.Sweep(ctx); got != 0 {
		t.Errorf("sweep queued %d, want 0", got)
	}
	cp, err := store.GetChatPost(ctx, rows[0].id)
	if err != nil {
		t.Fatalf("get chat post: %v", err)
	}
	if cp.State != model.StateKeeping {
		t.Errorf("state = %s, want keeping", cp.State)
	}
}

func TestStartStop(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, _, _ := setup(t, now.Add(-time.Hour))

	queue := &recordingQueue{}
	s := New(store, queue, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }

	s.Start(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for queue.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if got := queue.len(); got != 1 {
		t.Errorf("scheduled sweeps queued %d removals, want 1", got)
	}
}
