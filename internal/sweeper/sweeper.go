// Package sweeper removes delivered messages once their retention expires.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"subscriber/internal/delivery"
	"subscriber/internal/model"
)

// Store is the subset of storage the sweeper needs.
type Store interface {
	ListExpired(ctx context.Context, now time.Time) ([]model.ExpiredPost, error)
	ClaimExpired(ctx context.Context, id int64) (bool, error)
}

// Sweeper hands expired messages to their destination for removal.
type Sweeper struct {
	store    Store
	queue    delivery.Queue
	log      *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// New creates a Sweeper running every interval once started.
func New(store Store, queue delivery.Queue, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{store: store, queue: queue, log: log, interval: interval, now: time.Now}
}

// SetClock overrides the time source used to find expired messages.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep claims every expired message and queues its removal. It returns the
// number of removals queued. A message is claimed (marked Deleted) before its
// removal is attempted, so a failed removal is never retried.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := s.store.ListExpired(ctx, s.now())
	if err != nil {
		s.log.Error("list expired posts", "error", err)
		return 0
	}

	queued := 0
	for _, e := range expired {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.store.ClaimExpired(ctx, e.ChatPostID)
		if err != nil {
			s.log.Error("claim expired post", "chat_post_id", e.ChatPostID, "error", err)
			continue
		}
		if !ok {
			// kept or dismissed in the meantime
			continue
		}
		if err := s.queue.Enqueue(ctx, delivery.RemoveJob(e)); err != nil {
			s.log.Error("enqueue removal", "chat_post_id", e.ChatPostID, "chat_id", e.Chat.Identifier, "error", err)
			continue
		}
		queued++
	}
	if queued > 0 {
		s.log.Info("expired posts swept", "count", queued)
	}
	return queued
}

// Start schedules Sweep every interval. Runs never overlap.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	logger := cronLogger{log: s.log}
	s.c = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	s.c.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.Sweep(ctx) }))
	s.c.Start()
}

// Stop unschedules the sweeper and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

// cronLogger forwards cron's own logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
