package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"subscriber/internal/metrics"
	"subscriber/internal/model"
)

// Store is the subset of storage the worker needs.
type Store interface {
	GetPost(ctx context.Context, id int64) (*model.Post, error)
	GetFile(ctx context.Context, id int64) (*model.File, error)
	SetFileTelegram(ctx context.Context, id int64, telegramID string) error
	MarkPosted(ctx context.Context, id int64, messageID string, deadline time.Time) error
	DiscardPending(ctx context.Context, id int64) error
}

// Blobs returns file content by its hash.
type Blobs interface {
	Get(hash string) ([]byte, error)
}

// Worker processes the jobs of one destination strictly in arrival order.
type Worker struct {
	dest      Destination
	store     Store
	blobs     Blobs
	metrics   *metrics.Metrics
	log       *slog.Logger
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Job
	done   chan struct{}
}

// NewWorker creates a worker with a queue of queueSize jobs. Posted
// messages expire after retention.
func NewWorker(dest Destination, store Store, blobs Blobs, retention time.Duration, queueSize int, m *metrics.Metrics, log *slog.Logger) *Worker {
	return &Worker{
		dest:      dest,
		store:     store,
		blobs:     blobs,
		metrics:   m,
		log:       log.With("destination", dest.Kind()),
		retention: retention,
		now:       time.Now,
		queue:     make(chan Job, queueSize),
		done:      make(chan struct{}),
	}
}

// Kind returns the destination kind the worker serves.
func (w *Worker) Kind() string { return w.dest.Kind() }

// Enqueue adds a job, blocking while the queue is full.
func (w *Worker) Enqueue(ctx context.Context, job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until Close is called and the queue is drained.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for job := range w.queue {
		w.handle(ctx, job)
	}
}

// Close stops accepting jobs. Jobs already queued are still processed.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.queue)
}

// Wait blocks until Run returns.
func (w *Worker) Wait() {
	<-w.done
}

func (w *Worker) handle(ctx context.Context, job Job) {
	var err error
	switch job.Kind {
	case JobNotify:
		err = w.notify(ctx, job)
	case JobRemove:
		err = w.remove(ctx, job)
	}
	if err != nil {
		w.log.Error("delivery job failed",
			"job", job.Kind, "chat_post_id", job.ChatPostID, "chat_id", job.Chat.Identifier, "error", err)
	}
}

func (w *Worker) notify(ctx context.Context, job Job) error {
	post, err := w.store.GetPost(ctx, job.PostID)
	if err != nil {
		return fmt.Errorf("get post %d: %w", job.PostID, err)
	}

	msg := Message{Title: post.Title, Description: post.Description, URL: post.URL}
	if post.ImageID != nil {
		msg.Image = w.image(ctx, *post.ImageID)
	}

	receipt, err := w.dest.Notify(ctx, job.Chat.Identifier, msg)
	if err != nil {
		w.metrics.Delivery(w.dest.Kind(), metrics.ResultFailed)
		return fmt.Errorf("notify: %w", err)
	}

	if msg.Image != nil && msg.Image.Telegram == "" && receipt.TelegramFileID != "" {
		if err := w.store.SetFileTelegram(ctx, msg.Image.FileID, receipt.TelegramFileID); err != nil {
			w.log.Warn("cache telegram file id", "file_id", msg.Image.FileID, "error", err)
		}
	}

	if !receipt.Delivered {
		w.metrics.Delivery(w.dest.Kind(), metrics.ResultDiscarded)
		return w.store.DiscardPending(ctx, job.ChatPostID)
	}

	w.metrics.Delivery(w.dest.Kind(), metrics.ResultPosted)
	if err := w.store.MarkPosted(ctx, job.ChatPostID, receipt.MessageID, w.now().Add(w.retention)); err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	w.log.Debug("post delivered", "chat_post_id", job.ChatPostID, "post_id", job.PostID, "message_id", receipt.MessageID)
	return nil
}

// image loads the post picture. A file already known to Telegram is sent by
// id, without reading its content.
func (w *Worker) image(ctx context.Context, fileID int64) *Image {
	file, err := w.store.GetFile(ctx, fileID)
	if err != nil {
		w.log.Warn("get file", "file_id", fileID, "error", err)
		return nil
	}
	img := &Image{FileID: file.ID, Telegram: file.Telegram}
	if img.Telegram != "" {
		return img
	}
	data, err := w.blobs.Get(file.Internal)
	if err != nil {
		w.log.Warn("read file content", "file_id", fileID, "error", err)
		return nil
	}
	img.Data = data
	return img
}

func (w *Worker) remove(ctx context.Context, job Job) error {
	if err := w.dest.Remove(ctx, job.Chat.Identifier, job.MessageID); err != nil {
		return fmt.Errorf("remove message %s: %w", job.MessageID, err)
	}
	w.metrics.Removal(w.dest.Kind())
	return nil
}
