// Package router turns adapter updates into stored posts and delivery jobs.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"subscriber/internal/adapter"
	"subscriber/internal/delivery"
	"subscriber/internal/metrics"
	"subscriber/internal/model"
	"subscriber/internal/storage"
)

// Store is the subset of storage the router needs.
type Store interface {
	PostExists(ctx context.Context, sourceID int64, identifier string) (bool, error)
	SavePost(ctx context.Context, post *model.Post, notify bool) ([]model.Delivery, bool, error)
	GetOrCreateFile(ctx context.Context, internal string) (*model.File, storage.Outcome, error)
}

// Blobs stores file content and returns its hash.
type Blobs interface {
	Put(data []byte) (string, error)
}

// Resolver returns the adapter of a source kind.
type Resolver interface {
	ForKind(kind adapter.Kind) (adapter.Adapter, error)
}

// Router stores updates as posts and queues their deliveries.
type Router struct {
	store    Store
	blobs    Blobs
	adapters Resolver
	queue    delivery.Queue
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New creates a Router.
func New(store Store, blobs Blobs, adapters Resolver, queue delivery.Queue, m *metrics.Metrics, log *slog.Logger) *Router {
	return &Router{store: store, blobs: blobs, adapters: adapters, queue: queue, metrics: m, log: log}
}

// Route stores one update of src. Known updates are ignored. When notify is
// set, every subscriber of src gets a pending delivery of the new post.
func (r *Router) Route(ctx context.Context, src model.Source, update model.PostUpdate, notify bool) error {
	exists, err := r.store.PostExists(ctx, src.ID, update.ID)
	if err != nil {
		return fmt.Errorf("check post: %w", err)
	}
	if exists {
		return nil
	}

	content := r.content(ctx, src, update)
	if len(content.Image) == 0 && content.ImageURL != "" {
		content.Image = r.fetchImage(ctx, src, content.ImageURL)
	}
	post := &model.Post{
		Identifier:  update.ID,
		SourceID:    src.ID,
		URL:         update.URL,
		Title:       content.Title,
		Description: content.Description,
		ImageID:     r.image(ctx, src, content.Image),
	}

	deliveries, created, err := r.store.SavePost(ctx, post, notify)
	if err != nil {
		return fmt.Errorf("save post: %w", err)
	}
	if !created {
		return nil
	}
	r.metrics.PostCreated()
	r.log.Debug("post created", "source_id", src.ID, "post_id", post.ID, "identifier", post.Identifier)

	for _, d := range deliveries {
		if err := r.queue.Enqueue(ctx, delivery.NotifyJob(d)); err != nil {
			r.log.Error("enqueue delivery",
				"chat_post_id", d.ChatPostID, "chat_id", d.Chat.Identifier, "post_id", d.PostID, "error", err)
		}
	}
	return nil
}

func (r *Router) content(ctx context.Context, src model.Source, update model.PostUpdate) model.Content {
	if update.Content != nil {
		return *update.Content
	}

	a, err := r.adapters.ForKind(adapter.Kind(src.Type))
	if err != nil {
		r.log.Warn("resolve adapter", "source_id", src.ID, "error", err)
		return model.Content{}
	}
	content, err := a.Scrape(ctx, update.URL)
	if err != nil {
		if !errors.Is(err, adapter.ErrScrapeUnsupported) {
			r.log.Warn("scrape post", "source_id", src.ID, "url", update.URL, "error", err)
		}
		return model.Content{}
	}
	return content
}

func (r *Router) fetchImage(ctx context.Context, src model.Source, imageURL string) []byte {
	a, err := r.adapters.ForKind(adapter.Kind(src.Type))
	if err != nil {
		r.log.Warn("resolve adapter", "source_id", src.ID, "error", err)
		return nil
	}
	f, ok := a.(adapter.ImageFetcher)
	if !ok {
		return nil
	}
	data, err := f.FetchImage(ctx, imageURL)
	if err != nil {
		r.log.Warn("fetch image", "source_id", src.ID, "url", imageURL, "error", err)
		return nil
	}
	return data
}

// image stores the post picture, falling back to the source picture.
func (r *Router) image(ctx context.Context, src model.Source, data []byte) *int64 {
	if len(data) == 0 {
		return src.ImageID
	}
	hash, err := r.blobs.Put(data)
	if err != nil {
		r.log.Warn("store image", "source_id", src.ID, "error", err)
		return src.ImageID
	}
	file, _, err := r.store.GetOrCreateFile(ctx, hash)
	if err != nil {
		r.log.Warn("register image", "source_id", src.ID, "error", err)
		return src.ImageID
	}
	return &file.ID
}
