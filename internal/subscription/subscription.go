// Package subscription implements the commands chat front ends expose to users.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"subscriber/internal/adapter"
	"subscriber/internal/model"
	"subscriber/internal/storage"
)

// Store is the subset of storage the commands need.
type Store interface {
	GetOrCreateSource(ctx context.Context, src *model.Source) (storage.Outcome, error)
	UpdateSourceURL(ctx context.Context, id int64, url string) error
	GetOrCreateChat(ctx context.Context, kind, identifier string) (*model.Chat, storage.Outcome, error)
	Subscribe(ctx context.Context, chatID, sourceID int64) (bool, error)
	Unsubscribe(ctx context.Context, kind, identifier string, sourceID int64) (bool, error)
	ListChatSources(ctx context.Context, kind, identifier string) ([]model.SourceInfo, error)
	GetOrCreateFile(ctx context.Context, internal string) (*model.File, storage.Outcome, error)
	Keep(ctx context.Context, kind, identifier, messageID string) (bool, error)
	Dismiss(ctx context.Context, kind, identifier, messageID string) (bool, error)
}

// Blobs stores file content and returns its hash.
type Blobs interface {
	Put(data []byte) (string, error)
}

// Tracker picks the adapter responsible for a URL.
type Tracker interface {
	ForURL(rawURL string) (adapter.Adapter, error)
}

// Service implements subscribe, unsubscribe, list, keep and dismiss.
type Service struct {
	store    Store
	blobs    Blobs
	adapters Tracker
	log      *slog.Logger
}

// New creates a Service.
func New(store Store, blobs Blobs, adapters Tracker, log *slog.Logger) *Service {
	return &Service{store: store, blobs: blobs, adapters: adapters, log: log}
}

// Subscribe follows rawURL in the chat and returns the reply for the user.
// URLs no adapter accepts produce a reply and no error; nothing is stored
// for them.
func (s *Service) Subscribe(ctx context.Context, kind, chatID, rawURL string) (string, error) {
	a, err := s.adapters.ForURL(rawURL)
	if err != nil {
		return userError(err)
	}
	data, err := a.Track(ctx, rawURL)
	if err != nil {
		return userError(err)
	}

	canonical := rawURL
	if data.URL != "" {
		canonical = data.URL
	}

	src := model.Source{
		UpdateURL: data.UpdateURL,
		URL:       canonical,
		Name:      data.Name,
		Type:      string(a.Kind()),
		ImageID:   s.image(ctx, data.Image),
	}
	outcome, err := s.store.GetOrCreateSource(ctx, &src)
	if err != nil {
		return "", fmt.Errorf("get or create source: %w", err)
	}
	if outcome == storage.Found && data.URL != "" && src.URL != data.URL {
		if err := s.store.UpdateSourceURL(ctx, src.ID, data.URL); err != nil {
			s.log.Warn("update source url", "source_id", src.ID, "error", err)
		}
	}

	chat, _, err := s.store.GetOrCreateChat(ctx, kind, chatID)
	if err != nil {
		return "", fmt.Errorf("get or create chat: %w", err)
	}
	added, err := s.store.Subscribe(ctx, chat.ID, src.ID)
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	if !added {
		return fmt.Sprintf("You are already subscribed to %s", src.Name), nil
	}
	s.log.Info("subscribed", "chat_id", chatID, "source_id", src.ID, "source", outcome)
	return fmt.Sprintf("Subscribed to %s", src.Name), nil
}

// Unsubscribe removes the subscription of the chat to a source. It reports
// false when the chat was not subscribed.
func (s *Service) Unsubscribe(ctx context.Context, kind, chatID string, sourceID int64) (bool, error) {
	return s.store.Unsubscribe(ctx, kind, chatID, sourceID)
}

// ListSources returns the sources the chat follows.
func (s *Service) ListSources(ctx context.Context, kind, chatID string) ([]model.SourceInfo, error) {
	return s.store.ListChatSources(ctx, kind, chatID)
}

// Keep exempts a posted message from expiry.
func (s *Service) Keep(ctx context.Context, kind, chatID, messageID string) (bool, error) {
	return s.store.Keep(ctx, kind, chatID, messageID)
}

// Dismiss records that the user removed a posted message.
func (s *Service) Dismiss(ctx context.Context, kind, chatID, messageID string) (bool, error) {
	return s.store.Dismiss(ctx, kind, chatID, messageID)
}

func (s *Service) image(ctx context.Context, data []byte) *int64 {
	if len(data) == 0 {
		return nil
	}
	hash, err := s.blobs.Put(data)
	if err != nil {
		s.log.Warn("store source image", "error", err)
		return nil
	}
	file, _, err := s.store.GetOrCreateFile(ctx, hash)
	if err != nil {
		s.log.Warn("register source image", "error", err)
		return nil
	}
	return &file.ID
}

func userError(err error) (string, error) {
	var invalid *adapter.InvalidSourceError
	if errors.As(err, &invalid) {
		return invalid.Message, nil
	}
	return "", err
}
