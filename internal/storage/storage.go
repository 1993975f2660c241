// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"subscriber/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert keeps losing unique-constraint
	// races and the existing row cannot be re-fetched.
	ErrConflict = errors.New("unique constraint conflict")
	// ErrStateConflict is returned when a ChatPost is not in the state a
	// transition requires.
	ErrStateConflict = errors.New("chat post state conflict")
)

// Outcome tells whether a get-or-create call found an existing row or created one.
type Outcome int

// Get-or-create outcomes.
const (
	Found Outcome = iota
	Created
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "found"
}

// Storage is the interface for all persistence operations.
type Storage interface {
	GetOrCreateSource(ctx context.Context, src *model.Source) (Outcome, error)
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)
	UpdateSourceURL(ctx context.Context, id int64, url string) error
	SourceHasPosts(ctx context.Context, id int64) (bool, error)

	GetOrCreateChat(ctx context.Context, kind, identifier string) (*model.Chat, Outcome, error)
	DeleteChat(ctx context.Context, id int64) error
	Subscribe(ctx context.Context, chatID, sourceID int64) (bool, error)
	Unsubscribe(ctx context.Context, kind, identifier string, sourceID int64) (bool, error)
	ListChatSources(ctx context.Context, kind, identifier string) ([]model.SourceInfo, error)
	ListSubscribers(ctx context.Context, sourceID int64) ([]model.Chat, error)

	GetOrCreateFile(ctx context.Context, internal string) (*model.File, Outcome, error)
	GetFile(ctx context.Context, id int64) (*model.File, error)
	SetFileTelegram(ctx context.Context, id int64, telegramID string) error

	PostExists(ctx context.Context, sourceID int64, identifier string) (bool, error)
	SavePost(ctx context.Context, post *model.Post, notify bool) ([]model.Delivery, bool, error)
	GetPost(ctx context.Context, id int64) (*model.Post, error)
	CountPosts(ctx context.Context, sourceID int64) (int, error)
	RecentPostIdentifiers(ctx context.Context, sourceID int64, limit int) ([]string, error)

	GetChatPost(ctx context.Context, id int64) (*model.ChatPost, error)
	ListChatPosts(ctx context.Context, chatID int64) ([]model.ChatPost, error)
	MarkPosted(ctx context.Context, id int64, messageID string, deadline time.Time) error
	DiscardPending(ctx context.Context, id int64) error
	Keep(ctx context.Context, kind, identifier, messageID string) (bool, error)
	Dismiss(ctx context.Context, kind, identifier, messageID string) (bool, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.ExpiredPost, error)
	ClaimExpired(ctx context.Context, id int64) (bool, error)

	Close() error
}
