// Package model defines the domain types used across the application.
package model

import "time"

// Source is a trackable external feed.
type Source struct {
	ID        int64
	UpdateURL string
	URL       string
	Name      string
	Type      string
	ImageID   *int64
	CreatedAt time.Time
}

// SourceInfo is the listing view of a Source.
type SourceInfo struct {
	ID        int64
	Name      string
	Type      string
	UpdateURL string
}

// Chat is a notification target of one destination kind.
type Chat struct {
	ID         int64
	Identifier string
	Type       string
	CreatedAt  time.Time
}

// Post is one ingested update from a Source. Posts are never modified.
type Post struct {
	ID          int64
	Identifier  string
	SourceID    int64
	URL         string
	Title       string
	Description string
	ImageID     *int64
	Created     time.Time
}

// ChatPostState is the delivery state of a Post in a Chat.
type ChatPostState int

// Delivery states. Keeping and Deleted are terminal.
const (
	StatePending ChatPostState = iota
	StatePosted
	StateKeeping
	StateDeleted
)

func (s ChatPostState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePosted:
		return "posted"
	case StateKeeping:
		return "keeping"
	case StateDeleted:
		return "deleted"
	}
	return "unknown"
}

// CanTransition reports whether a ChatPost may move from s to next.
func (s ChatPostState) CanTransition(next ChatPostState) bool {
	switch s {
	case StatePending:
		return next == StatePosted
	case StatePosted:
		return next == StateKeeping || next == StateDeleted
	}
	return false
}

// ChatPost is the delivery record of one Post to one Chat.
type ChatPost struct {
	ID        int64
	ChatID    int64
	PostID    int64
	State     ChatPostState
	MessageID string
	Created   time.Time
	Deadline  *time.Time
}

// File is a deduplicated binary reference. Internal is the content hash,
// Telegram is the file id returned by Telegram after the first upload.
type File struct {
	ID       int64
	Internal string
	Telegram string
}

// Content is the enrichment data of a post.
type Content struct {
	Title       string
	Description string
	Image       []byte
	// ImageURL is downloaded only when the post turns out to be new.
	ImageURL string
}

// ChannelData is what an adapter resolves for a tracked URL.
type ChannelData struct {
	// UpdateURL is polled for new posts and identifies the Source.
	UpdateURL string
	Name      string
	Image     []byte
	// URL is the canonical channel address, if the adapter knows one.
	URL string
}

// PostUpdate is a single item yielded by an adapter. Content is nil when
// the adapter needs a separate scrape of URL.
type PostUpdate struct {
	ID      string
	URL     string
	Content *Content
}

// Delivery is a Pending ChatPost the router hands to a destination worker.
type Delivery struct {
	ChatPostID int64
	Chat       Chat
	PostID     int64
}

// ExpiredPost is a posted message whose retention deadline has passed.
type ExpiredPost struct {
	ChatPostID int64
	Chat       Chat
	MessageID  string
}
