// Package delivery runs one ordered job queue per destination kind.
package delivery

import (
	"context"
	"errors"

	"subscriber/internal/model"
)

// Destination kinds stored as the Chat type.
const (
	KindTelegram     = "telegram"
	KindSlackWebhook = "slack_webhook"
	KindSlackBot     = "slack_bot"
)

// ErrUnknownDestination is returned for chats whose kind has no worker.
var ErrUnknownDestination = errors.New("unknown destination")

// ErrClosed is returned when a job is enqueued after shutdown started.
var ErrClosed = errors.New("delivery queue closed")

// Destination is a notification endpoint.
type Destination interface {
	Kind() string
	Start(ctx context.Context) error
	Stop()
	// Notify posts msg to the chat. A Receipt with Delivered unset means the
	// destination keeps no handle to the message, so it can never be removed.
	Notify(ctx context.Context, chatID string, msg Message) (Receipt, error)
	Remove(ctx context.Context, chatID, messageID string) error
}

// Image is the picture attached to a message. Telegram is set when the file
// was uploaded before; Data is the raw content otherwise.
type Image struct {
	FileID   int64
	Telegram string
	Data     []byte
}

// Message is the rendered content of a post.
type Message struct {
	Title       string
	Description string
	URL         string
	Image       *Image
}

// Receipt describes the message a destination created.
type Receipt struct {
	MessageID string
	Delivered bool
	// TelegramFileID is the id Telegram assigned to an uploaded image.
	TelegramFileID string
}

// JobKind selects what a worker does with a job.
type JobKind int

// Job kinds.
const (
	JobNotify JobKind = iota
	JobRemove
)

func (k JobKind) String() string {
	if k == JobRemove {
		return "remove"
	}
	return "notify"
}

// Job is a unit of work for a destination worker.
type Job struct {
	Kind       JobKind
	ChatPostID int64
	Chat       model.Chat
	PostID     int64
	MessageID  string
}

// NotifyJob posts a pending delivery.
func NotifyJob(d model.Delivery) Job {
	return Job{Kind: JobNotify, ChatPostID: d.ChatPostID, Chat: d.Chat, PostID: d.PostID}
}

// RemoveJob deletes an expired message.
func RemoveJob(e model.ExpiredPost) Job {
	return Job{Kind: JobRemove, ChatPostID: e.ChatPostID, Chat: e.Chat, MessageID: e.MessageID}
}

// Queue accepts jobs for the worker of the job's chat kind.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}
