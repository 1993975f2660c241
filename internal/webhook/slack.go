// Package webhook delivers notifications to Slack incoming webhooks.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"subscriber/internal/delivery"
)

// DefaultBase is the URL the chat identifier (the webhook path) is appended to.
const DefaultBase = "https://hooks.slack.com/services/"

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type string `json:"type"`
	Text text   `json:"text"`
}

type payload struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

// Slack posts messages to incoming webhooks. Webhook messages cannot be
// edited or deleted later.
type Slack struct {
	client *resty.Client
	base   string
	log    *slog.Logger
}

// NewSlack creates the destination. An empty base means DefaultBase.
func NewSlack(base string, timeout time.Duration, log *slog.Logger) *Slack {
	if base == "" {
		base = DefaultBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Slack{
		client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		base:   base,
		log:    log,
	}
}

// Kind implements delivery.Destination.
func (s *Slack) Kind() string { return delivery.KindSlackWebhook }

// Start implements delivery.Destination.
func (s *Slack) Start(context.Context) error { return nil }

// Stop implements delivery.Destination.
func (s *Slack) Stop() {}

// Notify posts msg to the webhook identified by chatID. The receipt never
// carries a message: webhook posts are final.
func (s *Slack) Notify(ctx context.Context, chatID string, msg delivery.Message) (delivery.Receipt, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(render(msg)).
		Post(s.base + strings.TrimPrefix(chatID, "/"))
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return delivery.Receipt{}, fmt.Errorf("post webhook: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	s.log.Debug("webhook notified", "chat_id", chatID)
	return delivery.Receipt{}, nil
}

// Remove is a no-op.
func (s *Slack) Remove(context.Context, string, string) error { return nil }

func render(msg delivery.Message) payload {
	var blocks []block
	if msg.Title != "" {
		blocks = append(blocks, block{Type: "header", Text: text{Type: "plain_text", Text: msg.Title}})
	}
	if msg.Description != "" {
		blocks = append(blocks, block{Type: "section", Text: text{Type: "mrkdwn", Text: msg.Description}})
	}
	blocks = append(blocks, block{Type: "section", Text: text{Type: "mrkdwn", Text: msg.URL}})
	return payload{Text: msg.Title, Blocks: blocks}
}
