// Package slackbot is the interactive Slack destination. Notifications go
// through the Web API, so they can be deleted later, and the /subscriber
// slash command arrives over Socket Mode.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"subscriber/internal/delivery"
	"subscriber/internal/model"
)

const (
	usageText       = "Usage: /subscriber <link> to follow a channel, /subscriber list to show followed channels"
	noSubscriptions = "You have no subscriptions"
)

// Commands is the command interface exposed to Slack channels.
type Commands interface {
	Subscribe(ctx context.Context, kind, chatID, rawURL string) (string, error)
	ListSources(ctx context.Context, kind, chatID string) ([]model.SourceInfo, error)
}

// Bot posts notifications to Slack channels and answers slash commands.
type Bot struct {
	api      *slack.Client
	socket   *socketmode.Client
	commands Commands
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Bot. botToken authorizes Web API calls, appToken opens the
// Socket Mode connection.
func New(botToken, appToken string, commands Commands, log *slog.Logger) *Bot {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &Bot{api: api, socket: socketmode.New(api), commands: commands, log: log}
}

func newBot(api *slack.Client, commands Commands, log *slog.Logger) *Bot {
	return &Bot{api: api, commands: commands, log: log}
}

// Kind implements delivery.Destination.
func (b *Bot) Kind() string { return delivery.KindSlackBot }

// Start connects to Socket Mode in the background until Stop or ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return fmt.Errorf("slack bot already started")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	if b.socket == nil {
		close(b.done)
		return nil
	}

	cancel := b.cancel
	go func() {
		defer close(b.done)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.run(ctx)
		}()
		if err := b.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Error("socket mode", "error", err)
		}
		cancel()
		wg.Wait()
	}()
	return nil
}

// Stop disconnects from Socket Mode and waits for the event loop to return.
func (b *Bot) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Bot) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				b.log.Info("slack socket mode connected")
			case socketmode.EventTypeConnectionError:
				b.log.Warn("slack socket mode connection error", "data", evt.Data)
			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok || evt.Request == nil {
					continue
				}
				b.socket.Ack(*evt.Request)
				b.handleCommand(ctx, cmd)
			}
		}
	}
}

// handleCommand answers a /subscriber command through its response URL.
func (b *Bot) handleCommand(ctx context.Context, cmd slack.SlashCommand) {
	log := b.log.With("channel_id", cmd.ChannelID, "user_id", cmd.UserID)
	text := b.commandReply(ctx, cmd.ChannelID, strings.TrimSpace(cmd.Text), log)
	if cmd.ResponseURL == "" {
		return
	}
	if err := slack.PostWebhookContext(ctx, cmd.ResponseURL, &slack.WebhookMessage{Text: text}); err != nil {
		log.Error("respond to command", "error", err)
	}
}

func (b *Bot) commandReply(ctx context.Context, channelID, arg string, log *slog.Logger) string {
	switch arg {
	case "", "help":
		return usageText
	case "list":
		sources, err := b.commands.ListSources(ctx, delivery.KindSlackBot, channelID)
		if err != nil {
			log.Error("list sources", "error", err)
			return "Failed to list subscriptions"
		}
		if len(sources) == 0 {
			return noSubscriptions
		}
		names := make([]string, len(sources))
		for i, s := range sources {
			names[i] = s.Name
		}
		return strings.Join(names, "\n")
	}

	reply, err := b.commands.Subscribe(ctx, delivery.KindSlackBot, channelID, arg)
	if err != nil {
		log.Error("subscribe", "url", arg, "error", err)
		return "Failed to subscribe"
	}
	return reply
}

// Notify implements delivery.Destination. The message timestamp is the
// receipt's message id.
func (b *Bot) Notify(ctx context.Context, chatID string, msg delivery.Message) (delivery.Receipt, error) {
	_, ts, err := b.api.PostMessageContext(ctx, chatID,
		slack.MsgOptionText(msg.Title, false),
		slack.MsgOptionBlocks(blocks(msg)...),
	)
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("post message: %w", err)
	}
	b.log.Debug("slack message posted", "chat_id", chatID, "ts", ts)
	return delivery.Receipt{MessageID: ts, Delivered: true}, nil
}

// Remove implements delivery.Destination.
func (b *Bot) Remove(ctx context.Context, chatID, messageID string) error {
	if _, _, err := b.api.DeleteMessageContext(ctx, chatID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func blocks(msg delivery.Message) []slack.Block {
	var out []slack.Block
	if msg.Title != "" {
		out = append(out, slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, msg.Title, false, false)))
	}
	if msg.Description != "" {
		out = append(out, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, msg.Description, false, false), nil, nil))
	}
	return append(out, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, msg.URL, false, false), nil, nil))
}
