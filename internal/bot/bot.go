// Package bot is the Telegram front end and notification destination.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"subscriber/internal/config"
	"subscriber/internal/delivery"
	"subscriber/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Commands is the command interface the bot exposes to users.
type Commands interface {
	Subscribe(ctx context.Context, kind, chatID, rawURL string) (string, error)
	Unsubscribe(ctx context.Context, kind, chatID string, sourceID int64) (bool, error)
	ListSources(ctx context.Context, kind, chatID string) ([]model.SourceInfo, error)
	Keep(ctx context.Context, kind, chatID, messageID string) (bool, error)
	Dismiss(ctx context.Context, kind, chatID, messageID string) (bool, error)
}

// Bot handles user commands and delivers notifications to Telegram chats.
type Bot struct {
	api      telegramAPI
	commands Commands
	cfg      *config.Config
	limiter  *rate.Limiter
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Bot with the given Telegram token, command interface, and config.
func New(token string, commands Commands, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, commands, cfg, log), nil
}

func newBot(api telegramAPI, commands Commands, cfg *config.Config, log *slog.Logger) *Bot {
	limit := rate.Inf
	if cfg.TelegramRate > 0 {
		limit = rate.Limit(cfg.TelegramRate)
	}
	return &Bot{
		api:      api,
		commands: commands,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
	}
}

// Kind implements delivery.Destination.
func (b *Bot) Kind() string { return delivery.KindTelegram }

// Start runs the update loop in the background until Stop or ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return fmt.Errorf("bot already started")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		b.Run(ctx)
	}()
	return nil
}

// Stop ends the update loop and waits for it to return.
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

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// send waits for the rate limiter and sends c.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	return b.api.Send(c)
}

// request is send for methods whose result is not a message.
func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.api.Request(c)
	return err
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.send(ctx, msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}
