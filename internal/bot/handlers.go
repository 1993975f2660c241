package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subscriber/internal/delivery"
)

const startText = `Hi! I can notify you about
 • new videos in YouTube channels
 • new posts in RSS feeds and Twitter accounts
 • new concerts for artists and bands from SongKick
 • new posts from VK public channels
 • new Kaggle and GrandChallenge competitions

Just send me a link and let's get started!`

const helpText = `Send a link to subscribe to it.

/list — show your subscriptions
/delete — choose a subscription to remove

Every notification has two buttons: Keep saves it from automatic removal, Dismiss removes it now.`

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil {
		return
	}
	if msg.From == nil || !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(ctx, msg.Chat.ID, "Access denied.")
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if text := strings.TrimSpace(msg.Text); IsLink(text) {
		b.handleLink(ctx, msg, text)
		return
	}
	b.quote(ctx, msg, "Unknown command")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "chat_id", chatID)

	switch cmd {
	case "start":
		b.reply(ctx, chatID, startText)
	case "help":
		b.reply(ctx, chatID, helpText)
	case "list":
		b.handleList(ctx, chatID)
	case "delete":
		b.handleDelete(ctx, chatID)
	default:
		b.quote(ctx, msg, "Unknown command")
	}
}

func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message, link string) {
	text, err := b.commands.Subscribe(ctx, delivery.KindTelegram, chatKey(msg.Chat.ID), link)
	if err != nil {
		b.log.Error("subscribe", "chat_id", msg.Chat.ID, "url", link, "error", err)
		text = "Something went wrong, please try again later."
	}
	b.quote(ctx, msg, text)
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	sources, err := b.commands.ListSources(ctx, delivery.KindTelegram, chatKey(chatID))
	if err != nil {
		b.log.Error("list sources", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	b.reply(ctx, chatID, FormatSourceList(sources))
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64) {
	sources, err := b.commands.ListSources(ctx, delivery.KindTelegram, chatKey(chatID))
	if err != nil {
		b.log.Error("list sources", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	text, markup := DeleteKeyboard(sources)
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := b.send(ctx, msg); err != nil {
		b.log.Error("send delete keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) quote(ctx context.Context, to *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	msg.DisableWebPagePreview = true
	if _, err := b.send(ctx, msg); err != nil {
		b.log.Error("send reply", "chat_id", to.Chat.ID, "error", err)
	}
}

// chatKey is the chat identifier stored for a Telegram chat.
func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
