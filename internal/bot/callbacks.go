package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subscriber/internal/delivery"
)

// Callback data of the inline buttons.
const (
	cbKeep    = "KEEP"
	cbDismiss = "DISMISS"
	cbDelete  = "DELETE"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if err := b.request(ctx, tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	if cb.From == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
		return
	}

	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID
	action, arg := ParseCallback(cb.Data)

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cbKeep:
		b.handleKeep(ctx, chatID, messageID)
	case cbDismiss:
		b.handleDismiss(ctx, chatID, messageID)
	case cbDelete:
		b.handleDeleteSource(ctx, chatID, messageID, arg)
	}
}

func (b *Bot) handleKeep(ctx context.Context, chatID int64, messageID int) {
	ok, err := b.commands.Keep(ctx, delivery.KindTelegram, chatKey(chatID), strconv.Itoa(messageID))
	if err != nil {
		b.log.Error("keep", "chat_id", chatID, "message_id", messageID, "error", err)
		return
	}
	if !ok {
		b.log.Debug("keep ignored", "chat_id", chatID, "message_id", messageID)
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, dismissMarkup())
	if err := b.request(ctx, edit); err != nil {
		b.log.Warn("edit keep markup", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (b *Bot) handleDismiss(ctx context.Context, chatID int64, messageID int) {
	key := strconv.Itoa(messageID)
	if err := b.Remove(ctx, chatKey(chatID), key); err != nil {
		b.log.Warn("dismiss message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
	if _, err := b.commands.Dismiss(ctx, delivery.KindTelegram, chatKey(chatID), key); err != nil {
		b.log.Error("dismiss", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (b *Bot) handleDeleteSource(ctx context.Context, chatID int64, messageID int, arg string) {
	sourceID, err := ParseIDArg(arg)
	if err != nil {
		return
	}
	key := chatKey(chatID)
	if _, err := b.commands.Unsubscribe(ctx, delivery.KindTelegram, key, sourceID); err != nil {
		b.log.Error("unsubscribe", "chat_id", chatID, "source_id", sourceID, "error", err)
		return
	}

	sources, err := b.commands.ListSources(ctx, delivery.KindTelegram, key)
	if err != nil {
		b.log.Error("list sources", "chat_id", chatID, "error", err)
		return
	}
	text, markup := DeleteKeyboard(sources)
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ReplyMarkup = markup
	if err := b.request(ctx, edit); err != nil {
		b.log.Warn("edit delete keyboard", "chat_id", chatID, "error", err)
	}
}
