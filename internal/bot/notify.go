package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subscriber/internal/delivery"
)

const (
	deletedText  = "<Deleted>"
	deletedImage = "https://raster.shields.io/badge/-deleted-red"
)

// Notify sends msg to the chat with Keep and Dismiss buttons. A message with
// an image is sent as a photo: by Telegram file id when the image was
// uploaded before, as an upload of its bytes otherwise.
func (b *Bot) Notify(ctx context.Context, chatID string, msg delivery.Message) (delivery.Receipt, error) {
	id, err := ParseChatID(chatID)
	if err != nil {
		return delivery.Receipt{}, err
	}

	var sent tgbotapi.Message
	switch img := msg.Image; {
	case img == nil || (img.Telegram == "" && len(img.Data) == 0):
		m := tgbotapi.NewMessage(id, FormatNotification(msg))
		m.ReplyMarkup = notificationMarkup()
		m.DisableWebPagePreview = msg.Title != "" || msg.Description != ""
		sent, err = b.send(ctx, m)
	default:
		var file tgbotapi.RequestFileData = tgbotapi.FileID(img.Telegram)
		if img.Telegram == "" {
			file = tgbotapi.FileBytes{Name: fmt.Sprintf("image-%d", img.FileID), Bytes: img.Data}
		}
		p := tgbotapi.NewPhoto(id, file)
		p.Caption = FormatCaption(msg)
		p.ReplyMarkup = notificationMarkup()
		sent, err = b.send(ctx, p)
	}
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("send notification: %w", err)
	}

	receipt := delivery.Receipt{MessageID: strconv.Itoa(sent.MessageID), Delivered: true}
	if msg.Image != nil && msg.Image.Telegram == "" && len(sent.Photo) > 0 {
		receipt.TelegramFileID = sent.Photo[len(sent.Photo)-1].FileID
	}
	return receipt, nil
}

// Remove takes a message out of the chat. Bots cannot delete old messages,
// so when deleting fails the message is overwritten instead: its text, then
// its photo, then its caption. The first strategy that succeeds wins.
func (b *Bot) Remove(ctx context.Context, chatID, messageID string) error {
	cid, err := ParseChatID(chatID)
	if err != nil {
		return err
	}
	mid, err := ParseMessageID(messageID)
	if err != nil {
		return err
	}

	strategies := []struct {
		name string
		req  tgbotapi.Chattable
	}{
		{"delete", tgbotapi.NewDeleteMessage(cid, mid)},
		{"edit text", tgbotapi.NewEditMessageText(cid, mid, deletedText)},
		{"edit media", tgbotapi.EditMessageMediaConfig{
			BaseEdit: tgbotapi.BaseEdit{ChatID: cid, MessageID: mid},
			Media:    tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(deletedImage)),
		}},
		{"edit caption", tgbotapi.NewEditMessageCaption(cid, mid, deletedText)},
	}

	var last error
	for _, s := range strategies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = b.request(ctx, s.req)
		if last == nil {
			b.log.Debug("message removed", "chat_id", chatID, "message_id", messageID, "strategy", s.name)
			return nil
		}
		b.log.Debug("remove strategy failed", "strategy", s.name, "error", last)
	}
	return fmt.Errorf("remove message %s: %w", messageID, last)
}
