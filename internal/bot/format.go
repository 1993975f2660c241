package bot

import (
	"fmt"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subscriber/internal/delivery"
	"subscriber/internal/model"
)

const (
	maxDescription  = 3800
	maxCaption      = 1024
	noSubscriptions = "You have no subscriptions"
)

// FormatNotification renders a message as "title\ndescription\nurl". Long
// descriptions are cut to fit a Telegram message.
func FormatNotification(msg delivery.Message) string {
	description := truncate(msg.Description, maxDescription)
	return strings.TrimSpace(fmt.Sprintf("%s\n%s\n%s", msg.Title, description, msg.URL))
}

// FormatCaption is FormatNotification limited to the photo caption size.
func FormatCaption(msg delivery.Message) string {
	return truncate(FormatNotification(msg), maxCaption-len("..."))
}

// FormatSourceList formats the sources a chat follows, one name per line.
func FormatSourceList(sources []model.SourceInfo) string {
	if len(sources) == 0 {
		return noSubscriptions
	}
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	return strings.Join(names, "\n")
}

// DeleteKeyboard returns the prompt and the keyboard of the /delete command:
// one button per source, two per row. The markup is nil when there is
// nothing to delete.
func DeleteKeyboard(sources []model.SourceInfo) (string, *tgbotapi.InlineKeyboardMarkup) {
	if len(sources) == 0 {
		return noSubscriptions, nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(sources); i += 2 {
		var row []tgbotapi.InlineKeyboardButton
		for _, s := range sources[i:min(i+2, len(sources))] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(s.Name, fmt.Sprintf("%s:%d", cbDelete, s.ID)))
		}
		rows = append(rows, row)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return "Choose a channel to delete", &markup
}

func notificationMarkup() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Keep", cbKeep),
		tgbotapi.NewInlineKeyboardButtonData("Dismiss", cbDismiss),
	))
}

func dismissMarkup() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Dismiss", cbDismiss),
	))
}

// truncate cuts s to limit UTF-16 code units, the unit Telegram measures
// text in, and marks the cut.
func truncate(s string, limit int) string {
	units := 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if units+n > limit {
			return s[:i] + "..."
		}
		units += n
	}
	return s
}
