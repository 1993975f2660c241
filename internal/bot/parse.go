package bot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseIDArg extracts a numeric ID from a command or callback argument.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("source ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid source ID %q", s)
	}
	return id, nil
}

// ParseCallback splits callback data of the form "ACTION" or "ACTION:arg".
func ParseCallback(data string) (action, arg string) {
	action, arg, _ = strings.Cut(data, ":")
	return action, arg
}

// ParseChatID converts a stored chat identifier back to a Telegram chat ID.
func ParseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	return id, nil
}

// ParseMessageID converts a stored message identifier to a Telegram message ID.
func ParseMessageID(messageID string) (int, error) {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return 0, fmt.Errorf("invalid message ID %q: %w", messageID, err)
	}
	return id, nil
}

// IsLink reports whether text is a single absolute http(s) or ftp(s) URL.
func IsLink(text string) bool {
	if text == "" || strings.ContainsAny(text, " \t\n") {
		return false
	}
	u, err := url.Parse(text)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp", "ftps":
		return true
	}
	return false
}
