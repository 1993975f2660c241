// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	TelegramDisabled bool
	TelegramRate     int
	DatabasePath     string
	StoragePath      string
	LogLevel         string
	AllowedUsers     []int64

	PollInterval   time.Duration
	SweepInterval  time.Duration
	Retention      time.Duration
	AdapterTimeout time.Duration
	QueueSize      int

	SlackWebhookEnabled bool
	SlackWebhookBase    string
	SlackBotToken       string
	SlackAppToken       string
	NitterBase          string
	KaggleUsername      string
	KaggleKey           string
	MetricsAddr         string
}

// Load reads configuration from environment variables, after seeding them
// from the file named by ENV_FILE (default .env) when it exists. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.TelegramBotToken == "" && !cfg.TelegramDisabled {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	return cfg, nil
}

// LoadWithoutTelegram is Load for tools that never talk to Telegram.
func LoadWithoutTelegram() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	envFile := getenv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:     getenv("DATABASE_PATH", "./data/bot.db"),
		StoragePath:      getenv("STORAGE_PATH", "./data/files.db"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		SlackWebhookBase: getenv("SLACK_WEBHOOK_BASE", "https://hooks.slack.com/services/"),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:    os.Getenv("SLACK_APP_TOKEN"),
		NitterBase:       getenv("NITTER_BASE", "https://nitter.net/"),
		KaggleUsername:   os.Getenv("KAGGLE_USERNAME"),
		KaggleKey:        os.Getenv("KAGGLE_KEY"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	if (cfg.SlackBotToken == "") != (cfg.SlackAppToken == "") {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN and SLACK_APP_TOKEN must be set together")
	}

	var err error
	if cfg.TelegramDisabled, err = boolEnv("TELEGRAM_DISABLED", false); err != nil {
		return nil, err
	}
	if cfg.SlackWebhookEnabled, err = boolEnv("SLACK_WEBHOOK_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.TelegramRate, err = intEnv("TELEGRAM_RATE", 20); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = intEnv("QUEUE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Retention, err = durationEnv("RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AdapterTimeout, err = durationEnv("ADAPTER_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	return cfg, nil
}

// SlackBotEnabled reports whether the Slack bot destination is configured.
func (c *Config) SlackBotEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, raw)
	}
	return v, nil
}
