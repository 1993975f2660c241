package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"subscriber/internal/adapter"
	"subscriber/internal/bot"
	"subscriber/internal/config"
	"subscriber/internal/delivery"
	"subscriber/internal/filestore"
	"subscriber/internal/metrics"
	"subscriber/internal/poller"
	"subscriber/internal/router"
	"subscriber/internal/slackbot"
	"subscriber/internal/storage"
	"subscriber/internal/subscription"
	"subscriber/internal/sweeper"
	"subscriber/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("bot stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	for _, path := range []string{cfg.DatabasePath, cfg.StoragePath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer func() { _ = store.Close() }()

	blobs, err := filestore.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("open file storage %s: %w", cfg.StoragePath, err)
	}
	defer func() { _ = blobs.Close() }()

	m := metrics.New()
	adapters := adapter.NewSet(adapter.NewClient(cfg.AdapterTimeout), adapter.Options{
		NitterBase:     cfg.NitterBase,
		KaggleUsername: cfg.KaggleUsername,
		KaggleKey:      cfg.KaggleKey,
	})
	commands := subscription.New(store, blobs, adapters, log.With("component", "subscription"))

	var workers []*delivery.Worker
	newWorker := func(dest delivery.Destination) {
		workers = append(workers, delivery.NewWorker(dest, store, blobs, cfg.Retention, cfg.QueueSize, m, log))
	}
	if !cfg.TelegramDisabled {
		b, err := bot.New(cfg.TelegramBotToken, commands, cfg, log.With("component", "bot"))
		if err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		newWorker(b)
	}
	if cfg.SlackBotEnabled() {
		newWorker(slackbot.New(cfg.SlackBotToken, cfg.SlackAppToken, commands, log.With("component", "slackbot")))
	}
	if cfg.SlackWebhookEnabled {
		newWorker(webhook.NewSlack(cfg.SlackWebhookBase, cfg.AdapterTimeout, log.With("component", "webhook")))
	}
	dispatcher := delivery.NewDispatcher(log, workers...)

	rt := router.New(store, blobs, adapters, dispatcher, m, log.With("component", "router"))
	poll := poller.New(store, adapters, rt, cfg.PollInterval, cfg.AdapterTimeout, m, log.With("component", "poller"))
	sweep := sweeper.New(store, dispatcher, cfg.SweepInterval, log.With("component", "sweeper"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Deliveries outlive ctx so queued jobs drain after a signal.
	deliveryCtx, stopDelivery := context.WithCancel(context.Background())
	defer stopDelivery()

	log.Info("starting", "destinations", len(workers))

	dispatcher.Start(deliveryCtx)
	sweep.Start(ctx)

	var wg sync.WaitGroup
	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		poll.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("shutting down")

	wg.Wait()
	sweep.Stop()
	dispatcher.Shutdown()

	log.Info("stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
