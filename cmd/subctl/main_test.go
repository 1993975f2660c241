package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subscriber/internal/config"
	"subscriber/internal/delivery"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DatabasePath:   filepath.Join(dir, "subscriber.db"),
		StoragePath:    filepath.Join(dir, "files.db"),
		AdapterTimeout: time.Second,
	}
}

func TestRunUsage(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "missing chat", args: []string{"list"}},
		{name: "subscribe without url", args: []string{"subscribe", "C1"}},
		{name: "migrate without command", args: []string{"migrate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), cfg, delivery.KindSlackWebhook, tt.args, io.Discard, log)
			if !errors.Is(err, errUsage) {
				t.Errorf("expected errUsage, got %v", err)
			}
		})
	}
}

func TestRunListLeavesFileStorageClosed(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var out bytes.Buffer
	if err := run(context.Background(), cfg, delivery.KindSlackWebhook, []string{"list", "C1"}, &out, log); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ID") {
		t.Errorf("unexpected list output %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), cfg, delivery.KindSlackWebhook, []string{"unsubscribe", "C1", "7"}, &out, log); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Not subscribed" {
		t.Errorf("unsubscribe output = %q, want %q", got, "Not subscribed")
	}

	if _, err := os.Stat(cfg.StoragePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file storage was opened for list/unsubscribe: stat error %v", err)
	}
}

func TestRunMigrate(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, cmd := range []string{"up", "version", "down"} {
		if err := run(context.Background(), cfg, delivery.KindSlackWebhook, []string{"migrate", cmd}, io.Discard, log); err != nil {
			t.Fatalf("migrate %s: %v", cmd, err)
		}
	}
	if err := run(context.Background(), cfg, delivery.KindSlackWebhook, []string{"migrate", "sideways"}, io.Discard, log); err == nil {
		t.Error("expected error for unknown migrate command")
	}
}
