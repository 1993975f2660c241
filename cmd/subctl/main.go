package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	_ "modernc.org/sqlite"

	"subscriber/internal/adapter"
	"subscriber/internal/config"
	"subscriber/internal/delivery"
	"subscriber/internal/filestore"
	"subscriber/internal/storage"
	"subscriber/internal/subscription"
	"subscriber/migrations"
)

var errUsage = errors.New("invalid arguments")

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: subctl [-kind kind] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  subscribe <chat> <url>          Follow a source")
	fmt.Fprintln(os.Stderr, "  unsubscribe <chat> <source_id>  Stop following a source")
	fmt.Fprintln(os.Stderr, "  list <chat>                     Show followed sources")
	fmt.Fprintln(os.Stderr, "  migrate <up|up-one|down|status|version|reset>")
	fmt.Fprintln(os.Stderr, "                                  Manage the subscriber database schema")
}

func main() {
	kind := flag.String("kind", delivery.KindSlackWebhook, "destination kind of the chat")
	flag.Usage = usage
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.LoadWithoutTelegram()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, *kind, flag.Args(), os.Stdout, log); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		log.Error("subctl", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, kind string, args []string, out io.Writer, log *slog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	if args[0] == "migrate" {
		if len(args) != 2 {
			return errUsage
		}
		return migrate(cfg.DatabasePath, args[1], out)
	}
	if len(args) < 2 {
		return errUsage
	}
	cmd, chat := args[0], args[1]

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	adapters := adapter.NewSet(adapter.NewClient(cfg.AdapterTimeout), adapter.Options{
		NitterBase:     cfg.NitterBase,
		KaggleUsername: cfg.KaggleUsername,
		KaggleKey:      cfg.KaggleKey,
	})

	switch cmd {
	case "subscribe":
		if len(args) != 3 {
			return errUsage
		}
		blobs, err := filestore.Open(cfg.StoragePath)
		if err != nil {
			return fmt.Errorf("open file storage: %w", err)
		}
		defer func() { _ = blobs.Close() }()

		svc := subscription.New(store, blobs, adapters, log)
		reply, err := svc.Subscribe(ctx, kind, chat, args[2])
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		fmt.Fprintln(out, reply)
	case "unsubscribe":
		if len(args) != 3 {
			return errUsage
		}
		id, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid source id %q", args[2])
		}
		svc := subscription.New(store, nil, adapters, log)
		removed, err := svc.Unsubscribe(ctx, kind, chat, id)
		if err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
		if !removed {
			fmt.Fprintln(out, "Not subscribed")
			return nil
		}
		fmt.Fprintln(out, "Unsubscribed")
	case "list":
		svc := subscription.New(store, nil, adapters, log)
		sources, err := svc.ListSources(ctx, kind, chat)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tNAME\tUPDATE URL")
		for _, s := range sources {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.Type, s.Name, s.UpdateURL)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write list: %w", err)
		}
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func migrate(path, cmd string, out io.Writer) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return migrations.Command(db, cmd, out)
}
