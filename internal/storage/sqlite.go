package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite" // SQLite driver registration.
	sqlite3 "modernc.org/sqlite/lib"

	"subscriber/internal/model"
	"subscriber/migrations"
)

const (
	timeLayout = "2006-01-02T15:04:05Z"

	// maxConflictRetries bounds the insert-or-fetch loop of get-or-create calls.
	maxConflictRetries = 3
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; this also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetOrCreateSource resolves src by its update URL, inserting it when missing.
// On return src holds the stored row.
func (s *SQLite) GetOrCreateSource(ctx context.Context, src *model.Source) (Outcome, error) {
	for range maxConflictRetries {
		existing, err := s.sourceByUpdateURL(ctx, src.UpdateURL)
		if err == nil {
			*src = *existing
			return Found, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Found, err
		}

		now := time.Now().UTC().Format(timeLayout)
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO sources (update_url, url, name, type, image_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			src.UpdateURL, src.URL, src.Name, src.Type, nullableID(src.ImageID), now,
		)
		if isConflict(err) {
			continue
		}
		if err != nil {
			return Found, fmt.Errorf("insert source: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Found, fmt.Errorf("last insert id: %w", err)
		}
		src.ID = id
		src.CreatedAt, _ = time.Parse(timeLayout, now)
		return Created, nil
	}
	return Found, fmt.Errorf("source %q: %w", src.UpdateURL, ErrConflict)
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, update_url, url, name, type, image_id, created_at FROM sources WHERE id = ?`, id,
	)
	return scanSource(row)
}

func (s *SQLite) sourceByUpdateURL(ctx context.Context, updateURL string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, update_url, url, name, type, image_id, created_at FROM sources WHERE update_url = ?`, updateURL,
	)
	return scanSource(row)
}

// ListSources returns every registered source ordered by ID.
func (s *SQLite) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, update_url, url, name, type, image_id, created_at FROM sources ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// UpdateSourceURL stores a re-resolved canonical URL.
func (s *SQLite) UpdateSourceURL(ctx context.Context, id int64, url string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sources SET url = ? WHERE id = ?`, url, id); err != nil {
		return fmt.Errorf("update source url: %w", err)
	}
	return nil
}

// SourceHasPosts reports whether at least one post was stored for the source.
func (s *SQLite) SourceHasPosts(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE source_id = ?)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check source posts: %w", err)
	}
	return exists == 1, nil
}

// GetOrCreateChat resolves the chat of a destination kind, inserting it when missing.
func (s *SQLite) GetOrCreateChat(ctx context.Context, kind, identifier string) (*model.Chat, Outcome, error) {
	for range maxConflictRetries {
		chat, err := s.chatByIdentifier(ctx, kind, identifier)
		if err == nil {
			return chat, Found, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, Found, err
		}

		now := time.Now().UTC().Format(timeLayout)
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO chats (identifier, type, created_at) VALUES (?, ?, ?)`, identifier, kind, now,
		)
		if isConflict(err) {
			continue
		}
		if err != nil {
			return nil, Found, fmt.Errorf("insert chat: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, Found, fmt.Errorf("last insert id: %w", err)
		}
		created, _ := time.Parse(timeLayout, now)
		return &model.Chat{ID: id, Identifier: identifier, Type: kind, CreatedAt: created}, Created, nil
	}
	return nil, Found, fmt.Errorf("chat %s/%s: %w", kind, identifier, ErrConflict)
}

func (s *SQLite) chatByIdentifier(ctx context.Context, kind, identifier string) (*model.Chat, error) {
	var c model.Chat
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identifier, type, created_at FROM chats WHERE type = ? AND identifier = ?`, kind, identifier,
	).Scan(&c.ID, &c.Identifier, &c.Type, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	return &c, nil
}

// DeleteChat removes a chat together with its subscriptions and delivery records.
func (s *SQLite) DeleteChat(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("delete subscriptions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_posts WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("delete chat_posts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return tx.Commit()
}

// Subscribe links a chat to a source. It reports false when the link already existed.
func (s *SQLite) Subscribe(ctx context.Context, chatID, sourceID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (chat_id, source_id) VALUES (?, ?) ON CONFLICT (chat_id, source_id) DO NOTHING`,
		chatID, sourceID,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Unsubscribe removes the link between a chat and a source. The source itself
// is kept even when no chat follows it anymore.
func (s *SQLite) Unsubscribe(ctx context.Context, kind, identifier string, sourceID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions
		 WHERE source_id = ?
		   AND chat_id = (SELECT id FROM chats WHERE type = ? AND identifier = ?)`,
		sourceID, kind, identifier,
	)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListChatSources returns the sources a chat is subscribed to.
func (s *SQLite) ListChatSources(ctx context.Context, kind, identifier string) ([]model.SourceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.type, s.update_url
		 FROM sources s
		 JOIN subscriptions sub ON sub.source_id = s.id
		 JOIN chats c ON c.id = sub.chat_id
		 WHERE c.type = ? AND c.identifier = ?
		 ORDER BY s.id`, kind, identifier,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SourceInfo
	for rows.Next() {
		var si model.SourceInfo
		if err := rows.Scan(&si.ID, &si.Name, &si.Type, &si.UpdateURL); err != nil {
			return nil, fmt.Errorf("scan chat source: %w", err)
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// ListSubscribers returns every chat subscribed to the source.
func (s *SQLite) ListSubscribers(ctx context.Context, sourceID int64) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.identifier, c.type, c.created_at
		 FROM chats c JOIN subscriptions sub ON sub.chat_id = c.id
		 WHERE sub.source_id = ? ORDER BY c.id`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanChats(rows)
}

// GetOrCreateFile resolves a File by content hash, inserting it when missing.
func (s *SQLite) GetOrCreateFile(ctx context.Context, internal string) (*model.File, Outcome, error) {
	for range maxConflictRetries {
		f, err := s.fileBy(ctx, `internal = ?`, internal)
		if err == nil {
			return f, Found, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, Found, err
		}

		res, err := s.db.ExecContext(ctx, `INSERT INTO files (internal) VALUES (?)`, internal)
		if isConflict(err) {
			continue
		}
		if err != nil {
			return nil, Found, fmt.Errorf("insert file: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, Found, fmt.Errorf("last insert id: %w", err)
		}
		return &model.File{ID: id, Internal: internal}, Created, nil
	}
	return nil, Found, fmt.Errorf("file %s: %w", internal, ErrConflict)
}

// GetFile returns a File by its ID.
func (s *SQLite) GetFile(ctx context.Context, id int64) (*model.File, error) {
	return s.fileBy(ctx, `id = ?`, id)
}

func (s *SQLite) fileBy(ctx context.Context, where string, arg any) (*model.File, error) {
	var f model.File
	var telegram sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, internal, telegram FROM files WHERE `+where, arg,
	).Scan(&f.ID, &f.Internal, &telegram)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	f.Telegram = telegram.String
	return &f, nil
}

// SetFileTelegram caches the Telegram file id of an uploaded File. The first
// stored id wins; later calls are ignored.
func (s *SQLite) SetFileTelegram(ctx context.Context, id int64, telegramID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET telegram = ? WHERE id = ? AND telegram IS NULL`, telegramID, id,
	)
	if isConflict(err) {
		// the same bytes were stored twice under different hashes; keep the first mapping
		return nil
	}
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var imageID sql.NullInt64
	var created string
	err := row.Scan(&src.ID, &src.UpdateURL, &src.URL, &src.Name, &src.Type, &imageID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	if imageID.Valid {
		v := imageID.Int64
		src.ImageID = &v
	}
	src.CreatedAt, _ = time.Parse(timeLayout, created)
	return &src, nil
}

func scanChats(rows *sql.Rows) ([]model.Chat, error) {
	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		var created string
		if err := rows.Scan(&c.ID, &c.Identifier, &c.Type, &created); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
