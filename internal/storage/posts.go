package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"subscriber/internal/model"
)

// PostExists reports whether a post with the identifier was stored for the source.
func (s *SQLite) PostExists(ctx context.Context, sourceID int64, identifier string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE source_id = ? AND identifier = ?)`, sourceID, identifier,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check post: %w", err)
	}
	return exists == 1, nil
}

// SavePost inserts a post and, when notify is set, a Pending ChatPost for
// every chat subscribed to its source. Both happen in one transaction so a
// stored post never misses its deliveries.
//
// A post whose (identifier, source) pair already exists is left untouched:
// post is filled from the stored row and created is false.
func (s *SQLite) SavePost(ctx context.Context, post *model.Post, notify bool) ([]model.Delivery, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO posts (identifier, source_id, url, title, description, image_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (identifier, source_id) DO NOTHING`,
		post.Identifier, post.SourceID, post.URL, post.Title, post.Description, nullableID(post.ImageID),
		now.Format(timeLayout),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		existing, err := scanPost(tx.QueryRowContext(ctx, selectPost+` WHERE source_id = ? AND identifier = ?`,
			post.SourceID, post.Identifier))
		if err != nil {
			return nil, false, err
		}
		*post = *existing
		return nil, false, tx.Commit()
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	post.ID = id
	post.Created, _ = time.Parse(timeLayout, now.Format(timeLayout))

	var deliveries []model.Delivery
	if notify {
		chats, err := subscribersTx(ctx, tx, post.SourceID)
		if err != nil {
			return nil, false, err
		}
		for _, chat := range chats {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO chat_posts (chat_id, post_id, state, created_at) VALUES (?, ?, ?, ?)`,
				chat.ID, post.ID, model.StatePending, now.Format(timeLayout),
			)
			if err != nil {
				return nil, false, fmt.Errorf("insert chat_post: %w", err)
			}
			cpID, err := res.LastInsertId()
			if err != nil {
				return nil, false, fmt.Errorf("last insert id: %w", err)
			}
			deliveries = append(deliveries, model.Delivery{ChatPostID: cpID, Chat: chat, PostID: post.ID})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return deliveries, true, nil
}

func subscribersTx(ctx context.Context, tx *sql.Tx, sourceID int64) ([]model.Chat, error) {
	rows, err := tx.QueryContext(ctx,
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

const selectPost = `SELECT id, identifier, source_id, url, title, description, image_id, created_at FROM posts`

// GetPost returns a single post by its ID.
func (s *SQLite) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	return scanPost(s.db.QueryRowContext(ctx, selectPost+` WHERE id = ?`, id))
}

// CountPosts returns the number of posts stored for the source.
func (s *SQLite) CountPosts(ctx context.Context, sourceID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE source_id = ?`, sourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// RecentPostIdentifiers returns up to limit identifiers of the newest posts of a source.
func (s *SQLite) RecentPostIdentifiers(ctx context.Context, sourceID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM posts WHERE source_id = ? ORDER BY id DESC LIMIT ?`, sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query post identifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post identifier: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectChatPost = `SELECT id, chat_id, post_id, state, message_id, created_at, deadline FROM chat_posts`

// GetChatPost returns a single delivery record by its ID.
func (s *SQLite) GetChatPost(ctx context.Context, id int64) (*model.ChatPost, error) {
	return scanChatPost(s.db.QueryRowContext(ctx, selectChatPost+` WHERE id = ?`, id))
}

// ListChatPosts returns the delivery records of a chat in creation order.
func (s *SQLite) ListChatPosts(ctx context.Context, chatID int64) ([]model.ChatPost, error) {
	rows, err := s.db.QueryContext(ctx, selectChatPost+` WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query chat posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ChatPost
	for rows.Next() {
		cp, err := scanChatPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// MarkPosted moves a Pending ChatPost to Posted and records the message the
// destination created for it.
func (s *SQLite) MarkPosted(ctx context.Context, id int64, messageID string, deadline time.Time) error {
	ok, err := s.transition(ctx, model.StatePending, model.StatePosted,
		`UPDATE chat_posts SET state = ?, message_id = ?, deadline = ? WHERE id = ? AND state = ?`,
		model.StatePosted, messageID, deadline.UTC().Format(timeLayout), id, model.StatePending,
	)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark chat post %d posted: %w", id, ErrStateConflict)
	}
	return nil
}

// DiscardPending drops a Pending ChatPost whose delivery produced no message.
func (s *SQLite) DiscardPending(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_posts WHERE id = ? AND state = ?`, id, model.StatePending)
	if err != nil {
		return fmt.Errorf("discard chat post: %w", err)
	}
	return nil
}

// Keep marks a posted message as retained so it is never swept.
func (s *SQLite) Keep(ctx context.Context, kind, identifier, messageID string) (bool, error) {
	return s.transitionMessage(ctx, kind, identifier, messageID, model.StateKeeping)
}

// Dismiss marks a posted message as deleted by the user.
func (s *SQLite) Dismiss(ctx context.Context, kind, identifier, messageID string) (bool, error) {
	return s.transitionMessage(ctx, kind, identifier, messageID, model.StateDeleted)
}

func (s *SQLite) transitionMessage(ctx context.Context, kind, identifier, messageID string, to model.ChatPostState) (bool, error) {
	return s.transition(ctx, model.StatePosted, to,
		`UPDATE chat_posts SET state = ?
		 WHERE state = ? AND message_id = ?
		   AND chat_id = (SELECT id FROM chats WHERE type = ? AND identifier = ?)`,
		to, model.StatePosted, messageID, kind, identifier,
	)
}

// ListExpired returns Posted deliveries whose deadline is before now.
func (s *SQLite) ListExpired(ctx context.Context, now time.Time) ([]model.ExpiredPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cp.id, cp.message_id, c.id, c.identifier, c.type, c.created_at
		 FROM chat_posts cp JOIN chats c ON c.id = cp.chat_id
		 WHERE cp.state = ? AND cp.deadline IS NOT NULL AND cp.deadline < ?
		 ORDER BY cp.id`,
		model.StatePosted, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired chat posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ExpiredPost
	for rows.Next() {
		var e model.ExpiredPost
		var created string
		if err := rows.Scan(&e.ChatPostID, &e.MessageID, &e.Chat.ID, &e.Chat.Identifier, &e.Chat.Type, &created); err != nil {
			return nil, fmt.Errorf("scan expired chat post: %w", err)
		}
		e.Chat.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimExpired moves a Posted ChatPost to Deleted. It reports false when the
// row already left the Posted state, so each expiry is handled once.
func (s *SQLite) ClaimExpired(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, model.StatePosted, model.StateDeleted,
		`UPDATE chat_posts SET state = ? WHERE id = ? AND state = ?`,
		model.StateDeleted, id, model.StatePosted,
	)
}

// transition runs a compare-and-set update guarded by the state machine.
func (s *SQLite) transition(ctx context.Context, from, to model.ChatPostState, query string, args ...any) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, ErrStateConflict)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update chat post %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func scanPost(row scannable) (*model.Post, error) {
	var p model.Post
	var imageID sql.NullInt64
	var created string
	err := row.Scan(&p.ID, &p.Identifier, &p.SourceID, &p.URL, &p.Title, &p.Description, &imageID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}
	if imageID.Valid {
		v := imageID.Int64
		p.ImageID = &v
	}
	p.Created, _ = time.Parse(timeLayout, created)
	return &p, nil
}

func scanChatPost(row scannable) (*model.ChatPost, error) {
	var cp model.ChatPost
	var created string
	var deadline sql.NullString
	err := row.Scan(&cp.ID, &cp.ChatID, &cp.PostID, &cp.State, &cp.MessageID, &created, &deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat post: %w", err)
	}
	cp.Created, _ = time.Parse(timeLayout, created)
	if deadline.Valid {
		t, _ := time.Parse(timeLayout, deadline.String)
		cp.Deadline = &t
	}
	return &cp, nil
}
