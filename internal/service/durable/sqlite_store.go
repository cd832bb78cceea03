package durable

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const DefaultSQLiteFileName = "durable.db"

// SQLiteStore serves the durable contract from an embedded database. Every
// query is scoped to the user the store was opened for.
type SQLiteStore struct {
	db     *sql.DB
	userID string
}

func OpenSQLite(dbPath, userID string) (*SQLiteStore, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db, userID: userID}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		model_used TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_message_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	_, err := db.Exec(ddl)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, title, model string) (*Session, error) {
	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, model_used, created_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, s.userID, title, model, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &Session{
		ID:            id,
		Title:         title,
		ModelUsed:     model,
		CreatedAt:     time.UnixMilli(now.UnixMilli()),
		LastMessageAt: time.UnixMilli(now.UnixMilli()),
	}, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model_used, created_at, last_message_at, message_count, is_archived
		 FROM sessions
		 WHERE user_id = ?
		 ORDER BY last_message_at DESC`,
		s.userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var createdAt, lastMessageAt int64
		var archived int
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.ModelUsed, &createdAt, &lastMessageAt, &sess.MessageCount, &archived); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(createdAt)
		sess.LastMessageAt = time.UnixMilli(lastMessageAt)
		sess.IsArchived = archived != 0
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id, title, model string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, model_used = ?, last_message_at = ?
		 WHERE id = ? AND user_id = ?`,
		title, model, time.Now().UnixMilli(), id, s.userID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res, "update session", id)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND user_id = ?`, id, s.userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := requireRow(res, "delete session", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ArchiveSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_archived = 1 WHERE id = ? AND user_id = ?`,
		id, s.userID,
	)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return requireRow(res, "archive session", id)
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, in MessageInput) (*Message, error) {
	if err := s.ownsSession(ctx, in.SessionID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`,
		in.SessionID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next message seq: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, model, tokens_used, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.SessionID, string(in.Role), in.Content, in.Model, in.TokensUsed, now, seq,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, last_message_at = ? WHERE id = ?`,
		now, in.SessionID,
	); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}

	return &Message{
		ID:         id,
		SessionID:  in.SessionID,
		Role:       in.Role,
		Content:    in.Content,
		Model:      in.Model,
		TokensUsed: in.TokensUsed,
		CreatedAt:  time.UnixMilli(now),
	}, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	if err := s.ownsSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, model, tokens_used, created_at
		 FROM messages
		 WHERE session_id = ?
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Model, &msg.TokensUsed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = schema.RoleType(role)
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages
		 WHERE id = ? AND session_id IN (SELECT id FROM sessions WHERE user_id = ?)`,
		id, s.userID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(res, "delete message", id)
}

func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.ownsSession(ctx, sessionID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET message_count = 0 WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("reset message count: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ownsSession(ctx context.Context, id string) error {
	var found string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE id = ? AND user_id = ?`,
		id, s.userID,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}
