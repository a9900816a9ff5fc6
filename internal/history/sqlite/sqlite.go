// Package sqlite implements history.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/history"
)

// Store implements history.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	temperature REAL NOT NULL DEFAULT 0.7,
	max_tokens INTEGER NOT NULL DEFAULT 1024,
	persona TEXT NOT NULL DEFAULT 'professional',
	model TEXT NOT NULL DEFAULT 'gpt-4o-mini',
	summarizing_model TEXT NOT NULL DEFAULT 'gpt-4o-mini',
	model_preset1 TEXT NOT NULL DEFAULT 'gpt-4o-mini',
	model_preset2 TEXT NOT NULL DEFAULT 'gpt-4o-mini',
	enable_summarization INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_ref INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	user_text TEXT NOT NULL DEFAULT '',
	ai_response TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '[]',
	model TEXT NOT NULL DEFAULT '',
	persona TEXT NOT NULL DEFAULT 'professional',
	temperature REAL NOT NULL DEFAULT 0.7,
	max_tokens INTEGER NOT NULL DEFAULT 0,
	timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_position ON messages(session_ref, position);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sessionColumns = `sessions (session_id, name, title, summary, temperature, max_tokens, persona, model,
	summarizing_model, model_preset1, model_preset2, enable_summarization, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ReplaceTurns deletes the session's stored turns and inserts turns in one
// transaction.
func (s *Store) ReplaceTurns(ctx context.Context, sessionID string, turns []chat.Turn) error {
	if sessionID == "" {
		return errors.New("history: session id required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	def := history.DefaultSession(sessionID)
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO "+sessionColumns, sessionArgs(def)...); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	var ref int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&ref); err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_ref = ?`, ref); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO messages (session_ref, position, user_text, ai_response, attachments, model, persona, temperature, max_tokens, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, turn := range turns {
		atts, err := history.EncodeAttachments(turn.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ref, i, turn.UserText, turn.AIResponse, atts, turn.Model,
			turn.Persona, turn.Temperature, turn.MaxTokens, turn.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), ref); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateSession inserts a session and returns it with its row id.
func (s *Store) CreateSession(ctx context.Context, sess history.Session) (history.Session, error) {
	if sess.SessionID == "" {
		return history.Session{}, errors.New("history: session id required")
	}
	res, err := s.db.ExecContext(ctx, "INSERT INTO "+sessionColumns, sessionArgs(sess)...)
	if err != nil {
		return history.Session{}, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return history.Session{}, fmt.Errorf("insert session id: %w", err)
	}
	sess.ID = id
	if sess.Messages == nil {
		sess.Messages = []history.StoredMessage{}
	}
	return sess, nil
}

const selectSession = `
SELECT id, session_id, name, title, summary, temperature, max_tokens, persona, model, summarizing_model,
	model_preset1, model_preset2, enable_summarization, created_at, updated_at
FROM sessions`

// GetSession returns one session with its turns.
func (s *Store) GetSession(ctx context.Context, sessionID string) (history.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, selectSession+` WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return history.Session{}, history.ErrSessionNotFound
	}
	if err != nil {
		return history.Session{}, fmt.Errorf("get session: %w", err)
	}
	msgs, err := s.messages(ctx, `WHERE session_ref = ?`, sess.ID)
	if err != nil {
		return history.Session{}, err
	}
	sess.Messages = msgs[sess.ID]
	if sess.Messages == nil {
		sess.Messages = []history.StoredMessage{}
	}
	return sess, nil
}

// ListSessions returns every session with its turns, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]history.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectSession+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []history.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgs, err := s.messages(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Messages = msgs[sessions[i].ID]
		if sessions[i].Messages == nil {
			sessions[i].Messages = []history.StoredMessage{}
		}
	}
	return sessions, nil
}

func (s *Store) messages(ctx context.Context, where string, args ...any) (map[int64][]history.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_ref, user_text, ai_response, attachments, model, persona, temperature, max_tokens, timestamp
FROM messages `+where+` ORDER BY session_ref, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]history.StoredMessage)
	for rows.Next() {
		var m history.StoredMessage
		var ref int64
		if err := rows.Scan(&m.ID, &ref, &m.UserText, &m.AIResponse, &m.Attachments, &m.Model, &m.Persona,
			&m.Temperature, &m.MaxTokens, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out[ref] = append(out[ref], m)
	}
	return out, rows.Err()
}

// UpdateSession overwrites the mutable fields of a session.
func (s *Store) UpdateSession(ctx context.Context, sess history.Session) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET name = ?, title = ?, summary = ?, temperature = ?, max_tokens = ?, persona = ?, model = ?,
	summarizing_model = ?, model_preset1 = ?, model_preset2 = ?, enable_summarization = ?, updated_at = ?
WHERE session_id = ?`,
		sess.Name, sess.Title, sess.Summary, sess.Temperature, sess.MaxTokens, sess.Persona, sess.Model,
		sess.SummarizingModel, sess.ModelPreset1, sess.ModelPreset2, sess.EnableSummarization, time.Now().UTC(),
		sess.SessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrSessionNotFound
	}
	return nil
}

// UpdateSummary replaces the stored summary of a session.
func (s *Store) UpdateSummary(ctx context.Context, sessionID, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET summary = ?, updated_at = ? WHERE session_id = ?`,
		summary, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session and, through the foreign key, its turns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrSessionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (history.Session, error) {
	var sess history.Session
	err := row.Scan(&sess.ID, &sess.SessionID, &sess.Name, &sess.Title, &sess.Summary, &sess.Temperature,
		&sess.MaxTokens, &sess.Persona, &sess.Model, &sess.SummarizingModel, &sess.ModelPreset1, &sess.ModelPreset2,
		&sess.EnableSummarization, &sess.CreatedAt, &sess.UpdatedAt)
	return sess, err
}

func sessionArgs(sess history.Session) []any {
	created := sess.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	return []any{sess.SessionID, sess.Name, sess.Title, sess.Summary, sess.Temperature, sess.MaxTokens,
		sess.Persona, sess.Model, sess.SummarizingModel, sess.ModelPreset1, sess.ModelPreset2,
		sess.EnableSummarization, created.UTC(), updated.UTC()}
}
