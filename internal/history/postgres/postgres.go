// Package postgres implements history.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/history"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Config tunes the connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Logger          *log.Logger
}

// Store implements history.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New migrates the database to the latest schema and opens a pooled store.
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres history: dsn required")
	}
	if err := RunMigrations(cfg.DSN, cfg.Logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return &Store{db: db}, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(dsn string, logger *log.Logger) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		version, dirty, _ := m.Version()
		logger.Printf("[history-postgres] migrations applied version=%d dirty=%v", version, dirty)
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

const insertSession = `
INSERT INTO sessions (session_id, name, title, summary, temperature, max_tokens, persona, model,
	summarizing_model, model_preset1, model_preset2, enable_summarization, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

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
	if _, err := tx.ExecContext(ctx, insertSession+` ON CONFLICT (session_id) DO NOTHING`, sessionArgs(def)...); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	var ref int64
	// FOR UPDATE serialises concurrent replacements of the same session.
	if err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE session_id = $1 FOR UPDATE`, sessionID).Scan(&ref); err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_ref = $1`, ref); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO messages (session_ref, position, user_text, ai_response, attachments, attachment_names, model, persona, temperature, max_tokens, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, turn := range turns {
		atts, err := history.EncodeAttachments(turn.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ref, i, turn.UserText, turn.AIResponse, atts, pq.Array(turn.AttachmentNames()),
			turn.Model, turn.Persona, turn.Temperature, turn.MaxTokens, turn.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = NOW() WHERE id = $1`, ref); err != nil {
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
	if err := s.db.QueryRowContext(ctx, insertSession+` RETURNING id`, sessionArgs(sess)...).Scan(&sess.ID); err != nil {
		return history.Session{}, fmt.Errorf("insert session: %w", err)
	}
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
	sess, err := scanSession(s.db.QueryRowContext(ctx, selectSession+` WHERE session_id = $1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return history.Session{}, history.ErrSessionNotFound
	}
	if err != nil {
		return history.Session{}, fmt.Errorf("get session: %w", err)
	}
	msgs, err := s.messages(ctx, `WHERE session_ref = $1`, sess.ID)
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
UPDATE sessions SET name = $1, title = $2, summary = $3, temperature = $4, max_tokens = $5, persona = $6, model = $7,
	summarizing_model = $8, model_preset1 = $9, model_preset2 = $10, enable_summarization = $11, updated_at = NOW()
WHERE session_id = $12`,
		sess.Name, sess.Title, sess.Summary, sess.Temperature, sess.MaxTokens, sess.Persona, sess.Model,
		sess.SummarizingModel, sess.ModelPreset1, sess.ModelPreset2, sess.EnableSummarization, sess.SessionID)
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
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET summary = $1, updated_at = NOW() WHERE session_id = $2`,
		summary, sessionID)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
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
