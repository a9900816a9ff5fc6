// Package history persists chat sessions and their completed turns.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tokligence/chatstream/internal/chat"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("history: session not found")

// Session is a conversation thread with its settings. JSON field names follow
// the front-end's camelCase schema.
type Session struct {
	ID                  int64           `json:"id"`
	SessionID           string          `json:"sessionId"`
	Name                string          `json:"name"`
	Title               string          `json:"title"`
	Summary             string          `json:"summary"`
	Temperature         float64         `json:"temperature"`
	MaxTokens           int             `json:"maxTokens"`
	Persona             string          `json:"persona"`
	Model               string          `json:"model"`
	SummarizingModel    string          `json:"summarizingModel"`
	EnableSummarization bool            `json:"enableSummarization"`
	ModelPreset1        string          `json:"modelPreset1"`
	ModelPreset2        string          `json:"modelPreset2"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	Messages            []StoredMessage `json:"messages"`
}

// StoredMessage is one persisted turn. Attachments holds the JSON encoded
// attachment list exactly as stored.
type StoredMessage struct {
	ID          int64     `json:"id"`
	UserText    string    `json:"userText"`
	AIResponse  string    `json:"aiResponse"`
	Attachments string    `json:"attachments"`
	Timestamp   time.Time `json:"timestamp"`
	Model       string    `json:"model"`
	Persona     string    `json:"persona"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"maxTokens"`
}

// TurnWriter is the persistence side used after a completed stream.
type TurnWriter interface {
	// ReplaceTurns atomically replaces every stored turn of the session with
	// turns, creating the session when it does not exist. Calling it twice
	// with the same turns leaves the same rows.
	ReplaceTurns(ctx context.Context, sessionID string, turns []chat.Turn) error
}

// Store defines persistence behaviour for sessions.
type Store interface {
	TurnWriter
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSession(ctx context.Context, s Session) error
	// UpdateSummary sets only the summary column, leaving concurrent settings
	// changes intact.
	UpdateSummary(ctx context.Context, sessionID, summary string) error
	DeleteSession(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Defaults for new sessions.
const (
	DefaultSessionName = "Chat Session 1"
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 1024
)

// DefaultSession returns the settings a new session starts with.
func DefaultSession(sessionID string) Session {
	now := time.Now().UTC()
	return Session{
		SessionID:        sessionID,
		Name:             DefaultSessionName,
		Title:            DefaultSessionName,
		Summary:          "# Chat Summary\n\nThis is the default summary for " + DefaultSessionName + ".",
		Temperature:      chat.DefaultTemperature,
		MaxTokens:        DefaultMaxTokens,
		Persona:          chat.DefaultPersona,
		Model:            DefaultModel,
		SummarizingModel: DefaultModel,
		ModelPreset1:     DefaultModel,
		ModelPreset2:     DefaultModel,
		CreatedAt:        now,
		UpdatedAt:        now,
		Messages:         []StoredMessage{},
	}
}

// EncodeAttachments renders the stored attachment list of a turn.
func EncodeAttachments(atts []chat.StoredAttachment) (string, error) {
	if len(atts) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(atts)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
