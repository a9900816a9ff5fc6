package chat

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnpairedTurn is returned when a conversation does not alternate user and
// assistant messages.
var ErrUnpairedTurn = errors.New("chat: conversation is not a sequence of user/assistant pairs")

// DefaultPersona is recorded on every stored turn.
const DefaultPersona = "professional"

// StoredAttachment is the persisted form of an attachment. The payload is never
// stored, only the location of the materialized file.
type StoredAttachment struct {
	Name     string `json:"name"`
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// Turn is one persisted user/assistant exchange.
type Turn struct {
	UserText    string
	AIResponse  string
	Attachments []StoredAttachment
	Model       string
	Persona     string
	Temperature float64
	MaxTokens   int
	Timestamp   time.Time
}

// AttachmentNames lists the names of the turn's attachments.
func (t Turn) AttachmentNames() []string {
	names := make([]string, 0, len(t.Attachments))
	for _, a := range t.Attachments {
		names = append(names, a.Name)
	}
	return names
}

// PairTurns folds a conversation into turns. The user message supplies the
// text and attachments; the assistant message supplies the generation settings.
// System messages are not turns and are skipped.
func PairTurns(msgs []Message) ([]Turn, error) {
	msgs = withoutSystem(msgs)
	if len(msgs)%2 != 0 {
		return nil, fmt.Errorf("%w: %d messages", ErrUnpairedTurn, len(msgs))
	}
	turns := make([]Turn, 0, len(msgs)/2)
	for i := 0; i < len(msgs); i += 2 {
		user, asst := msgs[i], msgs[i+1]
		if !user.IsUser() || asst.IsUser() {
			return nil, fmt.Errorf("%w: position %d", ErrUnpairedTurn, i)
		}
		t := Turn{
			UserText:    user.Content,
			AIResponse:  asst.Content,
			Attachments: []StoredAttachment{},
			Model:       asst.Model,
			Persona:     DefaultPersona,
			Temperature: DefaultTemperature,
			Timestamp:   ParseTimestamp(asst.Timestamp),
		}
		if asst.Temperature != nil {
			t.Temperature = *asst.Temperature
		}
		if asst.MaxTokens != nil {
			t.MaxTokens = *asst.MaxTokens
		}
		for _, a := range user.Attachments {
			t.Attachments = append(t.Attachments, StoredAttachment{Name: a.Name, FilePath: a.FilePath})
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func withoutSystem(msgs []Message) []Message {
	for i := range msgs {
		if !msgs[i].IsSystem() {
			continue
		}
		out := make([]Message, 0, len(msgs)-1)
		out = append(out, msgs[:i]...)
		for _, m := range msgs[i+1:] {
			if !m.IsSystem() {
				out = append(out, m)
			}
		}
		return out
	}
	return msgs
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts ISO-8601 timestamps with or without a zone. Unparseable
// values fall back to the current time.
func ParseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}
