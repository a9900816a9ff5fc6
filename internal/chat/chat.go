// Package chat holds the normalized conversation shared by every vendor adapter.
package chat

import (
	"path/filepath"
	"strings"
)

// Roles understood by the gateway. Anything that is not RoleUser is treated as
// an assistant turn when translated for a vendor, except RoleSystem where the
// vendor has a dedicated system field.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Attachment is a file the client attached to a user message. Content carries
// the base64 payload as sent by the client; FilePath is set once the file has
// been written to the session directory.
type Attachment struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Content  string `json:"content,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// IsPDF reports whether the materialized file is a PDF document.
func (a Attachment) IsPDF() bool {
	return a.FilePath != "" && strings.EqualFold(filepath.Ext(a.FilePath), ".pdf")
}

// Message is one conversation entry. Assistant messages echoed back by the
// client carry the generation settings that produced them.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Model       string       `json:"model,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// IsUser reports whether the message was authored by the user.
func (m Message) IsUser() bool { return m.Role == RoleUser }

// IsSystem reports whether the message carries instructions rather than a turn.
func (m Message) IsSystem() bool { return m.Role == RoleSystem }

// Request is a validated streaming request with defaults applied.
type Request struct {
	SessionID   string
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	Timestamp   string
}

// Clone returns a deep copy of the conversation so materialization can rewrite
// attachment descriptors without touching the caller's slice.
func (r Request) Clone() Request {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		cp := m
		if len(m.Attachments) > 0 {
			cp.Attachments = append([]Attachment(nil), m.Attachments...)
		}
		out.Messages[i] = cp
	}
	return out
}

// AssistantMessage builds the assistant entry appended after a completed stream.
func (r Request) AssistantMessage(text string) Message {
	temp := r.Temperature
	maxTokens := r.MaxTokens
	return Message{
		Role:        RoleAssistant,
		Content:     text,
		Model:       r.Model,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Timestamp:   r.Timestamp,
	}
}
