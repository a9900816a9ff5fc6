package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultTemperature applies when the client omits temperature.
const DefaultTemperature = 0.7

var (
	// ErrMissingSessionID is returned when the X-Session-ID header is absent.
	ErrMissingSessionID = errors.New("missing 'session_id' in payload")
	// ErrEmptyConversation is returned when no messages were supplied.
	ErrEmptyConversation = errors.New("missing 'conversation' in payload")
	// ErrInvalidJSON is returned when the body is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON payload")
)

// InputError marks a request that is rejected before any stream byte is sent.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }

func (e *InputError) Unwrap() error { return e.Err }

// IsInputError reports whether err should be answered with 400.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// Defaults are the vendor specific values used when the body omits them.
type Defaults struct {
	Model     string
	MaxTokens int
}

// Body is the inbound JSON envelope. Front-ends send the conversation under
// either "messages" or "conversation" depending on the vendor endpoint.
type Body struct {
	Messages     []Message `json:"messages"`
	Conversation []Message `json:"conversation"`
	Temperature  *float64  `json:"temperature"`
	MaxTokens    *int      `json:"max_tokens"`
	Model        string    `json:"model"`
	Timestamp    string    `json:"timestamp"`
}

// DecodeBody parses the request envelope. An empty body decodes to a zero Body.
func DecodeBody(r io.Reader) (Body, error) {
	var body Body
	dec := json.NewDecoder(r)
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return Body{}, &InputError{Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}
	return body, nil
}

// Build validates the body and applies defaults. The session id check runs
// first so a request without one is always rejected the same way.
func (b Body) Build(sessionID string, def Defaults) (Request, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Request{}, &InputError{Err: ErrMissingSessionID}
	}
	msgs := b.Messages
	if len(msgs) == 0 {
		msgs = b.Conversation
	}
	if len(msgs) == 0 {
		return Request{}, &InputError{Err: ErrEmptyConversation}
	}
	req := Request{
		SessionID:   sessionID,
		Messages:    msgs,
		Model:       strings.TrimSpace(b.Model),
		Temperature: DefaultTemperature,
		MaxTokens:   def.MaxTokens,
		Timestamp:   strings.TrimSpace(b.Timestamp),
	}
	if req.Model == "" {
		req.Model = def.Model
	}
	if b.Temperature != nil {
		req.Temperature = *b.Temperature
	}
	if b.MaxTokens != nil {
		req.MaxTokens = *b.MaxTokens
	}
	if req.Timestamp == "" {
		req.Timestamp = time.Now().Format("2006-01-02T15:04:05.000000")
	}
	return req, nil
}
