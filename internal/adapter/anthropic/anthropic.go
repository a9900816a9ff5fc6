package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/attachcache"
	"github.com/tokligence/chatstream/internal/attachment"
	"github.com/tokligence/chatstream/internal/chat"
)

// Ensure AnthropicAdapter implements the streaming contract.
var (
	_ adapter.StreamingChatAdapter = (*AnthropicAdapter)(nil)
	_ adapter.ContentKeeper        = (*AnthropicAdapter)(nil)
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultVersion   = "2023-06-01"
	DefaultModel     = "claude-3-opus-20240229"
	DefaultMaxTokens = 1024
)

// AnthropicAdapter streams from the Messages API. PDF attachments are sent
// inline as base64 document blocks placed before the message text.
type AnthropicAdapter struct {
	apiKey     string
	baseURL    string
	version    string // API version header
	defaults   chat.Defaults
	documents  *attachcache.Cache[DocumentBlock]
	httpClient *http.Client
	logger     *log.Logger
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey       string
	BaseURL      string // optional, defaults to https://api.anthropic.com
	Version      string // optional, defaults to 2023-06-01
	DefaultModel string
	MaxTokens    int
	// Documents memoizes document blocks per session and attachment name.
	Documents  *attachcache.Cache[DocumentBlock]
	HTTPClient *http.Client
	Logger     *log.Logger
}

// New creates an AnthropicAdapter instance.
func New(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = DefaultVersion
	}

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	docs := cfg.Documents
	if docs == nil {
		docs = attachcache.New[DocumentBlock](attachcache.Config{})
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &AnthropicAdapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		version:    version,
		defaults:   chat.Defaults{Model: model, MaxTokens: maxTokens},
		documents:  docs,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Name implements adapter.StreamingChatAdapter.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Defaults implements adapter.StreamingChatAdapter.
func (a *AnthropicAdapter) Defaults() chat.Defaults { return a.defaults }

// KeepsAttachmentContent reports that document blocks are built from the raw
// base64 payload.
func (a *AnthropicAdapter) KeepsAttachmentContent() bool { return true }

// mapModelName turns catalog ids like "claude-3.5-sonnet-latest" into the
// vendor form "claude-3-5-sonnet-latest".
func mapModelName(model string) string {
	return strings.ReplaceAll(model, ".", "-")
}

// convertMessages builds the Messages API conversation. System messages are
// lifted out of it and returned joined, for the top-level system field.
func (a *AnthropicAdapter) convertMessages(req chat.Request) (string, []anthropicMessage) {
	var system []string
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.IsSystem() {
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		role := chat.RoleAssistant
		if msg.IsUser() {
			role = chat.RoleUser
		}
		var blocks []contentBlock
		for _, att := range msg.Attachments {
			if !att.IsPDF() {
				continue
			}
			doc, _, err := a.documents.GetOrLoad(req.SessionID, att.Name, func() (DocumentBlock, error) {
				return newDocumentBlock(att)
			})
			if err != nil {
				a.logger.Printf("anthropic.attachment_skipped session=%s name=%q err=%v", req.SessionID, att.Name, err)
				continue
			}
			blocks = append(blocks, contentBlock{Type: "document", Source: &doc.Source})
		}
		blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}
	return strings.Join(system, "\n\n"), messages
}

func newDocumentBlock(att chat.Attachment) (DocumentBlock, error) {
	data := att.Content
	if data == "" {
		raw, err := attachment.ReadFile(att)
		if err != nil {
			return DocumentBlock{}, err
		}
		data = base64.StdEncoding.EncodeToString(raw)
	}
	return DocumentBlock{Source: documentSource{Type: "base64", MediaType: "application/pdf", Data: data}}, nil
}

// CreateCompletionStream sends a streaming request and forwards text deltas.
func (a *AnthropicAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: no messages provided")
	}

	system, messages := a.convertMessages(req)
	payload := messagesRequest{
		Model:       mapModelName(req.Model),
		System:      system,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, adapter.HTTPError("anthropic", resp.StatusCode, data)
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var streamErr error
		err := adapter.ReadSSE(ctx, resp.Body, func(eventType, data string) error {
			var evt streamEvent
			if perr := json.Unmarshal([]byte(data), &evt); perr != nil {
				streamErr = fmt.Errorf("anthropic: parse stream: %w", perr)
				return streamErr
			}
			if evt.Type == "" {
				evt.Type = eventType
			}
			switch evt.Type {
			case "content_block_delta":
				if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
					return nil
				}
				if !adapter.Send(ctx, ch, adapter.StreamEvent{Delta: evt.Delta.Text}) {
					return ctx.Err()
				}
			case "error":
				streamErr = fmt.Errorf("anthropic: %s (type=%s)", evt.Error.Message, evt.Error.Type)
				return streamErr
			case "message_stop":
				return adapter.ErrStopStream
			}
			return nil
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		if streamErr == nil {
			streamErr = fmt.Errorf("anthropic: read stream: %w", err)
		}
		adapter.Send(ctx, ch, adapter.StreamEvent{Error: streamErr})
	}()
	return ch, nil
}
