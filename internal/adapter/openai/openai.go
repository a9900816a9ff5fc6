// Package openai implements the OpenAI chat completions adapter. The same
// adapter serves every vendor that speaks the OpenAI dialect; those vendors
// configure a different name, base URL and model rewrite.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/attachcache"
	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/openai"
	"github.com/tokligence/chatstream/internal/pdftext"
)

// Ensure OpenAIAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*OpenAIAdapter)(nil)

// Defaults for the OpenAI vendor.
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 256
)

// OpenAIAdapter streams chat completions from an OpenAI-compatible API.
// PDF attachments are reduced to their text layer, which is sent as an extra
// user message right after the message that carried the file.
type OpenAIAdapter struct {
	name         string
	apiKey       string
	baseURL      string
	org          string
	defaults     chat.Defaults
	rewriteModel func(string) string
	extractor    pdftext.Extractor
	texts        *attachcache.Cache[string]
	httpClient   *http.Client
	streamClient *http.Client
	logger       *log.Logger
}

// Config holds configuration for the adapter.
type Config struct {
	Name           string // optional, defaults to "openai"
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	Organization   string // optional
	DefaultModel   string
	MaxTokens      int
	RequestTimeout time.Duration
	// ModelRewrite maps the client's model id to the vendor's.
	ModelRewrite func(string) string
	Extractor    pdftext.Extractor
	// TextCache memoizes extracted PDF text per session and attachment name.
	TextCache  *attachcache.Cache[string]
	HTTPClient *http.Client
	Logger     *log.Logger
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key required", name)
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	rewrite := cfg.ModelRewrite
	if rewrite == nil {
		rewrite = func(m string) string { return m }
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = pdftext.PlainText{}
	}
	texts := cfg.TextCache
	if texts == nil {
		texts = attachcache.New[string](attachcache.Config{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	streamClient := cfg.HTTPClient
	if streamClient == nil {
		// No overall timeout: a stream lives as long as its request context.
		streamClient = &http.Client{}
	}

	return &OpenAIAdapter{
		name:         name,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		org:          cfg.Organization,
		defaults:     chat.Defaults{Model: model, MaxTokens: maxTokens},
		rewriteModel: rewrite,
		extractor:    extractor,
		texts:        texts,
		httpClient:   &http.Client{Timeout: timeout, Transport: streamClient.Transport},
		streamClient: streamClient,
		logger:       logger,
	}, nil
}

// Name implements adapter.StreamingChatAdapter.
func (a *OpenAIAdapter) Name() string { return a.name }

// Defaults implements adapter.StreamingChatAdapter.
func (a *OpenAIAdapter) Defaults() chat.Defaults { return a.defaults }

// UpstreamModel returns the model id sent to the vendor for a client model id.
func (a *OpenAIAdapter) UpstreamModel(model string) string { return a.rewriteModel(model) }

// BuildMessages translates the conversation. Every message whose role is not
// "user" becomes "assistant". Text extracted from PDF attachments follows the
// owning message as a user message "<name>\n\n<text>".
func (a *OpenAIAdapter) BuildMessages(req chat.Request) []openai.ChatMessage {
	out := make([]openai.ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := chat.RoleAssistant
		if msg.IsUser() {
			role = chat.RoleUser
		}
		out = append(out, openai.ChatMessage{Role: role, Content: msg.Content})
		for _, att := range msg.Attachments {
			if !att.IsPDF() {
				continue
			}
			text, _, err := a.texts.GetOrLoad(req.SessionID, att.Name, func() (string, error) {
				return a.extractor.Extract(att.FilePath)
			})
			if err != nil {
				a.logger.Printf("%s.attachment_extract_failed session=%s name=%q err=%v", a.name, req.SessionID, att.Name, err)
				continue
			}
			out = append(out, openai.ChatMessage{Role: chat.RoleUser, Content: att.Name + "\n\n" + text})
		}
	}
	return out
}

// CreateCompletionStream opens a streaming chat completion.
func (a *OpenAIAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%s: no messages provided", a.name)
	}

	temperature := req.Temperature
	maxTokens := req.MaxTokens
	payload := openai.ChatCompletionRequest{
		Model:       a.rewriteModel(req.Model),
		Messages:    a.BuildMessages(req),
		Stream:      true,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.name, err)
	}

	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, adapter.HTTPError(a.name, resp.StatusCode, data)
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		err := adapter.ReadSSE(ctx, resp.Body, func(_, data string) error {
			if data == "[DONE]" {
				return adapter.ErrStopStream
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return parseError{fmt.Errorf("%s: parse stream: %w", a.name, err)}
			}
			if chunk.Error != nil && chunk.Error.Message != "" {
				return parseError{fmt.Errorf("%s: %s", a.name, chunk.Error.Message)}
			}
			text, ok := chunk.DeltaText()
			if !ok || text == "" {
				return nil
			}
			if !adapter.Send(ctx, ch, adapter.StreamEvent{Delta: text}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			var pe parseError
			if errors.As(err, &pe) {
				err = pe.err
			} else {
				err = fmt.Errorf("%s: read stream: %w", a.name, err)
			}
			adapter.Send(ctx, ch, adapter.StreamEvent{Error: err})
		}
	}()
	return ch, nil
}

// CreateCompletion sends a non-streaming chat completion request.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%s: no messages provided", a.name)
	}
	req.Model = a.rewriteModel(req.Model)
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%s: marshal request: %w", a.name, err)
	}
	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%s: send request: %w", a.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%s: read response: %w", a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return openai.ChatCompletionResponse{}, adapter.HTTPError(a.name, resp.StatusCode, respBody)
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%s: unmarshal response: %w", a.name, err)
	}
	if len(completion.Choices) == 0 {
		return openai.ChatCompletionResponse{}, errors.New(a.name + ": response has no choices")
	}
	return completion, nil
}

func (a *OpenAIAdapter) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", a.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.org != "" {
		httpReq.Header.Set("OpenAI-Organization", a.org)
	}
	return httpReq, nil
}

// parseError carries a failure found in the stream payload itself.
type parseError struct{ err error }

func (e parseError) Error() string { return e.err.Error() }

// streamChunk tolerates vendors that report failures inside the stream.
type streamChunk struct {
	openai.ChatCompletionChunk
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
