// Package gemini implements the Google Gemini streaming adapter. Attachments
// are uploaded through the Files API once per session and referenced by URI.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/attachcache"
	"github.com/tokligence/chatstream/internal/chat"
)

// Ensure GeminiAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*GeminiAdapter)(nil)

const (
	DefaultBaseURL   = "https://generativelanguage.googleapis.com"
	DefaultModel     = "gemini-pro"
	DefaultMaxTokens = 256
	defaultTopP      = 0.95
)

// GeminiAdapter streams from generateContent endpoints.
type GeminiAdapter struct {
	apiKey       string
	baseURL      string
	defaults     chat.Defaults
	files        *attachcache.Cache[FileData]
	httpClient   *http.Client
	streamClient *http.Client
	logger       *log.Logger
}

// Config holds configuration for the Gemini adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	DefaultModel   string
	MaxTokens      int
	RequestTimeout time.Duration
	// Files memoizes uploaded file references per session and attachment name.
	Files      *attachcache.Cache[FileData]
	HTTPClient *http.Client
	Logger     *log.Logger
}

// New creates a GeminiAdapter instance.
func New(cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second // uploads and summaries can be slow
	}
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	files := cfg.Files
	if files == nil {
		files = attachcache.New[FileData](attachcache.Config{})
	}
	streamClient := cfg.HTTPClient
	if streamClient == nil {
		streamClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &GeminiAdapter{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		defaults:     chat.Defaults{Model: model, MaxTokens: maxTokens},
		files:        files,
		httpClient:   &http.Client{Timeout: timeout, Transport: streamClient.Transport},
		streamClient: streamClient,
		logger:       logger,
	}, nil
}

// Name implements adapter.StreamingChatAdapter.
func (a *GeminiAdapter) Name() string { return "gemini" }

// Defaults implements adapter.StreamingChatAdapter.
func (a *GeminiAdapter) Defaults() chat.Defaults { return a.defaults }

// convertMessages maps roles to user/model and appends an uploaded file part
// for every materialized attachment after the message text.
func (a *GeminiAdapter) convertMessages(ctx context.Context, req chat.Request) []content {
	contents := make([]content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := "model"
		if msg.IsUser() {
			role = "user"
		}
		parts := []part{{Text: msg.Content}}
		for _, att := range msg.Attachments {
			if att.FilePath == "" {
				continue
			}
			fd, _, err := a.files.GetOrLoad(req.SessionID, att.Name, func() (FileData, error) {
				return a.UploadFile(ctx, att)
			})
			if err != nil {
				a.logger.Printf("gemini.attachment_upload_failed session=%s name=%q err=%v", req.SessionID, att.Name, err)
				continue
			}
			parts = append(parts, part{FileData: &fd})
		}
		contents = append(contents, content{Role: role, Parts: parts})
	}
	return contents
}

// CreateCompletionStream opens streamGenerateContent with alt=sse.
func (a *GeminiAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini: no messages provided")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("gemini: model name required")
	}

	payload := generateRequest{
		Contents: a.convertMessages(ctx, req),
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            defaultTopP,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", a.baseURL, url.PathEscape(req.Model), url.QueryEscape(a.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: send stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, adapter.HTTPError("gemini", resp.StatusCode, data)
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var streamErr error
		err := adapter.ReadSSE(ctx, resp.Body, func(_, data string) error {
			var chunk generateResponse
			if perr := json.Unmarshal([]byte(data), &chunk); perr != nil {
				streamErr = fmt.Errorf("gemini: parse stream: %w", perr)
				return streamErr
			}
			if chunk.Error != nil && chunk.Error.Message != "" {
				streamErr = fmt.Errorf("gemini: %s (status=%s)", chunk.Error.Message, chunk.Error.Status)
				return streamErr
			}
			if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
				streamErr = fmt.Errorf("gemini: prompt blocked (%s)", chunk.PromptFeedback.BlockReason)
				return streamErr
			}
			text := chunk.JoinText()
			if text == "" {
				return nil
			}
			if !adapter.Send(ctx, ch, adapter.StreamEvent{Delta: text}) {
				return ctx.Err()
			}
			return nil
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		if streamErr == nil {
			streamErr = fmt.Errorf("gemini: read stream: %w", err)
		}
		adapter.Send(ctx, ch, adapter.StreamEvent{Error: streamErr})
	}()
	return ch, nil
}

// GenerateText issues one non-streaming generateContent call with a system
// instruction and a single user prompt.
func (a *GeminiAdapter) GenerateText(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("gemini: model name required")
	}
	payload := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
			TopP:            defaultTopP,
		},
	}
	if system != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.baseURL, url.PathEscape(model), url.QueryEscape(a.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", adapter.HTTPError("gemini", resp.StatusCode, respBody)
	}
	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("gemini: unmarshal response: %w", err)
	}
	return out.JoinText(), nil
}
