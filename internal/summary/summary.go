// Package summary maintains the rolling per-session conversation summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	adapteropenai "github.com/tokligence/chatstream/internal/adapter/openai"
	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/history"
	"github.com/tokligence/chatstream/internal/openai"
)

// Default generation settings for summary requests.
const (
	DefaultMaxTokens   = 256
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-1.5-flash"
)

// Exchange is one user/assistant pair as the front-end sends it.
type Exchange struct {
	UserText   string `json:"userText"`
	AIResponse string `json:"aiResponse"`
}

// Request is the body of a summary call.
type Request struct {
	Conversation []Exchange `json:"conversation"`
	Temperature  *float64   `json:"temperature"`
	MaxTokens    *int       `json:"max_tokens"`
	Model        string     `json:"model"`
}

// Generator produces one non-streaming completion.
type Generator interface {
	GenerateText(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, error)

// GenerateText calls f.
func (f GeneratorFunc) GenerateText(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, error) {
	return f(ctx, model, system, prompt, temperature, maxTokens)
}

// OpenAIGenerator sends the prompt as a system and a user message through
// the chat completions API.
func OpenAIGenerator(a *adapteropenai.OpenAIAdapter) Generator {
	return GeneratorFunc(func(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, error) {
		resp, err := a.CreateCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			return "", err
		}
		return resp.FirstContent(), nil
	})
}

// Store is the subset of history.Store the service needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (history.Session, error)
	UpdateSummary(ctx context.Context, sessionID, summary string) error
}

// Config wires a Service.
type Config struct {
	Store        Store
	Generator    Generator
	Prompts      Prompts
	DefaultModel string
	Logger       *log.Logger
}

// Service renders the prompt, calls the generator and stores the result.
type Service struct {
	store        Store
	gen          Generator
	prompts      atomic.Pointer[Prompts]
	defaultModel string
	logger       *log.Logger
}

// New builds a Service. Zero Prompts fall back to the defaults.
func New(cfg Config) *Service {
	prompts := cfg.Prompts
	if prompts.Summarization.Prompt == "" && prompts.Summarization.SystemPrompt == "" {
		prompts = DefaultPrompts()
	}
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultOpenAIModel
	}
	s := &Service{
		store:        cfg.Store,
		gen:          cfg.Generator,
		defaultModel: model,
		logger:       cfg.Logger,
	}
	s.prompts.Store(&prompts)
	return s
}

// SetPrompts swaps the templates used by later calls.
func (s *Service) SetPrompts(p Prompts) {
	s.prompts.Store(&p)
}

// Summarize folds the last exchange of req into the session's summary. Input
// problems are returned as *chat.InputError.
func (s *Service) Summarize(ctx context.Context, sessionID string, req Request) (string, error) {
	if len(req.Conversation) == 0 {
		return "", &chat.InputError{Err: chat.ErrEmptyConversation}
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", &chat.InputError{Err: chat.ErrMissingSessionID}
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	found := err == nil
	if err != nil && !errors.Is(err, history.ErrSessionNotFound) {
		return "", fmt.Errorf("summary: load session: %w", err)
	}

	temperature := chat.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.defaultModel
	}

	latest := req.Conversation[len(req.Conversation)-1]
	system, prompt := s.prompts.Load().Render(sess.Summary, latest, chat.DefaultPersona)
	text, err := s.gen.GenerateText(ctx, model, system, prompt, temperature, maxTokens)
	if err != nil {
		return "", err
	}

	if !found {
		if s.logger != nil {
			s.logger.Printf("[summary] session=%s not stored, summary not saved", sessionID)
		}
		return text, nil
	}
	if err := s.store.UpdateSummary(ctx, sessionID, text); err != nil {
		if errors.Is(err, history.ErrSessionNotFound) {
			if s.logger != nil {
				s.logger.Printf("[summary] session=%s removed during generation, summary not saved", sessionID)
			}
			return text, nil
		}
		return "", fmt.Errorf("summary: save: %w", err)
	}
	return text, nil
}
