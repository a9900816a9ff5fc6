package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	adapteropenai "github.com/tokligence/chatstream/internal/adapter/openai"
	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/history"
	"github.com/tokligence/chatstream/internal/openai"
	"github.com/tokligence/chatstream/internal/testutil"
)

type memStore struct {
	sessions map[string]history.Session
	updates  int
}

func (m *memStore) GetSession(_ context.Context, id string) (history.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return history.Session{}, history.ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) UpdateSummary(_ context.Context, id, summary string) error {
	s, ok := m.sessions[id]
	if !ok {
		return history.ErrSessionNotFound
	}
	m.updates++
	s.Summary = summary
	m.sessions[id] = s
	return nil
}

type capture struct {
	model, system, prompt string
	temperature           float64
	maxTokens             int
}

func (c *capture) generator(reply string, err error) Generator {
	return GeneratorFunc(func(_ context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, error) {
		c.model, c.system, c.prompt = model, system, prompt
		c.temperature, c.maxTokens = temperature, maxTokens
		return reply, err
	})
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	var p Prompts
	p.Summarization.SystemPrompt = "be $persona"
	p.Summarization.Prompt = "prev=${previous_summary} latest=$latest_conversation keep=$unknown"
	system, prompt := p.Render("old", Exchange{UserText: "hi", AIResponse: "hello"}, "professional")
	if system != "be professional" {
		t.Fatalf("unexpected system %q", system)
	}
	want := "prev=old latest=User:hi\n\nAssistant:hello keep=$unknown"
	if prompt != want {
		t.Fatalf("unexpected prompt %q", prompt)
	}
}

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.toml")
	content := "[summarization]\nprompt = \"P $previous_summary\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts: %v", err)
	}
	if p.Summarization.Prompt != "P $previous_summary" {
		t.Fatalf("prompt not loaded: %q", p.Summarization.Prompt)
	}
	if p.Summarization.SystemPrompt != DefaultPrompts().Summarization.SystemPrompt {
		t.Fatalf("missing system prompt should keep default")
	}

	missing, err := LoadPrompts(filepath.Join(dir, "absent.toml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if missing != DefaultPrompts() {
		t.Fatalf("expected defaults for missing file")
	}

	bad := filepath.Join(dir, "bad.toml")
	_ = os.WriteFile(bad, []byte("[summarization\n"), 0o644)
	if _, err := LoadPrompts(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSummarizeStoresSummary(t *testing.T) {
	sess := history.DefaultSession("s1")
	sess.Summary = "earlier"
	store := &memStore{sessions: map[string]history.Session{"s1": sess}}
	c := &capture{}
	svc := New(Config{Store: store, Generator: c.generator("new summary", nil)})

	text, err := svc.Summarize(context.Background(), "s1", Request{Conversation: []Exchange{
		{UserText: "first", AIResponse: "one"},
		{UserText: "second", AIResponse: "two"},
	}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if text != "new summary" {
		t.Fatalf("unexpected text %q", text)
	}
	if store.sessions["s1"].Summary != "new summary" {
		t.Fatalf("summary not stored")
	}
	if !strings.Contains(c.prompt, "earlier") || !strings.Contains(c.prompt, "User:second\n\nAssistant:two") {
		t.Fatalf("prompt missing context: %q", c.prompt)
	}
	if strings.Contains(c.prompt, "first") {
		t.Fatalf("only the latest exchange belongs in the prompt: %q", c.prompt)
	}
	if !strings.Contains(c.system, chat.DefaultPersona) {
		t.Fatalf("persona not rendered: %q", c.system)
	}
	if c.model != DefaultOpenAIModel || c.temperature != 0.7 || c.maxTokens != DefaultMaxTokens {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func TestSummarizeKeepsConcurrentSettings(t *testing.T) {
	store := &memStore{sessions: map[string]history.Session{"s1": history.DefaultSession("s1")}}
	gen := GeneratorFunc(func(context.Context, string, string, string, float64, int) (string, error) {
		// A settings update lands while the vendor call is in flight.
		sess := store.sessions["s1"]
		sess.Temperature = 0.1
		sess.Model = "claude-3-haiku-20240307"
		store.sessions["s1"] = sess
		return "fresh summary", nil
	})
	svc := New(Config{Store: store, Generator: gen})
	if _, err := svc.Summarize(context.Background(), "s1", Request{Conversation: []Exchange{{UserText: "u", AIResponse: "a"}}}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	got := store.sessions["s1"]
	if got.Summary != "fresh summary" {
		t.Fatalf("summary = %q", got.Summary)
	}
	if got.Temperature != 0.1 || got.Model != "claude-3-haiku-20240307" {
		t.Fatalf("settings overwritten: temperature=%v model=%q", got.Temperature, got.Model)
	}
}

func TestSummarizeSessionRemovedDuringGeneration(t *testing.T) {
	store := &memStore{sessions: map[string]history.Session{"s1": history.DefaultSession("s1")}}
	gen := GeneratorFunc(func(context.Context, string, string, string, float64, int) (string, error) {
		delete(store.sessions, "s1")
		return "orphan", nil
	})
	svc := New(Config{Store: store, Generator: gen})
	text, err := svc.Summarize(context.Background(), "s1", Request{Conversation: []Exchange{{UserText: "u"}}})
	if err != nil || text != "orphan" {
		t.Fatalf("Summarize: %q %v", text, err)
	}
	if _, ok := store.sessions["s1"]; ok {
		t.Fatalf("removed session recreated")
	}
}

func TestSummarizeUnknownSession(t *testing.T) {
	store := &memStore{sessions: map[string]history.Session{}}
	c := &capture{}
	svc := New(Config{Store: store, Generator: c.generator("text", nil), DefaultModel: DefaultGeminiModel})
	maxTokens := 64
	text, err := svc.Summarize(context.Background(), "ghost", Request{
		Conversation: []Exchange{{UserText: "u", AIResponse: "a"}},
		MaxTokens:    &maxTokens,
	})
	if err != nil || text != "text" {
		t.Fatalf("Summarize: %q %v", text, err)
	}
	if store.updates != 0 {
		t.Fatalf("unknown session must not be written")
	}
	if c.model != DefaultGeminiModel || c.maxTokens != 64 {
		t.Fatalf("unexpected request %+v", c)
	}
}

func TestSummarizeInputErrors(t *testing.T) {
	svc := New(Config{Store: &memStore{sessions: map[string]history.Session{}}, Generator: (&capture{}).generator("", nil)})
	tests := []struct {
		name    string
		session string
		req     Request
		want    error
	}{
		{"empty conversation", "s", Request{}, chat.ErrEmptyConversation},
		{"missing session", "", Request{Conversation: []Exchange{{UserText: "u"}}}, chat.ErrMissingSessionID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Summarize(context.Background(), tt.session, tt.req)
			if !chat.IsInputError(err) || !errors.Is(err, tt.want) {
				t.Fatalf("expected input error %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSummarizeVendorError(t *testing.T) {
	store := &memStore{sessions: map[string]history.Session{"s": history.DefaultSession("s")}}
	boom := errors.New("upstream down")
	svc := New(Config{Store: store, Generator: (&capture{}).generator("", boom)})
	_, err := svc.Summarize(context.Background(), "s", Request{Conversation: []Exchange{{UserText: "u"}}})
	if !errors.Is(err, boom) || chat.IsInputError(err) {
		t.Fatalf("expected vendor error, got %v", err)
	}
	if store.updates != 0 {
		t.Fatalf("failed summary must not be stored")
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"summary text"}}]}`))
	}))
	defer srv.Close()

	a, err := adapteropenai.New(adapteropenai.Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := OpenAIGenerator(a).GenerateText(context.Background(), "gpt-4o-mini", "sys", "prompt", 0.2, 99)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if text != "summary text" {
		t.Fatalf("unexpected text %q", text)
	}
	if srv.Hits() != 1 {
		t.Fatalf("expected one upstream call, got %d", srv.Hits())
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "prompt" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.Stream || got.MaxTokens == nil || *got.MaxTokens != 99 {
		t.Fatalf("unexpected request %+v", got)
	}
}
