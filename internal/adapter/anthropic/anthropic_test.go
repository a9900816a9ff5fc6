package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/testutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid config with all fields", cfg: Config{APIKey: "sk-ant-test123", BaseURL: DefaultBaseURL, Version: DefaultVersion}},
		{name: "valid config with minimal fields", cfg: Config{APIKey: "sk-ant-test123"}},
		{name: "missing api key", cfg: Config{BaseURL: DefaultBaseURL}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "api key required") {
					t.Fatalf("New() error = %v, want api key required", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error = %v", err)
			}
			if d := a.Defaults(); d.MaxTokens != 1024 || d.Model != DefaultModel {
				t.Fatalf("Defaults() = %+v", d)
			}
			if !a.KeepsAttachmentContent() {
				t.Fatalf("anthropic must keep attachment content")
			}
		})
	}
}

func TestMapModelName(t *testing.T) {
	tests := map[string]string{
		"claude-3.5-sonnet-latest": "claude-3-5-sonnet-latest",
		"claude-3.7-sonnet-latest": "claude-3-7-sonnet-latest",
		"claude-3-opus-20240229":   "claude-3-opus-20240229",
	}
	for in, want := range tests {
		if got := mapModelName(in); got != want {
			t.Errorf("mapModelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConvertMessagesDocumentBlocks(t *testing.T) {
	a, _ := New(Config{APIKey: "k"})
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))
	req := chat.Request{SessionID: "s1", Messages: []chat.Message{
		{Role: chat.RoleUser, Content: "what is this?", Attachments: []chat.Attachment{{Name: "a.pdf", FilePath: "dir/a.pdf", Content: pdf}}},
		{Role: "bot", Content: "a pdf"},
		{Role: chat.RoleUser, Content: "again", Attachments: []chat.Attachment{{Name: "a.pdf", FilePath: "dir/a.pdf", Content: "ignored-after-first"}}},
	}}

	system, msgs := a.convertMessages(req)
	if system != "" {
		t.Fatalf("unexpected system %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	first := msgs[0].Content
	if len(first) != 2 || first[0].Type != "document" || first[1].Type != "text" || first[1].Text != "what is this?" {
		t.Fatalf("first message blocks = %+v", first)
	}
	if first[0].Source.Data != pdf || first[0].Source.MediaType != "application/pdf" {
		t.Fatalf("document source = %+v", first[0].Source)
	}
	if msgs[1].Role != "assistant" || len(msgs[1].Content) != 1 {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if msgs[2].Content[0].Source.Data != pdf {
		t.Fatalf("cached document not reused: %+v", msgs[2].Content[0].Source)
	}
}

func TestConvertMessagesReadsFileWhenContentStripped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-raw"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, _ := New(Config{APIKey: "k", Logger: log.New(io.Discard, "", 0)})
	_, msgs := a.convertMessages(chat.Request{SessionID: "s", Messages: []chat.Message{
		{Role: chat.RoleUser, Content: "x", Attachments: []chat.Attachment{
			{Name: "doc.pdf", FilePath: path},
			{Name: "gone.pdf", FilePath: filepath.Join(t.TempDir(), "gone.pdf")},
		}},
	}})
	blocks := msgs[0].Content
	if len(blocks) != 2 {
		t.Fatalf("expected one document and one text block, got %+v", blocks)
	}
	if want := base64.StdEncoding.EncodeToString([]byte("%PDF-raw")); blocks[0].Source.Data != want {
		t.Fatalf("data = %q, want %q", blocks[0].Source.Data, want)
	}
}

func TestConvertMessagesLiftsSystem(t *testing.T) {
	a, _ := New(Config{APIKey: "k"})
	tests := []struct {
		name       string
		msgs       []chat.Message
		wantSystem string
		wantRoles  []string
	}{
		{
			name:      "no system",
			msgs:      []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
			wantRoles: []string{"user"},
		},
		{
			name: "leading system",
			msgs: []chat.Message{
				{Role: chat.RoleSystem, Content: "Answer in French."},
				{Role: chat.RoleUser, Content: "hi"},
			},
			wantSystem: "Answer in French.",
			wantRoles:  []string{"user"},
		},
		{
			name: "several system messages",
			msgs: []chat.Message{
				{Role: chat.RoleSystem, Content: "Be brief."},
				{Role: chat.RoleUser, Content: "hi"},
				{Role: chat.RoleAssistant, Content: "salut"},
				{Role: chat.RoleSystem, Content: "  "},
				{Role: chat.RoleSystem, Content: "Use metric units."},
				{Role: chat.RoleUser, Content: "how far?"},
			},
			wantSystem: "Be brief.\n\nUse metric units.",
			wantRoles:  []string{"user", "assistant", "user"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs := a.convertMessages(chat.Request{SessionID: "s", Messages: tt.msgs})
			if system != tt.wantSystem {
				t.Fatalf("system = %q, want %q", system, tt.wantSystem)
			}
			if len(msgs) != len(tt.wantRoles) {
				t.Fatalf("got %d messages, want %d", len(msgs), len(tt.wantRoles))
			}
			for i, role := range tt.wantRoles {
				if msgs[i].Role != role {
					t.Fatalf("message %d role = %q, want %q", i, msgs[i].Role, role)
				}
			}
		})
	}
}

func TestCreateCompletionStream(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") != DefaultVersion {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "claude-3-5-sonnet-latest" || req.MaxTokens != 1024 || !req.Stream {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.System != "Be brief." || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("system not lifted: system=%q messages=%+v", req.System, req.Messages)
		}
		testutil.WriteNamedSSE(w,
			"message_start", `{"type":"message_start","message":{"id":"msg_1"}}`,
			"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			"ping", `{"type":"ping"}`,
			"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo!"}}`,
			"content_block_stop", `{"type":"content_block_stop","index":0}`,
			"message_stop", `{"type":"message_stop"}`,
		)
	}))
	defer server.Close()

	a, err := New(Config{APIKey: "sk-ant", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	events, err := a.CreateCompletionStream(context.Background(), chat.Request{
		SessionID: "s", Model: "claude-3.5-sonnet-latest", MaxTokens: 1024, Temperature: 0.7,
		Messages: []chat.Message{{Role: chat.RoleSystem, Content: "Be brief."}, {Role: chat.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	var deltas []string
	for ev := range events {
		if ev.IsError() {
			t.Fatalf("error event: %v", ev.Error)
		}
		deltas = append(deltas, ev.Delta)
	}
	if strings.Join(deltas, "") != "Hello!" || len(deltas) != 2 {
		t.Fatalf("deltas = %q", deltas)
	}
}

func TestCreateCompletionStreamErrorEvent(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteNamedSSE(w,
			"content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}`,
			"error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
		)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "k", BaseURL: server.URL})
	events, err := a.CreateCompletionStream(context.Background(), chat.Request{
		SessionID: "s", Model: "claude-3-opus-20240229", MaxTokens: 10,
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	var got []string
	var last error
	for ev := range events {
		if ev.IsError() {
			last = ev.Error
			continue
		}
		got = append(got, ev.Delta)
	}
	if len(got) != 1 || got[0] != "par" {
		t.Fatalf("deltas = %q", got)
	}
	if last == nil || last.Error() != "anthropic: Overloaded (type=overloaded_error)" {
		t.Fatalf("error = %v", last)
	}
}

func TestCreateCompletionStreamHTTPError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens: field required"}}`)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "k", BaseURL: server.URL})
	_, err := a.CreateCompletionStream(context.Background(), chat.Request{
		SessionID: "s", Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "max_tokens: field required") {
		t.Fatalf("expected vendor error, got %v", err)
	}
}
