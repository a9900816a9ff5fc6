package gemini

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/testutil"
)

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil || !strings.Contains(err.Error(), "api key required") {
		t.Fatalf("expected api key error, got %v", err)
	}
	a, err := New(Config{APIKey: "g"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d := a.Defaults(); d.Model != DefaultModel || d.MaxTokens != DefaultMaxTokens {
		t.Fatalf("Defaults() = %+v", d)
	}
}

type fakeGemini struct {
	uploads atomic.Int32
	last    generateRequest
}

func (f *fakeGemini) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload/v1beta/files":
			f.uploads.Add(1)
			if r.Header.Get("X-Goog-Upload-Protocol") != "multipart" {
				t.Errorf("missing upload protocol header")
			}
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "multipart/related" {
				t.Errorf("content type = %q err=%v", mediaType, err)
			}
			mr := multipart.NewReader(r.Body, params["boundary"])
			if _, err := mr.NextPart(); err != nil {
				t.Errorf("metadata part: %v", err)
			}
			filePart, err := mr.NextPart()
			if err != nil {
				t.Errorf("file part: %v", err)
			} else if data, _ := io.ReadAll(filePart); string(data) != "%PDF-1.4 body" {
				t.Errorf("uploaded bytes = %q", data)
			}
			io.WriteString(w, `{"file":{"name":"files/abc","uri":"https://files.example/abc","mimeType":"application/pdf"}}`)
		case strings.HasSuffix(r.URL.Path, ":streamGenerateContent"):
			if r.URL.Query().Get("alt") != "sse" || r.URL.Query().Get("key") != "g-key" {
				t.Errorf("query = %s", r.URL.RawQuery)
			}
			if err := json.NewDecoder(r.Body).Decode(&f.last); err != nil {
				t.Errorf("decode: %v", err)
			}
			testutil.WriteSSE(w,
				`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`,
				`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo!"}]},"finishReason":"STOP"}]}`,
			)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestCreateCompletionStreamUploadsOnce(t *testing.T) {
	fake := &fakeGemini{}
	server := testutil.NewIPv4Server(t, fake.handler(t))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "brief.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := New(Config{APIKey: "g-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	att := chat.Attachment{Name: "brief.pdf", FilePath: path}
	req := chat.Request{
		SessionID: "s1", Model: "gemini-2.0-flash", Temperature: 0.5, MaxTokens: 256,
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "read", Attachments: []chat.Attachment{att}},
			{Role: chat.RoleAssistant, Content: "done"},
			{Role: chat.RoleUser, Content: "again", Attachments: []chat.Attachment{att}},
		},
	}

	for i := 0; i < 2; i++ {
		events, err := a.CreateCompletionStream(context.Background(), req)
		if err != nil {
			t.Fatalf("CreateCompletionStream() error = %v", err)
		}
		var text string
		for ev := range events {
			if ev.IsError() {
				t.Fatalf("error event: %v", ev.Error)
			}
			text += ev.Delta
		}
		if text != "Hello!" {
			t.Fatalf("text = %q", text)
		}
	}

	if got := fake.uploads.Load(); got != 1 {
		t.Fatalf("uploads = %d, want 1", got)
	}
	c := fake.last.Contents
	if len(c) != 3 || c[0].Role != "user" || c[1].Role != "model" {
		t.Fatalf("contents = %+v", c)
	}
	if len(c[0].Parts) != 2 || c[0].Parts[0].Text != "read" || c[0].Parts[1].FileData == nil || c[0].Parts[1].FileData.FileURI != "https://files.example/abc" {
		t.Fatalf("first message parts = %+v", c[0].Parts)
	}
	if *c[2].Parts[1].FileData != *c[0].Parts[1].FileData {
		t.Fatalf("cached file part differs")
	}
	if fake.last.GenerationConfig.TopP != defaultTopP || fake.last.GenerationConfig.MaxOutputTokens != 256 {
		t.Fatalf("generation config = %+v", fake.last.GenerationConfig)
	}
}

func TestCreateCompletionStreamHTTPError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "bad", BaseURL: server.URL})
	_, err := a.CreateCompletionStream(context.Background(), chat.Request{
		SessionID: "s", Model: "gemini-pro", Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("expected vendor error, got %v", err)
	}
}

func TestGenerateText(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be brief" {
			t.Errorf("system instruction = %+v", req.SystemInstruction)
		}
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"# Summary"}]}}]}`)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "g", BaseURL: server.URL})
	text, err := a.GenerateText(context.Background(), "gemini-2.0-flash", "be brief", "summarize", 0.7, 256)
	if err != nil || text != "# Summary" {
		t.Fatalf("GenerateText() = %q, %v", text, err)
	}
}
