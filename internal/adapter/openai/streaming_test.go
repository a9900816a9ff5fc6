package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/openai"
	"github.com/tokligence/chatstream/internal/testutil"
)

func userRequest(model, text string) chat.Request {
	return chat.Request{
		SessionID:   "s1",
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   256,
		Messages:    []chat.Message{{Role: chat.RoleUser, Content: text}},
	}
}

func TestCreateCompletionStream_Success(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept header = %q, want text/event-stream", accept)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !req.Stream || req.Model != "gpt-4o-mini" || req.MaxTokens == nil || *req.MaxTokens != 256 {
			t.Errorf("unexpected upstream request: %+v", req)
		}
		testutil.WriteSSE(w,
			`{"id":"c","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
			`{"id":"c","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"c","choices":[{"index":0,"delta":{"content":"lo!"}}]}`,
			`{"id":"c","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	}))
	defer server.Close()

	a, err := New(Config{APIKey: "sk-test123", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	events, err := a.CreateCompletionStream(context.Background(), userRequest("gpt-4o-mini", "Hi"))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}

	var deltas []string
	for ev := range events {
		if ev.IsError() {
			t.Fatalf("received error event: %v", ev.Error)
		}
		deltas = append(deltas, ev.Delta)
	}
	if strings.Join(deltas, "|") != "Hel|lo!" {
		t.Fatalf("deltas = %q", deltas)
	}
}

func TestCreateCompletionStream_EmptyMessages(t *testing.T) {
	a, _ := New(Config{APIKey: "sk"})
	if _, err := a.CreateCompletionStream(context.Background(), chat.Request{SessionID: "s"}); err == nil {
		t.Fatalf("expected error for empty conversation")
	}
}

func TestCreateCompletionStream_ErrorResponse(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "sk", BaseURL: server.URL})
	_, err := a.CreateCompletionStream(context.Background(), userRequest("gpt-4o", "x"))
	if err == nil || !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestCreateCompletionStream_MidStreamError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteSSE(w,
			`{"choices":[{"delta":{"content":"partial"}}]}`,
			`{"error":{"message":"upstream overloaded"}}`,
		)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "sk", BaseURL: server.URL})
	events, err := a.CreateCompletionStream(context.Background(), userRequest("gpt-4o", "x"))
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
	if len(got) != 1 || got[0] != "partial" {
		t.Fatalf("deltas = %q", got)
	}
	if last == nil || last.Error() != "openai: upstream overloaded" {
		t.Fatalf("terminal error = %v", last)
	}
}

func TestCreateCompletionStream_MalformedChunk(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteSSE(w, `{not json`)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "sk", BaseURL: server.URL})
	events, err := a.CreateCompletionStream(context.Background(), userRequest("gpt-4o", "x"))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	var last error
	for ev := range events {
		last = ev.Error
	}
	if last == nil || !strings.Contains(last.Error(), "parse stream") {
		t.Fatalf("expected parse error, got %v", last)
	}
}

func TestCreateCompletionStream_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteSSE(w, `{"choices":[{"delta":{"content":"first"}}]}`)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	a, _ := New(Config{APIKey: "sk", BaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	events, err := a.CreateCompletionStream(ctx, userRequest("gpt-4o", "x"))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	first := <-events
	if first.Delta != "first" {
		t.Fatalf("first event = %+v", first)
	}
	cancel()

	select {
	case ev, ok := <-events:
		if ok && !ev.IsError() {
			t.Fatalf("unexpected delta after cancel: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not close after cancel")
	}
}
