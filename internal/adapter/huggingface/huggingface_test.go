package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tokligence/chatstream/internal/adapter/openai"
	"github.com/tokligence/chatstream/internal/chat"
	openaitypes "github.com/tokligence/chatstream/internal/openai"
	"github.com/tokligence/chatstream/internal/testutil"
)

func TestNormalizeModel(t *testing.T) {
	tests := map[string]string{
		"huggingface/meta-llama/Llama-3.3-70B-Instruct": "meta-llama/Llama-3.3-70B-Instruct",
		"Qwen/Qwen2.5-72B-Instruct":                     "Qwen/Qwen2.5-72B-Instruct",
	}
	for in, want := range tests {
		if got := NormalizeModel(in); got != want {
			t.Errorf("NormalizeModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStreamSendsNormalizedModel(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaitypes.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "Qwen/Qwen2.5-72B-Instruct" {
			t.Errorf("model = %q", req.Model)
		}
		testutil.WriteSSE(w, `{"choices":[{"delta":{"content":"ok"}}]}`, `[DONE]`)
	}))
	defer server.Close()

	a, err := New(openai.Config{APIKey: "hf_x", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	events, err := a.CreateCompletionStream(context.Background(), chat.Request{
		SessionID: "s",
		Model:     "huggingface/Qwen/Qwen2.5-72B-Instruct",
		Messages:  []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
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
	if text != "ok" {
		t.Fatalf("text = %q", text)
	}
}
