package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/chat"
)

// Ensure LoopbackAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*LoopbackAdapter)(nil)

// LoopbackAdapter echoes the last user message back to the caller word by
// word. It needs no credentials and backs local development.
type LoopbackAdapter struct {
	delay time.Duration
}

// New creates a LoopbackAdapter instance. delay is slept between deltas.
func New(delay time.Duration) *LoopbackAdapter {
	return &LoopbackAdapter{delay: delay}
}

// Name implements adapter.StreamingChatAdapter.
func (a *LoopbackAdapter) Name() string { return "loopback" }

// Defaults implements adapter.StreamingChatAdapter.
func (a *LoopbackAdapter) Defaults() chat.Defaults {
	return chat.Defaults{Model: "loopback", MaxTokens: 256}
}

// Reply returns the full text the adapter will stream for msgs.
func Reply(msgs []chat.Message) string {
	message := msgs[len(msgs)-1]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser() {
			message = msgs[i]
			break
		}
	}
	return "[loopback] " + strings.TrimSpace(message.Content)
}

// CreateCompletionStream streams Reply one word at a time, keeping the
// separating spaces so the deltas concatenate back to the full reply.
func (a *LoopbackAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("loopback: no messages provided")
	}
	words := strings.SplitAfter(Reply(req.Messages), " ")

	ch := make(chan adapter.StreamEvent)
	go func() {
		defer close(ch)
		for _, w := range words {
			if w == "" {
				continue
			}
			if a.delay > 0 {
				select {
				case <-time.After(a.delay):
				case <-ctx.Done():
					return
				}
			}
			if !adapter.Send(ctx, ch, adapter.StreamEvent{Delta: w}) {
				return
			}
		}
	}()
	return ch, nil
}
