// Package adapter defines the contract between the stream controller and the
// vendor specific chat backends.
package adapter

import (
	"context"

	"github.com/tokligence/chatstream/internal/chat"
)

// StreamEvent is one item of an adapter's delta sequence. Exactly one of Delta
// or Error is meaningful; an Error event is always the last one sent.
type StreamEvent struct {
	Delta string
	Error error
}

// IsError reports whether the event terminates the stream with a failure.
func (e StreamEvent) IsError() bool { return e.Error != nil }

// StreamingChatAdapter opens a vendor streaming call for a normalized request.
// The returned channel yields deltas in order and is closed when the vendor
// stream ends; cancelling ctx tears the upstream call down.
type StreamingChatAdapter interface {
	Name() string
	Defaults() chat.Defaults
	CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan StreamEvent, error)
}

// ContentKeeper is implemented by adapters that need the raw base64 payload of
// attachments after materialization.
type ContentKeeper interface {
	KeepsAttachmentContent() bool
}

// KeepsContent reports whether a needs raw attachment content.
func KeepsContent(a StreamingChatAdapter) bool {
	k, ok := a.(ContentKeeper)
	return ok && k.KeepsAttachmentContent()
}

// Send delivers ev unless ctx is done first. It returns false when the
// consumer has gone away and the producer should stop.
func Send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
