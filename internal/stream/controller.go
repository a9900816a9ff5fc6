// Package stream runs one chat completion per request: it validates the
// request, materializes attachments, relays vendor deltas to the client as
// server-sent events and hands completed turns to persistence.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/attachment"
	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/metrics"
)

// SessionHeader carries the session id on every streaming request.
const SessionHeader = "X-Session-ID"

// DefaultProgressEvery is the delta cadence of progress log lines.
const DefaultProgressEvery = 10

// Persister accepts completed conversations. Implementations must not block
// the caller on the write.
type Persister interface {
	Persist(sessionID string, turns []chat.Turn)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(sessionID string, turns []chat.Turn)

// Persist calls f.
func (f PersisterFunc) Persist(sessionID string, turns []chat.Turn) { f(sessionID, turns) }

// Config wires a Controller.
type Config struct {
	Materializer  *attachment.Materializer
	Persister     Persister
	Metrics       *metrics.Collector
	Logger        *log.Logger
	ProgressEvery int
}

// Controller serves streaming requests for any adapter.
type Controller struct {
	materializer  *attachment.Materializer
	persister     Persister
	metrics       *metrics.Collector
	logger        *log.Logger
	progressEvery int
}

// NewController builds a Controller. A nil Materializer uses the default
// attachment directory.
func NewController(cfg Config) *Controller {
	m := cfg.Materializer
	if m == nil {
		m = attachment.New(attachment.Config{Logger: cfg.Logger})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	every := cfg.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	return &Controller{
		materializer:  m,
		persister:     cfg.Persister,
		metrics:       cfg.Metrics,
		logger:        logger,
		progressEvery: every,
	}
}

// Handler returns an http.Handler streaming through a.
func (c *Controller) Handler(a adapter.StreamingChatAdapter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Serve(w, r, a)
	})
}

// Serve handles one request end to end and returns when the stream is closed.
func (c *Controller) Serve(w http.ResponseWriter, r *http.Request, a adapter.StreamingChatAdapter) {
	vendor := a.Name()
	req, err := c.open(r, a)
	if err != nil {
		if c.metrics != nil {
			c.metrics.StreamRejected(vendor)
		}
		c.logger.Printf("[stream] rejected vendor=%s err=%v", vendor, err)
		status := http.StatusBadRequest
		if !chat.IsInputError(err) {
			status = http.StatusInternalServerError
		}
		writeJSONError(w, status, err)
		return
	}

	run := &run{
		id:      uuid.NewString(),
		vendor:  vendor,
		req:     req,
		started: time.Now(),
		state:   StateOpening,
	}
	if c.metrics != nil {
		c.metrics.StreamStarted(vendor)
	}
	c.logger.Printf("[stream] open id=%s vendor=%s session=%s model=%s messages=%d",
		run.id, vendor, req.SessionID, req.Model, len(req.Messages))

	out := newSSEWriter(w)
	c.stream(r.Context(), a, run, out)
	c.finish(run)
}

// open validates the request and materializes its attachments.
func (c *Controller) open(r *http.Request, a adapter.StreamingChatAdapter) (chat.Request, error) {
	sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))
	if sessionID == "" {
		return chat.Request{}, &chat.InputError{Err: chat.ErrMissingSessionID}
	}
	body, err := chat.DecodeBody(r.Body)
	if err != nil {
		return chat.Request{}, err
	}
	req, err := body.Build(sessionID, a.Defaults())
	if err != nil {
		return chat.Request{}, err
	}
	req = req.Clone()
	req.Messages = c.materializer.Materialize(sessionID, req.Messages, adapter.KeepsContent(a))
	return req, nil
}

type run struct {
	id      string
	vendor  string
	req     chat.Request
	started time.Time
	state   State
	deltas  int
	text    strings.Builder
}

func (c *Controller) transition(r *run, next State) {
	if r.state.Terminal() && next != StateClosed {
		return
	}
	r.state = next
}

func (c *Controller) stream(ctx context.Context, a adapter.StreamingChatAdapter, r *run, out *sseWriter) {
	events, err := a.CreateCompletionStream(ctx, r.req)
	if err != nil {
		c.fail(ctx, r, out, err)
		return
	}
	c.transition(r, StateStreaming)

	for {
		select {
		case <-ctx.Done():
			c.transition(r, StateCancelled)
			return
		case ev, ok := <-events:
			if !ok {
				c.complete(ctx, r, out)
				return
			}
			if ev.IsError() {
				c.fail(ctx, r, out, ev.Error)
				return
			}
			if err := out.Delta(ev.Delta); err != nil {
				c.transition(r, StateCancelled)
				return
			}
			r.text.WriteString(ev.Delta)
			r.deltas++
			if r.deltas%c.progressEvery == 0 {
				c.logger.Printf("[stream] progress id=%s deltas=%d chars=%d", r.id, r.deltas, r.text.Len())
			}
		}
	}
}

func (c *Controller) fail(ctx context.Context, r *run, out *sseWriter, err error) {
	if ctx.Err() != nil {
		c.transition(r, StateCancelled)
		return
	}
	c.transition(r, StateErrored)
	c.logger.Printf("[stream] error id=%s vendor=%s session=%s deltas=%d err=%v", r.id, r.vendor, r.req.SessionID, r.deltas, err)
	_ = out.Error(err.Error())
}

func (c *Controller) complete(ctx context.Context, r *run, out *sseWriter) {
	if ctx.Err() != nil {
		c.transition(r, StateCancelled)
		return
	}
	if err := out.Done(); err != nil {
		c.transition(r, StateCancelled)
		return
	}
	c.transition(r, StateCompleted)
	c.persist(r)
}

// persist hands the conversation plus the generated answer to the persister.
// Failures here never reach the client.
func (c *Controller) persist(r *run) {
	if c.persister == nil {
		return
	}
	msgs := append(r.req.Messages[:len(r.req.Messages):len(r.req.Messages)], r.req.AssistantMessage(r.text.String()))
	turns, err := chat.PairTurns(msgs)
	if err != nil {
		c.logger.Printf("[stream] answer delivered, not saved id=%s session=%s err=%v", r.id, r.req.SessionID, err)
		if c.metrics != nil {
			c.metrics.PersistFailed()
		}
		return
	}
	c.persister.Persist(r.req.SessionID, turns)
}

func (c *Controller) finish(r *run) {
	outcome := r.state
	c.transition(r, StateClosed)
	elapsed := time.Since(r.started)
	if c.metrics != nil {
		c.metrics.StreamFinished(r.vendor, outcome.String(), r.deltas, elapsed)
	}
	c.logger.Printf("[stream] close id=%s vendor=%s session=%s outcome=%s deltas=%d chars=%d elapsed_ms=%d",
		r.id, r.vendor, r.req.SessionID, outcome, r.deltas, r.text.Len(), elapsed.Milliseconds())
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := err.Error()
	var ie *chat.InputError
	if errors.As(err, &ie) {
		msg = ie.Err.Error()
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
