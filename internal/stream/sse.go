package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tokligence/chatstream/internal/openai"
)

var errClosed = errors.New("stream: write after terminal event")

// sseWriter emits the client protocol. Once a terminal event has been written
// every further write is refused.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
	done    bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) Delta(text string) error {
	payload, err := json.Marshal(openai.NewDeltaChunk(text))
	if err != nil {
		return err
	}
	return s.event(payload, false)
}

func (s *sseWriter) Done() error {
	return s.event([]byte("[DONE]"), true)
}

func (s *sseWriter) Error(msg string) error {
	quoted, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.event([]byte(`{"error": `+string(quoted)+`}`), true)
}

func (s *sseWriter) event(payload []byte, terminal bool) error {
	if s.done {
		return errClosed
	}
	if terminal {
		s.done = true
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, "\n\n"...)
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
