package testutil

import (
	"fmt"
	"net/http"
	"strings"
)

// WriteSSE writes each payload as a "data:" event and flushes after every
// event, the way vendor streaming endpoints do.
func WriteSSE(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// WriteNamedSSE writes "event:" plus "data:" pairs given as alternating
// name, payload arguments.
func WriteNamedSSE(w http.ResponseWriter, pairs ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", pairs[i], pairs[i+1])
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// DataEvents splits an SSE body into the payloads of its "data:" lines.
func DataEvents(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if strings.HasPrefix(block, "data: ") {
			out = append(out, strings.TrimPrefix(block, "data: "))
		}
	}
	return out
}
