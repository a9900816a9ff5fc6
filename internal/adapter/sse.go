package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxSSELine = 4 << 20

// ErrStopStream may be returned by an SSE handler to end reading without error.
var ErrStopStream = errors.New("adapter: stop stream")

// ReadSSE parses a server-sent event stream and calls fn for every event that
// carries data. Multiple data lines of one event are joined with "\n".
func ReadSSE(ctx context.Context, r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var event string
	var data []string
	dispatch := func() error {
		if len(data) == 0 {
			event = ""
			return nil
		}
		err := fn(event, strings.Join(data, "\n"))
		event, data = "", data[:0]
		return err
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return stopOrErr(err)
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return stopOrErr(dispatch())
}

func stopOrErr(err error) error {
	if errors.Is(err, ErrStopStream) {
		return nil
	}
	return err
}

// HTTPError renders a non-2xx vendor response. Most vendors wrap the message
// in {"error":{"message":...}}; some send {"error":"..."}.
func HTTPError(vendor string, status int, body []byte) error {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		var obj struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Status  string `json:"status"`
		}
		var str string
		switch {
		case len(env.Error) > 0 && json.Unmarshal(env.Error, &obj) == nil && obj.Message != "":
			kind := obj.Type
			if kind == "" {
				kind = obj.Status
			}
			if kind != "" {
				return fmt.Errorf("%s: %s (type=%s, status=%d)", vendor, obj.Message, kind, status)
			}
			return fmt.Errorf("%s: %s (status=%d)", vendor, obj.Message, status)
		case len(env.Error) > 0 && json.Unmarshal(env.Error, &str) == nil && str != "":
			return fmt.Errorf("%s: %s (status=%d)", vendor, str, status)
		case env.Message != "":
			return fmt.Errorf("%s: %s (status=%d)", vendor, env.Message, status)
		}
	}
	return fmt.Errorf("%s: http %d: %s", vendor, status, string(bytes.TrimSpace(body)))
}
