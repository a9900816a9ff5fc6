package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tokligence/chatstream/internal/adapter"
)

// maxStreamBody bounds request bodies; attachments arrive inline as base64.
const maxStreamBody = 64 << 20

type streamEndpoint struct {
	server *Server
}

func newStreamEndpoint(server *Server) Endpoint {
	if server.controller == nil {
		return nil
	}
	return &streamEndpoint{server: server}
}

func (e *streamEndpoint) Name() string { return "stream" }

func (e *streamEndpoint) Routes() []EndpointRoute {
	routes := make([]EndpointRoute, 0, len(e.server.adapters)+1)
	for _, a := range e.server.adapters {
		routes = append(routes, EndpointRoute{
			Method:  http.MethodPost,
			Path:    "/" + a.Name() + "_stream",
			Handler: e.server.limiter.Wrap(e.vendorHandler(a)),
		})
	}
	if e.server.modelRouter != nil {
		routes = append(routes, EndpointRoute{Method: http.MethodPost, Path: "/v1/chat/stream", Handler: e.server.limiter.Wrap(http.HandlerFunc(e.handleRouted))})
	}
	return routes
}

func (e *streamEndpoint) vendorHandler(a adapter.StreamingChatAdapter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxStreamBody)
		e.server.controller.Serve(w, r, a)
	})
}

// handleRouted peeks at the model to pick the adapter, then replays the body
// into the controller.
func (e *streamEndpoint) handleRouted(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStreamBody))
	if err != nil {
		e.server.respondError(w, http.StatusBadRequest, err)
		return
	}
	var peek struct {
		Model string `json:"model"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &peek); err != nil {
			e.server.respondError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
			return
		}
	}
	a, err := e.server.modelRouter.Resolve(peek.Model)
	if err != nil {
		e.server.respondError(w, http.StatusBadRequest, err)
		return
	}
	e.server.debugf("routed model=%q adapter=%s", peek.Model, a.Name())
	r.Body = io.NopCloser(bytes.NewReader(raw))
	e.server.controller.Serve(w, r, a)
}
