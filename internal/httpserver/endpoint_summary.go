package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/stream"
	"github.com/tokligence/chatstream/internal/summary"
)

type summaryEndpoint struct {
	server *Server
}

func newSummaryEndpoint(server *Server) Endpoint {
	if len(server.summaries) == 0 {
		return nil
	}
	return &summaryEndpoint{server: server}
}

func (e *summaryEndpoint) Name() string { return "summary" }

func (e *summaryEndpoint) Routes() []EndpointRoute {
	routes := make([]EndpointRoute, 0, len(e.server.summaries))
	for _, vendor := range sortedVendors(e.server.summaries) {
		routes = append(routes, EndpointRoute{
			Method:  http.MethodPost,
			Path:    "/" + vendor + "_summary",
			Handler: e.server.limiter.Wrap(e.handler(vendor, e.server.summaries[vendor])),
		})
	}
	return routes
}

func (e *summaryEndpoint) handler(vendor string, svc *summary.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req summary.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			e.server.respondError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
			return
		}
		text, err := svc.Summarize(r.Context(), r.Header.Get(stream.SessionHeader), req)
		switch {
		case chat.IsInputError(err):
			e.server.respondError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			e.server.logger.Printf("%s summary failed: %v", vendor, err)
			e.server.respondError(w, http.StatusBadGateway, err)
			return
		}
		e.server.respondJSON(w, http.StatusOK, map[string]string{"summary": text})
	})
}
