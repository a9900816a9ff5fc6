package httpserver

import (
	"net/http"
	"sort"

	"github.com/tokligence/chatstream/internal/health"
	"github.com/tokligence/chatstream/internal/metrics"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []EndpointRoute {
	routes := []EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.handleHealth)},
	}
	if e.server.metrics != nil {
		routes = append(routes, EndpointRoute{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.handleMetrics)})
	}
	return routes
}

func (e *healthEndpoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	if e.server.health == nil {
		e.server.respondJSON(w, http.StatusOK, map[string]any{"status": health.StatusHealthy})
		return
	}
	report := e.server.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	e.server.respondJSON(w, status, report)
}

func (e *healthEndpoint) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(e.server.metrics.GetSnapshot())))
}

func sortedVendors[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
