// Package httpserver exposes the streaming, session, summary and operational
// endpoints over a chi router.
package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/adapter/router"
	"github.com/tokligence/chatstream/internal/attachment"
	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/health"
	"github.com/tokligence/chatstream/internal/history"
	"github.com/tokligence/chatstream/internal/metrics"
	"github.com/tokligence/chatstream/internal/ratelimit"
	"github.com/tokligence/chatstream/internal/stream"
	"github.com/tokligence/chatstream/internal/summary"
)

// Config wires a Server. Nil collaborators disable the endpoints that need
// them.
type Config struct {
	Controller *stream.Controller
	// Adapters are served at /<name>_stream.
	Adapters []adapter.StreamingChatAdapter
	// ModelRouter serves /v1/chat/stream by model pattern.
	ModelRouter  *router.Router
	History      history.Store
	Materializer *attachment.Materializer
	// SessionPurgers drop per-session cache entries when a session is removed.
	SessionPurgers []func(sessionID string)
	// Summaries maps a vendor ("openai", "gemini") to its summary service.
	Summaries   map[string]*summary.Service
	Catalog     config.Catalog
	Vendors     config.Vendors
	Health      *health.Checker
	Metrics     *metrics.Collector
	// RateLimiter throttles stream and summary calls; nil disables it.
	RateLimiter *ratelimit.Limiter
	StaticDir   string
	CORSOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	controller     *stream.Controller
	adapters       []adapter.StreamingChatAdapter
	modelRouter    *router.Router
	history        history.Store
	materializer   *attachment.Materializer
	sessionPurgers []func(string)
	summaries      map[string]*summary.Service
	catalog        config.Catalog
	vendors        config.Vendors
	health         *health.Checker
	metrics        *metrics.Collector
	limiter        *ratelimit.Limiter
	staticDir      string
	corsOrigins    []string

	logger   *log.Logger
	logLevel string
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		controller:     cfg.Controller,
		adapters:       cfg.Adapters,
		modelRouter:    cfg.ModelRouter,
		history:        cfg.History,
		materializer:   cfg.Materializer,
		sessionPurgers: cfg.SessionPurgers,
		summaries:      cfg.Summaries,
		catalog:        cfg.Catalog,
		vendors:        cfg.Vendors,
		health:         cfg.Health,
		metrics:        cfg.Metrics,
		limiter:        cfg.RateLimiter,
		staticDir:      cfg.StaticDir,
		corsOrigins:    cfg.CORSOrigins,
		logger:         log.Default(),
	}
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	s.registerEndpoints(r,
		newStreamEndpoint(s),
		newSessionEndpoint(s),
		newSummaryEndpoint(s),
		newHealthEndpoint(s),
	)
	s.mountStatic(r)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) mountStatic(r chi.Router) {
	if s.staticDir == "" {
		return
	}
	if info, err := os.Stat(s.staticDir); err != nil || !info.IsDir() {
		s.logger.Printf("static dir %q unavailable, /static disabled", s.staticDir)
		return
	}
	fs := http.StripPrefix("/static", http.FileServer(http.Dir(s.staticDir)))
	r.Handle("/static", http.RedirectHandler("/static/", http.StatusMovedPermanently))
	r.Handle("/static/*", fs)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
