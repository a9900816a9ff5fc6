package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tokligence/chatstream/internal/adapter"
)

// Router picks the adapter for a model id.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]adapter.StreamingChatAdapter
	routes   map[string]string // model pattern -> adapter name
	fallback string
}

// New creates a new Router instance.
func New() *Router {
	return &Router{
		adapters: make(map[string]adapter.StreamingChatAdapter),
		routes:   make(map[string]string),
	}
}

// RegisterAdapter registers an adapter under its own name.
func (r *Router) RegisterAdapter(a adapter.StreamingChatAdapter) error {
	if a == nil {
		return errors.New("router: adapter cannot be nil")
	}
	name := a.Name()
	if name == "" {
		return errors.New("router: adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[name] = a
	return nil
}

// RegisterRoute registers a model pattern to adapter mapping.
// Model patterns support:
// - Exact match: "gpt-4o"
// - Prefix match: "gpt-*"
// - Suffix match: "*-latest"
// - Contains match: "*sonnet*"
func (r *Router) RegisterRoute(modelPattern, adapterName string) error {
	modelPattern = strings.ToLower(strings.TrimSpace(modelPattern))
	if modelPattern == "" {
		return errors.New("router: model pattern cannot be empty")
	}
	if adapterName == "" {
		return errors.New("router: adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}

	r.routes[modelPattern] = adapterName
	return nil
}

// SetFallback names the adapter used for unmatched models.
func (r *Router) SetFallback(adapterName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}
	r.fallback = adapterName
	return nil
}

// Adapter returns a registered adapter by name.
func (r *Router) Adapter(name string) (adapter.StreamingChatAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Resolve returns the adapter serving model. An empty model resolves to the
// fallback.
func (r *Router) Resolve(model string) (adapter.StreamingChatAdapter, error) {
	name, err := r.findAdapter(model)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("router: adapter %q not found", name)
	}
	return a, nil
}

// findAdapter finds the adapter name for a model. Exact routes win; among
// wildcard routes the longest pattern wins so overlaps resolve the same way
// every time.
func (r *Router) findAdapter(model string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model = strings.ToLower(strings.TrimSpace(model))

	if model != "" {
		if adapterName, exists := r.routes[model]; exists {
			return adapterName, nil
		}

		patterns := make([]string, 0, len(r.routes))
		for pattern := range r.routes {
			patterns = append(patterns, pattern)
		}
		sort.Slice(patterns, func(i, j int) bool {
			if len(patterns[i]) != len(patterns[j]) {
				return len(patterns[i]) > len(patterns[j])
			}
			return patterns[i] < patterns[j]
		})
		for _, pattern := range patterns {
			if matchPattern(model, pattern) {
				return r.routes[pattern], nil
			}
		}
	}

	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", fmt.Errorf("router: no adapter found for model %q", model)
}

// matchPattern checks if a model matches a pattern.
func matchPattern(model, pattern string) bool {
	if model == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(model, strings.Trim(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	}
	return false
}

// GetAdapterForModel returns the adapter name for a given model (for debugging).
func (r *Router) GetAdapterForModel(model string) (string, error) {
	return r.findAdapter(model)
}

// ListAdapters returns all registered adapter names, sorted.
func (r *Router) ListAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRoutes returns all registered routes.
func (r *Router) ListRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]string, len(r.routes))
	for pattern, name := range r.routes {
		routes[pattern] = name
	}
	return routes
}

// DefaultRoutes maps the catalog's model naming to vendor adapters.
var DefaultRoutes = map[string]string{
	"gpt-*":         "openai",
	"o1*":           "openai",
	"o3*":           "openai",
	"claude*":       "anthropic",
	"gemini*":       "gemini",
	"huggingface/*": "huggingface",
	"mistral-*":     "mistral",
	"codestral*":    "mistral",
	"upstage-*":     "upstage",
	"solar-*":       "upstage",
	"loopback":      "loopback",
}
