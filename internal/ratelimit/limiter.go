// Package ratelimit throttles streaming and summary calls per chat session
// with token buckets.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Defaults for the limiter table.
const (
	DefaultMaxKeys = 10000
	DefaultIdleTTL = 10 * time.Minute
)

// Config sets the bucket shape. RequestsPerSecond <= 0 disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// MaxKeys bounds the number of tracked sessions; idle ones expire after IdleTTL.
	MaxKeys int
	IdleTTL time.Duration
	// KeyHeader names the request header identifying the caller. Requests
	// without it are keyed by client IP.
	KeyHeader string
	Logger    *log.Logger
}

// Limiter holds one token bucket per key.
type Limiter struct {
	limit     rate.Limit
	burst     int
	keyHeader string
	logger    *log.Logger

	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// New builds a Limiter, or returns nil when cfg disables limiting. A nil
// Limiter allows everything.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Max(1, math.Ceil(cfg.RequestsPerSecond)))
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Limiter{
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     cfg.Burst,
		keyHeader: cfg.KeyHeader,
		logger:    cfg.Logger,
		buckets:   expirable.NewLRU[string, *rate.Limiter](cfg.MaxKeys, nil, cfg.IdleTTL),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	b := rate.NewLimiter(l.limit, l.burst)
	l.buckets.Add(key, b)
	return b
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.bucket(key).Allow()
}

// Remaining reports the tokens currently available to key.
func (l *Limiter) Remaining(key string) float64 {
	if l == nil {
		return math.Inf(1)
	}
	return math.Max(0, l.bucket(key).Tokens())
}

func (l *Limiter) key(r *http.Request) string {
	if l.keyHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(l.keyHeader)); v != "" {
			return "session:" + v
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Wrap rejects requests over the limit with 429 before next runs, so a
// throttled stream never opens.
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)
		allowed := l.Allow(key)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.burst))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(l.Remaining(key))))
		if !allowed {
			if l.logger != nil {
				l.logger.Printf("rate limit exceeded key=%s path=%s", key, r.URL.Path)
			}
			retry := math.Ceil(1 / float64(l.limit))
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded, try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
