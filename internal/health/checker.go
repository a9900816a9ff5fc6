// Package health reports whether the daemon's dependencies are usable.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tokligence/chatstream/internal/version"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is implemented by the history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Component is the result of one check.
type Component struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the overall health of the daemon.
type Report struct {
	Status     Status      `json:"status"`
	Version    string      `json:"version"`
	Timestamp  time.Time   `json:"timestamp"`
	Vendors    []string    `json:"vendors"`
	Components []Component `json:"components"`
}

// Config holds health checker configuration.
type Config struct {
	History       Pinger
	AttachmentDir string
	Vendors       []string
	DBTimeout     time.Duration
	// MaxDBLatency marks a reachable store as degraded when exceeded.
	MaxDBLatency time.Duration
}

// Checker performs health checks on the daemon's components.
type Checker struct {
	history       Pinger
	attachmentDir string
	vendors       []string
	dbTimeout     time.Duration
	maxDBLatency  time.Duration

	mu   sync.RWMutex
	last Report
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.MaxDBLatency <= 0 {
		cfg.MaxDBLatency = 100 * time.Millisecond
	}
	vendors := append([]string{}, cfg.Vendors...)
	return &Checker{
		history:       cfg.History,
		attachmentDir: cfg.AttachmentDir,
		vendors:       vendors,
		dbTimeout:     cfg.DBTimeout,
		maxDBLatency:  cfg.MaxDBLatency,
	}
}

// Check runs every check and remembers the result.
func (c *Checker) Check(ctx context.Context) Report {
	var components []Component
	if c.history != nil {
		components = append(components, c.checkHistory(ctx))
	}
	if c.attachmentDir != "" {
		components = append(components, c.checkAttachmentDir())
	}

	report := Report{
		Status:     overall(components),
		Version:    version.Info(),
		Timestamp:  time.Now().UTC(),
		Vendors:    c.vendors,
		Components: components,
	}
	if len(c.vendors) == 0 && report.Status == StatusHealthy {
		report.Status = StatusDegraded
	}
	c.mu.Lock()
	c.last = report
	c.mu.Unlock()
	return report
}

// Last returns the most recent report.
func (c *Checker) Last() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Checker) checkHistory(ctx context.Context) Component {
	comp := Component{Name: "history_store", Type: "database", Timestamp: time.Now().UTC()}
	pingCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	start := time.Now()
	err := c.history.Ping(pingCtx)
	latency := time.Since(start)
	comp.LatencyMs = latency.Milliseconds()
	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
	case latency > c.maxDBLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

// checkAttachmentDir verifies the attachment root can be created and written.
func (c *Checker) checkAttachmentDir() (comp Component) {
	comp = Component{Name: "attachment_dir", Type: "filesystem", Timestamp: time.Now().UTC()}
	start := time.Now()
	defer func() { comp.LatencyMs = time.Since(start).Milliseconds() }()

	if err := os.MkdirAll(c.attachmentDir, 0o755); err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}
	f, err := os.CreateTemp(c.attachmentDir, ".health-*")
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Not writable"
		return comp
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	comp.Status = StatusHealthy
	comp.Message = "Writable: " + filepath.Clean(c.attachmentDir)
	return comp
}

// overall is unhealthy when the database is, otherwise degraded when any
// component is not healthy.
func overall(components []Component) Status {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
