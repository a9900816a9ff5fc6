// Package async persists completed conversations off the request path.
package async

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/history"
)

var (
	// ErrClosed is reported for jobs submitted after Close.
	ErrClosed = errors.New("history-async: persister closed")
	// ErrQueueFull is reported for jobs dropped because their worker's queue
	// stayed full for the whole enqueue timeout.
	ErrQueueFull = errors.New("history-async: queue full")
)

// Config configures the persister.
type Config struct {
	Workers   int           // parallel writers (default: 4)
	QueueSize int           // per-worker buffer (default: 1024)
	Timeout   time.Duration // per write (default: 30s)
	// EnqueueTimeout bounds how long Persist waits for room in a full queue
	// (default: 5s).
	EnqueueTimeout time.Duration
	Logger         *log.Logger
	// OnResult is called once per job with the write outcome.
	OnResult func(sessionID string, err error)
}

type job struct {
	sessionID string
	turns     []chat.Turn
}

// Persister queues ReplaceTurns calls. Jobs for one session always land on the
// same worker, so they are applied in submission order. A job that cannot be
// queued is dropped, never written out of order.
type Persister struct {
	writer         history.TurnWriter
	queues         []chan job
	timeout        time.Duration
	enqueueTimeout time.Duration
	logger         *log.Logger
	onResult       func(string, error)

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

// New starts the worker goroutines.
func New(writer history.TurnWriter, cfg Config) *Persister {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}

	p := &Persister{
		writer:         writer,
		queues:         make([]chan job, cfg.Workers),
		timeout:        cfg.Timeout,
		enqueueTimeout: cfg.EnqueueTimeout,
		logger:         cfg.Logger,
		onResult:       cfg.OnResult,
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, cfg.QueueSize)
		p.workers.Add(1)
		go p.run(i)
	}
	if p.logger != nil {
		p.logger.Printf("[history-async] started %d worker(s), queue=%d", cfg.Workers, cfg.QueueSize)
	}
	return p
}

// Persist queues a replacement of the session's turns. It returns at once
// unless the session's queue is full, in which case it waits up to the enqueue
// timeout and then drops the job with ErrQueueFull.
func (p *Persister) Persist(sessionID string, turns []chat.Turn) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.report(sessionID, ErrClosed)
		return
	}

	j := job{sessionID: sessionID, turns: turns}
	q := p.queues[p.shard(sessionID)]
	select {
	case q <- j:
		return
	default:
	}

	if p.logger != nil {
		p.logger.Printf("[history-async] WARNING: queue full, waiting session=%s", sessionID)
	}
	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case q <- j:
	case <-timer.C:
		if p.logger != nil {
			p.logger.Printf("[history-async] ERROR: dropped session=%s turns=%d after %v", sessionID, len(turns), p.enqueueTimeout)
		}
		p.report(sessionID, ErrQueueFull)
	}
}

// Close stops accepting jobs and waits for queued writes to finish or ctx to
// expire.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		if p.logger != nil {
			p.logger.Printf("[history-async] drained")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) shard(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Persister) run(worker int) {
	defer p.workers.Done()
	for j := range p.queues[worker] {
		p.write(j)
	}
}

func (p *Persister) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err := p.writer.ReplaceTurns(ctx, j.sessionID, j.turns)
	if p.logger != nil {
		if err != nil {
			p.logger.Printf("[history-async] ERROR session=%s turns=%d: %v", j.sessionID, len(j.turns), err)
		} else {
			p.logger.Printf("[history-async] saved session=%s turns=%d in %v", j.sessionID, len(j.turns), time.Since(start))
		}
	}
	p.report(j.sessionID, err)
}

func (p *Persister) report(sessionID string, err error) {
	if p.onResult != nil {
		p.onResult(sessionID, err)
	}
}
