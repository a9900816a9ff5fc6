package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector tracks gateway counters in memory and renders them in the
// Prometheus text format. It is safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	// Stream metrics, by vendor
	streamOutcomes    map[string]map[string]int64 // vendor -> outcome -> count
	streamsInProgress map[string]int64
	streamDeltas      map[string]int64
	streamDurationMs  map[string]int64

	// Persistence metrics
	persistSaved  int64
	persistFailed int64

	// Attachment metrics
	attachmentFailures int64
	caches             map[string]func() (hits, misses int64)

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		streamOutcomes:    make(map[string]map[string]int64),
		streamsInProgress: make(map[string]int64),
		streamDeltas:      make(map[string]int64),
		streamDurationMs:  make(map[string]int64),
		caches:            make(map[string]func() (int64, int64)),
		startTime:         time.Now(),
	}
}

// StreamStarted marks a stream as in flight.
func (c *Collector) StreamStarted(vendor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamsInProgress[vendor]++
}

// StreamFinished records the terminal outcome of a stream that was started.
func (c *Collector) StreamFinished(vendor, outcome string, deltas int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamsInProgress[vendor] > 0 {
		c.streamsInProgress[vendor]--
	}
	c.recordOutcome(vendor, outcome)
	c.streamDeltas[vendor] += int64(deltas)
	c.streamDurationMs[vendor] += elapsed.Milliseconds()
}

// StreamRejected records a request refused before streaming began.
func (c *Collector) StreamRejected(vendor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordOutcome(vendor, "rejected")
}

func (c *Collector) recordOutcome(vendor, outcome string) {
	byOutcome, ok := c.streamOutcomes[vendor]
	if !ok {
		byOutcome = make(map[string]int64)
		c.streamOutcomes[vendor] = byOutcome
	}
	byOutcome[outcome]++
}

// PersistSaved records a conversation written to the history store.
func (c *Collector) PersistSaved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistSaved++
}

// PersistFailed records an answer that was delivered but not saved.
func (c *Collector) PersistFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistFailed++
}

// AttachmentFailed records an attachment that could not be materialized.
func (c *Collector) AttachmentFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachmentFailures++
}

// RegisterCache exposes hit and miss counters of a named attachment cache.
func (c *Collector) RegisterCache(name string, stats func() (hits, misses int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches[name] = stats
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	StreamOutcomes     map[string]map[string]int64
	StreamsInProgress  map[string]int64
	StreamDeltas       map[string]int64
	StreamDurationMs   map[string]int64
	PersistSaved       int64
	PersistFailed      int64
	AttachmentFailures int64
	CacheHits          map[string]int64
	CacheMisses        map[string]int64
	Uptime             int64 // seconds
}

// GetSnapshot returns a consistent copy of the current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outcomes := make(map[string]map[string]int64, len(c.streamOutcomes))
	for vendor, byOutcome := range c.streamOutcomes {
		outcomes[vendor] = copyMap(byOutcome)
	}
	hits := make(map[string]int64, len(c.caches))
	misses := make(map[string]int64, len(c.caches))
	for name, stats := range c.caches {
		hits[name], misses[name] = stats()
	}

	return Snapshot{
		StreamOutcomes:     outcomes,
		StreamsInProgress:  copyMap(c.streamsInProgress),
		StreamDeltas:       copyMap(c.streamDeltas),
		StreamDurationMs:   copyMap(c.streamDurationMs),
		PersistSaved:       c.persistSaved,
		PersistFailed:      c.persistFailed,
		AttachmentFailures: c.attachmentFailures,
		CacheHits:          hits,
		CacheMisses:        misses,
		Uptime:             int64(time.Since(c.startTime).Seconds()),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
