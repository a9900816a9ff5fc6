package attachcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrLoadLoadsOncePerName(t *testing.T) {
	c := New[string](Config{})
	var calls atomic.Int32
	load := func() (string, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return "extracted text", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.GetOrLoad("s1", "report.pdf", load)
			if err != nil {
				t.Errorf("load: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("load called %d times, want 1", got)
	}
	for i, r := range results {
		if r != "extracted text" {
			t.Fatalf("result %d = %q", i, r)
		}
	}
	v, hit, err := c.GetOrLoad("s1", "report.pdf", load)
	if err != nil || !hit || v != "extracted text" {
		t.Fatalf("expected cache hit, got %q hit=%v err=%v", v, hit, err)
	}
}

func TestConcurrentLoadCountsOneMiss(t *testing.T) {
	c := New[string](Config{})
	release := make(chan struct{})
	started := make(chan struct{})
	load := func() (string, error) {
		close(started)
		<-release
		return "handle", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	var misses atomic.Int32
	call := func() {
		defer wg.Done()
		_, hit, err := c.GetOrLoad("s1", "doc.pdf", load)
		if err != nil {
			t.Errorf("load: %v", err)
		}
		if !hit {
			misses.Add(1)
		}
	}
	wg.Add(1)
	go call()
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go call()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := misses.Load(); got != 1 {
		t.Fatalf("%d callers reported a miss, want 1", got)
	}
	hits, missCount := c.Stats()
	if hits != callers-1 || missCount != 1 {
		t.Fatalf("stats hits=%d misses=%d, want %d/1", hits, missCount, callers-1)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	c := New[string](Config{})
	if _, _, err := c.GetOrLoad("a", "doc.pdf", func() (string, error) { return "from a", nil }); err != nil {
		t.Fatalf("load a: %v", err)
	}
	v, hit, err := c.GetOrLoad("b", "doc.pdf", func() (string, error) { return "from b", nil })
	if err != nil || hit || v != "from b" {
		t.Fatalf("session b saw %q hit=%v err=%v", v, hit, err)
	}
}

func TestLoadErrorsAreNotCached(t *testing.T) {
	c := New[int](Config{})
	boom := errors.New("boom")
	if _, _, err := c.GetOrLoad("s", "x", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, hit, err := c.GetOrLoad("s", "x", func() (int, error) { return 7, nil })
	if err != nil || hit || v != 7 {
		t.Fatalf("retry after error: v=%d hit=%v err=%v", v, hit, err)
	}
}

func TestIdleSessionsExpire(t *testing.T) {
	c := New[string](Config{IdleTTL: 30 * time.Millisecond})
	if _, _, err := c.GetOrLoad("s", "a", func() (string, error) { return "v1", nil }); err != nil {
		t.Fatalf("load: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	v, hit, err := c.GetOrLoad("s", "a", func() (string, error) { return "v2", nil })
	if err != nil || hit || v != "v2" {
		t.Fatalf("expected reload after idle expiry, got %q hit=%v err=%v", v, hit, err)
	}
}

func TestMaxSessionsBound(t *testing.T) {
	c := New[string](Config{MaxSessions: 2})
	for _, s := range []string{"a", "b", "c"} {
		if _, _, err := c.GetOrLoad(s, "n", func() (string, error) { return s, nil }); err != nil {
			t.Fatalf("load %s: %v", s, err)
		}
	}
	if got := c.Sessions(); got != 2 {
		t.Fatalf("Sessions() = %d, want 2", got)
	}
	if _, ok := c.Get("c", "n"); !ok {
		t.Fatalf("most recent session evicted")
	}
}

func TestPurge(t *testing.T) {
	c := New[string](Config{})
	if _, _, err := c.GetOrLoad("s", "n", func() (string, error) { return "v", nil }); err != nil {
		t.Fatalf("load: %v", err)
	}
	c.Purge("s")
	if _, ok := c.Get("s", "n"); ok {
		t.Fatalf("value survived purge")
	}
	hits, misses := c.Stats()
	if hits != 0 || misses != 1 {
		t.Fatalf("stats = %d/%d, want 0/1", hits, misses)
	}
}
