// Package jobstatus caches the cluster job snapshot behind an early-refresh TTL.
//
// A snapshot younger than EarlyTTL is served as is. Between EarlyTTL and TTL it
// is still served, and one background refresh is started. Past TTL the caller
// waits for a fresh fetch. Fetch failures are cached like successes, as an
// empty, unavailable snapshot.
package jobstatus

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	kubecore "k8s.io/api/core/v1"

	"deepreef/internal/k8s"
	"deepreef/internal/logging"
	"deepreef/internal/metrics"
	"deepreef/internal/models"
)

const (
	DefaultTTL          = 30 * time.Second
	DefaultEarlyTTL     = 10 * time.Second
	defaultFetchTimeout = 20 * time.Second
	flightKey           = "k8s:status"
)

// Fetcher performs the blocking cluster call.
type Fetcher interface {
	Pods(ctx context.Context) ([]kubecore.Pod, error)
}

type Snapshot struct {
	Jobs      []kubecore.Pod `json:"jobs"`
	Available bool           `json:"available"`
	FetchedAt time.Time      `json:"fetched_at"`
}

type Options struct {
	TTL          time.Duration
	EarlyTTL     time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	early   time.Duration
	timeout time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	group singleflight.Group

	mu         sync.Mutex
	entry      *Snapshot
	gen        uint64
	refreshing bool
}

func New(f Fetcher, opts Options) *Cache {
	c := &Cache{
		fetcher: f,
		ttl:     opts.TTL,
		early:   opts.EarlyTTL,
		timeout: opts.FetchTimeout,
		now:     opts.Now,
		metrics: opts.Metrics,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.early <= 0 || c.early > c.ttl {
		c.early = c.ttl / 3
	}
	if c.timeout <= 0 {
		c.timeout = defaultFetchTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get returns the current snapshot, fetching it when none is usable.
func (c *Cache) Get(ctx context.Context) Snapshot {
	snap, state := c.lookup()
	c.metrics.IncJobStatusCache(state)
	switch state {
	case "fresh":
		return snap
	case "stale":
		c.refreshAsync()
		return snap
	}

	ch := c.group.DoChan(flightKey, c.load)
	select {
	case res := <-ch:
		return res.Val.(Snapshot)
	case <-ctx.Done():
		return Snapshot{Jobs: []kubecore.Pod{}, Available: false}
	}
}

// Peek returns the cached snapshot without waiting. A missing or aging
// snapshot starts a background refresh.
func (c *Cache) Peek() (Snapshot, bool) {
	snap, state := c.lookup()
	switch state {
	case "fresh":
		return snap, true
	case "stale":
		c.refreshAsync()
		return snap, true
	default:
		c.refreshAsync()
		return Snapshot{}, false
	}
}

// RunStatus reports the pods of one submission from the cached snapshot only.
func (c *Cache) RunStatus(submissionID string) []models.RunStatus {
	snap, ok := c.Peek()
	if !ok || !snap.Available {
		return []models.RunStatus{}
	}
	return k8s.RunStatusFor(snap.Jobs, submissionID)
}

// Invalidate drops the cached snapshot. A fetch already in flight will not
// repopulate the cache.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget(flightKey)
}

func (c *Cache) lookup() (Snapshot, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return Snapshot{}, "miss"
	}
	age := c.now().Sub(c.entry.FetchedAt)
	switch {
	case age < c.early:
		return *c.entry, "fresh"
	case age < c.ttl:
		return *c.entry, "stale"
	default:
		return Snapshot{}, "miss"
	}
}

func (c *Cache) refreshAsync() {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		return
	}
	c.refreshing = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.refreshing = false
			c.mu.Unlock()
		}()
		_, _, _ = c.group.Do(flightKey, c.load)
	}()
}

// load runs inside the singleflight group, off the caller's goroutine.
func (c *Cache) load() (any, error) {
	c.mu.Lock()
	// a flight that finished just before this one started already did the work
	if c.entry != nil && c.now().Sub(c.entry.FetchedAt) < c.early {
		snap := *c.entry
		c.mu.Unlock()
		return snap, nil
	}
	gen := c.gen
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	pods, err := c.fetcher.Pods(ctx)
	snap := Snapshot{Jobs: pods, Available: err == nil, FetchedAt: c.now()}
	if err != nil {
		logging.Warnf("job status fetch failed: %v", err)
		c.metrics.IncJobStatusFetch("error")
		snap.Jobs = []kubecore.Pod{}
	} else {
		c.metrics.IncJobStatusFetch("ok")
		if snap.Jobs == nil {
			snap.Jobs = []kubecore.Pod{}
		}
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entry = &snap
	}
	c.mu.Unlock()
	return snap, nil
}
