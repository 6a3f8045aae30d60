package jobstatus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeFetcher struct {
	calls atomic.Int32
	err   atomic.Value // error
	gate  chan struct{}
	pods  []kubecore.Pod
}

func (f *fakeFetcher) Pods(ctx context.Context) ([]kubecore.Pod, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if v := f.err.Load(); v != nil {
		if err, ok := v.(error); ok && err != nil {
			return nil, err
		}
	}
	return f.pods, nil
}

func newCache(f Fetcher) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 21, 13, 0, 0, 0, time.UTC)}
	return New(f, Options{TTL: 30 * time.Second, EarlyTTL: 10 * time.Second, Now: clock.Now}), clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func namedPod(name string) kubecore.Pod {
	return kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name},
		Status:     kubecore.PodStatus{Phase: kubecore.PodRunning},
	}
}

func TestFreshSnapshotIsServedFromCache(t *testing.T) {
	f := &fakeFetcher{pods: []kubecore.Pod{namedPod("deepreef-abc")}}
	c, clock := newCache(f)

	snap := c.Get(context.Background())
	if !snap.Available || len(snap.Jobs) != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	clock.Advance(9 * time.Second)
	c.Get(context.Background())
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetch calls=%d, want 1", n)
	}
}

func TestStaleSnapshotServedWhileRefreshing(t *testing.T) {
	f := &fakeFetcher{pods: []kubecore.Pod{namedPod("deepreef-abc")}}
	c, clock := newCache(f)
	first := c.Get(context.Background())

	clock.Advance(15 * time.Second)
	f.gate = make(chan struct{})
	stale := c.Get(context.Background())
	if !stale.FetchedAt.Equal(first.FetchedAt) {
		t.Fatalf("expected the cached snapshot while refreshing")
	}
	waitFor(t, "background refresh to start", func() bool { return f.calls.Load() == 2 })

	// a second stale read does not start another refresh
	c.Get(context.Background())
	close(f.gate)

	waitFor(t, "refreshed snapshot", func() bool {
		snap, ok := c.Peek()
		return ok && snap.FetchedAt.After(first.FetchedAt)
	})
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetch calls=%d, want 2", n)
	}
}

func TestExpiredSnapshotIsFetchedSynchronously(t *testing.T) {
	f := &fakeFetcher{}
	c, clock := newCache(f)
	c.Get(context.Background())

	clock.Advance(31 * time.Second)
	f.pods = []kubecore.Pod{namedPod("a"), namedPod("b")}
	snap := c.Get(context.Background())
	if len(snap.Jobs) != 2 {
		t.Fatalf("jobs=%d, want 2 from the new fetch", len(snap.Jobs))
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetch calls=%d, want 2", n)
	}
}

func TestFailureIsCachedAsUnavailable(t *testing.T) {
	f := &fakeFetcher{}
	f.err.Store(errors.New("connection refused"))
	c, _ := newCache(f)

	snap := c.Get(context.Background())
	if snap.Available {
		t.Fatalf("expected unavailable snapshot")
	}
	if snap.Jobs == nil || len(snap.Jobs) != 0 {
		t.Fatalf("expected empty non-nil job list, got %#v", snap.Jobs)
	}
	c.Get(context.Background())
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetch calls=%d, want 1", n)
	}
}

func TestInvalidateForcesFetch(t *testing.T) {
	f := &fakeFetcher{}
	c, _ := newCache(f)
	c.Get(context.Background())
	c.Invalidate()
	c.Get(context.Background())
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetch calls=%d, want 2", n)
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c, _ := newCache(f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background())
		}()
	}
	waitFor(t, "fetch to start", func() bool { return f.calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetch calls=%d, want 1", n)
	}
}

func TestGetHonoursCallerContext(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	defer close(f.gate)
	c, _ := newCache(f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap := c.Get(ctx)
	if snap.Available {
		t.Fatalf("expected unavailable snapshot on caller timeout")
	}
}

func TestRunStatusNeverBlocks(t *testing.T) {
	f := &fakeFetcher{pods: []kubecore.Pod{namedPod("deepreef-abc-1"), namedPod("deepreef-xyz-1")}}
	c, _ := newCache(f)

	if got := c.RunStatus("abc"); len(got) != 0 {
		t.Fatalf("expected no status before the first fetch, got %+v", got)
	}
	waitFor(t, "background fetch", func() bool {
		_, ok := c.Peek()
		return ok
	})
	got := c.RunStatus("abc")
	if len(got) != 1 || got[0].SubmissionID != "deepreef-abc-1" || got[0].Status != "Running" {
		t.Fatalf("run status=%+v", got)
	}
}
