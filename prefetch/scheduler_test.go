package prefetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundshelf/go-catalog/logger"
	"github.com/soundshelf/go-catalog/metacache"
)

func newStore(t *testing.T) *metacache.Store[string] {
	t.Helper()
	store := metacache.New[string](context.Background(), metacache.WithCapacity(100))
	t.Cleanup(store.Close)
	return store
}

func echoFetcher() Fetcher[string] {
	return FetcherFunc[string](func(_ context.Context, id string) (string, error) {
		return "value:" + id, nil
	})
}

func drain(t *testing.T, s *Scheduler[string]) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return !s.Status().IsRunning
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSubmitEmpty(t *testing.T) {
	store := newStore(t)
	s := New[string](context.Background(), logger.NewTestLogger(), store, echoFetcher())
	defer s.Close()

	res := s.Submit(nil, PriorityHigh)
	assert.Equal(t, Result{}, res)
	res = s.Submit([]string{}, PriorityLow)
	assert.Equal(t, Result{}, res)
}

func TestSubmitAndDrain(t *testing.T) {
	store := newStore(t)
	s := New[string](context.Background(), logger.NewTestLogger(), store, echoFetcher())
	defer s.Close()

	res := s.Submit([]string{"a", "b", "c"}, PriorityHigh)
	assert.Equal(t, Result{Queued: 3, AlreadyCached: 0}, res)

	drain(t, s)
	status := s.Status()
	assert.Equal(t, 3, status.Completed)
	assert.Equal(t, 0, status.Processing)
	assert.Equal(t, 0, status.HighPriority)
	assert.Equal(t, 0, status.LowPriority)
	assert.False(t, status.IsRunning)

	val, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "value:a", val)

	// Everything is warm now, so a resubmit queues nothing.
	res = s.Submit([]string{"a", "b", "c"}, PriorityHigh)
	assert.Equal(t, Result{Queued: 0, AlreadyCached: 3}, res)
}

func TestSubmitDeduplicatesWithinCall(t *testing.T) {
	store := newStore(t)

	var mu sync.Mutex
	fetched := make(map[string]int)
	fetch := FetcherFunc[string](func(_ context.Context, id string) (string, error) {
		mu.Lock()
		fetched[id]++
		mu.Unlock()
		return id, nil
	})

	s := New[string](context.Background(), logger.NewTestLogger(), store, fetch)
	defer s.Close()

	res := s.Submit([]string{"a", "a", "b", "a"}, PriorityLow)
	assert.Equal(t, 2, res.Queued)
	assert.Equal(t, 2, res.AlreadyCached)

	drain(t, s)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fetched["a"])
	assert.Equal(t, 1, fetched["b"])
}

func TestSubmitIsNonBlocking(t *testing.T) {
	store := newStore(t)
	release := make(chan struct{})
	fetch := FetcherFunc[string](func(ctx context.Context, id string) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return id, nil
	})

	s := New[string](context.Background(), logger.NewTestLogger(), store, fetch, WithWorkers(1), WithFetchTimeout(0))
	defer s.Close()

	done := make(chan Result, 1)
	go func() {
		done <- s.Submit([]string{"a", "b"}, PriorityHigh)
	}()

	select {
	case res := <-done:
		assert.Equal(t, 2, res.Queued)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on fetch completion")
	}

	// An id that is in-flight or queued is never re-enqueued.
	assert.Eventually(t, func() bool {
		return s.Status().Processing == 1
	}, time.Second, time.Millisecond)
	res := s.Submit([]string{"a", "b"}, PriorityLow)
	assert.Equal(t, Result{Queued: 0, AlreadyCached: 2}, res)

	close(release)
	drain(t, s)
}

func TestHighPriorityDrainsFirst(t *testing.T) {
	store := newStore(t)
	started := make(chan string, 8)
	release := make(chan struct{})
	fetch := FetcherFunc[string](func(ctx context.Context, id string) (string, error) {
		started <- id
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return id, nil
	})

	s := New[string](context.Background(), logger.NewTestLogger(), store, fetch, WithWorkers(1), WithFetchTimeout(0))
	defer s.Close()

	s.Submit([]string{"low-1", "low-2"}, PriorityLow)
	first := <-started
	assert.Equal(t, "low-1", first)

	// low-1 is in-flight and keeps running; the high batch only jumps
	// ahead of low-2 for the next task start.
	s.Submit([]string{"high-1"}, PriorityHigh)
	close(release)

	assert.Equal(t, "high-1", <-started)
	assert.Equal(t, "low-2", <-started)
	drain(t, s)
}

func TestFetchFailureIsIsolated(t *testing.T) {
	store := newStore(t)
	fetch := FetcherFunc[string](func(_ context.Context, id string) (string, error) {
		if id == "bad" {
			return "", errors.New("upstream exploded")
		}
		return "value:" + id, nil
	})

	log := logger.NewTestLogger()
	s := New[string](context.Background(), log, store, fetch)
	defer s.Close()

	res := s.Submit([]string{"a", "bad", "b"}, PriorityHigh)
	assert.Equal(t, 3, res.Queued)

	drain(t, s)
	status := s.Status()
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, 1, status.Failed)

	assert.True(t, store.Has("a"))
	assert.True(t, store.Has("b"))
	assert.False(t, store.Has("bad"))

	var warned bool
	for _, entry := range log.Entries() {
		if entry.Severity == "WARN" {
			warned = true
		}
	}
	assert.True(t, warned)

	// Failed tasks are terminal; a fresh Submit re-queues them.
	res = s.Submit([]string{"bad"}, PriorityLow)
	assert.Equal(t, Result{Queued: 1, AlreadyCached: 0}, res)
	drain(t, s)
	assert.Equal(t, 2, s.Status().Failed)
}

func TestStatusConservation(t *testing.T) {
	store := newStore(t)
	release := make(chan struct{})
	fetch := FetcherFunc[string](func(ctx context.Context, id string) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return id, nil
	})

	s := New[string](context.Background(), logger.NewTestLogger(), store, fetch, WithWorkers(2), WithFetchTimeout(0))
	defer s.Close()

	ids := []string{"a", "b", "c", "d", "e"}
	s.Submit(ids[:3], PriorityHigh)
	s.Submit(ids[3:], PriorityLow)

	assert.Eventually(t, func() bool {
		return s.Status().Processing == 2
	}, time.Second, time.Millisecond)

	status := s.Status()
	assert.Equal(t, len(ids), status.Completed+status.Processing+status.HighPriority+status.LowPriority)
	assert.True(t, status.IsRunning)

	close(release)
	drain(t, s)
	status = s.Status()
	assert.Equal(t, len(ids), status.Completed+status.Processing+status.HighPriority+status.LowPriority)
}

func TestCloseStopsWorkers(t *testing.T) {
	store := newStore(t)
	s := New[string](context.Background(), logger.NewTestLogger(), store, echoFetcher())
	s.Submit([]string{"a"}, PriorityHigh)
	drain(t, s)
	s.Close()
	s.Close()
}
