// Package prefetch warms the metadata cache ahead of user scrolling. A
// bounded pool of workers drains a two-tier priority queue, fetches
// records from the catalog and writes them into the cache.
package prefetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soundshelf/go-catalog/logger"
)

// DefaultWorkers is the number of concurrent fetch workers. It also
// bounds the number of in-flight upstream requests.
const DefaultWorkers = 3

// DefaultFetchTimeout caps the duration of a single upstream fetch.
const DefaultFetchTimeout = 15 * time.Second

// Priority selects which queue a submitted batch lands in. New task
// starts always drain the high queue before the low queue; a running
// low-priority task is never preempted.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// ParsePriority maps the wire value to a Priority, defaulting to low.
func ParsePriority(s string) Priority {
	if s == "high" {
		return PriorityHigh
	}
	return PriorityLow
}

// Fetcher loads a single record from the upstream catalog. It must be
// safe to call repeatedly for the same id.
type Fetcher[T any] interface {
	FetchByID(ctx context.Context, id string) (T, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[T any] func(ctx context.Context, id string) (T, error)

func (f FetcherFunc[T]) FetchByID(ctx context.Context, id string) (T, error) {
	return f(ctx, id)
}

// Cache is the subset of the metadata store the scheduler needs.
type Cache[T any] interface {
	Has(id string) bool
	Put(id string, value T)
}

// Result reports what happened to the ids of one Submit call.
type Result struct {
	Queued        int `json:"queued"`
	AlreadyCached int `json:"alreadyCached"`
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	Processing   int  `json:"processing"`
	HighPriority int  `json:"highPriority"`
	LowPriority  int  `json:"lowPriority"`
	IsRunning    bool `json:"isRunning"`
}

// config holds the resolved configuration for a Scheduler.
type config struct {
	workers      int
	fetchTimeout time.Duration
	limiter      *rate.Limiter
}

// Option configures a Scheduler.
type Option func(*config)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithFetchTimeout sets the per-fetch timeout. Zero disables it.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) { c.fetchTimeout = d }
}

// WithRateLimit shares a token bucket across all workers so cache
// warming respects upstream rate limits.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *config) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// Scheduler dispatches prefetch tasks to a fixed worker pool. All
// mutation of the queues and counters happens under one mutex so the
// dedup check and enqueue in Submit are atomic.
type Scheduler[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  Cache[T]
	fetch  Fetcher[T]
	log    logger.Logger
	cfg    config

	mutex   sync.Mutex
	cond    *sync.Cond
	closed  bool
	high    []string
	low     []string
	pending map[string]struct{} // queued or in-flight

	processing int
	completed  int
	failed     int

	wg   sync.WaitGroup
	once sync.Once
}

// New returns a running Scheduler feeding store via fetch. Close must
// be called to stop the workers.
func New[T any](parent context.Context, log logger.Logger, store Cache[T], fetch Fetcher[T], opts ...Option) *Scheduler[T] {
	cfg := config{workers: DefaultWorkers, fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Scheduler[T]{
		ctx:     ctx,
		cancel:  cancel,
		store:   store,
		fetch:   fetch,
		log:     log.WithPrefix("[prefetch]"),
		cfg:     cfg,
		pending: make(map[string]struct{}),
	}
	s.cond = sync.NewCond(&s.mutex)
	s.wg.Add(cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		go s.worker()
	}
	return s
}

// Submit enqueues the ids that are not already cached, queued or
// in-flight and returns immediately; fetching happens on the worker
// pool. Duplicate ids within one call are enqueued once, the repeats
// counting toward AlreadyCached like any other known id.
func (s *Scheduler[T]) Submit(ids []string, priority Priority) Result {
	var res Result
	if len(ids) == 0 {
		return res
	}

	s.mutex.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.pending[id]; ok {
			res.AlreadyCached++
			continue
		}
		if s.store.Has(id) {
			res.AlreadyCached++
			continue
		}
		s.pending[id] = struct{}{}
		if priority == PriorityHigh {
			s.high = append(s.high, id)
		} else {
			s.low = append(s.low, id)
		}
		res.Queued++
	}
	s.mutex.Unlock()

	if res.Queued > 0 {
		s.cond.Broadcast()
	}
	return res
}

// Status returns a snapshot of queue depths and counters. IsRunning is
// true while any worker is busy or either queue is non-empty.
func (s *Scheduler[T]) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return Status{
		Completed:    s.completed,
		Failed:       s.failed,
		Processing:   s.processing,
		HighPriority: len(s.high),
		LowPriority:  len(s.low),
		IsRunning:    s.processing > 0 || len(s.high) > 0 || len(s.low) > 0,
	}
}

// Close stops the workers and waits for in-flight fetches to finish.
// Queued tasks that have not started are dropped.
func (s *Scheduler[T]) Close() {
	s.once.Do(func() {
		s.cancel()
		s.mutex.Lock()
		s.closed = true
		s.mutex.Unlock()
		s.cond.Broadcast()
		s.wg.Wait()
	})
}

func (s *Scheduler[T]) worker() {
	defer s.wg.Done()
	for {
		s.mutex.Lock()
		for !s.closed && len(s.high) == 0 && len(s.low) == 0 {
			s.cond.Wait()
		}
		if s.closed {
			s.mutex.Unlock()
			return
		}
		var id string
		if len(s.high) > 0 {
			id = s.high[0]
			s.high = s.high[1:]
		} else {
			id = s.low[0]
			s.low = s.low[1:]
		}
		s.processing++
		s.mutex.Unlock()

		err := s.fetchOne(id)

		s.mutex.Lock()
		s.processing--
		delete(s.pending, id)
		if err != nil {
			// Failures are terminal; a fresh Submit is required to retry.
			s.failed++
		} else {
			s.completed++
		}
		s.mutex.Unlock()

		if err != nil && s.ctx.Err() == nil {
			s.log.Warn("fetch failed for %s: %v", id, err)
		}
	}
}

func (s *Scheduler[T]) fetchOne(id string) error {
	if s.cfg.limiter != nil {
		if err := s.cfg.limiter.Wait(s.ctx); err != nil {
			return err
		}
	}
	ctx := s.ctx
	if s.cfg.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.cfg.fetchTimeout)
		defer cancel()
	}
	value, err := s.fetch.FetchByID(ctx, id)
	if err != nil {
		return err
	}
	s.store.Put(id, value)
	return nil
}
