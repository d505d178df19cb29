package metacache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// entryOverhead approximates the per-entry bookkeeping cost (map slot,
// list element, timestamps) on top of the encoded value size.
const entryOverhead = 96

type entry[T any] struct {
	id             string
	value          T
	insertedAt     time.Time
	lastAccessedAt time.Time
	sizeBytes      int64
	pinned         bool
	elem           *list.Element
}

// Store is an in-memory cache for one resource type with LRU eviction,
// lazy TTL expiry and hit/miss accounting. All methods are safe for
// concurrent use.
type Store[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	mutex  sync.Mutex
	wg     sync.WaitGroup
	once   sync.Once
	cfg    config

	items map[string]*entry[T]
	lru   *list.List // front is most recently used

	hits      int64
	misses    int64
	sizeBytes int64
}

// New returns a Store for a single resource type. Close must be called
// to stop the background expiry sweep.
func New[T any](parent context.Context, opts ...Option) *Store[T] {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	s := &Store[T]{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		items:  make(map[string]*entry[T]),
		lru:    list.New(),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Get returns the cached value for id. An expired entry is removed and
// reported as a miss. Hits refresh the entry's recency.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ent, ok := s.items[id]
	if !ok {
		s.misses++
		var zero T
		return zero, false
	}
	if time.Since(ent.insertedAt) > s.cfg.ttl {
		s.remove(ent)
		s.misses++
		var zero T
		return zero, false
	}
	s.hits++
	ent.lastAccessedAt = time.Now()
	s.lru.MoveToFront(ent.elem)
	return ent.value, true
}

// Has reports whether id is cached and fresh without touching the
// hit/miss counters or the entry's recency. The prefetch scheduler uses
// it to skip warm entries without inflating the hit rate.
func (s *Store[T]) Has(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ent, ok := s.items[id]
	if !ok {
		return false
	}
	return time.Since(ent.insertedAt) <= s.cfg.ttl
}

// Put inserts or overwrites the value for id. When the store is at
// capacity the least-recently-used non-pinned entry is evicted first.
func (s *Store[T]) Put(id string, value T) {
	size := estimateSize(id, value)
	now := time.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ent, ok := s.items[id]; ok {
		s.sizeBytes += size - ent.sizeBytes
		ent.value = value
		ent.sizeBytes = size
		ent.insertedAt = now
		ent.lastAccessedAt = now
		s.lru.MoveToFront(ent.elem)
		return
	}

	for len(s.items) >= s.cfg.capacity {
		if !s.evictOne() {
			break
		}
	}

	ent := &entry[T]{
		id:             id,
		value:          value,
		insertedAt:     now,
		lastAccessedAt: now,
		sizeBytes:      size,
	}
	ent.elem = s.lru.PushFront(ent)
	s.items[id] = ent
	s.sizeBytes += size
}

// Delete removes id from the store, reporting whether it was present.
func (s *Store[T]) Delete(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ent, ok := s.items[id]
	if ok {
		s.remove(ent)
	}
	return ok
}

// Pin excludes id from LRU eviction until Unpin is called. TTL expiry
// still applies.
func (s *Store[T]) Pin(id string) bool {
	return s.setPinned(id, true)
}

// Unpin makes id eligible for eviction again.
func (s *Store[T]) Unpin(id string) bool {
	return s.setPinned(id, false)
}

func (s *Store[T]) setPinned(id string, pinned bool) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ent, ok := s.items[id]
	if ok {
		ent.pinned = pinned
	}
	return ok
}

// Stats returns a snapshot of the store's counters.
func (s *Store[T]) Stats() Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	stats := Stats{
		Entries:  len(s.items),
		Hits:     s.hits,
		Misses:   s.misses,
		MemoryMB: float64(s.sizeBytes) / 1e6,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats
}

// Close stops the background sweep. Safe to call more than once.
func (s *Store[T]) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// remove deletes ent from the index and LRU list. Caller holds the lock.
func (s *Store[T]) remove(ent *entry[T]) {
	s.lru.Remove(ent.elem)
	delete(s.items, ent.id)
	s.sizeBytes -= ent.sizeBytes
}

// evictOne removes the least-recently-used non-pinned entry, reporting
// whether anything was evicted. Caller holds the lock.
func (s *Store[T]) evictOne() bool {
	for elem := s.lru.Back(); elem != nil; elem = elem.Prev() {
		ent := elem.Value.(*entry[T])
		if ent.pinned {
			continue
		}
		s.remove(ent)
		return true
	}
	return false
}

func (s *Store[T]) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mutex.Lock()
			for _, ent := range s.items {
				if now.Sub(ent.insertedAt) > s.cfg.ttl {
					s.remove(ent)
				}
			}
			s.mutex.Unlock()
		}
	}
}

// estimateSize approximates the memory held by an entry using its
// msgpack-encoded length plus fixed overhead. Values that cannot be
// encoded are charged the overhead only.
func estimateSize[T any](id string, value T) int64 {
	size := int64(len(id) + entryOverhead)
	if buf, err := msgpack.Marshal(value); err == nil {
		size += int64(len(buf))
	}
	return size
}
