// Package blackboard provides the shared key/value store behavior tree
// nodes read and write during ticks. A single Blackboard is owned by one
// tree; a forest additionally shares one Blackboard across all of its
// trees through the communication middleware.
//
// Values are stored by reference and never copied. Reads take a shared
// lock so many nodes may read concurrently; writes take the exclusive
// lock. A bounded LRU cache with a validity window sits in front of the
// backing map to absorb hot-key reads.
package blackboard

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config holds Blackboard settings.
type Config struct {
	// CacheCapacity bounds the number of entries in the read cache.
	CacheCapacity int
	// CacheTTL is the validity window of a cached entry.
	CacheTTL time.Duration
}

const (
	defaultCacheCapacity = 1000
	defaultCacheTTL      = 300 * time.Millisecond
)

// Blackboard is a concurrency-safe key/value store.
type Blackboard struct {
	mu   sync.RWMutex
	data map[string]any

	cache *lruCache

	gets      atomic.Int64
	sets      atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	waitNanos atomic.Int64
	waitCount atomic.Int64

	logger *zap.Logger
}

// New creates a Blackboard. A nil logger defaults to a no-op logger.
func New(cfg Config, logger *zap.Logger) *Blackboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Blackboard{
		data:   make(map[string]any),
		cache:  newLRUCache(capacity, ttl),
		logger: logger,
	}
}

// Get returns the value stored under key, or def when the key is absent.
func (b *Blackboard) Get(key string, def any) any {
	if v, ok := b.GetOK(key); ok {
		return v
	}
	return def
}

// GetOK returns the value stored under key and whether it was present.
func (b *Blackboard) GetOK(key string) (any, bool) {
	b.gets.Add(1)
	if v, ok := b.cache.get(key); ok {
		b.hits.Add(1)
		return v, true
	}
	b.misses.Add(1)

	start := time.Now()
	b.mu.RLock()
	b.recordWait(start)
	v, ok := b.data[key]
	// Populate the cache before releasing the lock, so a concurrent
	// Remove cannot reinstate a deleted key for the validity window.
	if ok {
		b.cache.put(key, v)
	}
	b.mu.RUnlock()
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (b *Blackboard) Set(key string, value any) {
	b.sets.Add(1)
	start := time.Now()
	b.mu.Lock()
	b.recordWait(start)
	b.data[key] = value
	b.cache.put(key, value)
	b.mu.Unlock()
}

// Has reports whether key is present.
func (b *Blackboard) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[key]
	return ok
}

// Remove deletes key and reports whether it was present.
func (b *Blackboard) Remove(key string) bool {
	b.mu.Lock()
	_, ok := b.data[key]
	delete(b.data, key)
	b.cache.remove(key)
	b.mu.Unlock()
	return ok
}

// Clear removes every key.
func (b *Blackboard) Clear() {
	b.mu.Lock()
	b.data = make(map[string]any)
	b.cache.clear()
	b.mu.Unlock()
}

// Keys returns a snapshot of all present keys in no particular order.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored keys.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Txn gives a Transaction callback direct access to the backing map
// while the exclusive lock is held.
type Txn struct {
	bb *Blackboard
}

// Get returns the value stored under key and whether it was present.
func (t *Txn) Get(key string) (any, bool) {
	v, ok := t.bb.data[key]
	return v, ok
}

// Set stores value under key.
func (t *Txn) Set(key string, value any) {
	t.bb.data[key] = value
	t.bb.cache.remove(key)
}

// Remove deletes key.
func (t *Txn) Remove(key string) {
	delete(t.bb.data, key)
	t.bb.cache.remove(key)
}

// Transaction runs fn while holding the exclusive write lock, so a
// multi-key update is atomic with respect to all other readers and
// writers. The lock is released on every exit path, including a panic
// inside fn.
func (b *Blackboard) Transaction(fn func(*Txn) error) error {
	start := time.Now()
	b.mu.Lock()
	b.recordWait(start)
	defer b.mu.Unlock()
	return fn(&Txn{bb: b})
}

func (b *Blackboard) recordWait(start time.Time) {
	b.waitNanos.Add(int64(time.Since(start)))
	b.waitCount.Add(1)
}

// Stats is an observational snapshot; it never gates correctness.
type Stats struct {
	Keys      int
	Gets      int64
	Sets      int64
	CacheHits int64
	CacheMiss int64
	HitRate   float64
	CacheLen  int
	AvgWait   time.Duration
}

// Stats returns a best-effort snapshot of access statistics.
func (b *Blackboard) Stats() Stats {
	hits := b.hits.Load()
	misses := b.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	var avg time.Duration
	if n := b.waitCount.Load(); n > 0 {
		avg = time.Duration(b.waitNanos.Load() / n)
	}
	return Stats{
		Keys:      b.Len(),
		Gets:      b.gets.Load(),
		Sets:      b.sets.Load(),
		CacheHits: hits,
		CacheMiss: misses,
		HitRate:   rate,
		CacheLen:  b.cache.len(),
		AvgWait:   avg,
	}
}
