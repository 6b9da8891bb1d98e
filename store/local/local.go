// Package local is the in-process store backend: a TTL-aware KV map
// with a background GC goroutine and a channel fan-out pub/sub.
package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("local: key not found")

// Config holds Store settings.
type Config struct {
	GCInterval time.Duration
}

// entry holds a stored string value with an optional expiry.
type entry struct {
	data     string
	expireAt time.Time
	noExpiry bool
}

func (e *entry) expired() bool {
	return !e.noExpiry && time.Now().After(e.expireAt)
}

// Store is an in-process KV store with TTL support.
type Store struct {
	mu     sync.Mutex // guards SetNX atomically
	kv     sync.Map   // key → *entry
	stopGC chan struct{}
}

// NewStore creates a Store and starts the background GC goroutine.
func NewStore(cfg Config) (*Store, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Store{stopGC: make(chan struct{})}
	go s.runGC(interval)
	return s, nil
}

// Close stops the background GC goroutine.
func (s *Store) Close() {
	close(s.stopGC)
}

func (s *Store) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.kv.Range(func(k, v interface{}) bool {
				if e, ok := v.(*entry); ok && e.expired() {
					s.kv.Delete(k)
				}
				return true
			})
		case <-s.stopGC:
			return
		}
	}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	v, ok := s.kv.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	e := v.(*entry)
	if e.expired() {
		s.kv.Delete(key)
		return "", ErrNotFound
	}
	return e.data, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.noExpiry = true
	}
	s.kv.Store(key, e)
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.kv.Delete(k)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	v, ok := s.kv.Load(key)
	if !ok {
		return false, nil
	}
	e := v.(*entry)
	if e.expired() {
		s.kv.Delete(key)
		return false, nil
	}
	return true, nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.kv.Load(key); ok {
		if e, ok2 := v.(*entry); ok2 && !e.expired() {
			return false, nil
		}
	}
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.noExpiry = true
	}
	s.kv.Store(key, e)
	return true, nil
}
