// Package cache provides the TTL key/value store backing the refresh
// scheduler. Reads are lock-free: the entry map is immutable and swapped
// atomically on every write, so a reader sees either the old map or the
// new one, never a partial update. Entries are not evicted; staleness is
// judged lazily by comparing age against the caller's TTL.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	value     any
	writtenAt time.Time
}

// Store is a thread-safe TTL map with copy-on-write semantics.
type Store struct {
	mu      sync.Mutex // guards writers only
	entries atomic.Value
	now     func() time.Time
}

// New returns an empty Store. now may be nil, in which case time.Now is used.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{now: now}
	s.entries.Store(map[string]entry{})
	return s
}

func (s *Store) snapshot() map[string]entry {
	return s.entries.Load().(map[string]entry)
}

// Get returns the cached value for key if it is younger than ttl.
// A miss is not an error; the second return reports presence.
func (s *Store) Get(key string, ttl time.Duration) (any, bool) {
	e, ok := s.snapshot()[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.writtenAt) >= ttl {
		return nil, false
	}
	return e.value, true
}

// Peek returns the cached value regardless of age.
func (s *Store) Peek(key string) (any, bool) {
	e, ok := s.snapshot()[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the current timestamp.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.snapshot()
	next := make(map[string]entry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = entry{value: value, writtenAt: s.now()}
	s.entries.Store(next)
}

// Delete removes key and its timestamp.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.snapshot()
	if _, ok := old[key]; !ok {
		return
	}
	next := make(map[string]entry, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	s.entries.Store(next)
}

// Clear removes every entry. Used after a backend restart.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Store(map[string]entry{})
}

// Age returns how long ago key was written. ok is false when the key has
// never been populated.
func (s *Store) Age(key string) (time.Duration, bool) {
	e, ok := s.snapshot()[key]
	if !ok {
		return 0, false
	}
	return s.now().Sub(e.writtenAt), true
}

// Ages returns the age of every present key. The result is a fresh map
// the caller may retain.
func (s *Store) Ages() map[string]time.Duration {
	snap := s.snapshot()
	now := s.now()
	out := make(map[string]time.Duration, len(snap))
	for k, e := range snap {
		out[k] = now.Sub(e.writtenAt)
	}
	return out
}
