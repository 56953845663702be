package utils

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultShardCount = 32

// Shards is a string-keyed map split across independently locked shards.
// It only guards membership: callers synchronize access to the values
// themselves, so two subjects in the same shard never block each other.
type Shards[T any] struct {
	shards []shard[T]
	mask   uint64
}

type shard[T any] struct {
	mu    sync.RWMutex
	items map[string]*T
}

func NewShards[T any](count int) *Shards[T] {
	n := 1
	for n < count {
		n <<= 1
	}
	s := &Shards[T]{shards: make([]shard[T], n), mask: uint64(n - 1)}
	for i := range s.shards {
		s.shards[i].items = make(map[string]*T)
	}
	return s
}

func (s *Shards[T]) shardFor(key string) *shard[T] {
	return &s.shards[xxhash.Sum64String(key)&s.mask]
}

// With runs fn on the value stored under key, creating it with create when it
// is missing. A nil create skips absent keys. The value cannot be removed by
// Prune while fn runs.
func (s *Shards[T]) With(key string, create func() *T, fn func(*T)) bool {
	sh := s.shardFor(key)
	sh.mu.RLock()
	if item, ok := sh.items[key]; ok {
		fn(item)
		sh.mu.RUnlock()
		return true
	}
	sh.mu.RUnlock()
	if create == nil {
		return false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	item, ok := sh.items[key]
	if !ok {
		item = create()
		sh.items[key] = item
	}
	fn(item)
	return true
}

// Range visits every value until fn returns false.
func (s *Shards[T]) Range(fn func(key string, item *T) bool) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key, item := range sh.items {
			if !fn(key, item) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// Prune removes every value for which drop returns true and reports how many
// were removed.
func (s *Shards[T]) Prune(drop func(key string, item *T) bool) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, item := range sh.items {
			if drop(key, item) {
				delete(sh.items, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Shards[T]) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		total += len(sh.items)
		sh.mu.RUnlock()
	}
	return total
}

func (s *Shards[T]) Clear() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.items = make(map[string]*T)
		sh.mu.Unlock()
	}
}
