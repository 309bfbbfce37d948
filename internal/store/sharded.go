// Package store provides the keyed in-memory stores behind the admission
// engine and the SQLite store that persists engine settings.
package store

import (
	"fmt"
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Sharded is a bounded map from string keys to *V split across independently
// locked shards. Each shard evicts its least recently updated key once full.
// It is safe for concurrent use; callers must not retain the *V handed to
// callbacks after the callback returns.
type Sharded[V any] struct {
	shards []*shard[V]
	newFn  func(key string) *V
}

type shard[V any] struct {
	mu    sync.RWMutex
	items *lru.Cache[string, *V]
}

// NewSharded creates a store with shardCount shards holding at most capacity
// keys in total. newFn builds the zero record for a key on first update.
func NewSharded[V any](shardCount, capacity int, newFn func(key string) *V) (*Sharded[V], error) {
	if shardCount <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", shardCount)
	}
	if capacity < shardCount {
		return nil, fmt.Errorf("capacity %d is smaller than shard count %d", capacity, shardCount)
	}

	perShard := capacity / shardCount
	s := &Sharded[V]{
		shards: make([]*shard[V], shardCount),
		newFn:  newFn,
	}
	for i := range s.shards {
		c, err := lru.New[string, *V](perShard)
		if err != nil {
			return nil, fmt.Errorf("creating shard %d: %w", i, err)
		}
		s.shards[i] = &shard[V]{items: c}
	}
	return s, nil
}

func (s *Sharded[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Update runs fn on the record for key, creating it first if needed.
// fn runs under the shard's write lock and must not block.
func (s *Sharded[V]) Update(key string, fn func(v *V)) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v, ok := sh.items.Get(key)
	if !ok {
		v = s.newFn(key)
		sh.items.Add(key, v)
	}
	fn(v)
}

// Modify runs fn on the record for key only if it exists, and reports whether it did.
func (s *Sharded[V]) Modify(key string, fn func(v *V)) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v, ok := sh.items.Get(key)
	if !ok {
		return false
	}
	fn(v)
	return true
}

// View runs fn on the record for key without creating it.
// It reports whether the key exists. fn must treat v as read-only.
func (s *Sharded[V]) View(key string, fn func(v *V)) bool {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	v, ok := sh.items.Peek(key)
	if !ok {
		return false
	}
	fn(v)
	return true
}

// Range calls fn for every record, one shard at a time, until fn returns false.
// Each shard is read-locked only while it is being visited, so the walk is a
// per-shard consistent view rather than a global one. fn must treat v as read-only.
func (s *Sharded[V]) Range(fn func(key string, v *V) bool) {
	for _, sh := range s.shards {
		if !s.rangeShard(sh, fn) {
			return
		}
	}
}

func (s *Sharded[V]) rangeShard(sh *shard[V], fn func(key string, v *V) bool) bool {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	for _, key := range sh.items.Keys() {
		v, ok := sh.items.Peek(key)
		if !ok {
			continue
		}
		if !fn(key, v) {
			return false
		}
	}
	return true
}

// Len returns the number of records across all shards.
func (s *Sharded[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += sh.items.Len()
		sh.mu.RUnlock()
	}
	return n
}
