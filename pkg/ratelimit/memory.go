package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 32

type shard struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// MemoryStore keeps windows in process memory. Counters are lost on restart.
type MemoryStore struct {
	shards []*shard
}

// NewMemoryStore creates an in-memory store split into shards.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{shards: make([]*shard, defaultShards)}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*Window)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Apply implements Store.
func (s *MemoryStore) Apply(_ context.Context, key string, max int, window time.Duration, now time.Time) (Result, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	next, res := Decide(sh.windows[key], max, window, now)
	sh.windows[key] = &next
	return res, nil
}

// Sweep implements Store. Shards are locked one at a time.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		sh.mu.Lock()
		for key, w := range sh.windows {
			if now.After(w.ResetAt) {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
