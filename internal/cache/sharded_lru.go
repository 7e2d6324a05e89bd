package cache

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
)

// minShardedEntries keeps freelru from collapsing to a handful of slots per shard.
const minShardedEntries = 256

// ShardedLRUBlockCache is a sharded LRU cache for high-concurrency workloads.
// Capacity is counted in blocks; record blocks are roughly uniform in size.
type ShardedLRUBlockCache struct {
	lru *freelru.ShardedLRU[BlockKey, []byte]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewShardedLRUBlockCache creates a sharded cache holding up to maxBlocks blocks.
func NewShardedLRUBlockCache(maxBlocks int) (*ShardedLRUBlockCache, error) {
	if maxBlocks < minShardedEntries {
		maxBlocks = minShardedEntries
	}

	lru, err := freelru.NewSharded[BlockKey, []byte](uint32(maxBlocks), hashBlockKey)
	if err != nil {
		return nil, err
	}

	return &ShardedLRUBlockCache{lru: lru}, nil
}

func hashBlockKey(k BlockKey) uint32 {
	d := xxhash.New()
	_, _ = d.WriteString(k.Path)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k.Offset)
	_, _ = d.Write(buf[:])

	return uint32(d.Sum64())
}

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(_ context.Context, key BlockKey) ([]byte, bool) {
	b, ok := s.lru.Get(key)
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return b, ok
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(_ context.Context, key BlockKey, b []byte) {
	s.lru.Add(key, b)
}

// Invalidate removes entries matching the predicate.
// This walks every key, which is expensive but rare.
func (s *ShardedLRUBlockCache) Invalidate(predicate func(key BlockKey) bool) {
	for _, k := range s.lru.Keys() {
		if predicate(k) {
			s.lru.Remove(k)
		}
	}
}

// Close drops all blocks.
func (s *ShardedLRUBlockCache) Close() error {
	s.lru.Purge()
	return nil
}

// Stats returns hit/miss counters.
func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// Len returns the number of cached blocks.
func (s *ShardedLRUBlockCache) Len() int {
	return s.lru.Len()
}
