package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rollwin/resource"
)

// LRUBlockCache is a byte-bounded LRU BlockCache.
type LRUBlockCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[BlockKey]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type blockEntry struct {
	key   BlockKey
	value []byte
}

// NewLRUBlockCache creates a new LRU cache with the given capacity in bytes.
// If rc is provided, block bytes are charged against its memory limit.
func NewLRUBlockCache(capacity int64, rc *resource.Controller) *LRUBlockCache {
	return &LRUBlockCache{
		capacity:  capacity,
		items:     make(map[BlockKey]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *LRUBlockCache) Get(_ context.Context, key BlockKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*blockEntry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. Blocks larger than the capacity are not cached.
func (c *LRUBlockCache) Set(_ context.Context, key BlockKey, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newSize := int64(len(b))

	if el, ok := c.items[key]; ok {
		c.evictList.MoveToFront(el)
		ent := el.Value.(*blockEntry)
		oldSize := int64(len(ent.value))

		if newSize > oldSize {
			// Keep the old value if the controller denies the growth.
			if err := c.rc.AcquireMemory(newSize - oldSize); err != nil {
				return
			}
		} else {
			c.rc.ReleaseMemory(oldSize - newSize)
		}

		c.size += newSize - oldSize
		ent.value = b
		c.evict()
		return
	}

	if newSize > c.capacity {
		return
	}

	// Free local capacity first so the released bytes are available to the
	// controller below.
	for c.size+newSize > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}

	if err := c.rc.AcquireMemory(newSize); err != nil {
		return
	}

	el := c.evictList.PushFront(&blockEntry{key, b})
	c.items[key] = el
	c.size += newSize
}

// Invalidate removes entries matching the predicate.
func (c *LRUBlockCache) Invalidate(predicate func(key BlockKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, el := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, el)
		}
	}

	for _, el := range toRemove {
		c.removeElement(el)
	}
}

func (c *LRUBlockCache) evict() {
	for c.size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}
}

// Close drops every block and returns its bytes to the controller.
func (c *LRUBlockCache) Close() error {
	c.Invalidate(func(BlockKey) bool { return true })
	return nil
}

// Stats returns hit/miss counters.
func (c *LRUBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRUBlockCache) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*blockEntry)
	delete(c.items, ent.key)
	size := int64(len(ent.value))
	c.size -= size
	c.rc.ReleaseMemory(size)
}

// Size returns the current size of the cache in bytes.
func (c *LRUBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
