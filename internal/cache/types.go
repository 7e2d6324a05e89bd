package cache

import (
	"context"
)

// BlockKey identifies an immutable block of a blob.
type BlockKey struct {
	// Path is the blob name inside its store.
	Path string
	// Offset is the block's byte offset inside the blob.
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key BlockKey) (b []byte, ok bool)
	// Set caches a block. Implementations may copy or retain; caller must treat b as immutable.
	Set(ctx context.Context, key BlockKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key BlockKey) bool)
	// Close releases any resources.
	Close() error
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
