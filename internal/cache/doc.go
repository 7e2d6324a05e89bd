// Package cache holds the in-memory caches of rollwin.
//
// # Item Cache
//
// ItemCache is the engine's only shared mutable state: per-item fetch status
// keyed by (variant, index), pins for the active render range, the per-variant
// in-flight bitmaps used for fetch deduplication and the version counter the
// renderer watches.
//
// Eviction is driven by scroll geometry rather than recency alone. A pass never
// touches pinned, in-flight or forward entries and removes entries behind the
// scroll direction before anything else:
//
//	expired trailing → trailing → expired other → other
//
// # Block Caches
//
// LRUBlockCache and ShardedLRUBlockCache store immutable blob blocks for
// blobstore.CachingStore. The sharded variant is backed by go-freelru with an
// xxhash key hash and bounds entries rather than bytes.
package cache
