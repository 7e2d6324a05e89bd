// Package resource implements the Controller for per-engine limits.
//
// The Controller provides centralized management of four resource types:
//
//   - Fetch pools: a reserved high-priority pool and a low-priority pool
//   - Memory: track and limit cached payload bytes (non-blocking, fail-fast)
//   - Background: limit concurrent background jobs (eviction passes)
//   - IO: rate-limit record-store reads (token bucket)
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                            Controller                                │
//	├──────────────────┬────────────────┬──────────────┬───────────────────┤
//	│  Fetch pools     │  Memory limit  │  Background  │  IO rate limiter  │
//	│  high (reserved) │  (fail-fast)   │  slots (sem) │  (token bucket)   │
//	│  low (remainder) │                │              │                   │
//	├──────────────────┼────────────────┼──────────────┼───────────────────┤
//	│  AcquireFetch    │  AcquireMemory │  TryAcquire- │  AcquireIO        │
//	│  ReleaseFetch    │  ReleaseMemory │  Background  │  RateLimited-     │
//	│  Running         │  MemoryUsage   │  Release...  │  Reader           │
//	└──────────────────┴────────────────┴──────────────┴───────────────────┘
//
// # Fetch Pools
//
// High-priority (safety window) fetches acquire from a pool of MaxHighFetches
// slots that low-priority work can never touch. Low-priority (background) fetches
// share the remaining MaxTotalFetches - MaxHighFetches slots, so the combined
// number of fetches in flight never exceeds MaxTotalFetches:
//
//	rc := resource.NewController(resource.Config{
//	    MaxHighFetches:  4,
//	    MaxTotalFetches: 8,
//	})
//
//	if err := rc.AcquireFetch(ctx, core.PriorityLow); err != nil {
//	    return err // ctx cancelled while waiting
//	}
//	defer rc.ReleaseFetch(core.PriorityLow)
//
// # Sharing
//
// One Controller may back both a record store and the engine reading from it,
// so block reads and fetches draw from the same IO and memory budgets:
//
//	store := recordstore.New(blobs, recordstore.WithResourceController(rc))
//	e, err := rollwin.New(store, total, rollwin.WithResourceController(rc))
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
