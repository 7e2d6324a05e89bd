package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/rollwin/core"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MaxHighFetches is the number of fetch slots reserved for high-priority work.
	// If 0, defaults to 4.
	MaxHighFetches int64

	// MaxTotalFetches caps high plus low fetches in flight. Low-priority work gets
	// MaxTotalFetches - MaxHighFetches slots (at least 1).
	// If 0, defaults to 8.
	MaxTotalFetches int64

	// MemoryLimitBytes is the hard limit for cached payload bytes.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxBackgroundWorkers is the maximum number of concurrent background jobs
	// (eviction passes). If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec is the maximum record-store read throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages the fetch pools, memory accounting, background slots and
// IO budget of one engine.
type Controller struct {
	cfg Config

	// Fetch pools
	highSem     *semaphore.Weighted
	lowSem      *semaphore.Weighted
	runningHigh atomic.Int64
	runningLow  atomic.Int64

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Concurrency
	bgSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxHighFetches <= 0 {
		cfg.MaxHighFetches = 4
	}
	if cfg.MaxTotalFetches <= 0 {
		cfg.MaxTotalFetches = 8
	}
	if cfg.MaxTotalFetches <= cfg.MaxHighFetches {
		cfg.MaxTotalFetches = cfg.MaxHighFetches + 1
	}
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:     cfg,
		highSem: semaphore.NewWeighted(cfg.MaxHighFetches),
		lowSem:  semaphore.NewWeighted(cfg.MaxTotalFetches - cfg.MaxHighFetches),
		bgSem:   semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

func (c *Controller) pool(p core.Priority) (*semaphore.Weighted, *atomic.Int64) {
	if p == core.PriorityHigh {
		return c.highSem, &c.runningHigh
	}
	return c.lowSem, &c.runningLow
}

// AcquireFetch blocks until a slot of the priority's pool is free or ctx is done.
// High-priority slots are reserved: low-priority work never consumes them.
func (c *Controller) AcquireFetch(ctx context.Context, p core.Priority) error {
	if c == nil {
		return nil
	}
	sem, running := c.pool(p)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	running.Add(1)
	return nil
}

// TryAcquireFetch attempts to reserve a fetch slot without blocking.
func (c *Controller) TryAcquireFetch(p core.Priority) bool {
	if c == nil {
		return true
	}
	sem, running := c.pool(p)
	if !sem.TryAcquire(1) {
		return false
	}
	running.Add(1)
	return true
}

// ReleaseFetch releases a fetch slot acquired for the given priority.
func (c *Controller) ReleaseFetch(p core.Priority) {
	if c == nil {
		return
	}
	sem, running := c.pool(p)
	running.Add(-1)
	sem.Release(1)
}

// Running returns the number of fetches currently holding a slot per pool.
func (c *Controller) Running() (high, low int64) {
	if c == nil {
		return 0, 0
	}
	return c.runningHigh.Load(), c.runningLow.Load()
}

// FetchLimits returns the configured high and total fetch caps.
func (c *Controller) FetchLimits() (high, total int64) {
	if c == nil {
		return 0, 0
	}
	return c.cfg.MaxHighFetches, c.cfg.MaxTotalFetches
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireBackground attempts to reserve a background worker slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground attempts to reserve a background worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the burst are split so they never fail outright.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// TryAcquireIO attempts to acquire IO tokens without blocking.
// Returns true if tokens were acquired, false otherwise.
func (c *Controller) TryAcquireIO(bytes int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), bytes)
}
