// Package prefetch schedules range loads under two priority pools.
//
// High-priority ranges (the safety buffer) are dispatched on every pump and
// run to completion. Low-priority ranges (background pre-warming) are
// debounced; each pump that carries low ranges replaces the pending low batch,
// and a batch that starts cancels the one running before it.
package prefetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/resource"
)

// Defaults used when a Config field is zero. MinBatch is the exception: zero
// disables expansion, so callers opt in with DefaultMinBatch.
const (
	DefaultMinBatch        = 300
	DefaultPumpInterval    = 100 * time.Millisecond
	DefaultLowDebounce     = 250 * time.Millisecond
	DefaultRunwayLength    = 1000
	DefaultRunwayThreshold = 20.0
	DefaultRefillSlab      = 600
	DefaultRefillFactor    = 1.2

	recentRanges = 20
)

// ErrClosed is returned by operations on a closed Scheduler.
var ErrClosed = errors.New("prefetch: scheduler closed")

// Loader is the work a dispatched range performs.
type Loader interface {
	EnsureRangeLoaded(ctx context.Context, a, b int, variant string) error
}

// Hooks observe scheduling decisions. Nil fields are skipped.
type Hooks struct {
	// OnPump reports the merged high and low range counts of one pump.
	OnPump func(highs, lows int)
	// OnDispatch is called when a range acquires its slot and starts loading.
	OnDispatch func(p core.Priority, variant string, r core.Range)
	// OnBatchCancel is called when a low batch is cancelled, pending or running.
	OnBatchCancel func(ranges int, started bool)
}

// Config parameterizes a Scheduler.
type Config struct {
	// Total is the dataset size ranges are clamped to.
	Total int
	// MinBatch expands shorter merged ranges forward. Zero disables expansion.
	MinBatch int
	// PumpInterval is the minimum time between two pumps.
	PumpInterval time.Duration
	// LowDebounce delays low-priority dispatch.
	LowDebounce time.Duration
	// RunwayLength is the size of a velocity runway.
	RunwayLength int
	// RunwayThreshold is the |rows/s| that triggers a runway.
	RunwayThreshold float64
	// RefillSlab is the size of a proximity refill.
	RefillSlab int
	// RefillFactor × render rows is the ahead distance that triggers a refill.
	RefillFactor float64

	// Resources provides the fetch pools and the running counts of State.
	// Nil means unbounded, and State then reports nothing running.
	Resources *resource.Controller
	Logger    *slog.Logger
	Hooks     Hooks
}

func (c Config) withDefaults() Config {
	if c.MinBatch < 0 {
		c.MinBatch = 0
	}
	if c.PumpInterval <= 0 {
		c.PumpInterval = DefaultPumpInterval
	}
	if c.LowDebounce <= 0 {
		c.LowDebounce = DefaultLowDebounce
	}
	if c.RunwayLength <= 0 {
		c.RunwayLength = DefaultRunwayLength
	}
	if c.RunwayThreshold <= 0 {
		c.RunwayThreshold = DefaultRunwayThreshold
	}
	if c.RefillSlab <= 0 {
		c.RefillSlab = DefaultRefillSlab
	}
	if c.RefillFactor <= 0 {
		c.RefillFactor = DefaultRefillFactor
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

type request struct {
	r       core.Range
	p       core.Priority
	variant string
}

type batchKey struct {
	p       core.Priority
	variant string
}

// lowBatch is one debounced set of low-priority ranges sharing a context.
type lowBatch struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	work   []request
	// outstanding counts dispatched ranges that have not returned.
	outstanding atomic.Int64
}

// State is a diagnostic snapshot.
type State struct {
	Pending     int
	LowPending  bool
	RunningHigh int64
	RunningLow  int64
	MaxHigh     int64
	MaxTotal    int64
	Processed   int64
	Recent      []core.Range
}

// Scheduler merges enqueued ranges and dispatches them to a Loader.
type Scheduler struct {
	cfg    Config
	loader Loader
	rc     *resource.Controller
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	total      int
	pending    []request
	scheduled  bool
	lastPump   time.Time
	pumpTimer  *time.Timer
	lowPending *lowBatch
	lowRunning *lowBatch
	recent     []core.Range
	closed     bool

	processed atomic.Int64
}

// New creates a Scheduler. Construction counts as a pump, so the first
// enqueued requests are coalesced for one PumpInterval.
func New(l Loader, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:      cfg,
		loader:   l,
		rc:       cfg.Resources,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		total:    cfg.Total,
		lastPump: time.Now(),
	}
}

// SetTotal changes the dataset size used for clamping.
func (s *Scheduler) SetTotal(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
}

// Enqueue adds a range for variant. Invalid ranges are discarded. It reports
// whether the range was accepted.
func (s *Scheduler) Enqueue(r core.Range, p core.Priority, variant string) bool {
	if !r.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.pending = append(s.pending, request{r: r, p: p, variant: variant})

	if !s.scheduled {
		s.scheduled = true
		delay := max(0, s.cfg.PumpInterval-time.Since(s.lastPump))
		s.pumpTimer = time.AfterFunc(delay, s.pump)
	}
	return true
}

// Runway enqueues a high-priority range of RunwayLength items strictly in the
// scroll direction when |velocity| reaches RunwayThreshold.
func (s *Scheduler) Runway(center int, velocity float64, variant string) (core.Range, bool) {
	if math.Abs(velocity) < s.cfg.RunwayThreshold {
		return core.EmptyRange, false
	}

	n := s.cfg.RunwayLength
	r := core.R(center+1, center+n)
	if core.Direction(velocity) < 0 {
		r = core.R(center-n, center-1)
	}

	r = s.clamp(r)
	if !r.Valid() || !s.Enqueue(r, core.PriorityHigh, variant) {
		return core.EmptyRange, false
	}

	s.logger.Debug("runway enqueued",
		"variant", variant,
		"center", center,
		"velocity", velocity,
		"range", r.String())
	return r, true
}

// Refill enqueues a high-priority slab ahead of center when the safety range
// extends less than RefillFactor × renderRows past it.
func (s *Scheduler) Refill(center int, safety core.Range, renderRows int, variant string) (core.Range, bool) {
	ahead := safety.End - center
	if float64(ahead) >= s.cfg.RefillFactor*float64(renderRows) {
		return core.EmptyRange, false
	}

	r := s.clamp(core.R(center+1, center+s.cfg.RefillSlab))
	if !r.Valid() || !s.Enqueue(r, core.PriorityHigh, variant) {
		return core.EmptyRange, false
	}

	s.logger.Debug("proximity refill enqueued",
		"variant", variant,
		"center", center,
		"ahead", ahead,
		"range", r.String())
	return r, true
}

func (s *Scheduler) clamp(r core.Range) core.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.Clamp(s.total)
}

// merge sorts ranges by start and joins overlapping or adjacent ones.
func merge(rs []core.Range) []core.Range {
	if len(rs) == 0 {
		return nil
	}

	slices.SortFunc(rs, func(a, b core.Range) int { return a.Start - b.Start })

	out := []core.Range{rs[0]}
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End+1 {
			last.End = max(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// expand grows ranges shorter than minBatch forward, clamped to total.
func expand(rs []core.Range, minBatch, total int) []core.Range {
	if minBatch <= 0 {
		return rs
	}
	for i, r := range rs {
		if r.Len() < minBatch {
			rs[i].End = min(total-1, r.Start+minBatch-1)
		}
	}
	return rs
}

// planLocked groups pending requests by (priority, variant) in first-seen order and
// returns the merged, expanded work for each priority.
func (s *Scheduler) planLocked() (highs, lows []request) {
	var order []batchKey
	groups := make(map[batchKey][]core.Range)

	for _, req := range s.pending {
		r := req.r.Clamp(s.total)
		if !r.Valid() {
			continue
		}
		k := batchKey{req.p, req.variant}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	s.pending = nil

	for _, k := range order {
		for _, r := range expand(merge(groups[k]), s.cfg.MinBatch, s.total) {
			req := request{r: r, p: k.p, variant: k.variant}
			if k.p == core.PriorityHigh {
				highs = append(highs, req)
			} else {
				lows = append(lows, req)
			}
		}
	}
	return highs, lows
}

func (s *Scheduler) pump() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduled = false
	s.pumpTimer = nil
	s.lastPump = time.Now()

	if s.closed || len(s.pending) == 0 {
		return
	}

	highs, lows := s.planLocked()

	if s.cfg.Hooks.OnPump != nil {
		s.cfg.Hooks.OnPump(len(highs), len(lows))
	}

	for _, req := range highs {
		s.dispatchLocked(s.ctx, req, nil)
	}

	if len(lows) == 0 {
		return
	}

	if prev := s.lowPending; prev != nil {
		prev.timer.Stop()
		prev.cancel()
		s.batchCancelled(prev, false)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	b := &lowBatch{ctx: ctx, cancel: cancel, work: lows}
	b.timer = time.AfterFunc(s.cfg.LowDebounce, func() { s.startLow(b) })
	s.lowPending = b
}

func (s *Scheduler) startLow(b *lowBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.lowPending != b {
		return
	}
	s.lowPending = nil

	if prev := s.lowRunning; prev != nil {
		prev.cancel()
		if prev.outstanding.Load() > 0 {
			s.batchCancelled(prev, true)
		}
	}
	s.lowRunning = b

	for _, req := range b.work {
		s.dispatchLocked(b.ctx, req, b)
	}
}

func (s *Scheduler) batchCancelled(b *lowBatch, started bool) {
	s.logger.Debug("low batch cancelled", "ranges", len(b.work), "started", started)
	if s.cfg.Hooks.OnBatchCancel != nil {
		s.cfg.Hooks.OnBatchCancel(len(b.work), started)
	}
}

// dispatchLocked starts req on its own goroutine. b is the owning low batch,
// nil for high-priority work.
func (s *Scheduler) dispatchLocked(ctx context.Context, req request, b *lowBatch) {
	if s.closed {
		return
	}

	if b != nil {
		b.outstanding.Add(1)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if b != nil {
			defer b.outstanding.Add(-1)
		}
		s.run(ctx, req)
	}()
}

func (s *Scheduler) run(ctx context.Context, req request) {
	if err := s.rc.AcquireFetch(ctx, req.p); err != nil {
		s.logger.Debug("fetch slot wait abandoned",
			"priority", req.p.String(),
			"range", req.r.String(),
			"error", err)
		return
	}
	defer s.rc.ReleaseFetch(req.p)

	if s.cfg.Hooks.OnDispatch != nil {
		s.cfg.Hooks.OnDispatch(req.p, req.variant, req.r)
	}
	s.logger.Debug("fetch range",
		"variant", req.variant,
		"priority", req.p.String(),
		"range", req.r.String(),
		"count", req.r.Len())

	if err := s.loader.EnsureRangeLoaded(ctx, req.r.Start, req.r.End, req.variant); err != nil {
		// The loader logs transient failures; cancellations are expected.
		return
	}

	s.processed.Add(int64(req.r.Len()))

	s.mu.Lock()
	s.recent = append(s.recent, req.r)
	if len(s.recent) > recentRanges {
		s.recent = s.recent[len(s.recent)-recentRanges:]
	}
	s.mu.Unlock()
}

// State returns a diagnostic snapshot.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxHigh, maxTotal := s.rc.FetchLimits()
	runningHigh, runningLow := s.rc.Running()
	return State{
		Pending:     len(s.pending),
		LowPending:  s.lowPending != nil,
		RunningHigh: runningHigh,
		RunningLow:  runningLow,
		MaxHigh:     maxHigh,
		MaxTotal:    maxTotal,
		Processed:   s.processed.Load(),
		Recent:      slices.Clone(s.recent),
	}
}

// Close cancels all pending and running work and waits for dispatched
// ranges to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.pending = nil
	if s.pumpTimer != nil {
		s.pumpTimer.Stop()
		s.pumpTimer = nil
	}
	if s.lowPending != nil {
		s.lowPending.timer.Stop()
		s.lowPending.cancel()
		s.lowPending = nil
	}
	s.lowRunning = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
