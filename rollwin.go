package rollwin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/internal/anchor"
	"github.com/hupe1980/rollwin/internal/cache"
	"github.com/hupe1980/rollwin/internal/loader"
	"github.com/hupe1980/rollwin/internal/prefetch"
	"github.com/hupe1980/rollwin/internal/window"
	"github.com/hupe1980/rollwin/resource"
)

// Fetcher resolves a batch of indices of one variant to records. It must
// honor ctx cancellation. recordstore.Store implements it.
type Fetcher = loader.Fetcher

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc = loader.FetcherFunc

type (
	// Sample is one scroll position reading fed to Run.
	Sample = anchor.Sample
	// Source produces scroll samples; closing its channel stops Run.
	Source = anchor.Source
	// ChanSource adapts a channel to Source.
	ChanSource = anchor.ChanSource
	// AnchorState is the tracked center index and velocity.
	AnchorState = anchor.State
	// Windows is the planned render, safety and background triple.
	Windows = window.Windows
	// CacheStats is a snapshot of the item cache.
	CacheStats = cache.ItemStats
	// SchedulerState is a snapshot of the prefetch scheduler.
	SchedulerState = prefetch.State
)

// Item is the renderer's view of one index.
type Item struct {
	Index int
	// Status is zero for an index that was never scheduled.
	Status core.Status
	Text   string
	Err    error
}

// Ready reports whether Text holds the payload.
func (it Item) Ready() bool { return it.Status == core.StatusReady }

// Stats is a diagnostic snapshot of an Engine.
type Stats struct {
	Variant   string
	Total     int
	Version   uint64
	Paused    bool
	Anchor    AnchorState
	Windows   Windows
	Cache     CacheStats
	Scheduler SchedulerState
	// MemoryBytes is the payload size charged to the resource controller.
	MemoryBytes  int64
	Runways      int64
	Refills      int64
	BatchCancels int64
}

// Engine owns the anchor tracker, window planner, item cache, range loader
// and prefetch scheduler of one scrolling view.
//
// Every anchor change replans the windows. A changed plan pins the render
// range, enqueues the safety range at high priority and the background range
// at low priority. Runways, proximity refills and direction-biased eviction
// are evaluated on every anchor change.
type Engine struct {
	profile Profile
	logger  *Logger
	metrics MetricsCollector

	rc      *resource.Controller
	tracker *anchor.Tracker
	planner *window.Planner
	cache   *cache.ItemCache
	loader  *loader.Loader
	sched   *prefetch.Scheduler

	mu      sync.Mutex
	variant string
	total   int
	anchor  AnchorState
	windows Windows
	paused  bool
	closed  bool

	runways      atomic.Int64
	refills      atomic.Int64
	batchCancels atomic.Int64
}

// New creates an Engine over a dataset of total items and plans the initial
// windows at index 0.
func New(f Fetcher, total int, optFns ...Option) (*Engine, error) {
	if f == nil {
		return nil, ErrNilFetcher
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total %d", ErrInvalidConfig, total)
	}

	o := applyOptions(optFns)
	if err := o.profile.Validate(); err != nil {
		return nil, err
	}
	if o.variant == "" {
		return nil, fmt.Errorf("%w: empty variant", ErrInvalidConfig)
	}

	p := o.profile
	rc := o.resources
	if rc == nil {
		rc = resource.NewController(resource.Config{
			MaxHighFetches:       p.MaxHighFetches,
			MaxTotalFetches:      p.MaxTotalFetches,
			MemoryLimitBytes:     o.memoryLimit,
			MaxBackgroundWorkers: 1,
			IOLimitBytesPerSec:   o.ioLimit,
		})
	}

	e := &Engine{
		profile: p,
		logger:  o.logger,
		metrics: o.metricsCollector,
		rc:      rc,
		variant: o.variant,
		total:   total,
	}

	base := o.logger.Logger
	cacheOpts := []cache.ItemOption{
		cache.WithResourceController(rc),
		cache.WithLogger(base.With("component", "cache")),
		cache.WithIdleDelay(p.EvictionDelay),
		cache.WithEvictionHook(e.onEvict),
	}
	if o.clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(o.clock))
	}
	e.cache = cache.NewItemCache(cacheOpts...)

	e.loader = loader.New(e.cache, f, loader.Config{
		ChunkSize: p.ChunkSize,
		Logger:    base.With("component", "loader"),
		Hooks: loader.Hooks{
			OnFetch:  e.onFetch,
			OnCancel: e.metrics.RecordCancel,
		},
	})

	e.sched = prefetch.New(e.loader, prefetch.Config{
		Total:           total,
		MinBatch:        p.MinBatch,
		PumpInterval:    p.PumpInterval,
		LowDebounce:     p.LowDebounce,
		RunwayLength:    p.RunwayLength,
		RunwayThreshold: p.RunwayThreshold,
		RefillSlab:      p.RefillSlab,
		RefillFactor:    p.RefillFactor,
		Resources:       rc,
		Logger:          base.With("component", "prefetch"),
		Hooks: prefetch.Hooks{
			OnPump:        e.metrics.RecordPump,
			OnBatchCancel: e.onBatchCancel,
		},
	})

	e.tracker = anchor.New(p.anchorConfig(), total)
	e.planner = window.NewPlanner(base.With("component", "window"))

	e.update(e.tracker.State())
	return e, nil
}

func (e *Engine) onFetch(variant string, requested int, elapsed time.Duration, err error) {
	e.metrics.RecordFetch(variant, requested, elapsed, err)
	e.logger.LogFetch(context.Background(), variant, requested, elapsed, err)
}

func (e *Engine) onEvict(variant string, removed int) {
	e.metrics.RecordEviction(variant, removed)
	e.logger.LogEviction(context.Background(), variant, removed, e.cache.Len())
}

func (e *Engine) onBatchCancel(int, bool) {
	e.batchCancels.Add(1)
}

// Frame feeds a viewport reading taken on a frame tick.
func (e *Engine) Frame(offset, viewport float64, now time.Time) AnchorState {
	st, changed := e.tracker.Frame(offset, viewport, now)
	if changed {
		e.update(st)
	}
	return st
}

// Scroll feeds one raw scroll sample.
func (e *Engine) Scroll(offset float64, now time.Time) AnchorState {
	st, changed := e.tracker.Scroll(offset, now)
	if changed {
		e.update(st)
	}
	return st
}

// Run drives the engine from src until ctx is done or the sample channel is
// closed. Frame ticks use the profile's FrameInterval.
func (e *Engine) Run(ctx context.Context, src Source) error {
	return e.tracker.Run(ctx, src, e.profile.FrameInterval, e.update)
}

// update replans for st and feeds the scheduler and the eviction policy.
func (e *Engine) update(st AnchorState) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	variant, total, paused := e.variant, e.total, e.paused
	w, changed := e.planner.Plan(window.Input{
		Stepped:  st.SteppedIndex,
		Total:    total,
		Device:   e.profile.Device,
		Velocity: st.Velocity,
		Columns:  e.profile.Columns,
		Margins:  &e.profile.Margins,
	})
	e.anchor = st
	e.windows = w
	e.mu.Unlock()

	ctx := context.Background()

	if changed {
		e.cache.ClearPins(variant)
		e.cache.MarkPinned(variant, w.Render)
		e.logger.LogWindows(ctx, variant, st.CenterIndex, st.Velocity, w.Render, w.Safety, w.Background)
	}

	if paused {
		return
	}

	if changed {
		e.sched.Enqueue(w.Safety, core.PriorityHigh, variant)
		e.sched.Enqueue(w.Background, core.PriorityLow, variant)
	}

	if r, ok := e.sched.Runway(st.CenterIndex, st.Velocity, variant); ok {
		e.runways.Add(1)
		e.logger.LogRunway(ctx, variant, st.CenterIndex, st.Velocity, r)
	}
	if _, ok := e.sched.Refill(st.CenterIndex, w.Safety, window.RenderRows(e.profile.Columns), variant); ok {
		e.refills.Add(1)
	}

	e.cache.ScheduleEviction(evictOptions(variant, st.Velocity, w, e.profile))
}

// evictOptions protects the wider window in the scroll direction and trims
// behind first.
func evictOptions(variant string, velocity float64, w Windows, p Profile) cache.EvictOptions {
	forward, backward := w.Safety, w.Safety
	if core.Direction(velocity) > 0 {
		forward = w.Background
	} else {
		backward = w.Background
	}
	return cache.EvictOptions{
		Variant:   variant,
		Forward:   forward,
		Backward:  backward,
		HighWater: p.HighWater,
		Target:    p.Target,
		TTL:       p.TTL,
	}
}

// replan forgets the memoized windows and plans again from the current anchor.
func (e *Engine) replan() {
	e.planner.Reset()
	e.update(e.tracker.State())
}

// SetVariant switches the dataset variant. Cached items of other variants
// stay until evicted.
func (e *Engine) SetVariant(variant string) error {
	if variant == "" {
		return fmt.Errorf("%w: empty variant", ErrInvalidConfig)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	old := e.variant
	e.variant = variant
	e.mu.Unlock()

	if old == variant {
		return nil
	}
	e.cache.ClearPins(old)
	e.replan()
	return nil
}

// Variant returns the active variant.
func (e *Engine) Variant() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.variant
}

// SetTotal changes the dataset size and re-clamps the anchor.
func (e *Engine) SetTotal(total int) error {
	if total < 0 {
		return fmt.Errorf("%w: negative total %d", ErrInvalidConfig, total)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.total = total
	e.mu.Unlock()

	e.tracker.SetTotal(total)
	e.sched.SetTotal(total)
	e.replan()
	return nil
}

// Total returns the dataset size.
func (e *Engine) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// SetPaused stops prefetching and eviction while the user drags the
// scrollbar. The render range keeps following the anchor. Resuming replans
// from the current anchor.
func (e *Engine) SetPaused(paused bool) {
	e.mu.Lock()
	was := e.paused
	e.paused = paused
	e.mu.Unlock()

	if was && !paused {
		e.replan()
	}
}

// RenderRange returns the range the renderer should draw.
func (e *Engine) RenderRange() core.Range {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.windows.Render
}

// Windows returns the current window triple.
func (e *Engine) Windows() Windows {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.windows
}

// Anchor returns the last anchor state.
func (e *Engine) Anchor() AnchorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.anchor
}

// ReadItem returns the cached state of (variant, index) and marks it accessed.
func (e *Engine) ReadItem(variant string, index int) Item {
	ent, ok := e.cache.Read(variant, index)
	if !ok {
		return Item{Index: index}
	}
	return Item{Index: index, Status: ent.Status, Text: ent.Text, Err: ent.Err}
}

// RenderItems reads every item of the render range of the active variant.
func (e *Engine) RenderItems() []Item {
	e.mu.Lock()
	variant, r := e.variant, e.windows.Render
	e.mu.Unlock()

	if !r.Valid() {
		return nil
	}
	items := make([]Item, 0, r.Len())
	for i := r.Start; i <= r.End; i++ {
		items = append(items, e.ReadItem(variant, i))
	}
	return items
}

// Version increases whenever an item becomes ready or fails.
func (e *Engine) Version() uint64 {
	return e.cache.Version()
}

// Subscribe calls fn after every version change. fn runs on loader
// goroutines and must not block. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func()) func() {
	return e.cache.Subscribe(fn)
}

// Resources returns the controller holding the fetch pools, memory budget
// and IO budget. Pass it to a fetcher to share the IO budget.
func (e *Engine) Resources() *resource.Controller {
	return e.rc
}

// Stats returns a diagnostic snapshot.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		Variant: e.variant,
		Total:   e.total,
		Paused:  e.paused,
		Anchor:  e.anchor,
		Windows: e.windows,
	}
	e.mu.Unlock()

	s.Version = e.cache.Version()
	s.Cache = e.cache.Stats()
	s.Scheduler = e.sched.State()
	s.MemoryBytes = e.rc.MemoryUsage()
	s.Runways = e.runways.Load()
	s.Refills = e.refills.Load()
	s.BatchCancels = e.batchCancels.Load()
	return s
}
