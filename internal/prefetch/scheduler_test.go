package prefetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/resource"
)

type loadCall struct {
	r       core.Range
	variant string
	ctx     context.Context
	at      time.Time
}

type fakeLoader struct {
	mu      sync.Mutex
	calls   []loadCall
	block   bool
	release chan struct{}
	once    sync.Once
	onStart func(loadCall)
	results chan error
}

func newFakeLoader(block bool) *fakeLoader {
	return &fakeLoader{
		block:   block,
		release: make(chan struct{}),
		results: make(chan error, 1024),
	}
}

func (f *fakeLoader) EnsureRangeLoaded(ctx context.Context, a, b int, variant string) error {
	c := loadCall{r: core.R(a, b), variant: variant, ctx: ctx, at: time.Now()}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	onStart := f.onStart
	f.mu.Unlock()

	if onStart != nil {
		onStart(c)
	}

	var err error
	if f.block {
		select {
		case <-f.release:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	f.results <- err
	return err
}

func (f *fakeLoader) Calls() []loadCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]loadCall(nil), f.calls...)
}

func (f *fakeLoader) ranges() []core.Range {
	var out []core.Range
	for _, c := range f.Calls() {
		out = append(out, c.r)
	}
	return out
}

func (f *fakeLoader) ReleaseAll() {
	f.once.Do(func() { close(f.release) })
}

func quickConfig() Config {
	return Config{
		Total:        31102,
		PumpInterval: 10 * time.Millisecond,
		LowDebounce:  20 * time.Millisecond,
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Zero(t, cfg.MinBatch, "zero MinBatch disables expansion")
	assert.Equal(t, DefaultPumpInterval, cfg.PumpInterval)
	assert.Equal(t, DefaultLowDebounce, cfg.LowDebounce)
	assert.Equal(t, DefaultRunwayLength, cfg.RunwayLength)
	assert.InDelta(t, DefaultRunwayThreshold, cfg.RunwayThreshold, 0)
	assert.Equal(t, DefaultRefillSlab, cfg.RefillSlab)
	assert.InDelta(t, DefaultRefillFactor, cfg.RefillFactor, 0)
	assert.NotNil(t, cfg.Logger)

	assert.Zero(t, Config{MinBatch: -5}.withDefaults().MinBatch)
	assert.Equal(t, DefaultMinBatch, Config{MinBatch: DefaultMinBatch}.withDefaults().MinBatch)
}

func TestScheduler_UnboundedStateReportsNothingRunning(t *testing.T) {
	l := newFakeLoader(true)
	s := New(l, quickConfig())
	defer s.Close()

	s.Enqueue(core.R(0, 9), core.PriorityHigh, "kjv")
	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)

	st := s.State()
	assert.Zero(t, st.RunningHigh)
	assert.Zero(t, st.MaxHigh)
	l.ReleaseAll()
}

func TestScheduler_MergesOverlappingHighs(t *testing.T) {
	l := newFakeLoader(false)
	s := New(l, quickConfig())
	defer s.Close()

	s.Enqueue(core.R(100, 200), core.PriorityHigh, "kjv")
	s.Enqueue(core.R(150, 250), core.PriorityHigh, "kjv")

	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, []core.Range{core.R(100, 250)}, l.ranges())
}

func TestScheduler_ExpandsToMinBatch(t *testing.T) {
	l := newFakeLoader(false)
	cfg := quickConfig()
	cfg.MinBatch = DefaultMinBatch
	s := New(l, cfg)
	defer s.Close()

	s.Enqueue(core.R(100, 200), core.PriorityHigh, "kjv")
	s.Enqueue(core.R(150, 250), core.PriorityHigh, "kjv")

	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []core.Range{core.R(100, 399)}, l.ranges())
}

func TestScheduler_ExpansionClampsToTotal(t *testing.T) {
	l := newFakeLoader(false)
	cfg := quickConfig()
	cfg.Total = 1000
	cfg.MinBatch = 300
	s := New(l, cfg)
	defer s.Close()

	s.Enqueue(core.R(900, 950), core.PriorityHigh, "kjv")

	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []core.Range{core.R(900, 999)}, l.ranges())
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		in   []core.Range
		want []core.Range
	}{
		{"empty", nil, nil},
		{"adjacent", []core.Range{core.R(10, 19), core.R(0, 9)}, []core.Range{core.R(0, 19)}},
		{"gap", []core.Range{core.R(0, 9), core.R(11, 19)}, []core.Range{core.R(0, 9), core.R(11, 19)}},
		{"nested", []core.Range{core.R(0, 100), core.R(10, 20)}, []core.Range{core.R(0, 100)}},
		{"chain", []core.Range{core.R(20, 30), core.R(0, 10), core.R(5, 25)}, []core.Range{core.R(0, 30)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, merge(tt.in))
		})
	}
}

func TestScheduler_VariantsArePartitioned(t *testing.T) {
	l := newFakeLoader(false)
	s := New(l, quickConfig())
	defer s.Close()

	s.Enqueue(core.R(0, 9), core.PriorityHigh, "kjv")
	s.Enqueue(core.R(0, 9), core.PriorityHigh, "web")

	require.Eventually(t, func() bool { return len(l.Calls()) == 2 }, time.Second, time.Millisecond)

	variants := map[string]bool{}
	for _, c := range l.Calls() {
		variants[c.variant] = true
	}
	assert.Len(t, variants, 2)
}

func TestScheduler_DiscardsInvalidRanges(t *testing.T) {
	l := newFakeLoader(false)
	cfg := quickConfig()
	cfg.Total = 100
	s := New(l, cfg)
	defer s.Close()

	assert.False(t, s.Enqueue(core.R(10, 5), core.PriorityHigh, "kjv"))
	assert.True(t, s.Enqueue(core.R(500, 600), core.PriorityHigh, "kjv"))
	assert.True(t, s.Enqueue(core.R(90, 150), core.PriorityHigh, "kjv"))

	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []core.Range{core.R(90, 99)}, l.ranges())
}

func TestScheduler_PumpIsThrottled(t *testing.T) {
	l := newFakeLoader(false)

	var mu sync.Mutex
	var pumps []time.Time
	cfg := quickConfig()
	cfg.PumpInterval = 80 * time.Millisecond
	cfg.Hooks.OnPump = func(int, int) {
		mu.Lock()
		pumps = append(pumps, time.Now())
		mu.Unlock()
	}
	s := New(l, cfg)
	defer s.Close()

	s.Enqueue(core.R(0, 9), core.PriorityHigh, "kjv")
	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)

	s.Enqueue(core.R(100, 109), core.PriorityHigh, "kjv")
	require.Eventually(t, func() bool { return len(l.Calls()) == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pumps, 2)
	assert.GreaterOrEqual(t, pumps[1].Sub(pumps[0]), 75*time.Millisecond)
}

func TestScheduler_LowIsDebounced(t *testing.T) {
	l := newFakeLoader(false)

	var pumped atomic.Int64
	cfg := quickConfig()
	cfg.LowDebounce = 100 * time.Millisecond
	cfg.Hooks.OnPump = func(int, int) { pumped.Store(time.Now().UnixNano()) }
	s := New(l, cfg)
	defer s.Close()

	s.Enqueue(core.R(0, 9), core.PriorityLow, "kjv")

	require.Eventually(t, func() bool { return s.State().LowPending }, time.Second, time.Millisecond)
	assert.Empty(t, l.Calls())

	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)
	elapsed := l.Calls()[0].at.Sub(time.Unix(0, pumped.Load()))
	assert.GreaterOrEqual(t, elapsed, 95*time.Millisecond)
	assert.False(t, s.State().LowPending)
}

func TestScheduler_PendingLowBatchSuperseded(t *testing.T) {
	l := newFakeLoader(false)

	var cancelledPending atomic.Int32
	cfg := quickConfig()
	cfg.LowDebounce = 200 * time.Millisecond
	cfg.Hooks.OnBatchCancel = func(_ int, started bool) {
		if !started {
			cancelledPending.Add(1)
		}
	}
	s := New(l, cfg)
	defer s.Close()

	s.Enqueue(core.R(1000, 1500), core.PriorityLow, "kjv")
	require.Eventually(t, func() bool { return s.State().LowPending }, time.Second, time.Millisecond)

	s.Enqueue(core.R(2000, 2500), core.PriorityLow, "kjv")
	require.Eventually(t, func() bool { return cancelledPending.Load() == 1 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return len(l.Calls()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []core.Range{core.R(2000, 2500)}, l.ranges())
}

func TestScheduler_RunningLowBatchCancelledBeforeNextStarts(t *testing.T) {
	l := newFakeLoader(true)
	defer l.ReleaseAll()

	var (
		firstCtx            atomic.Value
		cancelledBeforeNext atomic.Bool
		secondStarted       atomic.Bool
		cancelledRunning    atomic.Int32
	)
	l.onStart = func(c loadCall) {
		switch c.r {
		case core.R(1000, 1500):
			firstCtx.Store(c.ctx)
		case core.R(2000, 2500):
			if ctx, ok := firstCtx.Load().(context.Context); ok && ctx.Err() != nil {
				cancelledBeforeNext.Store(true)
			}
			secondStarted.Store(true)
		}
	}

	cfg := quickConfig()
	cfg.Hooks.OnBatchCancel = func(_ int, started bool) {
		if started {
			cancelledRunning.Add(1)
		}
	}
	s := New(l, cfg)
	defer s.Close()

	s.Enqueue(core.R(1000, 1500), core.PriorityLow, "kjv")
	require.Eventually(t, func() bool { return firstCtx.Load() != nil }, time.Second, time.Millisecond)

	s.Enqueue(core.R(2000, 2500), core.PriorityLow, "kjv")
	require.Eventually(t, secondStarted.Load, time.Second, time.Millisecond)

	assert.True(t, cancelledBeforeNext.Load(), "first batch must be cancelled before the second starts")
	assert.Equal(t, int32(1), cancelledRunning.Load())

	select {
	case err := <-l.results:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("first batch did not observe cancellation")
	}
}

func TestScheduler_HighIsNeverCancelledByLowTurnover(t *testing.T) {
	l := newFakeLoader(true)
	defer l.ReleaseAll()

	var highCtx atomic.Value
	var lowStarts atomic.Int32
	l.onStart = func(c loadCall) {
		if c.r.Start == 0 {
			highCtx.Store(c.ctx)
			return
		}
		lowStarts.Add(1)
	}

	s := New(l, quickConfig())
	defer s.Close()

	s.Enqueue(core.R(0, 99), core.PriorityHigh, "kjv")
	s.Enqueue(core.R(1000, 1099), core.PriorityLow, "kjv")
	require.Eventually(t, func() bool { return lowStarts.Load() == 1 }, time.Second, time.Millisecond)

	s.Enqueue(core.R(5000, 5099), core.PriorityLow, "kjv")
	require.Eventually(t, func() bool { return lowStarts.Load() == 2 }, time.Second, time.Millisecond)

	ctx, ok := highCtx.Load().(context.Context)
	require.True(t, ok)
	assert.NoError(t, ctx.Err())
}

func TestScheduler_PoolLimits(t *testing.T) {
	l := newFakeLoader(true)
	rc := resource.NewController(resource.Config{MaxHighFetches: 2, MaxTotalFetches: 3})

	cfg := quickConfig()
	cfg.Resources = rc
	s := New(l, cfg)
	defer s.Close()

	for i := range 5 {
		s.Enqueue(core.R(i*1000, i*1000+9), core.PriorityHigh, "kjv")
	}
	for i := range 3 {
		s.Enqueue(core.R(20000+i*1000, 20000+i*1000+9), core.PriorityLow, "kjv")
	}

	require.Eventually(t, func() bool {
		st := s.State()
		return st.RunningHigh == 2 && st.RunningLow == 1
	}, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	st := s.State()
	assert.Equal(t, int64(2), st.RunningHigh)
	assert.Equal(t, int64(1), st.RunningLow)
	assert.Equal(t, int64(2), st.MaxHigh)
	assert.Equal(t, int64(3), st.MaxTotal)

	high, low := rc.Running()
	assert.Equal(t, st.RunningHigh, high)
	assert.Equal(t, st.RunningLow, low)

	l.ReleaseAll()
	require.Eventually(t, func() bool { return s.State().Processed == 80 }, time.Second, time.Millisecond)
	assert.Len(t, l.Calls(), 8)
	assert.Len(t, s.State().Recent, 8)
}

func TestScheduler_Runway(t *testing.T) {
	l := newFakeLoader(false)
	cfg := quickConfig()
	cfg.Total = 5000
	s := New(l, cfg)
	defer s.Close()

	_, ok := s.Runway(1000, 10, "kjv")
	assert.False(t, ok)

	r, ok := s.Runway(1000, 25, "kjv")
	require.True(t, ok)
	assert.Equal(t, core.R(1001, 2000), r)

	r, ok = s.Runway(1000, -25, "kjv")
	require.True(t, ok)
	assert.Equal(t, core.R(0, 999), r)

	r, ok = s.Runway(4500, 30, "kjv")
	require.True(t, ok)
	assert.Equal(t, core.R(4501, 4999), r)

	_, ok = s.Runway(0, -30, "kjv")
	assert.False(t, ok, "no room behind index 0")

	_, ok = s.Runway(4999, 30, "kjv")
	assert.False(t, ok, "no room past the end")
}

func TestScheduler_RunwayMobileThreshold(t *testing.T) {
	cfg := quickConfig()
	cfg.RunwayThreshold = 6
	s := New(newFakeLoader(false), cfg)
	defer s.Close()

	_, ok := s.Runway(1000, 6.5, "kjv")
	assert.True(t, ok)
}

func TestScheduler_Refill(t *testing.T) {
	l := newFakeLoader(false)
	cfg := quickConfig()
	cfg.Total = 5000
	s := New(l, cfg)
	defer s.Close()

	// 1.2 × 120 = 144 rows ahead required
	_, ok := s.Refill(1000, core.R(700, 1144), 120, "kjv")
	assert.False(t, ok)

	r, ok := s.Refill(1000, core.R(700, 1143), 120, "kjv")
	require.True(t, ok)
	assert.Equal(t, core.R(1001, 1600), r)

	r, ok = s.Refill(4900, core.R(4700, 4999), 120, "kjv")
	require.True(t, ok)
	assert.Equal(t, core.R(4901, 4999), r)
}

func TestScheduler_Close(t *testing.T) {
	l := newFakeLoader(true)
	cfg := quickConfig()
	cfg.LowDebounce = time.Hour
	s := New(l, cfg)

	s.Enqueue(core.R(0, 9), core.PriorityHigh, "kjv")
	s.Enqueue(core.R(100, 109), core.PriorityLow, "kjv")
	require.Eventually(t, func() bool { return len(l.Calls()) == 1 && s.State().LowPending }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel running work")
	}

	require.ErrorIs(t, <-l.results, context.Canceled)
	assert.False(t, s.Enqueue(core.R(0, 9), core.PriorityHigh, "kjv"))
	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.Len(t, l.Calls(), 1)
}
