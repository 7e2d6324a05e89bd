package anchor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestTracker_FrameCenterAndStride(t *testing.T) {
	tr := New(Config{RowHeight: 40}, 31102)

	// (1000 + 400) / 40 = 35
	st, changed := tr.Frame(1000, 800, at(0))
	require.True(t, changed)
	assert.Equal(t, 35, st.CenterIndex)
	assert.Equal(t, 32, st.SteppedIndex)

	// Same row: no emission
	_, changed = tr.Frame(1010, 800, at(16))
	assert.False(t, changed)
}

func TestTracker_FrameClamps(t *testing.T) {
	tr := New(Config{RowHeight: 40}, 100)

	st, _ := tr.Frame(1e9, 800, at(0))
	assert.Equal(t, 99, st.CenterIndex)
	assert.Equal(t, 96, st.SteppedIndex)

	st, _ = tr.Frame(-5000, 800, at(16))
	assert.Equal(t, 0, st.CenterIndex)
}

func TestTracker_SetTotalReclamps(t *testing.T) {
	tr := New(Config{RowHeight: 10}, 1000)
	tr.Frame(5000, 0, at(0))
	require.Equal(t, 500, tr.State().CenterIndex)

	st, changed := tr.SetTotal(100)
	assert.True(t, changed)
	assert.Equal(t, 99, st.CenterIndex)

	_, changed = tr.SetTotal(200)
	assert.False(t, changed)
}

func TestTracker_ScrollVelocityEMA(t *testing.T) {
	tr := New(Config{RowHeight: 10}, 31102)

	_, changed := tr.Scroll(0, at(0))
	assert.False(t, changed, "first sample only sets the baseline")

	// 100 rows in 100ms = 1000 rps, ema = 500
	st, changed := tr.Scroll(1000, at(100))
	require.True(t, changed)
	assert.InDelta(t, 500, st.Velocity, 1e-9)

	// Another 1000 rps sample: ema = 750
	st, changed = tr.Scroll(2000, at(200))
	require.True(t, changed)
	assert.InDelta(t, 750, st.Velocity, 1e-9)
}

func TestTracker_ScrollBackwardIsNegative(t *testing.T) {
	tr := New(Config{RowHeight: 10}, 31102)
	tr.Scroll(10000, at(0))

	st, changed := tr.Scroll(9000, at(100))
	require.True(t, changed)
	assert.Less(t, st.Velocity, 0.0)
}

func TestTracker_SlowScrollStaysZero(t *testing.T) {
	tr := New(Config{RowHeight: 10, Threshold: 6}, 31102)
	tr.Scroll(0, at(0))

	// 2 rows/s never reaches the threshold
	for i := 1; i <= 10; i++ {
		st, changed := tr.Scroll(float64(i)*2, at(i*100))
		assert.False(t, changed)
		assert.Zero(t, st.Velocity)
	}
}

func TestTracker_HoldKeepsVelocityBetweenFlicks(t *testing.T) {
	tr := New(Config{RowHeight: 10, Hold: 200 * time.Millisecond}, 31102)
	tr.Scroll(0, at(0))
	tr.Scroll(1000, at(100)) // fast
	tr.Frame(1000, 0, at(240))

	// Pause sample within hold: ema halves but stays above threshold
	st, _ := tr.Scroll(1000, at(250))
	assert.InDelta(t, 250, st.Velocity, 1e-9)

	// A frame inside the hold window keeps it
	_, changed := tr.Frame(1000, 0, at(400))
	assert.False(t, changed)
	assert.NotZero(t, tr.State().Velocity)

	// After the hold window the frame tick expires it
	st, changed = tr.Frame(1000, 0, at(600))
	assert.True(t, changed)
	assert.Zero(t, st.Velocity)
}

func TestTracker_VelocityDropsOutsideHold(t *testing.T) {
	tr := New(Config{RowHeight: 10, Threshold: 6, Hold: 200 * time.Millisecond}, 31102)
	tr.Scroll(0, at(0))
	tr.Scroll(1000, at(100))

	// Stationary samples halve the ema until it falls under the threshold
	var st State
	for i := 1; i <= 12; i++ {
		st, _ = tr.Scroll(1000, at(100+i*300))
	}
	assert.Zero(t, st.Velocity)
}

func TestTracker_Throttle(t *testing.T) {
	tr := New(Config{RowHeight: 10, Throttle: 150 * time.Millisecond}, 31102)
	tr.Scroll(0, at(0))

	// Dropped: within the throttle interval
	_, changed := tr.Scroll(1000, at(50))
	assert.False(t, changed)
	assert.Zero(t, tr.State().Velocity)

	// Processed: measured against the last processed sample
	st, changed := tr.Scroll(1500, at(200))
	require.True(t, changed)
	// 150 rows in 200ms = 750 rps, ema = 375
	assert.InDelta(t, 375, st.Velocity, 1e-9)
}

func TestTracker_SameTimestampDoesNotDivideByZero(t *testing.T) {
	tr := New(Config{RowHeight: 10}, 31102)
	tr.Scroll(0, at(0))

	st, _ := tr.Scroll(10, at(0))
	// 1 row in 1ms = 1000 rps, ema = 500
	assert.InDelta(t, 500, st.Velocity, 1e-9)
}

type collector struct {
	mu     sync.Mutex
	states []State
}

func (c *collector) emit(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func (c *collector) last() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[len(c.states)-1]
}

func TestTracker_RunStopsWhenSourceCloses(t *testing.T) {
	tr := New(Config{RowHeight: 10}, 31102)
	ch := make(chan Sample)
	c := &collector{}

	done := make(chan error, 1)
	go func() {
		done <- tr.Run(context.Background(), ChanSource(ch), time.Millisecond, c.emit)
	}()

	now := time.Now()
	ch <- Sample{Offset: 0, Viewport: 100, At: now}
	ch <- Sample{Offset: 5000, Viewport: 100, At: now.Add(100 * time.Millisecond)}

	require.Eventually(t, func() bool {
		return c.len() > 0 && c.last().CenterIndex == 505
	}, time.Second, time.Millisecond)

	close(ch)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the source closed")
	}

	n := c.len()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, c.len(), "no emissions after unmount")
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	tr := New(Config{RowHeight: 10}, 31102)
	ch := make(chan Sample)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- tr.Run(ctx, ChanSource(ch), time.Millisecond, func(State) {})
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
