// Package anchor turns a stream of scroll offsets into a de-jittered center
// index and a smoothed scroll velocity.
package anchor

import (
	"context"
	"math"
	"sync"
	"time"
)

// Defaults used when a Config field is zero.
const (
	DefaultStride            = 8
	DefaultThreshold         = 6.0
	DefaultHold              = 200 * time.Millisecond
	DefaultMinVelocityChange = 0.5
)

// minSampleGap floors Δt so two samples with the same timestamp never divide by zero.
const minSampleGap = time.Millisecond

// Config parameterizes a Tracker.
type Config struct {
	// RowHeight is the height of one row in scroll units. Must be positive.
	RowHeight float64
	// Stride is the step SteppedIndex is rounded down to.
	Stride int
	// Threshold is the |rows/s| at which velocity starts to be held.
	Threshold float64
	// Hold keeps a fast velocity alive after the last sample above Threshold.
	Hold time.Duration
	// Throttle drops scroll samples closer than this to the last processed one.
	// Zero processes every sample.
	Throttle time.Duration
	// MinVelocityChange suppresses velocity updates smaller than this.
	MinVelocityChange float64
}

func (c Config) withDefaults() Config {
	if c.RowHeight <= 0 {
		c.RowHeight = 1
	}
	if c.Stride <= 0 {
		c.Stride = DefaultStride
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Hold <= 0 {
		c.Hold = DefaultHold
	}
	if c.MinVelocityChange <= 0 {
		c.MinVelocityChange = DefaultMinVelocityChange
	}
	return c
}

// State is the anchor as seen by the planner.
type State struct {
	CenterIndex  int
	SteppedIndex int
	// Velocity is in rows per second; negative means scrolling backward.
	Velocity float64
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	total    int
	center   int
	velocity float64

	ema         float64
	lastAbove   time.Time
	lastOffset  float64
	lastSample  time.Time
	lastHandled time.Time
	sampled     bool
}

// New creates a Tracker for a dataset of total items.
func New(cfg Config, total int) *Tracker {
	return &Tracker{
		cfg:   cfg.withDefaults(),
		total: max(total, 0),
	}
}

// State returns the current anchor.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *Tracker) stateLocked() State {
	return State{
		CenterIndex:  t.center,
		SteppedIndex: (t.center / t.cfg.Stride) * t.cfg.Stride,
		Velocity:     t.velocity,
	}
}

func (t *Tracker) clampLocked(i int) int {
	if t.total <= 0 {
		return 0
	}
	return max(0, min(i, t.total-1))
}

// SetTotal changes the dataset size and re-clamps the center.
func (t *Tracker) SetTotal(total int) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = max(total, 0)
	c := t.clampLocked(t.center)
	changed := c != t.center
	t.center = c
	return t.stateLocked(), changed
}

// Frame samples the viewport on a frame tick. It reports a change when the
// center index moved or when a held velocity expired.
func (t *Tracker) Frame(offset, viewport float64, now time.Time) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mid := offset + viewport/2
	c := t.clampLocked(int(math.Floor(mid / t.cfg.RowHeight)))

	changed := false
	if c != t.center {
		t.center = c
		changed = true
	}

	if t.velocity != 0 && now.Sub(t.lastAbove) > t.cfg.Hold {
		t.velocity = 0
		t.ema = 0
		changed = true
	}

	return t.stateLocked(), changed
}

// Scroll feeds one raw scroll sample. It reports a change when the emitted
// velocity moved by more than MinVelocityChange. The first sample only sets
// the baseline.
func (t *Tracker) Scroll(offset float64, now time.Time) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.Throttle > 0 && t.sampled && now.Sub(t.lastHandled) < t.cfg.Throttle {
		return t.stateLocked(), false
	}
	t.lastHandled = now

	if !t.sampled {
		t.sampled = true
		t.lastOffset = offset
		t.lastSample = now
		return t.stateLocked(), false
	}

	dt := max(now.Sub(t.lastSample), minSampleGap)
	rps := ((offset - t.lastOffset) / t.cfg.RowHeight) / dt.Seconds()

	t.ema = 0.5*t.ema + 0.5*rps
	if math.Abs(t.ema) >= t.cfg.Threshold {
		t.lastAbove = now
	}

	effective := 0.0
	if !t.lastAbove.IsZero() && now.Sub(t.lastAbove) <= t.cfg.Hold {
		effective = t.ema
	}

	t.lastOffset = offset
	t.lastSample = now

	if math.Abs(effective-t.velocity) > t.cfg.MinVelocityChange {
		t.velocity = effective
		return t.stateLocked(), true
	}
	return t.stateLocked(), false
}

// Sample is one scroll position reading.
type Sample struct {
	Offset   float64
	Viewport float64
	At       time.Time
}

// Source produces scroll samples. Closing the channel unmounts the tracker.
type Source interface {
	Samples() <-chan Sample
}

// Run drives the tracker from src: every sample is fed to Scroll and every
// frame tick re-reads the latest position through Frame. emit is called from
// the Run goroutine after every reported change. Run returns when ctx is done
// or the sample channel is closed, with no emissions afterwards.
func (t *Tracker) Run(ctx context.Context, src Source, frameInterval time.Duration, emit func(State)) error {
	if frameInterval <= 0 {
		frameInterval = 16 * time.Millisecond
	}

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	samples := src.Samples()
	var last Sample
	seen := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			if s.At.IsZero() {
				s.At = time.Now()
			}
			last, seen = s, true
			if st, changed := t.Scroll(s.Offset, s.At); changed && ctx.Err() == nil {
				emit(st)
			}
		case now := <-ticker.C:
			if !seen {
				continue
			}
			if st, changed := t.Frame(last.Offset, last.Viewport, now); changed && ctx.Err() == nil {
				emit(st)
			}
		}
	}
}

// ChanSource adapts a channel to Source.
type ChanSource <-chan Sample

// Samples implements Source.
func (c ChanSource) Samples() <-chan Sample { return c }
