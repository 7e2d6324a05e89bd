package testutil

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/internal/anchor"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0,1).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// RecordText is the deterministic payload of a synthetic record.
func RecordText(variant string, index int) string {
	return fmt.Sprintf("%s:%d", variant, index)
}

// Records generates n synthetic records for variant with texts of random
// length around avgLen.
func (r *RNG) Records(variant string, n, avgLen int) []core.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.Record, n)
	for i := range out {
		prefix := RecordText(variant, i)
		pad := 0
		if avgLen > len(prefix) {
			pad = r.rand.Intn(2 * (avgLen - len(prefix)))
		}
		b := make([]byte, 0, len(prefix)+1+pad)
		b = append(b, prefix...)
		b = append(b, ' ')
		for range pad {
			b = append(b, byte('a'+r.rand.Intn(26)))
		}
		out[i] = core.Record{Index: i, Text: string(b)}
	}
	return out
}

// TraceConfig shapes a synthetic scroll trace.
type TraceConfig struct {
	// Steps is the number of samples.
	Steps int
	// RowHeight converts rows to offsets.
	RowHeight float64
	// Viewport is the viewport height. Defaults to 20 rows.
	Viewport float64
	// Interval is the time between samples. Defaults to 16ms.
	Interval time.Duration
	// Start is the first sample's timestamp. Defaults to time.Now.
	Start time.Time
	// Total bounds the offsets to the dataset.
	Total int
}

// ScrollTrace generates a scroll trace alternating slow reading, fast flicks
// and occasional reversals.
func (r *RNG) ScrollTrace(cfg TraceConfig) []anchor.Sample {
	if cfg.RowHeight <= 0 {
		cfg.RowHeight = 40
	}
	if cfg.Viewport <= 0 {
		cfg.Viewport = 20 * cfg.RowHeight
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 16 * time.Millisecond
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	maxOffset := float64(cfg.Total)*cfg.RowHeight - cfg.Viewport
	if cfg.Total <= 0 {
		maxOffset = 1e12
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]anchor.Sample, 0, cfg.Steps)
	offset := 0.0
	rowsPerStep := 0.5
	for i := range cfg.Steps {
		switch p := r.rand.Float64(); {
		case p < 0.02:
			rowsPerStep = -rowsPerStep // reversal
		case p < 0.06:
			rowsPerStep = float64(20 + r.rand.Intn(60)) // flick
		case p < 0.12:
			rowsPerStep = 0.5 // back to reading
		}
		offset += rowsPerStep * cfg.RowHeight
		offset = max(0, min(maxOffset, offset))

		out = append(out, anchor.Sample{
			Offset:   offset,
			Viewport: cfg.Viewport,
			At:       cfg.Start.Add(time.Duration(i) * cfg.Interval),
		})
	}
	return out
}
