package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hupe1980/rollwin/core"
)

// ErrInjected is returned by fetchers configured to fail.
var ErrInjected = errors.New("testutil: injected fetch failure")

// Call records one FetchRange invocation.
type Call struct {
	Variant string
	Indices []int
}

// CountingFetcher answers every index with RecordText and records each call.
type CountingFetcher struct {
	mu    sync.Mutex
	calls []Call
	// Fail, when set, decides per call whether to return ErrInjected.
	Fail func(variant string, indices []int) bool
	// Skip, when set, drops matching indices from the response.
	Skip func(index int) bool
}

// NewCountingFetcher creates a CountingFetcher.
func NewCountingFetcher() *CountingFetcher {
	return &CountingFetcher{}
}

// FetchRange implements the fetcher contract.
func (f *CountingFetcher) FetchRange(ctx context.Context, variant string, indices []int) ([]core.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Variant: variant, Indices: slices.Clone(indices)})
	fail := f.Fail
	skip := f.Skip
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil && fail(variant, indices) {
		return nil, ErrInjected
	}

	out := make([]core.Record, 0, len(indices))
	for _, i := range indices {
		if skip != nil && skip(i) {
			continue
		}
		out = append(out, core.Record{Index: i, Text: RecordText(variant, i)})
	}
	return out, nil
}

// Calls returns a copy of all recorded calls.
func (f *CountingFetcher) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns the number of FetchRange calls.
func (f *CountingFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Fetched returns how many times each index was requested.
func (f *CountingFetcher) Fetched() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[int]int)
	for _, c := range f.calls {
		for _, i := range c.Indices {
			out[i]++
		}
	}
	return out
}

// BlockingFetcher holds every call until Release or ctx cancellation.
type BlockingFetcher struct {
	inner *CountingFetcher

	mu        sync.Mutex
	release   chan struct{}
	started   chan Call
	cancelled []Call
}

// NewBlockingFetcher creates a BlockingFetcher.
func NewBlockingFetcher() *BlockingFetcher {
	return &BlockingFetcher{
		inner:   NewCountingFetcher(),
		release: make(chan struct{}),
		started: make(chan Call, 1024),
	}
}

// FetchRange implements the fetcher contract.
func (f *BlockingFetcher) FetchRange(ctx context.Context, variant string, indices []int) ([]core.Record, error) {
	c := Call{Variant: variant, Indices: slices.Clone(indices)}
	f.started <- c

	f.mu.Lock()
	release := f.release
	f.mu.Unlock()

	select {
	case <-release:
		return f.inner.FetchRange(ctx, variant, indices)
	case <-ctx.Done():
		f.mu.Lock()
		f.cancelled = append(f.cancelled, c)
		f.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Started delivers every call as it begins.
func (f *BlockingFetcher) Started() <-chan Call {
	return f.started
}

// ReleaseAll lets every current and future call complete.
func (f *BlockingFetcher) ReleaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.release:
	default:
		close(f.release)
	}
}

// Cancelled returns the calls that ended through ctx cancellation.
func (f *BlockingFetcher) Cancelled() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cancelled)
}

// Completed returns the calls that were released and answered.
func (f *BlockingFetcher) Completed() []Call {
	return f.inner.Calls()
}
