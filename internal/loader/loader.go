// Package loader fetches missing items of an index range into the ItemCache.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/internal/cache"
)

// DefaultChunkSize is the number of indices requested per fetch call.
const DefaultChunkSize = 500

// ErrMissingRecords marks indices the fetcher did not return.
var ErrMissingRecords = errors.New("loader: record missing from fetch response")

// Fetcher resolves a batch of indices of one variant to records. It must
// honor ctx cancellation.
type Fetcher interface {
	FetchRange(ctx context.Context, variant string, indices []int) ([]core.Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, variant string, indices []int) ([]core.Record, error)

// FetchRange implements Fetcher.
func (f FetcherFunc) FetchRange(ctx context.Context, variant string, indices []int) ([]core.Record, error) {
	return f(ctx, variant, indices)
}

// Hooks observe fetch outcomes. Nil fields are skipped.
type Hooks struct {
	// OnFetch is called after every fetch call with the number of requested
	// indices and the call's error (nil on success).
	OnFetch func(variant string, requested int, elapsed time.Duration, err error)
	// OnCancel is called once per cancelled load with the indices left unloaded.
	OnCancel func(variant string, abandoned int)
}

// Config parameterizes a Loader.
type Config struct {
	// ChunkSize bounds one fetch call. Defaults to DefaultChunkSize.
	ChunkSize int
	// Yield runs between chunks. Defaults to runtime.Gosched followed by a ctx check.
	Yield  func(ctx context.Context) error
	Logger *slog.Logger
	Hooks  Hooks
}

// Loader implements the range load protocol on top of an ItemCache.
type Loader struct {
	cache   *cache.ItemCache
	fetcher Fetcher
	chunk   int
	yield   func(ctx context.Context) error
	logger  *slog.Logger
	hooks   Hooks
}

// New creates a Loader.
func New(c *cache.ItemCache, f Fetcher, cfg Config) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Yield == nil {
		cfg.Yield = func(ctx context.Context) error {
			runtime.Gosched()
			return ctx.Err()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{
		cache:   c,
		fetcher: f,
		chunk:   cfg.ChunkSize,
		yield:   cfg.Yield,
		logger:  cfg.Logger,
		hooks:   cfg.Hooks,
	}
}

// IsCancellation reports whether err stems from a cancelled or expired context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// EnsureRangeLoaded loads every index of [a,b] that is neither ready nor in
// flight. It is idempotent: a second call over a loaded or loading range
// performs no I/O.
//
// Claimed indices that end without a payload are marked error so a later call
// retries them. A cancellation returns the context error; it is logged at
// debug level only.
func (l *Loader) EnsureRangeLoaded(ctx context.Context, a, b int, variant string) error {
	todo := l.cache.BeginLoad(variant, a, b)
	if len(todo) == 0 {
		return nil
	}
	defer l.cache.EndLoad(variant, todo)

	var missing int
	for off := 0; off < len(todo); off += l.chunk {
		if err := ctx.Err(); err != nil {
			return l.abort(variant, a, b, todo[off:], err)
		}

		part := todo[off:min(off+l.chunk, len(todo))]

		start := time.Now()
		recs, err := l.fetcher.FetchRange(ctx, variant, part)
		if l.hooks.OnFetch != nil {
			l.hooks.OnFetch(variant, len(part), time.Since(start), err)
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil || IsCancellation(err) {
				if cerr == nil {
					cerr = err
				}
				return l.abort(variant, a, b, todo[off:], cerr)
			}
			l.cache.SetError(variant, todo[off:], err)
			l.logger.Warn("range fetch failed",
				"variant", variant,
				"range", core.R(a, b).String(),
				"indices", len(todo)-off,
				"error", err)
			return fmt.Errorf("loader: fetch %s %s: %w", variant, core.R(a, b), err)
		}

		missing += l.store(variant, part, recs)

		if off+l.chunk < len(todo) {
			if err := l.yield(ctx); err != nil {
				return l.abort(variant, a, b, todo[off+l.chunk:], err)
			}
		}
	}

	if missing > 0 {
		l.logger.Warn("fetch response incomplete",
			"variant", variant,
			"range", core.R(a, b).String(),
			"missing", missing)
		return fmt.Errorf("%w: %d of %d indices", ErrMissingRecords, missing, len(todo))
	}

	l.logger.Debug("range loaded",
		"variant", variant,
		"range", core.R(a, b).String(),
		"count", len(todo))

	return nil
}

// store writes the records of part as ready and marks the rest error. It
// returns the number of indices without a record.
func (l *Loader) store(variant string, part []int, recs []core.Record) int {
	want := make(map[int]struct{}, len(part))
	for _, i := range part {
		want[i] = struct{}{}
	}

	ready := recs[:0:0]
	for _, r := range recs {
		if _, ok := want[r.Index]; ok {
			ready = append(ready, r)
			delete(want, r.Index)
		}
	}
	l.cache.SetReady(variant, ready)

	if len(want) == 0 {
		return 0
	}
	failed := make([]int, 0, len(want))
	for _, i := range part {
		if _, ok := want[i]; ok {
			failed = append(failed, i)
		}
	}
	l.cache.SetError(variant, failed, ErrMissingRecords)
	return len(failed)
}

func (l *Loader) abort(variant string, a, b int, rest []int, err error) error {
	l.cache.SetError(variant, rest, err)
	if l.hooks.OnCancel != nil {
		l.hooks.OnCancel(variant, len(rest))
	}
	l.logger.Debug("range load cancelled",
		"variant", variant,
		"range", core.R(a, b).String(),
		"abandoned", len(rest))
	return err
}
