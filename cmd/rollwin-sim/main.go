// Command rollwin-sim replays a synthetic scroll trace against an engine backed
// by a local record store and reports how often the render range was ready.
//
//	rollwin-sim -dir ./data -variant kjv -total 31102 -steps 2000
//
// A missing variant is generated and packed first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/hupe1980/rollwin"
	"github.com/hupe1980/rollwin/blobstore"
	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/internal/cache"
	"github.com/hupe1980/rollwin/recordstore"
	"github.com/hupe1980/rollwin/resource"
	"github.com/hupe1980/rollwin/testutil"
)

type flags struct {
	dir         string
	variant     string
	total       int
	avgLen      int
	compression string
	seed        int64
	steps       int
	mobile      bool
	columns     int
	realtime    bool
	cacheBlocks int
	memLimit    int64
	ioLimit     int64
	json        bool
	verbose     bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.dir, "dir", "./data", "local store directory")
	flag.StringVar(&f.variant, "variant", "kjv", "variant to scroll")
	flag.IntVar(&f.total, "total", 31102, "records to generate when the variant is missing")
	flag.IntVar(&f.avgLen, "avg-len", 120, "average generated record length")
	flag.StringVar(&f.compression, "compression", "lz4", "compression for generated data: none, lz4 or zstd")
	flag.Int64Var(&f.seed, "seed", 42, "trace seed")
	flag.IntVar(&f.steps, "steps", 2000, "trace samples")
	flag.BoolVar(&f.mobile, "mobile", false, "use the mobile profile")
	flag.IntVar(&f.columns, "columns", 1, "items per row")
	flag.BoolVar(&f.realtime, "realtime", true, "pace samples at the trace interval")
	flag.IntVar(&f.cacheBlocks, "cache-blocks", 1024, "block cache entries in front of the store")
	flag.Int64Var(&f.memLimit, "mem-limit", 0, "cached payload byte limit (0 tracks only)")
	flag.Int64Var(&f.ioLimit, "io-limit", 0, "store read bytes per second (0 unlimited)")
	flag.BoolVar(&f.json, "json", false, "JSON logs")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := rollwin.NewTextLogger(level)
	if f.json {
		logger = rollwin.NewJSONLogger(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, f, logger); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, logger *rollwin.Logger) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	blobs := blobstore.NewLocalStore(f.dir)

	total, err := ensureVariant(ctx, f, blobs, logger)
	if err != nil {
		return err
	}

	profile := rollwin.DesktopProfile()
	if f.mobile {
		profile = rollwin.MobileProfile()
	}
	profile.Columns = f.columns

	rc := resource.NewController(resource.Config{
		MaxHighFetches:       profile.MaxHighFetches,
		MaxTotalFetches:      profile.MaxTotalFetches,
		MemoryLimitBytes:     f.memLimit,
		MaxBackgroundWorkers: 1,
		IOLimitBytesPerSec:   f.ioLimit,
	})

	bc, err := cache.NewShardedLRUBlockCache(f.cacheBlocks)
	if err != nil {
		return err
	}
	store := recordstore.New(blobstore.NewCachingStore(blobs, bc, 0),
		recordstore.WithResourceController(rc),
		recordstore.WithLogger(logger.WithComponent("recordstore").Logger),
	)
	defer store.Close()

	metrics := &rollwin.BasicMetricsCollector{}
	e, err := rollwin.New(store, total,
		rollwin.WithProfile(profile),
		rollwin.WithVariant(f.variant),
		rollwin.WithResourceController(rc),
		rollwin.WithMetricsCollector(metrics),
		rollwin.WithLogger(logger.WithComponent("engine")),
	)
	if err != nil {
		return err
	}
	defer e.Close()

	trace := testutil.NewRNG(f.seed).ScrollTrace(testutil.TraceConfig{
		Steps:     f.steps,
		RowHeight: profile.RowHeight,
		Total:     total,
	})

	var readyFrames, partialFrames int
	start := time.Now()
	for i, s := range trace {
		if ctx.Err() != nil {
			break
		}
		e.Scroll(s.Offset, s.At)
		e.Frame(s.Offset, s.Viewport, s.At)

		if renderReady(e.RenderItems()) {
			readyFrames++
		} else {
			partialFrames++
		}

		if f.realtime && i+1 < len(trace) {
			time.Sleep(trace[i+1].At.Sub(s.At))
		}
	}
	elapsed := time.Since(start)

	report(e.Stats(), metrics.GetStats(), readyFrames, partialFrames, elapsed)
	return nil
}

// ensureVariant returns the record count of f.variant, packing synthetic
// records first when the variant does not exist.
func ensureVariant(ctx context.Context, f flags, blobs blobstore.BlobStore, logger *rollwin.Logger) (int, error) {
	existing := recordstore.New(blobs)
	defer existing.Close()

	m, err := existing.Manifest(ctx, f.variant)
	if err == nil {
		return m.Total, nil
	}
	if !errors.Is(err, recordstore.ErrNotFound) {
		return 0, err
	}

	compression, err := recordstore.ParseCompression(f.compression)
	if err != nil {
		return 0, err
	}

	records := testutil.NewRNG(f.seed).Records(f.variant, f.total, f.avgLen)
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}

	logger.Info("generating variant", "variant", f.variant, "records", len(texts))
	m, err = recordstore.Pack(ctx, blobs, f.variant, texts, recordstore.PackOptions{
		Compression: compression,
		Logger:      logger.WithComponent("pack").Logger,
	})
	if err != nil {
		return 0, err
	}
	return m.Total, nil
}

func renderReady(items []rollwin.Item) bool {
	for _, it := range items {
		if it.Status != core.StatusReady {
			return false
		}
	}
	return true
}

func report(s rollwin.Stats, m rollwin.BasicMetricsStats, ready, partial int, elapsed time.Duration) {
	frames := ready + partial
	pct := 0.0
	if frames > 0 {
		pct = 100 * float64(ready) / float64(frames)
	}

	fmt.Printf("frames:        %d in %v (%.1f%% fully ready)\n", frames, elapsed.Round(time.Millisecond), pct)
	fmt.Printf("anchor:        center=%d velocity=%.1f rows/s\n", s.Anchor.CenterIndex, s.Anchor.Velocity)
	fmt.Printf("windows:       render=%s safety=%s background=%s\n", s.Windows.Render, s.Windows.Safety, s.Windows.Background)
	fmt.Printf("cache:         entries=%d ready=%d errored=%d bytes=%d evicted=%d hits=%d misses=%d\n",
		s.Cache.Entries, s.Cache.Ready, s.Cache.Errored, s.Cache.Bytes, s.Cache.Evictions, s.Cache.Hits, s.Cache.Misses)
	fmt.Printf("fetches:       %d (%d items, %d errors, avg %v)\n",
		m.FetchCount, m.FetchItems, m.FetchErrors, time.Duration(m.FetchAvgNanos).Round(time.Microsecond))
	fmt.Printf("cancellations: %d loads (%d items), %d low batches\n", m.CancelCount, m.CancelledItems, s.BatchCancels)
	fmt.Printf("prefetch:      %d pumps, %d runways, %d refills\n", m.PumpCount, s.Runways, s.Refills)
}
