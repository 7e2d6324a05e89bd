package rollwin

import (
	"log/slog"
	"time"

	"github.com/hupe1980/rollwin/resource"
)

// DefaultVariant is the variant an Engine starts on unless WithVariant is given.
const DefaultVariant = "default"

type options struct {
	profile          Profile
	variant          string
	metricsCollector MetricsCollector
	logger           *Logger
	memoryLimit      int64
	ioLimit          int64
	clock            func() time.Time
	resources        *resource.Controller
}

// Option configures an Engine.
type Option func(*options)

// WithProfile replaces the default desktop profile.
//
// Example for a touch device with a wider grid:
//
//	p := rollwin.MobileProfile()
//	p.Columns = 3
//	e, _ := rollwin.New(fetcher, total, rollwin.WithProfile(p))
func WithProfile(p Profile) Option {
	return func(o *options) {
		o.profile = p
	}
}

// WithVariant sets the initial dataset variant.
func WithVariant(variant string) Option {
	return func(o *options) {
		o.variant = variant
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &rollwin.BasicMetricsCollector{}
//	e, _ := rollwin.New(fetcher, total, rollwin.WithMetricsCollector(metrics))
//	// ... scroll ...
//	stats := metrics.GetStats()
//	fmt.Printf("Fetches: %d, Avg latency: %dns\n", stats.FetchCount, stats.FetchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := rollwin.NewJSONLogger(slog.LevelInfo)
//	e, _ := rollwin.New(fetcher, total, rollwin.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMemoryLimit caps the cached payload bytes. Items that do not fit are
// marked error until an eviction pass frees room. Zero only tracks usage.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithIOLimit caps the bytes per second read by fetchers that share the
// engine's resource controller (see Engine.Resources). Zero is unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithResourceController shares rc with the engine, so a fetcher built on the
// same controller draws from one IO budget. It overrides the fetch pool sizes
// of the profile as well as WithMemoryLimit and WithIOLimit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithClock overrides time.Now for cache access times.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		profile:          DesktopProfile(),
		variant:          DefaultVariant,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
