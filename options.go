package knowcache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/knowcache/codec"
)

type options struct {
	plain            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	now              func() time.Time
}

// Option configures Coordinator constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. codec-specific constructor variants).
type Option func(*options)

// WithCodec configures the plain-text codec used at the bottom of the
// representation chain and for cache payloads.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.plain = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &knowcache.BasicMetricsCollector{}
//	kc, _ := knowcache.New(cfg, knowcache.WithMetricsCollector(metrics))
//	// ... use kc ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, Bloom skips: %d\n", stats.QueryCount, stats.BloomSkips)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := knowcache.NewJSONLogger(slog.LevelInfo)
//	kc, _ := knowcache.New(cfg, knowcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
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

// WithClock overrides the time source used for cache TTL accounting.
// Intended for tests; pass nil to keep time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		plain:            nil,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
