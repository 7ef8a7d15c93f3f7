package chunk

import (
	"io"
	"log/slog"
	"math"
	"time"
)

const (
	// DefaultChunkSize is the number of items dispatched per chunk.
	DefaultChunkSize = 100
	// DefaultConcurrency is the maximum number of tasks in flight at once.
	DefaultConcurrency = 3
	// DefaultQueueLimit is the soft cap on the limiter's waiting queue.
	// Crossing it is logged, never enforced.
	DefaultQueueLimit = 100
	// DefaultMaxRetries is the number of retry attempts an item gets after
	// its initial failure before it is reported as permanently failed.
	DefaultMaxRetries = 2
)

// Option is a functional option for configuring a Processor or Stream.
type Option func(*config)

type config struct {
	chunkSize   int
	concurrency int
	minSpacing  time.Duration
	queueLimit  int
	maxRetries  int
	hybrid      bool
	hardCancel  bool
	debug       bool
	idleSignal  IdleSignal
	logger      *slog.Logger
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		chunkSize:   DefaultChunkSize,
		concurrency: DefaultConcurrency,
		minSpacing:  0,
		queueLimit:  DefaultQueueLimit,
		maxRetries:  DefaultMaxRetries,
		hybrid:      true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// log returns the logger for internal records. Debug-level dispatch records
// are only emitted when WithDebug is set; without an explicit logger they
// go to slog.Default.
func (c *config) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	if c.debug {
		return slog.Default()
	}
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
}

// WithChunkSize sets how many items are sliced into each chunk.
// If not specified, defaults to DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.chunkSize = n
		}
	}
}

// WithConcurrency sets the maximum number of tasks in flight at once.
// If not specified, defaults to DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.concurrency = n
		}
	}
}

// WithMinSpacing sets the minimum delay between successive task dispatches.
// Zero (the default) dispatches back-to-back as slots free up.
//
// Example:
//
//	// At most one dispatch every 50ms, regardless of free slots
//	chunk.NewProcessor(items, fn, chunk.WithMinSpacing(50*time.Millisecond))
func WithMinSpacing(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.minSpacing = d
		}
	}
}

// WithQueueLimit sets the soft cap on queued-but-not-started tasks.
// Crossing the cap emits a warning through the configured logger; it never
// rejects work. Zero disables the warning.
func WithQueueLimit(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.queueLimit = n
		}
	}
}

// WithRetries sets how many retry attempts a failed item gets before it is
// reported through the error callback and permanently excluded. Zero means
// failures are terminal on the first attempt.
func WithRetries(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.maxRetries = n
		}
	}
}

// WithHybridMode controls whether chunk dispatch waits for an idle window
// before each chunk. Enabled by default; disable for throughput-bound work
// where yielding between chunks serves no host.
func WithHybridMode(enabled bool) Option {
	return func(cfg *config) {
		cfg.hybrid = enabled
	}
}

// WithIdleSignal installs a host-provided idle-notification primitive used
// by hybrid mode. Without one, a fixed-budget timer simulation is used.
func WithIdleSignal(signal IdleSignal) Option {
	return func(cfg *config) {
		cfg.idleSignal = signal
	}
}

// WithHardCancel controls what Cancel and Stop do to in-flight work.
// The default (false) is a graceful drain: tasks already dispatched run to
// completion. When true, the context passed to in-flight item functions is
// cancelled as well; tasks still stop only at their own suspension points.
func WithHardCancel(enabled bool) Option {
	return func(cfg *config) {
		cfg.hardCancel = enabled
	}
}

// WithLogger sets the logger for internal records. The engine never logs
// unless given a logger or WithDebug.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDebug enables debug-level records of dispatch decisions (chunk
// boundaries, retry sweeps, limiter stops) on the configured logger.
func WithDebug(enabled bool) Option {
	return func(cfg *config) {
		cfg.debug = enabled
	}
}
