package flowcache

import "time"

// Sink receives emitted records. EmitFlow is called once per finished
// flow (or twin pair); implementations must not retain the Record or its
// slices beyond the call, since the cache zeroes them immediately after.
type Sink interface {
	EmitFlow(r *Record) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(r *Record) error

// EmitFlow implements Sink.
func (f SinkFunc) EmitFlow(r *Record) error { return f(r) }

// MultiSink fans a single emission out to several sinks in order,
// collecting (but not short-circuiting on) each one's error so that, say,
// a webhook failure never prevents the ndjson file sink from receiving
// the record.
type MultiSink []Sink

// EmitFlow implements Sink, calling every member sink and returning the
// first error encountered, if any, after all have run.
func (m MultiSink) EmitFlow(r *Record) error {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.EmitFlow(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Config holds the feature toggles and timing parameters of §4.6 and §6,
// gathered into the single FlowCache value §9 calls for so that no hidden
// global state exists outside of it.
type Config struct {
	// HashMode selects exact vs. near-tolerant key hashing (§4.1).
	HashMode HashMode
	// Bidir enables twin pairing (§6 bidir).
	Bidir bool
	// IncludeZeroes retains zero-payload packets in per-packet sequences
	// (§6 include_zeroes, §9 open question 3).
	IncludeZeroes bool
	// ByteDistribution enables the 256-bin histogram and Welford
	// mean/variance tracking (§6 byte_distribution).
	ByteDistribution bool
	// ReportEntropy enables Shannon-entropy computation at emission
	// (§6 report_entropy). Either flag turns on histogram tracking, but
	// the bd, bd_mean and bd_std fields are emitted only when
	// ByteDistribution is set.
	ReportEntropy bool

	// InactiveWindow is W, the inactive timeout (§6, default 10s).
	InactiveWindow time.Duration
	// ActiveExtra is A; active_max = W + A (§6, default 20s).
	ActiveExtra time.Duration

	// Labels, if non-nil, is consulted at emission time to populate
	// sa_labels/da_labels (§6 num_subnets).
	Labels LabelLookup
	// Anonymizer, if non-nil, substitutes addresses flagged for
	// anonymization with a hex pseudonym at emission time (§6).
	Anonymizer Anonymizer
}

// DefaultConfig returns the constants of §6: W=10s, A=20s, exact-mode
// hashing, bidirectional pairing and byte-distribution both enabled.
func DefaultConfig() Config {
	return Config{
		HashMode:         HashExact,
		Bidir:            true,
		ByteDistribution: true,
		InactiveWindow:   10 * time.Second,
		ActiveExtra:      20 * time.Second,
	}
}

// ActiveMax is W + A, the bound referenced by the second active check of
// §4.3 step 2 / §4.6.
func (c Config) ActiveMax() time.Duration {
	return c.InactiveWindow + c.ActiveExtra
}

// Cache is the single value encapsulating all global mutable state of the
// flow pipeline: the bucketed index, the chronological list, the
// configuration, the statistics counters, and the output sink. Per §9, a
// process creates exactly one at startup and tears it down at shutdown.
// Cache is not safe for concurrent use: §5 mandates a single cooperative
// execution context with no internal locking.
type Cache struct {
	cfg    Config
	idx    index
	chrono chronoList
	sink   Sink
	stats  Stats

	allocFailureInjector func() bool
}

// New constructs an empty Cache. sink may be nil, in which case emitted
// records are silently dropped (useful for invariant-only tests that
// don't care about the JSON wire format).
func New(cfg Config, sink Sink) *Cache {
	return &Cache{cfg: cfg, sink: sink}
}

// Config returns the cache's configuration.
func (c *Cache) Config() Config { return c.cfg }

// Stats returns a snapshot of the process-wide counters (§4.8).
func (c *Cache) Stats() Stats { return c.stats }
