package fcarchive

import (
	"log/slog"
	"math/rand/v2"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/fcarchive/internal/bundle"
	"github.com/hupe1980/fcarchive/internal/fs"
	"github.com/hupe1980/fcarchive/resource"
)

// DefaultBatchSize is the number of records a search or export holds in
// memory at once.
const DefaultBatchSize = 10_000

type options struct {
	fsys             fs.FileSystem
	loadIDs          bool
	inMemoryOffsets  bool
	metricsCollector MetricsCollector
	logger           *Logger
	resources        *resource.Controller
}

// Option configures Create and Open.
type Option func(*options)

// WithLoadIDs controls whether Open loads the identifier index (default true).
//
// Without it, identifier lookups fail with ErrNoIDIndex and appends skip
// duplicate detection. The identifier file is not updated by such a session,
// so the next Open that loads identifiers finds it stale and rebuilds it.
func WithLoadIDs(load bool) Option {
	return func(o *options) {
		o.loadIDs = load
	}
}

// WithInMemoryOffsets controls whether the offset index is held in memory
// (default true). When disabled, every lookup reads the offset file.
func WithInMemoryOffsets(inMemory bool) Option {
	return func(o *options) {
		o.inMemoryOffsets = inMemory
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &fcarchive.BasicMetricsCollector{}
//	a, _ := fcarchive.Open(path, fcarchive.WithMetricsCollector(metrics))
//	// ... use a ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
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
//	logger := fcarchive.NewJSONLogger(slog.LevelInfo)
//	a, _ := fcarchive.Open(path, fcarchive.WithLogger(logger))
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

// WithResourceController sets the controller that budgets workers, batch
// memory and scan bandwidth. Archives share resource.Default() otherwise.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// withFileSystem replaces the local file system, e.g. with a fault injector.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		fsys:             fs.Default,
		loadIDs:          true,
		inMemoryOffsets:  true,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.resources == nil {
		o.resources = resource.Default()
	}
	return o
}

type searchOptions struct {
	batchSize int
	onlyID    bool
	filter    *roaring.Bitmap
}

// SearchOption configures Search, SearchMulti and their convenience wrappers.
type SearchOption func(*searchOptions)

// WithBatchSize sets the number of records compared per batch.
// Values <= 0 select DefaultBatchSize.
func WithBatchSize(n int) SearchOption {
	return func(o *searchOptions) {
		o.batchSize = n
	}
}

// WithOnlyID makes hits carry the position and identifier but not the
// decoded record.
func WithOnlyID() SearchOption {
	return func(o *searchOptions) {
		o.onlyID = true
	}
}

// WithFilter restricts candidates to the archive positions in the bitmap.
func WithFilter(positions *roaring.Bitmap) SearchOption {
	return func(o *searchOptions) {
		o.filter = positions
	}
}

func applySearchOptions(optFns []SearchOption) searchOptions {
	o := searchOptions{batchSize: DefaultBatchSize}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	return o
}

type sampleOptions struct {
	dst              *Archive
	withoutKeyPoints bool
	rng              *rand.Rand
}

// SampleOption configures the sampling operations.
type SampleOption func(*sampleOptions)

// SampleTo appends every sampled record to dst.
func SampleTo(dst *Archive) SampleOption {
	return func(o *sampleOptions) {
		o.dst = dst
	}
}

// WithoutKeyPoints drops key point geometry from sampled local features.
func WithoutKeyPoints() SampleOption {
	return func(o *sampleOptions) {
		o.withoutKeyPoints = true
	}
}

// WithRand sets the random source, e.g. a seeded one for reproducible samples.
func WithRand(rng *rand.Rand) SampleOption {
	return func(o *sampleOptions) {
		o.rng = rng
	}
}

func applySampleOptions(optFns []SampleOption) sampleOptions {
	var o sampleOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

// Compression selects how Publish frames uploaded files.
type Compression = bundle.Compression

const (
	CompressionNone = bundle.None
	CompressionLZ4  = bundle.LZ4
	CompressionZstd = bundle.Zstd
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	return bundle.ParseCompression(s)
}

type publishOptions struct {
	compression Compression
}

// PublishOption configures Publish.
type PublishOption func(*publishOptions)

// WithCompression frames uploaded files with the given compression.
// The archive format itself is never compressed.
func WithCompression(c Compression) PublishOption {
	return func(o *publishOptions) {
		o.compression = c
	}
}

func applyPublishOptions(optFns []PublishOption) publishOptions {
	o := publishOptions{compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
