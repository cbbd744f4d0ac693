package vecdb

import (
	"time"

	"github.com/kungtalon/vecdb/blobstore"
	"github.com/kungtalon/vecdb/engine"
	"github.com/kungtalon/vecdb/store"
)

// BlobStoreFactory returns the blob store that holds a collection's
// snapshot images. It is called once per opened collection, so images of
// different collections never share a namespace.
type BlobStoreFactory func(collection string) (blobstore.BlobStore, error)

type options struct {
	logger       *Logger
	metrics      MetricsCollector
	blobs        BlobStoreFactory
	policy       *engine.RebuildPolicy
	oversample   float32
	durability   *store.DurabilityMode
	syncInterval time.Duration
	compression  *bool
	concurrency  int
}

// Option customizes a DB.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector. Defaults to no-op.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithBlobStoreFactory routes snapshot images to external storage, for
// example MinIO or S3. Defaults to local files inside each collection
// directory.
func WithBlobStoreFactory(f BlobStoreFactory) Option {
	return func(o *options) { o.blobs = f }
}

// WithRebuildPolicy sets the automatic index rebuild policy for all
// collections.
func WithRebuildPolicy(p engine.RebuildPolicy) Option {
	return func(o *options) { o.policy = &p }
}

// WithOversample sets the candidate oversampling factor applied during
// approximate searches.
func WithOversample(f float32) Option {
	return func(o *options) { o.oversample = f }
}

// WithDurability sets the record log durability mode.
func WithDurability(mode store.DurabilityMode) Option {
	return func(o *options) { o.durability = &mode }
}

// WithSyncInterval sets the group commit cadence of the record log.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) { o.syncInterval = d }
}

// WithCompression toggles record log compression.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compression = &enabled }
}

// WithSearchConcurrency bounds parallel queries in BatchSearch.
func WithSearchConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

func applyOptions(optFns []Option) options {
	var opts options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.logger == nil {
		opts.logger = NoopLogger()
	}
	return opts
}

// engineOptions assembles the per-collection engine configuration.
func (o options) engineOptions(name string) ([]engine.Option, error) {
	engOpts := []engine.Option{engine.WithLogger(o.logger.WithCollection(name).Logger)}

	if o.metrics != nil {
		engOpts = append(engOpts, engine.WithObserver(o.metrics))
	}
	if o.blobs != nil {
		bs, err := o.blobs(name)
		if err != nil {
			return nil, err
		}
		engOpts = append(engOpts, engine.WithBlobStore(bs))
	}
	if o.policy != nil {
		engOpts = append(engOpts, engine.WithRebuildPolicy(*o.policy))
	}
	if o.oversample > 0 {
		engOpts = append(engOpts, engine.WithOversample(o.oversample))
	}
	if o.durability != nil {
		engOpts = append(engOpts, engine.WithDurability(*o.durability))
	}
	if o.syncInterval > 0 {
		engOpts = append(engOpts, engine.WithSyncInterval(o.syncInterval))
	}
	if o.compression != nil {
		engOpts = append(engOpts, engine.WithCompression(*o.compression))
	}
	if o.concurrency > 0 {
		engOpts = append(engOpts, engine.WithSearchConcurrency(o.concurrency))
	}

	return engOpts, nil
}
