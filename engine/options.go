package engine

import (
	"log/slog"
	"time"

	"github.com/kungtalon/vecdb/blobstore"
	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/index/hnsw"
	"github.com/kungtalon/vecdb/index/ivf"
	"github.com/kungtalon/vecdb/store"
)

// DefaultOversample is the multiplier applied to k when asking the backend
// for candidates.
const DefaultOversample = 3.0

// Config is the persisted shape of a collection: everything that must
// survive restarts because it determines data layout.
type Config struct {
	Dim     int             `json:"dim"`
	Metric  distance.Metric `json:"metric"`
	Backend string          `json:"backend"`
	HNSW    hnsw.Options    `json:"hnsw,omitempty"`
	IVF     ivf.Options     `json:"ivf,omitempty"`
}

// newBackend constructs a fresh backend for the config.
func (c Config) newBackend() (index.Backend, error) {
	switch c.Backend {
	case index.KindHNSW, "":
		return hnsw.New(func(o *hnsw.Options) {
			*o = c.HNSW
			o.Dimension = c.Dim
			o.Metric = c.Metric
			if o.M == 0 {
				o.M = hnsw.DefaultOptions.M
			}
			if o.EFConstruction == 0 {
				o.EFConstruction = hnsw.DefaultOptions.EFConstruction
			}
			if o.EFSearch == 0 {
				o.EFSearch = hnsw.DefaultOptions.EFSearch
			}
		})
	case index.KindIVF:
		return ivf.New(func(o *ivf.Options) {
			*o = c.IVF
			o.Dimension = c.Dim
			o.Metric = c.Metric
			if o.NList == 0 {
				o.NList = ivf.DefaultOptions.NList
			}
			if o.NProbe == 0 {
				o.NProbe = ivf.DefaultOptions.NProbe
			}
			if o.TrainThreshold == 0 {
				o.TrainThreshold = ivf.DefaultOptions.TrainThreshold
			}
			if o.MaxIterations == 0 {
				o.MaxIterations = ivf.DefaultOptions.MaxIterations
			}
		})
	default:
		return nil, ErrUnknownBackend
	}
}

type options struct {
	logger       *slog.Logger
	metrics      Observer
	blobs        blobstore.BlobStore
	policy       RebuildPolicy
	oversample   float32
	durability   store.DurabilityMode
	syncInterval time.Duration
	compression  bool
	searchLimit  int
}

// Option overrides a runtime knob of a collection.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.metrics = obs }
}

// WithBlobStore sets where snapshot images are written. Defaults to a
// local store inside the collection directory.
func WithBlobStore(bs blobstore.BlobStore) Option {
	return func(o *options) { o.blobs = bs }
}

// WithRebuildPolicy sets the automatic rebuild policy.
func WithRebuildPolicy(p RebuildPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithOversample sets the candidate oversampling factor.
func WithOversample(f float32) Option {
	return func(o *options) {
		if f >= 1 {
			o.oversample = f
		}
	}
}

// WithDurability sets the record store durability mode.
func WithDurability(mode store.DurabilityMode) Option {
	return func(o *options) { o.durability = mode }
}

// WithSyncInterval sets the group commit cadence.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) { o.syncInterval = d }
}

// WithCompression toggles record log compression.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compression = enabled }
}

// WithSearchConcurrency bounds parallel queries in BatchSearch.
func WithSearchConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.searchLimit = n
		}
	}
}
