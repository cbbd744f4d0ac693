// Package ivf implements an inverted-file (cluster-then-probe) backend.
// Vectors are buffered until a training sample is reached, then kmeans
// centroids partition the space; queries probe the closest partitions.
package ivf

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/internal/kmeans"
	"github.com/kungtalon/vecdb/queue"
)

const (
	// DefaultNList is the default number of partitions.
	DefaultNList = 64

	// DefaultNProbe is the default number of partitions probed per query.
	DefaultNProbe = 8

	// DefaultTrainThreshold is the number of buffered vectors that triggers
	// automatic training.
	DefaultTrainThreshold = 1024

	// DefaultMaxIterations bounds the kmeans training loop.
	DefaultMaxIterations = 20
)

// ErrIDExists is returned when adding an id that is already indexed.
var ErrIDExists = errors.New("ivf: id already indexed")

var (
	_ index.Backend = (*Index)(nil)
	_ index.Trainer = (*Index)(nil)
)

// Options configures the partitioned index.
type Options struct {
	Dimension      int
	Metric         distance.Metric
	NList          int
	NProbe         int
	TrainThreshold int
	MaxIterations  int
}

// DefaultOptions are the options applied before user overrides.
var DefaultOptions = Options{
	Metric:         distance.L2,
	NList:          DefaultNList,
	NProbe:         DefaultNProbe,
	TrainThreshold: DefaultTrainThreshold,
	MaxIterations:  DefaultMaxIterations,
}

type entry struct {
	id     core.InternalID
	vector []float32
}

// Index is an IVF index over internal ids.
type Index struct {
	mu sync.RWMutex

	opts  Options
	score distance.Func

	trained    bool
	centroids  []float32
	lists      [][]entry
	pending    map[core.InternalID][]float32
	members    map[core.InternalID]struct{}
	tombstones *roaring.Bitmap
}

// New creates an empty, untrained index.
func New(optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("ivf: dimension must be positive, got %d", opts.Dimension)
	}
	if opts.NList <= 0 {
		opts.NList = DefaultNList
	}
	if opts.NProbe <= 0 {
		opts.NProbe = DefaultNProbe
	}
	if opts.TrainThreshold < opts.NList {
		opts.TrainThreshold = opts.NList
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	return &Index{
		opts:       opts,
		score:      distance.FuncFor(opts.Metric),
		pending:    make(map[core.InternalID][]float32),
		members:    make(map[core.InternalID]struct{}),
		tombstones: roaring.New(),
	}, nil
}

// Capabilities reports the backend capability flags.
func (ivf *Index) Capabilities() index.Capabilities {
	return index.Capabilities{InPlaceUpdate: false, NeedsTraining: true}
}

// Trained reports whether centroids have been fitted.
func (ivf *Index) Trained() bool {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	return ivf.trained
}

// Len returns the number of indexed ids, tombstoned and buffered included.
func (ivf *Index) Len() int {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	return len(ivf.members)
}

// Tombstones returns the number of logically deleted ids awaiting rebuild.
func (ivf *Index) Tombstones() int {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	return int(ivf.tombstones.GetCardinality())
}

// Add indexes a vector under the given id. Before training the vector is
// buffered; hitting the training threshold trains automatically.
func (ivf *Index) Add(id core.InternalID, vector []float32) error {
	if len(vector) != ivf.opts.Dimension {
		return &index.DimensionError{Expected: ivf.opts.Dimension, Actual: len(vector)}
	}

	ivf.mu.Lock()
	defer ivf.mu.Unlock()

	if _, exists := ivf.members[id]; exists {
		return fmt.Errorf("%w: %d", ErrIDExists, id)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	ivf.members[id] = struct{}{}

	if !ivf.trained {
		ivf.pending[id] = vec
		if len(ivf.pending) >= ivf.opts.TrainThreshold {
			return ivf.train()
		}
		return nil
	}

	ivf.assign(id, vec)
	return nil
}

// assign appends the vector to its closest partition. Caller holds the
// write lock and the index is trained.
func (ivf *Index) assign(id core.InternalID, vec []float32) {
	list := kmeans.Assign(vec, ivf.centroids, ivf.opts.Dimension, ivf.opts.Metric)
	ivf.lists[list] = append(ivf.lists[list], entry{id: id, vector: vec})
}

// Train fits centroids on the union of the given vectors and any buffered
// ones, then indexes everything. Passing nil trains on the buffer alone.
func (ivf *Index) Train(vectors map[core.InternalID][]float32) error {
	ivf.mu.Lock()
	defer ivf.mu.Unlock()

	for id, vec := range vectors {
		if len(vec) != ivf.opts.Dimension {
			return &index.DimensionError{Expected: ivf.opts.Dimension, Actual: len(vec)}
		}
		if _, exists := ivf.members[id]; exists {
			continue
		}
		cp := make([]float32, len(vec))
		copy(cp, vec)
		ivf.pending[id] = cp
		ivf.members[id] = struct{}{}
	}

	return ivf.train()
}

// train runs kmeans over the pending buffer. Caller holds the write lock.
func (ivf *Index) train() error {
	n := len(ivf.pending)
	if n == 0 {
		return index.ErrNotTrained
	}

	dim := ivf.opts.Dimension
	k := ivf.opts.NList
	if k > n {
		k = n
	}

	flat := make([]float32, 0, n*dim)
	ids := make([]core.InternalID, 0, n)
	for id, vec := range ivf.pending {
		flat = append(flat, vec...)
		ids = append(ids, id)
	}

	centroids := kmeans.Train(flat, dim, k, ivf.opts.Metric, ivf.opts.MaxIterations)
	if centroids == nil {
		return index.ErrNotTrained
	}

	ivf.centroids = centroids
	ivf.lists = make([][]entry, k)
	ivf.trained = true

	for _, id := range ids {
		ivf.assign(id, ivf.pending[id])
	}
	ivf.pending = make(map[core.InternalID][]float32)

	return nil
}

// Remove logically deletes an id.
func (ivf *Index) Remove(id core.InternalID) error {
	ivf.mu.Lock()
	defer ivf.mu.Unlock()

	if _, ok := ivf.members[id]; !ok {
		return fmt.Errorf("%w: %d", index.ErrUnknownID, id)
	}

	delete(ivf.pending, id)
	ivf.tombstones.Add(uint32(id))
	return nil
}

// Search probes the closest partitions and returns up to params.K
// candidates, closest first. Untrained indexes return ErrNotTrained.
func (ivf *Index) Search(ctx context.Context, query []float32, params index.SearchParams) ([]index.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != ivf.opts.Dimension {
		return nil, &index.DimensionError{Expected: ivf.opts.Dimension, Actual: len(query)}
	}
	if params.K <= 0 {
		return nil, fmt.Errorf("ivf: k must be positive, got %d", params.K)
	}

	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	if !ivf.trained {
		return nil, index.ErrNotTrained
	}

	nprobe := ivf.opts.NProbe
	if params.NProbe > 0 {
		nprobe = params.NProbe
	}

	probes := kmeans.Closest(query, ivf.centroids, ivf.opts.Dimension, nprobe, ivf.opts.Metric)

	results := queue.NewMax(params.K + 1)
	for _, list := range probes {
		for _, e := range ivf.lists[list] {
			if ivf.tombstones.Contains(uint32(e.id)) {
				continue
			}
			if params.Allowed != nil && !params.Allowed.Contains(uint32(e.id)) {
				continue
			}

			results.PushItem(queue.Item{ID: e.id, Distance: ivf.score(query, e.vector)})
			if results.Len() > params.K {
				results.PopItem()
			}
		}
	}

	sorted := results.Sorted()
	out := make([]index.Candidate, len(sorted))
	for i, it := range sorted {
		out[i] = index.Candidate{ID: it.ID, Distance: it.Distance}
	}

	return out, nil
}
