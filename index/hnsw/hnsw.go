// Package hnsw implements a Hierarchical Navigable Small World graph
// backend for approximate nearest neighbor search.
package hnsw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/distance"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/queue"
)

const (
	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 16

	// DefaultEFConstruction is the default beam width while building.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default beam width while querying.
	DefaultEFSearch = 100

	minimumM = 2

	// layer0Multiplier scales the connection cap at the base layer.
	layer0Multiplier = 2
)

// ErrIDExists is returned when adding an id that is already indexed.
var ErrIDExists = errors.New("hnsw: id already indexed")

var _ index.Backend = (*Index)(nil)

// Options configures the graph.
type Options struct {
	Dimension      int
	M              int
	EFConstruction int
	EFSearch       int
	Metric         distance.Metric

	// Heuristic enables relative-neighborhood pruning when selecting
	// links; disabling it keeps the plain closest-M selection.
	Heuristic bool

	// RandomSeed pins the level generator for reproducible graphs.
	RandomSeed *int64
}

// DefaultOptions are the options applied before user overrides.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
	Metric:         distance.L2,
	Heuristic:      true,
}

type node struct {
	vector    []float32
	level     int
	neighbors [][]core.InternalID
}

// Index is an HNSW graph over internal ids. Mutations are serialized by the
// caller; searches may run concurrently with them.
type Index struct {
	mu sync.RWMutex

	opts  Options
	score distance.Func

	nodes      map[core.InternalID]*node
	entry      core.InternalID
	hasEntry   bool
	maxLevel   int
	tombstones *roaring.Bitmap

	// layerMultiplier is the mL normalization constant for the geometric
	// level distribution.
	layerMultiplier float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an empty graph.
func New(optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("hnsw: dimension must be positive, got %d", opts.Dimension)
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultEFConstruction
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}

	seed := time.Now().UnixNano()
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	}

	return &Index{
		opts:            opts,
		score:           distance.FuncFor(opts.Metric),
		nodes:           make(map[core.InternalID]*node),
		tombstones:      roaring.New(),
		layerMultiplier: 1.0 / math.Log(float64(opts.M)),
		rng:             rand.New(rand.NewSource(seed)),
	}, nil
}

// Capabilities reports the backend capability flags.
func (h *Index) Capabilities() index.Capabilities {
	return index.Capabilities{InPlaceUpdate: false, NeedsTraining: false}
}

// Len returns the number of indexed ids, tombstoned ones included.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.nodes)
}

// Tombstones returns the number of logically deleted ids awaiting rebuild.
func (h *Index) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return int(h.tombstones.GetCardinality())
}

func (h *Index) randomLevel() int {
	h.rngMu.Lock()
	r := h.rng.Float64()
	h.rngMu.Unlock()

	return int(math.Floor(-math.Log(r) * h.layerMultiplier))
}

// Add indexes a vector under the given id.
func (h *Index) Add(id core.InternalID, vector []float32) error {
	if len(vector) != h.opts.Dimension {
		return &index.DimensionError{Expected: h.opts.Dimension, Actual: len(vector)}
	}

	level := h.randomLevel()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		return fmt.Errorf("%w: %d", ErrIDExists, id)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	n := &node{
		vector:    vec,
		level:     level,
		neighbors: make([][]core.InternalID, level+1),
	}
	h.nodes[id] = n

	if !h.hasEntry {
		h.entry = id
		h.hasEntry = true
		h.maxLevel = level
		return nil
	}

	h.link(id, n)

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = id
	}

	return nil
}

// link wires the new node into the graph. Caller holds the write lock.
func (h *Index) link(id core.InternalID, n *node) {
	currID := h.entry
	currDist := h.score(n.vector, h.nodes[currID].vector)

	for level := h.maxLevel; level > n.level; level-- {
		currID, currDist = h.greedyStep(n.vector, currID, currDist, level)
	}

	for level := min(n.level, h.maxLevel); level >= 0; level-- {
		results := h.searchLayer(n.vector, currID, currDist, level, h.opts.EFConstruction, nil, true)

		if results.Len() > 0 {
			// The closest result seeds the descent into the next layer.
			items := results.Items()
			best := items[0]
			for _, it := range items[1:] {
				if it.Distance < best.Distance {
					best = it
				}
			}
			currID = best.ID
			currDist = best.Distance
		}

		maxConns := h.opts.M
		if level == 0 {
			maxConns = layer0Multiplier * h.opts.M
		}

		neighbors := h.selectNeighbors(results, maxConns)
		n.neighbors[level] = neighbors

		for _, neighborID := range neighbors {
			h.connect(neighborID, id, level)
		}
	}
}

// greedyStep walks to the closest neighbor at the given level until no
// improvement is possible.
func (h *Index) greedyStep(query []float32, currID core.InternalID, currDist float32, level int) (core.InternalID, float32) {
	for changed := true; changed; {
		changed = false
		curr := h.nodes[currID]
		if level > curr.level {
			break
		}
		for _, nextID := range curr.neighbors[level] {
			next, ok := h.nodes[nextID]
			if !ok {
				continue
			}
			if d := h.score(query, next.vector); d < currDist {
				currID = nextID
				currDist = d
				changed = true
			}
		}
	}
	return currID, currDist
}

// connect adds a backlink from source to target, pruning to the connection
// cap when full. Caller holds the write lock.
func (h *Index) connect(sourceID, targetID core.InternalID, level int) {
	source, ok := h.nodes[sourceID]
	if !ok || level > source.level {
		return
	}

	conns := source.neighbors[level]
	for _, c := range conns {
		if c == targetID {
			return
		}
	}

	maxConns := h.opts.M
	if level == 0 {
		maxConns = layer0Multiplier * h.opts.M
	}

	if len(conns) < maxConns {
		source.neighbors[level] = append(conns, targetID)
		return
	}

	candidates := queue.NewMax(len(conns) + 1)
	for _, c := range conns {
		candidates.PushItem(queue.Item{ID: c, Distance: h.score(source.vector, h.nodes[c].vector)})
	}
	candidates.PushItem(queue.Item{ID: targetID, Distance: h.score(source.vector, h.nodes[targetID].vector)})

	source.neighbors[level] = h.selectNeighbors(candidates, maxConns)
}

// selectNeighbors picks up to m links from the candidate max-heap. The
// heap is consumed.
func (h *Index) selectNeighbors(candidates *queue.PriorityQueue, m int) []core.InternalID {
	if !h.opts.Heuristic || candidates.Len() <= m {
		return selectClosest(candidates, m)
	}

	// Best-first order for the relative-neighborhood check.
	sorted := candidates.Sorted()

	result := make([]core.InternalID, 0, m)
	resultVecs := make([][]float32, 0, m)

	for _, cand := range sorted {
		if len(result) >= m {
			break
		}

		candVec := h.nodes[cand.ID].vector

		// Keep a candidate only if it is closer to the source than to any
		// already selected neighbor.
		good := true
		for _, resVec := range resultVecs {
			if h.score(candVec, resVec) < cand.Distance {
				good = false
				break
			}
		}

		if good {
			result = append(result, cand.ID)
			resultVecs = append(resultVecs, candVec)
		}
	}

	// Backfill with skipped candidates to keep the graph well connected.
	for _, cand := range sorted {
		if len(result) >= m {
			break
		}
		seen := false
		for _, r := range result {
			if r == cand.ID {
				seen = true
				break
			}
		}
		if !seen {
			result = append(result, cand.ID)
		}
	}

	return result
}

func selectClosest(candidates *queue.PriorityQueue, m int) []core.InternalID {
	for candidates.Len() > m {
		candidates.PopItem()
	}

	sorted := candidates.Sorted()
	result := make([]core.InternalID, len(sorted))
	for i, it := range sorted {
		result[i] = it.ID
	}
	return result
}

// searchLayer runs a beam search over one layer. The returned max-heap
// holds up to ef candidates; tombstoned ids are used for navigation but
// never returned. When forLink is true the allow-list is ignored.
func (h *Index) searchLayer(query []float32, epID core.InternalID, epDist float32, level, ef int, allowed *roaring.Bitmap, forLink bool) *queue.PriorityQueue {
	visited := make(map[core.InternalID]struct{}, ef*4)
	visited[epID] = struct{}{}

	candidates := queue.NewMin(ef)
	candidates.PushItem(queue.Item{ID: epID, Distance: epDist})

	results := queue.NewMax(ef + 1)
	if h.admissible(epID, allowed, forLink) {
		results.PushItem(queue.Item{ID: epID, Distance: epDist})
	}

	for candidates.Len() > 0 {
		curr := candidates.PopItem()

		if results.Len() >= ef && curr.Distance > results.Peek().Distance {
			break
		}

		currNode := h.nodes[curr.ID]
		if level > currNode.level {
			continue
		}

		for _, nextID := range currNode.neighbors[level] {
			if _, seen := visited[nextID]; seen {
				continue
			}
			visited[nextID] = struct{}{}

			next, ok := h.nodes[nextID]
			if !ok {
				continue
			}
			nextDist := h.score(query, next.vector)

			// Skip obviously-bad candidates once the beam is full. With an
			// allow-list we stay permissive so traversal does not get
			// trapped in filtered-out regions.
			if allowed == nil && results.Len() >= ef && nextDist > results.Peek().Distance {
				continue
			}

			candidates.PushItem(queue.Item{ID: nextID, Distance: nextDist})

			if h.admissible(nextID, allowed, forLink) {
				results.PushItem(queue.Item{ID: nextID, Distance: nextDist})
				if results.Len() > ef {
					results.PopItem()
				}
			}
		}
	}

	return results
}

func (h *Index) admissible(id core.InternalID, allowed *roaring.Bitmap, forLink bool) bool {
	if h.tombstones.Contains(uint32(id)) {
		return false
	}
	if forLink || allowed == nil {
		return true
	}
	return allowed.Contains(uint32(id))
}

// Search returns up to params.K candidates, closest first.
func (h *Index) Search(ctx context.Context, query []float32, params index.SearchParams) ([]index.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != h.opts.Dimension {
		return nil, &index.DimensionError{Expected: h.opts.Dimension, Actual: len(query)}
	}
	if params.K <= 0 {
		return nil, fmt.Errorf("hnsw: k must be positive, got %d", params.K)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return nil, nil
	}

	ef := h.opts.EFSearch
	if params.EF > 0 {
		ef = params.EF
	}
	if ef < params.K {
		ef = params.K
	}

	currID := h.entry
	currDist := h.score(query, h.nodes[currID].vector)

	for level := h.maxLevel; level > 0; level-- {
		currID, currDist = h.greedyStep(query, currID, currDist, level)
	}

	results := h.searchLayer(query, currID, currDist, 0, ef, params.Allowed, false)

	sorted := results.Sorted()
	if len(sorted) > params.K {
		sorted = sorted[:params.K]
	}

	out := make([]index.Candidate, len(sorted))
	for i, it := range sorted {
		out[i] = index.Candidate{ID: it.ID, Distance: it.Distance}
	}

	return out, nil
}

// Remove logically deletes an id. The node stays in the graph for
// connectivity until the next rebuild.
func (h *Index) Remove(id core.InternalID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.nodes[id]; !ok {
		return fmt.Errorf("%w: %d", index.ErrUnknownID, id)
	}

	h.tombstones.Add(uint32(id))
	return nil
}
