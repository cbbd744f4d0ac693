package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/index"
	"github.com/kungtalon/vecdb/metadata"
	"github.com/kungtalon/vecdb/model"
	"github.com/kungtalon/vecdb/queue"
	"github.com/kungtalon/vecdb/store"
)

// Search returns the k nearest live records to query, ordered by ascending
// score with internal id as the tie-breaker. The query runs against a
// pinned snapshot and never blocks ingestion.
func (c *Collection) Search(ctx context.Context, query []float32, opts model.SearchOptions) ([]model.SearchResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.K <= 0 {
		return nil, ErrInvalidK
	}
	if err := c.validateVector(query); err != nil {
		return nil, err
	}

	filter, err := filterSet(opts.Filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	// The allow-list is liveness intersected with the filter postings.
	// Working on a copy keeps the query independent of concurrent deletes.
	allowed := c.live.Copy()
	if bits := c.fields.Evaluate(filter); bits != nil {
		allowed.And(bits)
	}

	reachable := allowed.GetCardinality()
	if reachable == 0 {
		c.obs.SearchCompleted(time.Since(start), 0)
		return []model.SearchResult{}, nil
	}

	var results []model.SearchResult
	if opts.Exact {
		results, err = c.exactSearch(ctx, query, allowed, opts)
	} else {
		results, err = c.approxSearch(ctx, query, allowed, reachable, opts)
	}
	if err != nil {
		return nil, err
	}

	c.obs.SearchCompleted(time.Since(start), len(results))
	return results, nil
}

// filterSet coerces the untyped filter field.
func filterSet(v any) (*metadata.FilterSet, error) {
	switch f := v.(type) {
	case nil:
		return nil, nil
	case *metadata.FilterSet:
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidFilter, v)
	}
}

func (c *Collection) approxSearch(ctx context.Context, query []float32, allowed *roaring.Bitmap, reachable uint64, opts model.SearchOptions) ([]model.SearchResult, error) {
	snap := c.acquireSnapshot()
	defer snap.release()

	oversample := opts.Oversample
	if oversample < 1 {
		oversample = c.opts.oversample
	}

	budget := int(math.Ceil(float64(opts.K) * float64(oversample)))
	if budget < opts.K {
		budget = opts.K
	}

	params := index.SearchParams{
		K:       budget,
		Allowed: allowed,
		EF:      opts.EF,
		NProbe:  opts.NProbe,
	}

	cands, err := snap.backend.Search(ctx, query, params)
	if err != nil {
		return nil, err
	}

	// Filter attrition can starve the candidate set; widen once before
	// settling for fewer than k.
	if len(cands) < opts.K && uint64(budget) < reachable {
		params.K = budget * 4
		cands, err = snap.backend.Search(ctx, query, params)
		if err != nil {
			return nil, err
		}
	}

	return c.materialize(query, cands, opts)
}

// exactSearch brute-forces the allow-list against stored vectors. The
// scan walks the record store, so results are exact regardless of backend
// state (including an untrained one).
func (c *Collection) exactSearch(ctx context.Context, query []float32, allowed *roaring.Bitmap, opts model.SearchOptions) ([]model.SearchResult, error) {
	worst := queue.NewMax(opts.K)

	var scanErr error
	c.store.Scan(func(row store.Row) bool {
		if err := ctx.Err(); err != nil {
			scanErr = err
			return false
		}
		if !allowed.Contains(uint32(row.Internal)) {
			return true
		}

		d := c.score(query, row.Record.Vector)
		if worst.Len() < opts.K {
			worst.PushItem(queue.Item{ID: row.Internal, Distance: d})
		} else if top := worst.Peek(); d < top.Distance || (d == top.Distance && row.Internal < top.ID) {
			worst.PopItem()
			worst.PushItem(queue.Item{ID: row.Internal, Distance: d})
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	items := worst.Sorted()
	cands := make([]index.Candidate, len(items))
	for i, it := range items {
		cands[i] = index.Candidate{ID: it.ID, Distance: it.Distance}
	}

	// Exact scores are already against stored vectors.
	opts.Rerank = false
	return c.materialize(query, cands, opts)
}

// materialize resolves candidates to external records, optionally reranks
// against stored vectors, and applies the final order and cut.
func (c *Collection) materialize(query []float32, cands []index.Candidate, opts model.SearchOptions) ([]model.SearchResult, error) {
	type scored struct {
		result   model.SearchResult
		internal core.InternalID
	}

	out := make([]scored, 0, len(cands))
	for _, cand := range cands {
		id, ok := c.table.Reverse(cand.ID)
		if !ok {
			// Deleted between snapshot and resolution.
			continue
		}
		row, ok := c.store.Get(id)
		if !ok || row.Internal != cand.ID {
			continue
		}

		score := cand.Distance
		if opts.Rerank {
			score = c.score(query, row.Record.Vector)
		}

		res := model.SearchResult{ID: id, Score: score}
		if opts.IncludeVector {
			res.Vector = make([]float32, len(row.Record.Vector))
			copy(res.Vector, row.Record.Vector)
		}
		if opts.IncludeMetadata && row.Record.Metadata != nil {
			res.Metadata = make(map[string]any, len(row.Record.Metadata))
			for k, v := range row.Record.Metadata {
				res.Metadata[k] = v
			}
		}

		out = append(out, scored{result: res, internal: cand.ID})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].result.Score != out[j].result.Score {
			return out[i].result.Score < out[j].result.Score
		}
		return out[i].internal < out[j].internal
	})

	if len(out) > opts.K {
		out = out[:opts.K]
	}

	results := make([]model.SearchResult, len(out))
	for i, s := range out {
		results[i] = s.result
	}
	return results, nil
}

// BatchSearch runs several queries concurrently, bounded by the
// collection's search concurrency. Results are positional; the first
// failing query aborts the batch.
func (c *Collection) BatchSearch(ctx context.Context, queries [][]float32, opts model.SearchOptions) ([][]model.SearchResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if len(queries) == 0 {
		return nil, nil
	}

	results := make([][]model.SearchResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.searchLimit)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := c.Search(gctx, q, opts)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
