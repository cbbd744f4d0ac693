// Package kmeans implements Lloyd's algorithm for partition training.
package kmeans

import (
	"math"
	"math/rand"
	"sort"

	"github.com/kungtalon/vecdb/distance"
)

// Train fits k centroids to the given vectors and returns them flattened
// (k * dim). Returns nil when there are fewer vectors than clusters.
func Train(vectors []float32, dim, k int, metric distance.Metric, maxIter int) []float32 {
	n := len(vectors) / dim
	if n < k {
		return nil
	}

	score := distance.FuncFor(metric)
	centroids := make([]float32, k*dim)

	perm := rand.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := -1
			min := float32(math.MaxFloat32)

			for j := 0; j < k; j++ {
				if d := score(vec, centroids[j*dim:(j+1)*dim]); d < min {
					min = d
					best = j
				}
			}

			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Reseed empty clusters from a random point.
				idx := rand.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids
}

// Closest returns the indices of the n centroids nearest to the query,
// closest first.
func Closest(query, centroids []float32, dim, n int, metric distance.Metric) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}

	score := distance.FuncFor(metric)

	type centroidDist struct {
		id   int
		dist float32
	}

	dists := make([]centroidDist, k)
	for i := 0; i < k; i++ {
		dists[i] = centroidDist{id: i, dist: score(query, centroids[i*dim:(i+1)*dim])}
	}

	sort.Slice(dists, func(i, j int) bool {
		if dists[i].dist == dists[j].dist {
			return dists[i].id < dists[j].id
		}
		return dists[i].dist < dists[j].dist
	})

	out := make([]int, n)
	for i := range out {
		out[i] = dists[i].id
	}

	return out
}

// Assign returns the index of the centroid nearest to vec.
func Assign(vec, centroids []float32, dim int, metric distance.Metric) int {
	ids := Closest(vec, centroids, dim, 1, metric)
	if len(ids) == 0 {
		return -1
	}
	return ids[0]
}
