package facematch

import (
	"github.com/coder/hnsw"
)

// HNSW parameters for face embeddings (128 to 512 dimensions).
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	hnswMaxNeighbors = 16

	// hnswEfSearch is the search candidate pool size.
	hnswEfSearch = 100

	// hnswCandidates is how many neighbours are re-ranked with the exact metric.
	hnswCandidates = 10
)

// annIndex is an approximate nearest-neighbour index over a snapshot's entries.
// Node keys are positions in the snapshot slice. The graph only accepts vectors
// of one length, so only entries of the dominant dimension are indexed.
type annIndex struct {
	graph *hnsw.Graph[int]
	dim   int
}

// dominantDim returns the most common embedding length, preferring the longer
// one on ties.
func dominantDim(entries []Enrollment) int {
	counts := make(map[int]int)
	dim, best := 0, 0
	for _, e := range entries {
		n := len(e.Embedding)
		if n == 0 {
			continue
		}
		counts[n]++
		if c := counts[n]; c > best || (c == best && n > dim) {
			dim, best = n, c
		}
	}
	return dim
}

func buildIndex(entries []Enrollment, metric Metric) *annIndex {
	dim := dominantDim(entries)
	if dim == 0 {
		return nil
	}

	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.EfSearch = hnswEfSearch
	g.Distance = metric.graph

	nodes := make([]hnsw.Node[int], 0, len(entries))
	for i, e := range entries {
		if len(e.Embedding) != dim {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(i, e.Embedding))
	}
	g.Add(nodes...)
	return &annIndex{graph: g, dim: dim}
}

// candidates returns the snapshot positions closest to query, or nil when the
// query length differs from the indexed dimension.
func (x *annIndex) candidates(query []float32) []int {
	if len(query) != x.dim {
		return nil
	}
	neighbors := x.graph.Search(query, hnswCandidates)
	out := make([]int, len(neighbors))
	for i, n := range neighbors {
		out[i] = n.Key
	}
	return out
}
