package facematch

import (
	"fmt"
	"math"

	"github.com/coder/hnsw"
)

// Metric returns the dissimilarity of two embeddings, 0 meaning identical.
type Metric struct {
	Name     string
	Distance func(a, b []float32) float64
	graph    hnsw.DistanceFunc
}

var (
	Euclidean = Metric{Name: "euclidean", Distance: EuclideanDistance, graph: hnsw.EuclideanDistance}
	Cosine    = Metric{Name: "cosine", Distance: CosineDistance, graph: hnsw.CosineDistance}
)

// MetricByName resolves a configured metric.
func MetricByName(name string) (Metric, error) {
	switch name {
	case "", Euclidean.Name:
		return Euclidean, nil
	case Cosine.Name:
		return Cosine, nil
	}
	return Metric{}, fmt.Errorf("unknown distance metric %q", name)
}

// EuclideanDistance is the L2 distance between two vectors.
// Mismatched or empty vectors are infinitely far apart.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))
	return 1 - similarity
}
