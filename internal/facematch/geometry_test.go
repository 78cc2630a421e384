package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Region
		want float64
	}{
		{"identical", Region{X1: 0, Y1: 0, X2: 10, Y2: 10}, Region{X1: 0, Y1: 0, X2: 10, Y2: 10}, 1},
		{"disjoint", Region{X1: 0, Y1: 0, X2: 10, Y2: 10}, Region{X1: 20, Y1: 20, X2: 30, Y2: 30}, 0},
		{"touching", Region{X1: 0, Y1: 0, X2: 10, Y2: 10}, Region{X1: 10, Y1: 0, X2: 20, Y2: 10}, 0},
		{"half overlap", Region{X1: 0, Y1: 0, X2: 10, Y2: 10}, Region{X1: 5, Y1: 0, X2: 15, Y2: 10}, 50.0 / 150.0},
		{"contained", Region{X1: 0, Y1: 0, X2: 10, Y2: 10}, Region{X1: 0, Y1: 0, X2: 5, Y2: 5}, 0.25},
		{"degenerate", Region{}, Region{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeIoU(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeIoU() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLargestRegion(t *testing.T) {
	if _, ok := LargestRegion(nil); ok {
		t.Error("expected no region for empty input")
	}

	small := Region{X1: 0, Y1: 0, X2: 10, Y2: 10}
	large := Region{X1: 100, Y1: 100, X2: 160, Y2: 170}
	sameAsSmall := Region{X1: 50, Y1: 50, X2: 60, Y2: 60}

	got, ok := LargestRegion([]Region{small, large, sameAsSmall})
	if !ok || got != large {
		t.Errorf("LargestRegion() = %+v, want %+v", got, large)
	}

	got, _ = LargestRegion([]Region{small, sameAsSmall})
	if got != small {
		t.Errorf("ties should keep the first detection, got %+v", got)
	}
}

func TestRegionHelpers(t *testing.T) {
	r := Region{X1: 10, Y1: 20, X2: 40, Y2: 60, Score: 0.9}
	if r.Width() != 30 || r.Height() != 40 || r.Area() != 1200 {
		t.Errorf("unexpected dimensions: %v x %v = %v", r.Width(), r.Height(), r.Area())
	}
	inverted := Region{X1: 10, Y1: 10, X2: 5, Y2: 5}
	if inverted.Area() != 0 {
		t.Errorf("inverted region should have zero area, got %v", inverted.Area())
	}
	scaled := r.Scale(2)
	if scaled.X2 != 80 || scaled.Y2 != 120 || scaled.Score != 0.9 {
		t.Errorf("unexpected scaled region: %+v", scaled)
	}
	if bbox := r.BBox(); len(bbox) != 4 || bbox[2] != 40 {
		t.Errorf("unexpected bbox: %v", bbox)
	}
}

func TestDeduplicate(t *testing.T) {
	a := Region{X1: 0, Y1: 0, X2: 10, Y2: 10, Score: 0.6}
	aBetter := Region{X1: 1, Y1: 0, X2: 11, Y2: 10, Score: 0.9}
	b := Region{X1: 50, Y1: 50, X2: 60, Y2: 60, Score: 0.7}
	empty := Region{X1: 5, Y1: 5, X2: 5, Y2: 5}

	got := Deduplicate([]Region{a, b, aBetter, empty}, 0.5)
	if len(got) != 2 {
		t.Fatalf("expected 2 regions, got %d: %+v", len(got), got)
	}
	if got[0] != aBetter {
		t.Errorf("expected the higher-scoring duplicate to win, got %+v", got[0])
	}
	if got[1] != b {
		t.Errorf("expected b to be kept, got %+v", got[1])
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		distance float64
		want     int
	}{
		{0, 100},
		{0.47, 53},
		{1, 0},
		{1.4, 0},
		{-0.2, 100},
	}
	for _, tt := range tests {
		if got := Confidence(tt.distance); got != tt.want {
			t.Errorf("Confidence(%v) = %d, want %d", tt.distance, got, tt.want)
		}
	}
}

func TestDistances(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	if d := EuclideanDistance(a, a); d != 0 {
		t.Errorf("EuclideanDistance(a, a) = %v", d)
	}
	if d := EuclideanDistance(a, b); math.Abs(d-math.Sqrt2) > 1e-9 {
		t.Errorf("EuclideanDistance(a, b) = %v, want sqrt(2)", d)
	}
	if d := EuclideanDistance(a, []float32{1}); !math.IsInf(d, 1) {
		t.Errorf("mismatched dimensions should be infinitely far, got %v", d)
	}
	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-9 {
		t.Errorf("CosineDistance(a, b) = %v, want 1", d)
	}
	if d := CosineDistance(a, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Errorf("CosineDistance(opposite) = %v, want 2", d)
	}
	if d := CosineDistance(a, []float32{0, 0}); d != 2 {
		t.Errorf("zero vector should be maximally distant, got %v", d)
	}

	if m, err := MetricByName("cosine"); err != nil || m.Name != "cosine" {
		t.Errorf("MetricByName(cosine) = %v, %v", m.Name, err)
	}
	if _, err := MetricByName("manhattan"); err == nil {
		t.Error("expected error for unknown metric")
	}
}
