package facematch

// Region is a detected face in pixel coordinates of the analysed image.
type Region struct {
	X1, Y1, X2, Y2 float64
	Score          float64
}

func (r Region) Width() float64  { return max(0, r.X2-r.X1) }
func (r Region) Height() float64 { return max(0, r.Y2-r.Y1) }
func (r Region) Area() float64   { return r.Width() * r.Height() }

// BBox returns [x1, y1, x2, y2].
func (r Region) BBox() []float64 {
	return []float64{r.X1, r.Y1, r.X2, r.Y2}
}

// Scale multiplies all coordinates, used to map regions of a downscaled frame back.
func (r Region) Scale(f float64) Region {
	return Region{X1: r.X1 * f, Y1: r.Y1 * f, X2: r.X2 * f, Y2: r.Y2 * f, Score: r.Score}
}

// ComputeIoU calculates Intersection over Union between two regions.
func ComputeIoU(a, b Region) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// LargestRegion returns the detection with the greatest area.
// Ties keep the earlier detection.
func LargestRegion(regions []Region) (Region, bool) {
	if len(regions) == 0 {
		return Region{}, false
	}
	best := regions[0]
	for _, r := range regions[1:] {
		if r.Area() > best.Area() {
			best = r
		}
	}
	return best, true
}

// Deduplicate drops detections overlapping an earlier, higher-scoring one by more than iou.
func Deduplicate(regions []Region, iou float64) []Region {
	var kept []Region
	for _, r := range regions {
		if r.Area() == 0 {
			continue
		}
		dup := false
		for i, k := range kept {
			if ComputeIoU(r, k) > iou {
				if r.Score > k.Score {
					kept[i] = r
				}
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
		}
	}
	return kept
}
