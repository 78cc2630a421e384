package facematch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the enrolled embeddings.
type Snapshot struct {
	entries  []Enrollment
	subjects int
	marker   string
	metric   Metric
	index    *annIndex
	LoadedAt time.Time
}

func newSnapshot(entries []Enrollment, marker string, metric Metric, indexFrom int) *Snapshot {
	keys := make(map[string]struct{})
	kept := make([]Enrollment, 0, len(entries))
	for _, e := range entries {
		if e.SubjectKey == "" || len(e.Embedding) == 0 {
			continue
		}
		keys[e.SubjectKey] = struct{}{}
		kept = append(kept, e)
	}

	s := &Snapshot{
		entries:  kept,
		subjects: len(keys),
		marker:   marker,
		metric:   metric,
		LoadedAt: time.Now(),
	}
	if indexFrom > 0 && len(kept) >= indexFrom {
		s.index = buildIndex(kept, metric)
	}
	return s
}

// Len returns the number of embeddings.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Subjects returns the number of distinct subjects.
func (s *Snapshot) Subjects() int {
	if s == nil {
		return 0
	}
	return s.subjects
}

// Indexed reports whether nearest lookups go through the approximate index.
func (s *Snapshot) Indexed() bool {
	return s != nil && s.index != nil
}

// Nearest returns the enrolled subject closest to query over all embeddings of
// all subjects. Without an index this is an exact scan.
func (s *Snapshot) Nearest(query []float32) (string, float64, bool) {
	if s.Len() == 0 || len(query) == 0 {
		return "", 0, false
	}

	best, bestDist := -1, math.Inf(1)
	consider := func(i int) {
		if d := s.metric.Distance(query, s.entries[i].Embedding); d < bestDist {
			best, bestDist = i, d
		}
	}

	if s.index != nil {
		for _, i := range s.index.candidates(query) {
			consider(i)
		}
	}
	if best < 0 {
		for i := range s.entries {
			consider(i)
		}
	}
	if best < 0 || math.IsInf(bestDist, 1) {
		return "", 0, false
	}
	return s.entries[best].SubjectKey, bestDist, true
}

// GalleryOptions configures a Gallery.
type GalleryOptions struct {
	Metric         Metric
	ReloadInterval time.Duration // minimum time between marker checks
	IndexFrom      int           // build an HNSW index from this many embeddings, 0 disables
	Logger         *slog.Logger
}

// Gallery holds the current snapshot and swaps it when the source changes.
// Readers never block on a reload and never see a partially loaded snapshot.
type Gallery struct {
	source  Source
	opts    GalleryOptions
	current atomic.Pointer[Snapshot]
	checked atomic.Int64 // unix nanos of the last marker check

	reloadMu sync.Mutex
}

// NewGallery creates a gallery. Call Reload before first use.
func NewGallery(source Source, opts GalleryOptions) *Gallery {
	if opts.Metric.Distance == nil {
		opts.Metric = Euclidean
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gallery{source: source, opts: opts}
}

// Snapshot returns the current snapshot without checking freshness. May be nil.
func (g *Gallery) Snapshot() *Snapshot {
	return g.current.Load()
}

// Current returns the snapshot, reloading first if the reload interval elapsed
// and the source marker changed. A failed freshness check keeps the old snapshot.
func (g *Gallery) Current(ctx context.Context) *Snapshot {
	last := time.Unix(0, g.checked.Load())
	if g.Snapshot() == nil || time.Since(last) >= g.opts.ReloadInterval {
		if _, err := g.Refresh(ctx); err != nil {
			g.opts.Logger.Warn("gallery refresh failed, using previous snapshot", "error", err)
		}
	}
	return g.Snapshot()
}

// Refresh reloads when the source marker differs from the loaded one.
func (g *Gallery) Refresh(ctx context.Context) (bool, error) {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	g.checked.Store(time.Now().UnixNano())
	marker, err := g.source.Marker(ctx)
	if err != nil {
		return false, fmt.Errorf("gallery marker: %w", err)
	}
	if snap := g.Snapshot(); snap != nil && snap.marker == marker {
		return false, nil
	}
	return true, g.load(ctx, marker)
}

// Reload unconditionally loads a new snapshot.
func (g *Gallery) Reload(ctx context.Context) error {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	g.checked.Store(time.Now().UnixNano())
	marker, err := g.source.Marker(ctx)
	if err != nil {
		return fmt.Errorf("gallery marker: %w", err)
	}
	return g.load(ctx, marker)
}

func (g *Gallery) load(ctx context.Context, marker string) error {
	start := time.Now()
	entries, err := g.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	snap := newSnapshot(entries, marker, g.opts.Metric, g.opts.IndexFrom)
	g.current.Store(snap)

	g.opts.Logger.Info("gallery loaded",
		"embeddings", snap.Len(),
		"subjects", snap.Subjects(),
		"indexed", snap.Indexed(),
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Watch refreshes the gallery every interval until ctx is done.
func (g *Gallery) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Refresh(ctx); err != nil {
				g.opts.Logger.Warn("gallery refresh failed", "error", err)
			}
		}
	}
}
