package facematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Detectors used by the default tiers.
const (
	DetectorHOG  = "hog"
	DetectorCNN  = "cnn"
	DetectorYOLO = "yolo"
)

// dedupIoU is the overlap above which two detections are the same face.
const dedupIoU = 0.5

// Attempt is the outcome of one tier on one frame.
type Attempt struct {
	Faces   int
	Matches []Match
}

// Strategy is one stage of the cascade.
type Strategy interface {
	Tier() Tier
	TryMatch(ctx context.Context, image []byte, snap *Snapshot, mode Mode) (Attempt, error)
}

// TierConfig describes a detector/threshold pair.
type TierConfig struct {
	Tier      Tier
	Detector  string
	Threshold float64 // a candidate is accepted when its distance is <= Threshold
}

// TierStrategy detects faces with one detector and accepts the nearest subject
// when it is within the tier threshold.
type TierStrategy struct {
	cfg       TierConfig
	extractor Extractor
	sem       *semaphore.Weighted
	workers   int
}

// NewTierStrategy creates a tier. sem bounds concurrent embedding extractions
// and is shared by every tier and flow of the process.
func NewTierStrategy(cfg TierConfig, extractor Extractor, sem *semaphore.Weighted, workers int) *TierStrategy {
	return &TierStrategy{cfg: cfg, extractor: extractor, sem: sem, workers: max(workers, 1)}
}

func (s *TierStrategy) Tier() Tier { return s.cfg.Tier }

func (s *TierStrategy) TryMatch(ctx context.Context, image []byte, snap *Snapshot, mode Mode) (Attempt, error) {
	regions, err := s.extractor.Detect(ctx, image, s.cfg.Detector)
	if err != nil {
		return Attempt{}, fmt.Errorf("detect (%s): %w", s.cfg.Detector, err)
	}
	regions = Deduplicate(regions, dedupIoU)
	att := Attempt{Faces: len(regions)}
	if len(regions) == 0 {
		return att, nil
	}

	if mode == ModeSingle {
		largest, _ := LargestRegion(regions)
		m, ok, err := s.identify(ctx, image, snap, largest)
		if err != nil {
			return att, err
		}
		if ok {
			att.Matches = []Match{m}
		}
		return att, nil
	}

	results := make([]*Match, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, r := range regions {
		g.Go(func() error {
			m, ok, err := s.identify(gctx, image, snap, r)
			if err != nil {
				return err
			}
			if ok {
				results[i] = &m
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return att, err
	}
	for _, m := range results {
		if m != nil {
			att.Matches = append(att.Matches, *m)
		}
	}
	return att, nil
}

func (s *TierStrategy) identify(ctx context.Context, image []byte, snap *Snapshot, region Region) (Match, bool, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Match{}, false, fmt.Errorf("waiting for extraction slot: %w", err)
	}
	embedding, err := s.extractor.Embed(ctx, image, region)
	s.sem.Release(1)
	if err != nil {
		return Match{}, false, fmt.Errorf("embed: %w", err)
	}

	key, dist, ok := snap.Nearest(embedding)
	if !ok || dist > s.cfg.Threshold {
		return Match{}, false, nil
	}
	return Match{
		SubjectKey: key,
		Distance:   dist,
		Tier:       s.cfg.Tier,
		Confidence: Confidence(dist),
		Region:     region,
	}, true, nil
}

// Result is the outcome of the whole cascade.
type Result struct {
	Matches []Match
	// FacesDetected is the largest face count any tier saw. Zero with no
	// matches means nobody was in the frame.
	FacesDetected int
}

// Matcher runs the cascade against the gallery.
type Matcher struct {
	strategies []Strategy
	gallery    *Gallery
	logger     *slog.Logger
}

// MatcherConfig holds the thresholds of the default cascade.
type MatcherConfig struct {
	Strict          float64
	Lenient         float64
	Fallback        float64
	FallbackEnabled bool
	Workers         int
}

// DefaultTiers builds the hog/cnn/yolo ladder.
func DefaultTiers(cfg MatcherConfig) []TierConfig {
	tiers := []TierConfig{
		{Tier: TierStrict, Detector: DetectorHOG, Threshold: cfg.Strict},
		{Tier: TierLenient, Detector: DetectorCNN, Threshold: cfg.Lenient},
	}
	if cfg.FallbackEnabled {
		tiers = append(tiers, TierConfig{Tier: TierFallback, Detector: DetectorYOLO, Threshold: cfg.Fallback})
	}
	return tiers
}

// NewMatcher wires the default cascade.
func NewMatcher(extractor Extractor, gallery *Gallery, cfg MatcherConfig, logger *slog.Logger) *Matcher {
	workers := max(cfg.Workers, 1)
	sem := semaphore.NewWeighted(int64(workers))
	var strategies []Strategy
	for _, t := range DefaultTiers(cfg) {
		strategies = append(strategies, NewTierStrategy(t, extractor, sem, workers))
	}
	return NewMatcherWithStrategies(gallery, logger, strategies...)
}

// NewMatcherWithStrategies builds a matcher from an explicit strategy list, tried in order.
func NewMatcherWithStrategies(gallery *Gallery, logger *slog.Logger, strategies ...Strategy) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{strategies: strategies, gallery: gallery, logger: logger}
}

// Tiers lists the enabled tiers in cascade order.
func (m *Matcher) Tiers() []Tier {
	out := make([]Tier, len(m.strategies))
	for i, s := range m.strategies {
		out[i] = s.Tier()
	}
	return out
}

// Gallery returns the gallery the matcher reads from.
func (m *Matcher) Gallery() *Gallery {
	return m.gallery
}

// Match identifies the faces of one frame. Each tier runs only if the previous
// one accepted nothing. Extraction errors of a tier are logged and treated as
// no match for that tier; only an empty gallery or a cancelled context are errors.
func (m *Matcher) Match(ctx context.Context, image []byte, mode Mode) (Result, error) {
	snap := m.gallery.Current(ctx)
	if snap.Len() == 0 {
		return Result{}, ErrNoKnownEmbeddings
	}

	var res Result
	for _, s := range m.strategies {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("matching cancelled: %w", err)
		}
		att, err := s.TryMatch(ctx, image, snap, mode)
		res.FacesDetected = max(res.FacesDetected, att.Faces)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
				return res, fmt.Errorf("matching cancelled: %w", errors.Join(ctxErr, err))
			}
			m.logger.Warn("tier failed, escalating", "tier", s.Tier(), "error", err)
			continue
		}
		if len(att.Matches) > 0 {
			res.Matches = att.Matches
			return res, nil
		}
		m.logger.Debug("tier produced no match", "tier", s.Tier(), "faces", att.Faces)
	}
	return res, nil
}
