package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/presence-gate/internal/admission"
	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/database/postgres"
	"github.com/kozaktomas/presence-gate/internal/faceapi"
	"github.com/kozaktomas/presence-gate/internal/facematch"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

// store bundles the PostgreSQL repositories of one process.
type store struct {
	pool     *postgres.Pool
	ledger   *postgres.LedgerRepository
	subjects *postgres.SubjectRepository
	settings *postgres.SettingsRepository
	faces    *postgres.FaceRepository
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return &store{
		pool:     pool,
		ledger:   postgres.NewLedgerRepository(pool),
		subjects: postgres.NewSubjectRepository(pool),
		settings: postgres.NewSettingsRepository(pool),
		faces:    postgres.NewFaceRepository(pool),
	}, nil
}

func (s *store) Close() {
	if err := s.pool.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
}

// gate is a fully wired presence service.
type gate struct {
	service *presence.Service
	gallery *facematch.Gallery
	matcher *facematch.Matcher
	client  *faceapi.Client
}

// newGallery picks the encodings file when configured, the database otherwise.
func newGallery(cfg *config.Config, st *store, logger *slog.Logger) (*facematch.Gallery, error) {
	metric, err := facematch.MetricByName(cfg.Matching.Metric)
	if err != nil {
		return nil, err
	}
	var source facematch.Source = st.faces.ForModel(cfg.FaceService.Model)
	if cfg.Matching.EncodingsFile != "" {
		source = &facematch.FileSource{Path: cfg.Matching.EncodingsFile}
	}
	indexFrom := 0
	if cfg.Matching.UseHNSW {
		indexFrom = max(cfg.Matching.HNSWMinSize, 1)
	}
	return facematch.NewGallery(source, facematch.GalleryOptions{
		Metric:         metric,
		ReloadInterval: cfg.Matching.ReloadInterval,
		IndexFrom:      indexFrom,
		Logger:         logger.With("component", "gallery"),
	}), nil
}

func buildGate(ctx context.Context, cfg *config.Config, st *store, logger *slog.Logger) (*gate, error) {
	if err := errors.Join(cfg.ValidateAttendance(), cfg.ValidateMatching()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	gallery, err := newGallery(cfg, st, logger)
	if err != nil {
		return nil, err
	}
	if err := gallery.Reload(ctx); err != nil {
		return nil, err
	}
	if gallery.Snapshot().Len() == 0 {
		logger.Warn("no enrolled faces yet, recognition will fail until faces are pushed")
	}

	client := faceapi.NewClient(cfg.FaceService.URL, cfg.FaceService.Model, cfg.FaceService.Timeout)
	if err := client.Health(ctx); err != nil {
		logger.Warn("face service is not reachable", "error", err)
	}

	matcher := facematch.NewMatcher(client, gallery, facematch.MatcherConfig{
		Strict:          cfg.Matching.StrictThreshold,
		Lenient:         cfg.Matching.LenientThreshold,
		Fallback:        cfg.Matching.FallbackThreshold,
		FallbackEnabled: cfg.Matching.FallbackEnabled,
		Workers:         cfg.Matching.ExtractWorkers,
	}, logger.With("component", "matcher"))

	service, err := presence.NewService(presence.Deps{
		Recognizer: matcher,
		Ledger:     st.ledger,
		Subjects:   st.subjects,
		Settings:   st.settings,
		Logger:     logger,
	}, presence.Config{
		MinimumMinutes:  cfg.Attendance.MinimumMinutes,
		CoolDown:        cfg.Attendance.CoolDown,
		Location:        loc,
		DefaultCategory: cfg.Categories.Default,
		Categories:      cfg.Categories.Categories,
		WriteTimeout:    cfg.Database.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &gate{service: service, gallery: gallery, matcher: matcher, client: client}, nil
}

// background keeps the gallery fresh and drops expired suppression tickets
// until ctx is done.
func (g *gate) background(ctx context.Context, reloadInterval time.Duration) {
	go g.gallery.Watch(ctx, reloadInterval)
	go sweepTickets(ctx, g.service.Suppressor())
}

func sweepTickets(ctx context.Context, s *admission.Suppressor) {
	interval := max(s.CoolDown(), time.Second) * 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				slog.Debug("expired suppression tickets dropped", "count", n)
			}
		}
	}
}
