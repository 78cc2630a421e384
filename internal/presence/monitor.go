package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/kozaktomas/presence-gate/internal/admission"
	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/camera"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/facematch"
)

// ErrFlowLocked means another process already runs the same camera flow.
var ErrFlowLocked = errors.New("camera flow already running")

// RunMode controls when a Monitor stops on its own.
type RunMode string

const (
	RunContinuous RunMode = "continuous" // until the context is cancelled
	RunOnce       RunMode = "once"       // after the first accepted event
	RunInterval   RunMode = "interval"   // continuous, sleeping between frames
)

// ParseRunMode accepts the CLI spelling of a run mode.
func ParseRunMode(s string) (RunMode, error) {
	switch m := RunMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RunContinuous, RunOnce, RunInterval:
		return m, nil
	case "":
		return RunContinuous, nil
	}
	return "", fmt.Errorf("unknown run mode %q (continuous, once, interval)", s)
}

// FrameReader is what a Monitor reads from; *camera.Source implements it.
type FrameReader interface {
	ReadFrame(ctx context.Context) (camera.Frame, error)
	Close() error
	Name() string
}

// Event is reported for every accepted entry or exit.
type Event struct {
	Direction admission.Direction
	Entry     *EntryResult
	Exit      *ExitResult
}

// MonitorConfig configures one camera flow.
type MonitorConfig struct {
	Direction admission.Direction
	Category  string
	Mode      RunMode
	Interval  time.Duration // pause between frames in RunInterval mode
	LockDir   string        // empty disables the per-flow lock file
	OnEvent   func(Event)
}

// MonitorStats counts what a flow has seen so far.
type MonitorStats struct {
	Frames     uint64
	Accepted   uint64
	Suppressed uint64
	Skipped    uint64
}

// Monitor drives one camera through the service until stopped.
type Monitor struct {
	service *Service
	source  FrameReader
	cfg     MonitorConfig
	logger  *slog.Logger

	frames     atomic.Uint64
	accepted   atomic.Uint64
	suppressed atomic.Uint64
	skipped    atomic.Uint64
}

// NewMonitor builds a monitor. It owns source and closes it when Run returns.
func NewMonitor(service *Service, source FrameReader, cfg MonitorConfig, logger *slog.Logger) (*Monitor, error) {
	if cfg.Direction != admission.Entry && cfg.Direction != admission.Exit {
		return nil, fmt.Errorf("invalid direction %q", cfg.Direction)
	}
	if cfg.Mode == "" {
		cfg.Mode = RunContinuous
	}
	if cfg.Mode == RunInterval && cfg.Interval <= 0 {
		return nil, errors.New("interval mode needs a positive interval")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		service: service,
		source:  source,
		cfg:     cfg,
		logger:  logger.With("flow", string(cfg.Direction), "stream", source.Name()),
	}, nil
}

// Stats returns the counters of the flow.
func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Frames:     m.frames.Load(),
		Accepted:   m.accepted.Load(),
		Suppressed: m.suppressed.Load(),
		Skipped:    m.skipped.Load(),
	}
}

// Run processes frames until ctx is cancelled, the run mode completes or a
// terminal error occurs. Cancellation is not an error.
func (m *Monitor) Run(ctx context.Context) error {
	defer func() {
		if err := m.source.Close(); err != nil {
			m.logger.Warn("failed to close camera", "error", err)
		}
	}()

	if m.cfg.LockDir != "" {
		unlock, err := m.lock()
		if err != nil {
			return err
		}
		defer unlock()
	}

	m.logger.Info("camera flow started", "mode", m.cfg.Mode, "category", m.cfg.Category)
	defer func() {
		st := m.Stats()
		m.logger.Info("camera flow stopped", "frames", st.Frames, "accepted", st.Accepted)
	}()

	for {
		frame, err := m.source.ReadFrame(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, camera.ErrCameraUnavailable):
			return fmt.Errorf("%s flow: %w", m.cfg.Direction, err)
		case err != nil:
			m.skipped.Add(1)
			m.logger.Debug("frame skipped", "error", err)
		default:
			m.frames.Add(1)
			accepted, err := m.handle(ctx, frame)
			if err != nil {
				return err
			}
			if accepted && m.cfg.Mode == RunOnce {
				return nil
			}
		}

		if m.cfg.Mode == RunInterval {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.cfg.Interval):
			}
		}
	}
}

// handle processes one frame. It returns an error only when the flow must stop.
func (m *Monitor) handle(ctx context.Context, frame camera.Frame) (bool, error) {
	var (
		ev  Event
		err error
	)
	ev.Direction = m.cfg.Direction
	if m.cfg.Direction == admission.Entry {
		ev.Entry, err = m.service.ProcessEntryFrame(ctx, frame, m.cfg.Category)
	} else {
		ev.Exit, err = m.service.ProcessExitFrame(ctx, frame, m.cfg.Category)
	}

	log := m.logger.With("frame", frame.Seq, "trace_id", frame.TraceID)
	switch {
	case err == nil:
		m.accepted.Add(1)
		if m.cfg.OnEvent != nil {
			m.cfg.OnEvent(ev)
		}
		return true, nil
	case ctx.Err() != nil:
		return false, nil
	case errors.Is(err, ErrNoFaceDetected), errors.Is(err, ErrNoConfidentMatch):
		log.Debug("no match", "reason", err)
	case errors.Is(err, ErrDuplicateSuppressed):
		m.suppressed.Add(1)
		log.Debug("duplicate suppressed", "error", err)
	case errors.Is(err, database.ErrAlreadyOpen), errors.Is(err, database.ErrNoOpenSession):
		log.Info("event rejected", "reason", err)
	case errors.Is(err, ErrUnknownSubject), errors.Is(err, ErrSubjectDisabled):
		log.Warn("subject not admitted", "reason", err)
	case errors.Is(err, attendance.ErrInvalidInterval):
		// Already logged at error level by the service.
	case errors.Is(err, facematch.ErrNoKnownEmbeddings),
		errors.Is(err, ErrUnknownCategory),
		errors.Is(err, database.ErrStoreUnavailable):
		return false, fmt.Errorf("%s flow: %w", m.cfg.Direction, err)
	default:
		return false, fmt.Errorf("%s flow: unexpected error: %w", m.cfg.Direction, err)
	}
	return false, nil
}

// lock takes the per-flow lock file so two processes never drive the same gate.
func (m *Monitor) lock() (func(), error) {
	if err := os.MkdirAll(m.cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := filepath.Join(m.cfg.LockDir, fmt.Sprintf("presence-%s.lock", m.cfg.Direction))
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowLocked, path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			m.logger.Warn("failed to release flow lock", "error", err)
		}
	}, nil
}
