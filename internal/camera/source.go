package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrCameraUnavailable is returned once the reconnect budget is spent. It is
// terminal for the source: later reads fail immediately.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Grabber is the transport behind a Source.
type Grabber interface {
	// Open connects to the stream.
	Open(ctx context.Context) error
	// Grab returns the next encoded image.
	Grab(ctx context.Context) ([]byte, error)
	// Close releases the stream handle. Safe to call on a closed grabber.
	Close() error
	// Name identifies the stream in logs and frames.
	Name() string
}

// Options controls reconnection and frame processing.
type Options struct {
	MaxRetries   int           // consecutive failed attempts tolerated before giving up
	RetryDelay   time.Duration // fixed delay between attempts
	ReadTimeout  time.Duration // upper bound of one open or grab
	MaxDimension int           // frames are downscaled so neither side exceeds this, 0 disables
	Logger       *slog.Logger
}

// Source yields frames from a Grabber. ReadFrame is not safe for concurrent use;
// Close may be called from any goroutine.
type Source struct {
	grabber Grabber
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	opened     bool
	failed     bool
	closed     bool
	retries    int
	seq        uint64
	reconnects atomic.Uint32
}

// NewSource wraps a grabber.
func NewSource(g Grabber, opts Options) *Source {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Source{
		grabber: g,
		opts:    opts,
		logger:  opts.Logger.With("stream", g.Name()),
	}
}

// Name returns the stream name.
func (s *Source) Name() string {
	return s.grabber.Name()
}

// Reconnects returns how many times the source had to reconnect.
func (s *Source) Reconnects() uint32 {
	return s.reconnects.Load()
}

// ReadFrame returns the next frame. A failed open or read closes the stream,
// waits RetryDelay and tries again; a success resets the retry counter. After
// MaxRetries consecutive failures it returns ErrCameraUnavailable.
func (s *Source) ReadFrame(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		s.mu.Lock()
		switch {
		case s.closed:
			s.mu.Unlock()
			return Frame{}, fmt.Errorf("%w: source closed", ErrCameraUnavailable)
		case s.failed:
			s.mu.Unlock()
			return Frame{}, fmt.Errorf("%w: %s", ErrCameraUnavailable, s.Name())
		}
		opened := s.opened
		s.mu.Unlock()

		data, err := s.attempt(ctx, opened)
		if err == nil {
			return s.frame(data)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}

		if terminal := s.fail(err); terminal != nil {
			return Frame{}, terminal
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(s.opts.RetryDelay):
		}
	}
}

// attempt opens the stream if needed and grabs one image, bounded by ReadTimeout.
func (s *Source) attempt(ctx context.Context, opened bool) ([]byte, error) {
	if s.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ReadTimeout)
		defer cancel()
	}

	if !opened {
		if err := s.grabber.Open(ctx); err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		s.mu.Lock()
		s.opened = true
		s.mu.Unlock()
	}

	data, err := s.grabber.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("read: empty frame")
	}
	return data, nil
}

// fail records a failed attempt and returns a terminal error when the budget is spent.
func (s *Source) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		_ = s.grabber.Close()
		s.opened = false
	}
	s.retries++
	s.reconnects.Add(1)

	if s.retries > s.opts.MaxRetries {
		s.failed = true
		s.logger.Error("camera: giving up", "attempts", s.retries, "error", err)
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrCameraUnavailable, s.Name(), s.retries, err)
	}
	s.logger.Warn("camera: read failed, reconnecting",
		"attempt", s.retries,
		"max_retries", s.opts.MaxRetries,
		"delay", s.opts.RetryDelay,
		"error", err,
	)
	return nil
}

func (s *Source) frame(data []byte) (Frame, error) {
	s.mu.Lock()
	if s.retries > 0 {
		s.logger.Info("camera: stream recovered", "after_attempts", s.retries)
	}
	s.retries = 0
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	encoded, width, height, err := Normalize(data, s.opts.MaxDimension)
	if err != nil {
		// A corrupt frame is not a stream failure.
		return Frame{}, fmt.Errorf("frame %d: %w", seq, err)
	}
	return Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        width,
		Height:       height,
		Data:         encoded,
		SourceStream: s.Name(),
		TraceID:      uuid.New(),
	}, nil
}

// Close releases the stream. Pending and later reads return ErrCameraUnavailable.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.opened = false
	if err := s.grabber.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.Name(), err)
	}
	return nil
}
