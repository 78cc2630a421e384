// Package presence ties recognition, duplicate suppression, the session ledger
// and the attendance policy together into entry and exit operations.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/presence-gate/internal/admission"
	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/camera"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/facematch"
)

const defaultWriteTimeout = 10 * time.Second

// Recognizer identifies the faces of an image.
type Recognizer interface {
	Match(ctx context.Context, image []byte, mode facematch.Mode) (facematch.Result, error)
}

// Config holds the deployment parameters of the service.
type Config struct {
	MinimumMinutes  int // fallback when no threshold setting is stored
	CoolDown        time.Duration
	Location        *time.Location
	DefaultCategory string
	Categories      []string // empty accepts any category
	WriteTimeout    time.Duration
}

// Deps are the collaborators of a Service. Settings and Subjects are optional.
type Deps struct {
	Recognizer Recognizer
	Ledger     database.Ledger
	Subjects   database.SubjectReader
	Settings   database.SettingsStore
	Logger     *slog.Logger
}

// Service processes presence events. It is safe for concurrent use by any
// number of flows.
type Service struct {
	recognizer Recognizer
	ledger     database.Ledger
	subjects   database.SubjectReader
	settings   database.SettingsStore
	suppressor *admission.Suppressor
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// EntryResult describes an accepted entry.
type EntryResult struct {
	Accepted   bool
	Subject    database.Subject
	Confidence int
	Tier       facematch.Tier
	Session    *database.Session
}

// ExitResult describes an accepted exit and its verdict.
type ExitResult struct {
	Accepted        bool
	Subject         database.Subject
	Confidence      int
	Tier            facematch.Tier
	DurationMinutes int
	Verdict         attendance.Verdict
	Record          *database.AttendanceRecord
	Shortage        int // minutes missing to PRESENT
	DurationText    string
}

// NewService validates the configuration and builds a Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Ledger == nil {
		return nil, errors.New("presence: ledger is required")
	}
	if _, err := attendance.NewPolicy(cfg.MinimumMinutes); err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	if cfg.CoolDown < 0 {
		return nil, fmt.Errorf("presence: negative cool-down %s", cfg.CoolDown)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		recognizer: deps.Recognizer,
		ledger:     deps.Ledger,
		subjects:   deps.Subjects,
		settings:   deps.Settings,
		suppressor: admission.NewSuppressor(cfg.CoolDown),
		cfg:        cfg,
		logger:     logger.With("component", "presence"),
		now:        time.Now,
	}, nil
}

// Suppressor exposes the admission filter, mostly for housekeeping.
func (s *Service) Suppressor() *admission.Suppressor {
	return s.suppressor
}

// ProcessEntryFrame recognizes the largest face of the frame and opens a session for it.
func (s *Service) ProcessEntryFrame(ctx context.Context, frame camera.Frame, category string) (*EntryResult, error) {
	match, subject, err := s.recognize(ctx, frame.Data)
	if err != nil {
		return nil, err
	}
	res, err := s.enter(ctx, subject, category, s.eventTime(frame))
	if err != nil {
		return nil, err
	}
	res.Confidence = match.Confidence
	res.Tier = match.Tier
	s.logger.Info("entry accepted",
		"subject", subject.Key,
		"tier", match.Tier,
		"confidence", match.Confidence,
		"trace_id", frame.TraceID,
	)
	return res, nil
}

// ProcessExitFrame recognizes the largest face of the frame and closes its open session.
func (s *Service) ProcessExitFrame(ctx context.Context, frame camera.Frame, category string) (*ExitResult, error) {
	match, subject, err := s.recognize(ctx, frame.Data)
	if err != nil {
		return nil, err
	}
	res, err := s.exit(ctx, subject, category, s.eventTime(frame))
	if err != nil {
		return nil, err
	}
	res.Confidence = match.Confidence
	res.Tier = match.Tier
	s.logger.Info("exit accepted",
		"subject", subject.Key,
		"minutes", res.DurationMinutes,
		"verdict", res.Verdict,
		"trace_id", frame.TraceID,
	)
	return res, nil
}

// ManualEntry opens a session for a subject without recognition. The cool-down still applies.
func (s *Service) ManualEntry(ctx context.Context, subjectKey, category string, at time.Time) (*EntryResult, error) {
	subject, err := s.lookup(ctx, subjectKey)
	if err != nil {
		return nil, err
	}
	return s.enter(ctx, subject, category, s.orNow(at))
}

// ManualExit closes the open session of a subject without recognition.
func (s *Service) ManualExit(ctx context.Context, subjectKey, category string, at time.Time) (*ExitResult, error) {
	subject, err := s.lookup(ctx, subjectKey)
	if err != nil {
		return nil, err
	}
	return s.exit(ctx, subject, category, s.orNow(at))
}

// RecordAttendance writes an already completed session. The scope date is the entry's date.
func (s *Service) RecordAttendance(ctx context.Context, subjectKey, category string, entry, exit time.Time) (*database.AttendanceRecord, error) {
	subject, err := s.lookup(ctx, subjectKey)
	if err != nil {
		return nil, err
	}
	category, err = s.resolveCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	policy, err := s.Policy(ctx)
	if err != nil {
		return nil, err
	}

	scope := database.ScopeFor(subject.Key, entry, s.cfg.Location, category)
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	rec, err := s.ledger.RecordCompleted(wctx, scope, entry, exit, policy)
	if err != nil {
		if errors.Is(err, attendance.ErrInvalidInterval) {
			s.logger.Error("manual attendance rejected", "scope", scope.Key(), "error", err)
		}
		return nil, fmt.Errorf("recording attendance: %w", err)
	}
	return rec, nil
}

// Recognize runs the matcher on an image without touching the ledger.
func (s *Service) Recognize(ctx context.Context, image []byte, mode facematch.Mode) (facematch.Result, error) {
	if s.recognizer == nil {
		return facematch.Result{}, errors.New("presence: no recognizer configured")
	}
	res, err := s.recognizer.Match(ctx, image, mode)
	if err != nil {
		return res, fmt.Errorf("recognizing: %w", err)
	}
	return res, nil
}

// Policy returns the attendance policy in effect. A stored threshold setting
// overrides the configured one; an unreadable store falls back to the config.
func (s *Service) Policy(ctx context.Context) (attendance.Policy, error) {
	minutes := s.cfg.MinimumMinutes
	if s.settings != nil {
		value, ok, err := s.settings.GetSetting(ctx, database.SettingMinimumMinutes)
		switch {
		case err != nil:
			s.logger.Warn("reading threshold setting failed, using configured value", "error", err)
		case ok:
			n, convErr := strconv.Atoi(strings.TrimSpace(value))
			if convErr != nil {
				s.logger.Warn("ignoring malformed threshold setting", "value", value)
				break
			}
			minutes = n
		}
	}
	return attendance.NewPolicy(minutes)
}

// SetMinimumMinutes stores a new threshold. It applies to sessions closed from now on.
func (s *Service) SetMinimumMinutes(ctx context.Context, minutes int) error {
	if _, err := attendance.NewPolicy(minutes); err != nil {
		return err
	}
	if s.settings == nil {
		return errors.New("presence: no settings store configured")
	}
	return s.settings.SetSetting(ctx, database.SettingMinimumMinutes, strconv.Itoa(minutes))
}

// SetActiveCategory stores the category used when callers leave it empty.
func (s *Service) SetActiveCategory(ctx context.Context, category string) error {
	category = strings.TrimSpace(category)
	if !s.knownCategory(category) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if s.settings == nil {
		return errors.New("presence: no settings store configured")
	}
	return s.settings.SetSetting(ctx, database.SettingActiveCategory, category)
}

func (s *Service) enter(ctx context.Context, subject database.Subject, category string, at time.Time) (*EntryResult, error) {
	category, err := s.resolveCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	if err := s.admit(subject.Key, admission.Entry, at); err != nil {
		return nil, err
	}

	scope := database.ScopeFor(subject.Key, at, s.cfg.Location, category)
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	session, err := s.ledger.OpenSession(wctx, scope, at)
	if err != nil {
		return nil, fmt.Errorf("opening session %s: %w", scope.Key(), err)
	}
	return &EntryResult{Accepted: true, Subject: subject, Session: session}, nil
}

func (s *Service) exit(ctx context.Context, subject database.Subject, category string, at time.Time) (*ExitResult, error) {
	category, err := s.resolveCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	if err := s.admit(subject.Key, admission.Exit, at); err != nil {
		return nil, err
	}
	policy, err := s.Policy(ctx)
	if err != nil {
		return nil, err
	}

	scope := database.ScopeFor(subject.Key, at, s.cfg.Location, category)
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	rec, err := s.ledger.CloseSession(wctx, scope, at, policy)
	if err != nil {
		if errors.Is(err, attendance.ErrInvalidInterval) {
			s.logger.Error("exit precedes entry", "scope", scope.Key(), "error", err)
		}
		return nil, fmt.Errorf("closing session %s: %w", scope.Key(), err)
	}
	return &ExitResult{
		Accepted:        true,
		Subject:         subject,
		DurationMinutes: rec.DurationMinutes,
		Verdict:         rec.Verdict,
		Record:          rec,
		Shortage:        policy.Shortage(rec.DurationMinutes),
		DurationText:    attendance.FormatDuration(rec.DurationMinutes),
	}, nil
}

// recognize returns the accepted match of the largest face and its registered subject.
func (s *Service) recognize(ctx context.Context, image []byte) (facematch.Match, database.Subject, error) {
	res, err := s.Recognize(ctx, image, facematch.ModeSingle)
	if err != nil {
		return facematch.Match{}, database.Subject{}, err
	}
	if len(res.Matches) == 0 {
		if res.FacesDetected == 0 {
			return facematch.Match{}, database.Subject{}, ErrNoFaceDetected
		}
		return facematch.Match{}, database.Subject{}, ErrNoConfidentMatch
	}
	match := res.Matches[0]
	subject, err := s.lookup(ctx, match.SubjectKey)
	if err != nil {
		return facematch.Match{}, database.Subject{}, err
	}
	return match, subject, nil
}

func (s *Service) lookup(ctx context.Context, key string) (database.Subject, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return database.Subject{}, fmt.Errorf("%w: empty key", ErrUnknownSubject)
	}
	if s.subjects == nil {
		return database.Subject{Key: key, Name: key, Active: true}, nil
	}
	subject, err := s.subjects.GetSubject(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrSubjectNotFound):
			return database.Subject{}, fmt.Errorf("%w: %s", ErrUnknownSubject, key)
		case errors.Is(err, database.ErrStoreUnavailable), ctx.Err() != nil:
			return database.Subject{}, fmt.Errorf("loading subject %s: %w", key, err)
		}
		// The registry could not answer; treat it like any other storage outage.
		return database.Subject{}, fmt.Errorf("loading subject %s: %w: %w", key, database.ErrStoreUnavailable, err)
	}
	if !subject.Active {
		return database.Subject{}, fmt.Errorf("%w: %s", ErrSubjectDisabled, key)
	}
	return *subject, nil
}

func (s *Service) admit(key string, direction admission.Direction, at time.Time) error {
	ok, wait := s.suppressor.Admit(key, direction, at)
	if !ok {
		return &DuplicateError{SubjectKey: key, Direction: direction, RetryAfter: wait}
	}
	return nil
}

// resolveCategory falls back to the stored active category, then to the configured default.
func (s *Service) resolveCategory(ctx context.Context, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" && s.settings != nil {
		if value, ok, err := s.settings.GetSetting(ctx, database.SettingActiveCategory); err == nil && ok {
			category = value
		}
	}
	if category == "" {
		category = s.cfg.DefaultCategory
	}
	if !s.knownCategory(category) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return category, nil
}

func (s *Service) knownCategory(category string) bool {
	if category == "" {
		return false
	}
	return len(s.cfg.Categories) == 0 || slices.Contains(s.cfg.Categories, category)
}

// writeContext detaches ledger writes from caller cancellation; WriteTimeout still bounds them.
func (s *Service) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
}

func (s *Service) eventTime(frame camera.Frame) time.Time {
	return s.orNow(frame.Timestamp)
}

func (s *Service) orNow(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}
