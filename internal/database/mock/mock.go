// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/facematch"
)

// MockLedger is an in-memory database.Ledger. A single mutex makes every
// operation atomic, which gives the same observable outcomes as the
// PostgreSQL ledger under concurrency.
type MockLedger struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*database.Session
	open     map[database.Scope]uuid.UUID
	records  []database.AttendanceRecord
	nextID   int64

	// Error injection
	OpenError    error
	CloseError   error
	RecordError  error
	ListError    error
	SummaryError error
}

// NewMockLedger creates an empty ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		sessions: make(map[uuid.UUID]*database.Session),
		open:     make(map[database.Scope]uuid.UUID),
	}
}

var _ database.Ledger = (*MockLedger)(nil)

func (m *MockLedger) OpenSession(_ context.Context, scope database.Scope, entryTime time.Time) (*database.Session, error) {
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[scope]; ok {
		return nil, database.ErrAlreadyOpen
	}
	s := &database.Session{ID: uuid.New(), Scope: scope, EntryTime: entryTime, Status: database.StatusOpen}
	m.sessions[s.ID] = s
	m.open[scope] = s.ID
	out := *s
	return &out, nil
}

func (m *MockLedger) CloseSession(
	_ context.Context, scope database.Scope, exitTime time.Time, policy attendance.Policy,
) (*database.AttendanceRecord, error) {
	if m.CloseError != nil {
		return nil, m.CloseError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.open[scope]
	if !ok {
		return nil, database.ErrNoOpenSession
	}
	s := m.sessions[id]
	result, err := policy.Evaluate(s.EntryTime, exitTime)
	if err != nil {
		return nil, err
	}
	if m.hasRecord(scope, s.EntryTime) {
		return nil, database.ErrDuplicateRecord
	}

	exit := exitTime
	s.ExitTime = &exit
	s.Status = database.StatusClosed
	delete(m.open, scope)
	return m.appendRecord(s, result), nil
}

func (m *MockLedger) RecordCompleted(
	_ context.Context, scope database.Scope, entryTime, exitTime time.Time, policy attendance.Policy,
) (*database.AttendanceRecord, error) {
	if m.RecordError != nil {
		return nil, m.RecordError
	}
	result, err := policy.Evaluate(entryTime, exitTime)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[scope]; ok {
		return nil, database.ErrAlreadyOpen
	}
	if m.hasRecord(scope, entryTime) {
		return nil, database.ErrDuplicateRecord
	}
	exit := exitTime
	s := &database.Session{
		ID: uuid.New(), Scope: scope, EntryTime: entryTime, ExitTime: &exit, Status: database.StatusClosed,
	}
	m.sessions[s.ID] = s
	return m.appendRecord(s, result), nil
}

func (m *MockLedger) hasRecord(scope database.Scope, entryTime time.Time) bool {
	for _, r := range m.records {
		if r.Scope == scope && r.EntryTime.Equal(entryTime) {
			return true
		}
	}
	return false
}

func (m *MockLedger) appendRecord(s *database.Session, result attendance.Result) *database.AttendanceRecord {
	m.nextID++
	rec := database.AttendanceRecord{
		ID:              m.nextID,
		SessionID:       s.ID,
		Scope:           s.Scope,
		EntryTime:       s.EntryTime,
		ExitTime:        *s.ExitTime,
		DurationMinutes: result.DurationMinutes,
		Verdict:         result.Verdict,
		CreatedAt:       time.Now(),
	}
	m.records = append(m.records, rec)
	return &rec
}

func (m *MockLedger) GetOpenSession(_ context.Context, scope database.Scope) (*database.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.open[scope]
	if !ok {
		return nil, nil
	}
	out := *m.sessions[id]
	return &out, nil
}

func (m *MockLedger) ListOpenSessions(_ context.Context, filter database.SessionFilter) ([]database.Session, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []database.Session
	for scope, id := range m.open {
		if filter.SubjectKey != "" && scope.SubjectKey != filter.SubjectKey {
			continue
		}
		if filter.Date != nil && !scope.Date.Equal(database.CivilDate(*filter.Date)) {
			continue
		}
		if filter.Category != "" && scope.Category != filter.Category {
			continue
		}
		out = append(out, *m.sessions[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].Scope.SubjectKey < out[j].Scope.SubjectKey
	})
	return out, nil
}

func (m *MockLedger) ListAttendance(_ context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, int, error) {
	if m.ListError != nil {
		return nil, 0, m.ListError
	}
	limit, offset := database.ClampPage(filter.Limit, filter.Offset)

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []database.AttendanceRecord
	for _, r := range m.records {
		if filter.SubjectKey != "" && r.Scope.SubjectKey != filter.SubjectKey {
			continue
		}
		if filter.Date != nil && !r.Scope.Date.Equal(database.CivilDate(*filter.Date)) {
			continue
		}
		if filter.Category != "" && r.Scope.Category != filter.Category {
			continue
		}
		if filter.Verdict != "" && r.Verdict != filter.Verdict {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].ExitTime.Equal(matched[j].ExitTime) {
			return matched[i].ExitTime.After(matched[j].ExitTime)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return slices.Clone(matched[offset:end]), total, nil
}

func (m *MockLedger) Summarize(_ context.Context, date time.Time, category string) (database.Summary, error) {
	if m.SummaryError != nil {
		return database.Summary{}, m.SummaryError
	}
	day := database.CivilDate(date)

	m.mu.Lock()
	defer m.mu.Unlock()

	present, absent := 0, 0
	for _, r := range m.records {
		if !r.Scope.Date.Equal(day) || (category != "" && r.Scope.Category != category) {
			continue
		}
		if r.Verdict == attendance.Present {
			present++
		} else {
			absent++
		}
	}
	return database.NewSummary(day, category, present, absent), nil
}

// Sessions returns a copy of every session, for assertions.
func (m *MockLedger) Sessions() []database.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Records returns a copy of every attendance record, for assertions.
func (m *MockLedger) Records() []database.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// MockSubjects is an in-memory subject registry.
type MockSubjects struct {
	mu       sync.RWMutex
	subjects map[string]*database.Subject

	// Error injection
	GetError    error
	ListError   error
	CreateError error
}

func NewMockSubjects() *MockSubjects {
	return &MockSubjects{subjects: make(map[string]*database.Subject)}
}

var _ database.SubjectWriter = (*MockSubjects)(nil)

// AddSubject stores a subject directly, bypassing validation.
func (m *MockSubjects) AddSubject(s database.Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.RegisteredAt.IsZero() {
		s.RegisteredAt = time.Now()
	}
	m.subjects[s.Key] = &s
}

func (m *MockSubjects) GetSubject(_ context.Context, key string) (*database.Subject, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrSubjectNotFound, key)
	}
	out := *s
	return &out, nil
}

func (m *MockSubjects) ListSubjects(_ context.Context, includeInactive bool) ([]database.Subject, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Subject
	for _, s := range m.subjects {
		if s.Active || includeInactive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return strings.Compare(out[i].Name, out[j].Name) < 0
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (m *MockSubjects) CountSubjects(ctx context.Context) (int, error) {
	subjects, err := m.ListSubjects(ctx, false)
	return len(subjects), err
}

func (m *MockSubjects) CreateSubject(_ context.Context, subject database.Subject) (*database.Subject, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[subject.Key]; ok {
		return nil, fmt.Errorf("%w: %s", database.ErrSubjectExists, subject.Key)
	}
	now := time.Now()
	subject.Active = true
	subject.RegisteredAt, subject.UpdatedAt = now, now
	m.subjects[subject.Key] = &subject
	out := subject
	return &out, nil
}

func (m *MockSubjects) UpdateSubject(_ context.Context, key, name, code string) (*database.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrSubjectNotFound, key)
	}
	s.Name, s.Code, s.UpdatedAt = name, code, time.Now()
	out := *s
	return &out, nil
}

func (m *MockSubjects) DisableSubject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[key]
	if !ok {
		return fmt.Errorf("%w: %s", database.ErrSubjectNotFound, key)
	}
	s.Active, s.UpdatedAt = false, time.Now()
	return nil
}

func (m *MockSubjects) UpsertSubjects(_ context.Context, subjects []database.Subject) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range subjects {
		if existing, ok := m.subjects[s.Key]; ok {
			existing.Name, existing.Code, existing.UpdatedAt = s.Name, s.Code, now
			continue
		}
		s.Active, s.RegisteredAt, s.UpdatedAt = true, now, now
		m.subjects[s.Key] = &s
	}
	return len(subjects), nil
}

// MockSettings is an in-memory settings store.
type MockSettings struct {
	mu     sync.RWMutex
	values map[string]string

	GetError error
	SetError error
}

func NewMockSettings() *MockSettings {
	return &MockSettings{values: make(map[string]string)}
}

var _ database.SettingsStore = (*MockSettings)(nil)

func (m *MockSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	if m.GetError != nil {
		return "", false, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MockSettings) SetSetting(_ context.Context, key, value string) error {
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MockSettings) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// MockFaces is an in-memory enrolled face store that also serves as a gallery source.
type MockFaces struct {
	mu       sync.RWMutex
	faces    map[string][][]float32
	version  int
	subjects *MockSubjects // when set, inactive subjects are left out of Load

	MarkerError error
	LoadError   error
}

func NewMockFaces(subjects *MockSubjects) *MockFaces {
	return &MockFaces{faces: make(map[string][][]float32), subjects: subjects}
}

var (
	_ database.FaceWriter = (*MockFaces)(nil)
	_ facematch.Source    = (*MockFaces)(nil)
)

func (m *MockFaces) ReplaceFaces(_ context.Context, subjectKey, _ string, embeddings [][]float32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept [][]float32
	for _, e := range embeddings {
		if len(e) > 0 {
			kept = append(kept, slices.Clone(e))
		}
	}
	m.faces[subjectKey] = kept
	m.version++
	return len(kept), nil
}

func (m *MockFaces) CountFaces(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.faces {
		n += len(e)
	}
	return n, nil
}

// Touch changes the marker without changing content.
func (m *MockFaces) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
}

func (m *MockFaces) Marker(_ context.Context) (string, error) {
	if m.MarkerError != nil {
		return "", m.MarkerError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("v%d", m.version), nil
}

func (m *MockFaces) Load(ctx context.Context) ([]facematch.Enrollment, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.faces))
	for k := range m.faces {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []facematch.Enrollment
	for _, k := range keys {
		if m.subjects != nil {
			s, err := m.subjects.GetSubject(ctx, k)
			if err != nil || !s.Active {
				continue
			}
		}
		for _, e := range m.faces[k] {
			out = append(out, facematch.Enrollment{SubjectKey: k, Embedding: e})
		}
	}
	return out, nil
}
