// Package admission suppresses repeated presence events for the same subject
// inside a cool-down window. State is process-local and lost on restart.
package admission

import (
	"sync"
	"time"
)

// Direction distinguishes entry tickets from exit tickets.
type Direction string

const (
	Entry Direction = "entry"
	Exit  Direction = "exit"
)

type ticketKey struct {
	subject   string
	direction Direction
}

// Suppressor is a sliding-window admission filter keyed by (subject, direction).
// It is safe for concurrent use.
type Suppressor struct {
	coolDown time.Duration

	mu      sync.Mutex
	tickets map[ticketKey]time.Time
}

// NewSuppressor creates a Suppressor with the given cool-down window.
func NewSuppressor(coolDown time.Duration) *Suppressor {
	return &Suppressor{
		coolDown: coolDown,
		tickets:  make(map[ticketKey]time.Time),
	}
}

// CoolDown returns the configured window.
func (s *Suppressor) CoolDown() time.Duration {
	return s.coolDown
}

// Admit reports whether an event for subject/direction at now is allowed.
// On admission the stored timestamp is replaced with now; on rejection the
// remaining wait is returned.
func (s *Suppressor) Admit(subject string, direction Direction, now time.Time) (bool, time.Duration) {
	key := ticketKey{subject: subject, direction: direction}

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.tickets[key]; ok {
		elapsed := now.Sub(last)
		if elapsed < s.coolDown {
			return false, s.coolDown - elapsed
		}
	}
	s.tickets[key] = now
	return true, 0
}

// Forget drops the ticket for subject/direction so the next event is admitted.
func (s *Suppressor) Forget(subject string, direction Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, ticketKey{subject: subject, direction: direction})
}

// Sweep removes tickets whose window expired before now and returns how many were dropped.
func (s *Suppressor) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, last := range s.tickets {
		if now.Sub(last) >= s.coolDown {
			delete(s.tickets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live tickets.
func (s *Suppressor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
