// Package attendance turns a completed entry/exit interval into a duration and a verdict.
// Everything here is pure: no clocks, no storage.
package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verdict is the PRESENT/ABSENT classification of a completed session.
type Verdict string

const (
	Present Verdict = "PRESENT"
	Absent  Verdict = "ABSENT"
)

// ErrInvalidInterval is returned when the exit time precedes the entry time.
var ErrInvalidInterval = errors.New("exit time is earlier than entry time")

// ErrInvalidThreshold is returned for a negative minimum duration.
var ErrInvalidThreshold = errors.New("minimum duration must not be negative")

// Result is the outcome of evaluating one interval.
type Result struct {
	DurationMinutes int
	Verdict         Verdict
}

// Policy maps an interval to a Result using a minimum-duration threshold in minutes.
type Policy struct {
	MinimumMinutes int
}

// NewPolicy validates the threshold and returns a Policy.
func NewPolicy(minimumMinutes int) (Policy, error) {
	if minimumMinutes < 0 {
		return Policy{}, fmt.Errorf("%w: %d", ErrInvalidThreshold, minimumMinutes)
	}
	return Policy{MinimumMinutes: minimumMinutes}, nil
}

// Evaluate computes floor((exit-entry) in minutes) and the verdict.
// Equal timestamps are valid and yield a zero duration.
func (p Policy) Evaluate(entry, exit time.Time) (Result, error) {
	minutes, err := DurationMinutes(entry, exit)
	if err != nil {
		return Result{}, err
	}
	return Result{DurationMinutes: minutes, Verdict: p.VerdictFor(minutes)}, nil
}

// VerdictFor applies the inclusive threshold to an already computed duration.
func (p Policy) VerdictFor(minutes int) Verdict {
	if minutes >= p.MinimumMinutes {
		return Present
	}
	return Absent
}

// Shortage returns how many minutes were missing to reach PRESENT (0 when present).
func (p Policy) Shortage(minutes int) int {
	if minutes >= p.MinimumMinutes {
		return 0
	}
	return p.MinimumMinutes - minutes
}

// DurationMinutes returns the whole minutes between entry and exit.
func DurationMinutes(entry, exit time.Time) (int, error) {
	if exit.Before(entry) {
		return 0, fmt.Errorf("%w: entry %s, exit %s",
			ErrInvalidInterval, entry.Format(time.RFC3339), exit.Format(time.RFC3339))
	}
	return int(exit.Sub(entry) / time.Minute), nil
}

// ParseVerdict accepts "present"/"absent" in any case.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(strings.ToUpper(strings.TrimSpace(s))) {
	case Present:
		return Present, nil
	case Absent:
		return Absent, nil
	}
	return "", fmt.Errorf("verdict must be PRESENT or ABSENT, got %q", s)
}

