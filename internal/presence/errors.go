package presence

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/presence-gate/internal/admission"
)

var (
	// ErrNoFaceDetected means no face was found in the frame. Normal, the caller tries the next frame.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrNoConfidentMatch means faces were found but no tier cleared its threshold.
	ErrNoConfidentMatch = errors.New("no confident match")
	// ErrDuplicateSuppressed means the subject was admitted in the same direction within the cool-down.
	ErrDuplicateSuppressed = errors.New("duplicate event suppressed")
	// ErrUnknownSubject means the key is not in the subject registry.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrSubjectDisabled means the subject exists but must not be admitted.
	ErrSubjectDisabled = errors.New("subject disabled")
	// ErrUnknownCategory means the category is not in the configured catalogue.
	ErrUnknownCategory = errors.New("unknown category")
)

// DuplicateError carries the remaining cool-down of a suppressed event.
type DuplicateError struct {
	SubjectKey string
	Direction  admission.Direction
	RetryAfter time.Duration
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s %s, retry after %s",
		ErrDuplicateSuppressed, e.SubjectKey, e.Direction, e.RetryAfter.Round(time.Millisecond))
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateSuppressed
}
