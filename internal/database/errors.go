package database

import "errors"

var (
	// ErrAlreadyOpen is returned when the scope already holds an OPEN session.
	ErrAlreadyOpen = errors.New("session already open for scope")
	// ErrNoOpenSession is returned when an exit finds nothing to close.
	ErrNoOpenSession = errors.New("no open session for scope")
	// ErrStoreUnavailable means the store could not be reached after retries.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDuplicateRecord is returned when an attendance record for the same scope and entry time exists.
	ErrDuplicateRecord = errors.New("attendance record already exists")

	ErrSubjectExists   = errors.New("subject already exists")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrInvalidSubject  = errors.New("invalid subject")
)
