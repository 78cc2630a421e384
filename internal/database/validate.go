package database

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	MaxSubjectKeyLength = 64
	MaxNameLength       = 100
	MaxCodeLength       = 32

	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

var (
	subjectKeyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	nameRe       = regexp.MustCompile(`^[\pL][\pL0-9 ._'-]*$`)
	separatorsRe = regexp.MustCompile(`[\s\-_/.,:()\[\]]+`)
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9]`)
)

// Longest prefixes first, only the first match is stripped.
var codePrefixes = []string{
	"ROLLNUMBER", "ROLLNO",
	"STUDENTNUMBER", "STUDENTID", "STUDENTNO", "STUDENT",
	"REGISTRATIONNO", "REGISTRATION",
	"REGNUMBER", "REGNO", "REG",
	"IDNUMBER", "IDNO", "ID",
	"ROLL", "NUMBER", "NO",
}

// ValidateSubjectKey trims and checks a subject key.
func ValidateSubjectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", fmt.Errorf("%w: key is required", ErrInvalidSubject)
	case len(key) > MaxSubjectKeyLength:
		return "", fmt.Errorf("%w: key is longer than %d characters", ErrInvalidSubject, MaxSubjectKeyLength)
	case !subjectKeyRe.MatchString(key):
		return "", fmt.Errorf("%w: key %q may contain only letters, digits, '_' and '-'", ErrInvalidSubject, key)
	}
	return key, nil
}

// ValidateName trims and checks a display name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: name is required", ErrInvalidSubject)
	case len([]rune(name)) > MaxNameLength:
		return "", fmt.Errorf("%w: name is longer than %d characters", ErrInvalidSubject, MaxNameLength)
	case !nameRe.MatchString(name):
		return "", fmt.Errorf("%w: name contains invalid characters", ErrInvalidSubject)
	}
	return name, nil
}

// NormalizeCode cleans a roll number typed by a human.
//
//	"roll-2301105473"       -> "2301105473"
//	"Student ID: 2301105473" -> "2301105473"
//	"23-01105-473"          -> "2301105473"
func NormalizeCode(code string) (string, error) {
	value := strings.ToUpper(strings.TrimSpace(code))
	if value == "" {
		return "", fmt.Errorf("%w: code is required", ErrInvalidSubject)
	}

	// Separators go first so "ROLL-NO-123" collapses to "ROLLNO123".
	value = separatorsRe.ReplaceAllString(value, "")
	for _, prefix := range codePrefixes {
		if strings.HasPrefix(value, prefix) {
			value = value[len(prefix):]
			break
		}
	}
	value = nonAlnumRe.ReplaceAllString(value, "")

	if value == "" {
		return "", fmt.Errorf("%w: code is empty after removing special characters", ErrInvalidSubject)
	}
	if len(value) > MaxCodeLength {
		return "", fmt.Errorf("%w: code is too long (max %d characters, got %d)", ErrInvalidSubject, MaxCodeLength, len(value))
	}
	return value, nil
}

// NewSubject validates the user supplied fields of a subject.
// An empty code is allowed.
func NewSubject(key, name, code string) (Subject, error) {
	var err error
	s := Subject{Active: true}
	if s.Key, err = ValidateSubjectKey(key); err != nil {
		return Subject{}, err
	}
	if s.Name, err = ValidateName(name); err != nil {
		return Subject{}, err
	}
	if strings.TrimSpace(code) != "" {
		if s.Code, err = NormalizeCode(code); err != nil {
			return Subject{}, err
		}
	}
	return s, nil
}

// ClampPage applies default and maximum page sizes.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
