package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/camera"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/facematch"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxImageBytes bounds a decoded request image.
const maxImageBytes = 10 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, presence.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, presence.ErrNoConfidentMatch):
		return http.StatusNotFound
	case errors.Is(err, presence.ErrDuplicateSuppressed):
		return http.StatusTooManyRequests
	case errors.Is(err, database.ErrAlreadyOpen),
		errors.Is(err, database.ErrNoOpenSession),
		errors.Is(err, database.ErrDuplicateRecord),
		errors.Is(err, database.ErrSubjectExists):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrInvalidInterval),
		errors.Is(err, attendance.ErrInvalidThreshold),
		errors.Is(err, presence.ErrUnknownCategory),
		errors.Is(err, database.ErrInvalidSubject),
		errors.Is(err, camera.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, presence.ErrUnknownSubject),
		errors.Is(err, database.ErrSubjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, presence.ErrSubjectDisabled):
		return http.StatusForbidden
	case errors.Is(err, database.ErrStoreUnavailable),
		errors.Is(err, facematch.ErrNoKnownEmbeddings):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondServiceError writes err with its mapped status. Suppressed duplicates
// carry a Retry-After header; unexpected errors are logged and not leaked.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var dup *presence.DuplicateError
	if errors.As(err, &dup) {
		secs := max(1, int(math.Ceil(dup.RetryAfter.Seconds())))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", sanitizeForLog(r.URL.Path),
			"error", err)
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*maxImageBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeImage accepts raw base64 or a data URL ("data:image/jpeg;base64,...").
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("image is required")
	}
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		s = payload
	}
	if base64.StdEncoding.DecodedLen(len(s)) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("image is not valid base64: %w", err)
	}
	return data, nil
}

// parseDate parses a YYYY-MM-DD query value. Empty yields nil.
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	d := database.CivilDate(t)
	return &d, nil
}

// parseTimestamp accepts RFC 3339, with or without an offset. Without one the
// value is read in loc.
func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q, expected RFC 3339", value)
	}
	return t, nil
}
