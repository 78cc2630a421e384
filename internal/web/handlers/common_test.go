package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/camera"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/facematch"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

func TestRespondJSON_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"BadRequest", http.StatusBadRequest},
		{"NotFound", http.StatusNotFound},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, nil)

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			assertContentType(t, recorder, "application/json")
		})
	}
}

func TestRespondJSON_EncodesData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]any{"message": "hello", "count": 42})

	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["message"] != "hello" {
		t.Errorf("expected message 'hello', got %v", result["message"])
	}
	if result["count"] != float64(42) {
		t.Errorf("expected count 42, got %v", result["count"])
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "something went wrong")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{presence.ErrNoFaceDetected, http.StatusUnprocessableEntity},
		{presence.ErrNoConfidentMatch, http.StatusNotFound},
		{&presence.DuplicateError{SubjectKey: "s1", RetryAfter: time.Second}, http.StatusTooManyRequests},
		{database.ErrAlreadyOpen, http.StatusConflict},
		{fmt.Errorf("closing session: %w", database.ErrNoOpenSession), http.StatusConflict},
		{database.ErrDuplicateRecord, http.StatusConflict},
		{database.ErrSubjectExists, http.StatusConflict},
		{fmt.Errorf("x: %w", attendance.ErrInvalidInterval), http.StatusBadRequest},
		{presence.ErrUnknownCategory, http.StatusBadRequest},
		{database.ErrInvalidSubject, http.StatusBadRequest},
		{camera.ErrInvalidImage, http.StatusBadRequest},
		{presence.ErrUnknownSubject, http.StatusNotFound},
		{database.ErrSubjectNotFound, http.StatusNotFound},
		{presence.ErrSubjectDisabled, http.StatusForbidden},
		{fmt.Errorf("open: %w", database.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{facematch.ErrNoKnownEmbeddings, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			if got := statusFor(tc.err); got != tc.want {
				t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestRespondServiceError(t *testing.T) {
	t.Run("duplicate sets Retry-After", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/recognize/entry", nil)
		respondServiceError(recorder, req, &presence.DuplicateError{SubjectKey: "s1", RetryAfter: 1500 * time.Millisecond})

		assertStatusCode(t, recorder, http.StatusTooManyRequests)
		if got := recorder.Header().Get("Retry-After"); got != "2" {
			t.Errorf("Retry-After = %q, want 2", got)
		}
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/attendance", nil)
		respondServiceError(recorder, req, errors.New("pq: password authentication failed"))

		assertStatusCode(t, recorder, http.StatusInternalServerError)
		assertJSONError(t, recorder, "internal error")
	})
}

func TestDecodeImage(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02}
	std := base64.StdEncoding.EncodeToString(payload)
	raw := base64.RawStdEncoding.EncodeToString(payload)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"standard base64", std, false},
		{"unpadded base64", raw, false},
		{"data URL", "data:image/jpeg;base64," + std, false},
		{"empty", "", true},
		{"malformed data URL", "data:image/jpeg;base64", true},
		{"not base64", "%%%", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeImage(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("decodeImage() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && string(got) != string(payload) {
				t.Errorf("decodeImage() = %v, want %v", got, payload)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2026-01-10")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseDate = %v", d)
	}
	if d, err := parseDate(""); d != nil || err != nil {
		t.Errorf("empty date should be nil, got %v %v", d, err)
	}
	if _, err := parseDate("10/01/2026"); err == nil {
		t.Error("expected error for a non ISO date")
	}
}

func TestParseTimestamp(t *testing.T) {
	loc := time.FixedZone("CET", 3600)

	got, err := parseTimestamp("2026-01-10T09:00:00Z", loc)
	if err != nil || !got.Equal(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("RFC 3339: %v %v", got, err)
	}
	got, err = parseTimestamp("2026-01-10T09:00:00", loc)
	if err != nil || !got.Equal(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("local time: %v %v", got, err)
	}
	if _, err := parseTimestamp("yesterday", loc); err == nil {
		t.Error("expected error")
	}
}
