package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/database/mock"
	"github.com/kozaktomas/presence-gate/internal/facematch"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

// fakeRecognizer identifies whoever was registered for the exact image bytes
type fakeRecognizer struct {
	results  map[string]facematch.Result
	lastMode facematch.Mode
}

func (f *fakeRecognizer) Match(_ context.Context, image []byte, mode facematch.Mode) (facematch.Result, error) {
	f.lastMode = mode
	return f.results[string(image)], nil
}

// testEnv bundles a service over in-memory stores
type testEnv struct {
	service    *presence.Service
	ledger     *mock.MockLedger
	subjects   *mock.MockSubjects
	settings   *mock.MockSettings
	recognizer *fakeRecognizer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger:     mock.NewMockLedger(),
		subjects:   mock.NewMockSubjects(),
		settings:   mock.NewMockSettings(),
		recognizer: &fakeRecognizer{results: map[string]facematch.Result{}},
	}
	env.subjects.AddSubject(database.Subject{Key: "s1", Name: "Asha Verma", Code: "2301105473", Active: true})
	env.subjects.AddSubject(database.Subject{Key: "s2", Name: "Ravi Kumar", Active: false})

	svc, err := presence.NewService(presence.Deps{
		Recognizer: env.recognizer,
		Ledger:     env.ledger,
		Subjects:   env.subjects,
		Settings:   env.settings,
		Logger:     slog.New(slog.DiscardHandler),
	}, presence.Config{
		MinimumMinutes:  90,
		CoolDown:        5 * time.Second,
		Location:        time.UTC,
		DefaultCategory: "General",
		Categories:      []string{"General", "Data Science"},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.service = svc
	return env
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses the JSON response body into the target
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
