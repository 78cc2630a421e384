package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/database/mock"
	"github.com/kozaktomas/presence-gate/internal/facematch"
)

func TestSystemHandler_Health(t *testing.T) {
	t.Run("without recognition", func(t *testing.T) {
		handler := NewSystemHandler(nil, nil)
		recorder := httptest.NewRecorder()
		handler.Health(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		assertStatusCode(t, recorder, http.StatusOK)
		assertContentType(t, recorder, "application/json")
		var resp HealthResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.Status != "ok" || len(resp.Tiers) != 0 {
			t.Errorf("unexpected health: %+v", resp)
		}
	})

	t.Run("with gallery", func(t *testing.T) {
		subjects := mock.NewMockSubjects()
		subjects.AddSubject(database.Subject{Key: "s1", Active: true})
		subjects.AddSubject(database.Subject{Key: "s2", Active: true})
		faces := mock.NewMockFaces(subjects)
		ctx := context.Background()
		if _, err := faces.ReplaceFaces(ctx, "s1", "m", [][]float32{{1, 0}, {0.9, 0.1}}); err != nil {
			t.Fatal(err)
		}
		if _, err := faces.ReplaceFaces(ctx, "s2", "m", [][]float32{{0, 1}}); err != nil {
			t.Fatal(err)
		}

		gallery := facematch.NewGallery(faces, facematch.GalleryOptions{})
		handler := NewSystemHandler(gallery, []facematch.Tier{facematch.TierStrict, facematch.TierLenient})

		recorder := httptest.NewRecorder()
		handler.Health(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		var resp HealthResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.Status != "degraded" {
			t.Errorf("an unloaded gallery is degraded, got %q", resp.Status)
		}

		recorder = httptest.NewRecorder()
		handler.ReloadGallery(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/reload", nil))
		assertStatusCode(t, recorder, http.StatusOK)
		parseJSONResponse(t, recorder, &resp)
		if resp.Status != "ok" || resp.Embeddings != 3 || resp.SubjectsLoaded != 2 || len(resp.Tiers) != 2 {
			t.Errorf("unexpected health after reload: %+v", resp)
		}

		faces.LoadError = errors.New("connection reset")
		faces.Touch()
		recorder = httptest.NewRecorder()
		handler.ReloadGallery(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/reload", nil))
		assertStatusCode(t, recorder, http.StatusInternalServerError)
	})
}

func TestSystemHandler_ReloadWithoutGallery(t *testing.T) {
	recorder := httptest.NewRecorder()
	NewSystemHandler(nil, nil).ReloadGallery(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/reload", nil))
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}
