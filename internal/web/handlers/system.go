package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kozaktomas/presence-gate/internal/facematch"
)

// SystemHandler reports runtime state and controls the gallery
type SystemHandler struct {
	gallery *facematch.Gallery
	tiers   []facematch.Tier
	started time.Time
}

// NewSystemHandler creates a new system handler. gallery may be nil when
// the process runs without recognition.
func NewSystemHandler(gallery *facematch.Gallery, tiers []facematch.Tier) *SystemHandler {
	return &SystemHandler{gallery: gallery, tiers: tiers, started: time.Now()}
}

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status          string           `json:"status"`
	Embeddings      int              `json:"embeddings"`
	SubjectsLoaded  int              `json:"subjects_loaded"`
	Indexed         bool             `json:"indexed"`
	GalleryLoadedAt *time.Time       `json:"gallery_loaded_at,omitempty"`
	Tiers           []facematch.Tier `json:"tiers"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
}

func (h *SystemHandler) health() HealthResponse {
	resp := HealthResponse{
		Status:        "ok",
		Tiers:         h.tiers,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if resp.Tiers == nil {
		resp.Tiers = []facematch.Tier{}
	}
	if h.gallery == nil {
		return resp
	}
	if snap := h.gallery.Snapshot(); snap != nil {
		loaded := snap.LoadedAt
		resp.Embeddings = snap.Len()
		resp.SubjectsLoaded = snap.Subjects()
		resp.Indexed = snap.Indexed()
		resp.GalleryLoadedAt = &loaded
	}
	if resp.Embeddings == 0 {
		resp.Status = "degraded"
	}
	return resp
}

// Health handles the health check endpoint
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.health())
}

// ReloadGallery forces a full reload of the enrolled embeddings
func (h *SystemHandler) ReloadGallery(w http.ResponseWriter, r *http.Request) {
	if h.gallery == nil {
		respondError(w, http.StatusServiceUnavailable, "recognition is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	if err := h.gallery.Reload(ctx); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.health())
}
