package handlers

import (
	"net/http"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

// SettingsHandler handles runtime-tunable parameters
type SettingsHandler struct {
	service  *presence.Service
	settings database.SettingsStore
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(service *presence.Service, settings database.SettingsStore) *SettingsHandler {
	return &SettingsHandler{service: service, settings: settings}
}

// SettingsResponse lists the effective settings
type SettingsResponse struct {
	MinimumDurationMinutes int               `json:"minimum_duration_minutes"`
	ActiveCategory         string            `json:"active_category,omitempty"`
	Stored                 map[string]string `json:"stored"`
}

// SettingsRequest updates any subset of the settings
type SettingsRequest struct {
	MinimumDurationMinutes *int    `json:"minimum_duration_minutes,omitempty"`
	ActiveCategory         *string `json:"active_category,omitempty"`
}

// Get returns the threshold in effect and the raw stored values
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	policy, err := h.service.Policy(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	stored, err := h.settings.ListSettings(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SettingsResponse{
		MinimumDurationMinutes: policy.MinimumMinutes,
		ActiveCategory:         stored[database.SettingActiveCategory],
		Stored:                 stored,
	})
}

// Update stores new settings; they apply to sessions closed afterwards
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.MinimumDurationMinutes == nil && req.ActiveCategory == nil {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if req.MinimumDurationMinutes != nil {
		if err := h.service.SetMinimumMinutes(r.Context(), *req.MinimumDurationMinutes); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}
	if req.ActiveCategory != nil {
		if err := h.service.SetActiveCategory(r.Context(), *req.ActiveCategory); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}
	h.Get(w, r)
}
