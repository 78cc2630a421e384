package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/presence-gate/internal/database"
)

// SubjectsHandler handles the subject registry
type SubjectsHandler struct {
	subjects database.SubjectWriter
}

// NewSubjectsHandler creates a new subjects handler
func NewSubjectsHandler(subjects database.SubjectWriter) *SubjectsHandler {
	return &SubjectsHandler{subjects: subjects}
}

// SubjectRequest is the body of create and update
type SubjectRequest struct {
	Key  string `json:"key,omitempty"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// List returns registered subjects; ?all=true includes disabled ones
func (h *SubjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("all") == "true"
	subjects, err := h.subjects.ListSubjects(r.Context(), includeInactive)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response := make([]SubjectResponse, len(subjects))
	for i := range subjects {
		response[i] = subjectToResponse(subjects[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Create registers a subject
func (h *SubjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SubjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	subject, err := database.NewSubject(req.Key, req.Name, req.Code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	created, err := h.subjects.CreateSubject(r.Context(), subject)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, subjectToResponse(*created))
}

// Get returns one subject
func (h *SubjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	subject, err := h.subjects.GetSubject(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, subjectToResponse(*subject))
}

// Update changes the display name and code of a subject
func (h *SubjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req SubjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	name, err := database.ValidateName(req.Name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	code := ""
	if strings.TrimSpace(req.Code) != "" {
		if code, err = database.NormalizeCode(req.Code); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	subject, err := h.subjects.UpdateSubject(r.Context(), chi.URLParam(r, "key"), name, code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, subjectToResponse(*subject))
}

// Disable soft-disables a subject so it is no longer admitted
func (h *SubjectsHandler) Disable(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.subjects.DisableSubject(r.Context(), key); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"key": key, "active": false})
}
