package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

// SessionsHandler handles manual entries/exits and open session listings
type SessionsHandler struct {
	service  *presence.Service
	ledger   database.LedgerReader
	location *time.Location
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(service *presence.Service, ledger database.LedgerReader, loc *time.Location) *SessionsHandler {
	return &SessionsHandler{service: service, ledger: ledger, location: loc}
}

// ManualSessionRequest is the body of manual entry and exit
type ManualSessionRequest struct {
	SubjectKey string `json:"subject_key"`
	Category   string `json:"category"`
	Time       string `json:"time,omitempty"` // RFC 3339, defaults to now
}

func (h *SessionsHandler) readRequest(w http.ResponseWriter, r *http.Request) (ManualSessionRequest, time.Time, bool) {
	var req ManualSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return req, time.Time{}, false
	}
	if req.SubjectKey == "" {
		respondError(w, http.StatusBadRequest, "subject_key is required")
		return req, time.Time{}, false
	}
	var at time.Time
	if req.Time != "" {
		t, err := parseTimestamp(req.Time, h.location)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return req, time.Time{}, false
		}
		at = t
	}
	return req, at, true
}

// Entry opens a session for a subject without recognition
func (h *SessionsHandler) Entry(w http.ResponseWriter, r *http.Request) {
	req, at, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	res, err := h.service.ManualEntry(r.Context(), req.SubjectKey, req.Category, at)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entryToResponse(res))
}

// Exit closes the open session of a subject without recognition
func (h *SessionsHandler) Exit(w http.ResponseWriter, r *http.Request) {
	req, at, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	res, err := h.service.ManualExit(r.Context(), req.SubjectKey, req.Category, at)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exitToResponse(res))
}

// ListOpen returns the open sessions, optionally filtered by date, category and subject
func (h *SessionsHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := h.ledger.ListOpenSessions(r.Context(), database.SessionFilter{
		SubjectKey: q.Get("subject"),
		Date:       date,
		Category:   q.Get("category"),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response := make([]SessionResponse, len(sessions))
	for i := range sessions {
		response[i] = sessionToResponse(sessions[i])
	}
	respondJSON(w, http.StatusOK, response)
}
