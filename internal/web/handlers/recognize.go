package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/camera"
	"github.com/kozaktomas/presence-gate/internal/facematch"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

// RecognizeHandler turns uploaded images into entry and exit events
type RecognizeHandler struct {
	service      *presence.Service
	maxDimension int
}

// NewRecognizeHandler creates a new recognize handler
func NewRecognizeHandler(service *presence.Service, maxDimension int) *RecognizeHandler {
	return &RecognizeHandler{service: service, maxDimension: maxDimension}
}

// RecognizeRequest is the body of both recognize endpoints
type RecognizeRequest struct {
	Image    string `json:"image"`
	Category string `json:"category"`
}

// EntryResponse represents an accepted entry
type EntryResponse struct {
	Accepted   bool            `json:"accepted"`
	Subject    SubjectResponse `json:"subject"`
	Confidence int             `json:"confidence"`
	Tier       facematch.Tier  `json:"tier,omitempty"`
	Session    SessionResponse `json:"session"`
	TraceID    string          `json:"trace_id,omitempty"`
}

// ExitResponse represents an accepted exit with its verdict
type ExitResponse struct {
	Accepted        bool               `json:"accepted"`
	Subject         SubjectResponse    `json:"subject"`
	Confidence      int                `json:"confidence"`
	Tier            facematch.Tier     `json:"tier,omitempty"`
	DurationMinutes int                `json:"duration_minutes"`
	Duration        string             `json:"duration"`
	Verdict         attendance.Verdict `json:"verdict"`
	Shortage        int                `json:"shortage_minutes"`
	Record          RecordResponse     `json:"record"`
	TraceID         string             `json:"trace_id,omitempty"`
}

// IdentifyMatch is one recognized face of an identify request
type IdentifyMatch struct {
	SubjectKey string         `json:"subject_key"`
	Confidence int            `json:"confidence"`
	Distance   float64        `json:"distance"`
	Tier       facematch.Tier `json:"tier"`
}

// IdentifyResponse lists everyone recognized in an image
type IdentifyResponse struct {
	FacesDetected int             `json:"faces_detected"`
	Matches       []IdentifyMatch `json:"matches"`
	TraceID       string          `json:"trace_id,omitempty"`
}

func entryToResponse(res *presence.EntryResult) EntryResponse {
	out := EntryResponse{
		Accepted:   res.Accepted,
		Subject:    subjectToResponse(res.Subject),
		Confidence: res.Confidence,
		Tier:       res.Tier,
	}
	if res.Session != nil {
		out.Session = sessionToResponse(*res.Session)
	}
	return out
}

func exitToResponse(res *presence.ExitResult) ExitResponse {
	out := ExitResponse{
		Accepted:        res.Accepted,
		Subject:         subjectToResponse(res.Subject),
		Confidence:      res.Confidence,
		Tier:            res.Tier,
		DurationMinutes: res.DurationMinutes,
		Duration:        res.DurationText,
		Verdict:         res.Verdict,
		Shortage:        res.Shortage,
	}
	if res.Record != nil {
		out.Record = recordToResponse(*res.Record)
	}
	return out
}

// Entry recognizes the person in the image and opens their session
func (h *RecognizeHandler) Entry(w http.ResponseWriter, r *http.Request) {
	frame, category, ok := h.readFrame(w, r)
	if !ok {
		return
	}
	res, err := h.service.ProcessEntryFrame(r.Context(), frame, category)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := entryToResponse(res)
	out.TraceID = frame.TraceID.String()
	respondJSON(w, http.StatusCreated, out)
}

// Exit recognizes the person in the image and closes their session
func (h *RecognizeHandler) Exit(w http.ResponseWriter, r *http.Request) {
	frame, category, ok := h.readFrame(w, r)
	if !ok {
		return
	}
	res, err := h.service.ProcessExitFrame(r.Context(), frame, category)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := exitToResponse(res)
	out.TraceID = frame.TraceID.String()
	respondJSON(w, http.StatusOK, out)
}

// Identify recognizes every face in the image without touching sessions
func (h *RecognizeHandler) Identify(w http.ResponseWriter, r *http.Request) {
	frame, _, ok := h.readFrame(w, r)
	if !ok {
		return
	}
	res, err := h.service.Recognize(r.Context(), frame.Data, facematch.ModeAll)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := IdentifyResponse{
		FacesDetected: res.FacesDetected,
		Matches:       make([]IdentifyMatch, 0, len(res.Matches)),
		TraceID:       frame.TraceID.String(),
	}
	for _, m := range res.Matches {
		out.Matches = append(out.Matches, IdentifyMatch{
			SubjectKey: m.SubjectKey,
			Confidence: m.Confidence,
			Distance:   m.Distance,
			Tier:       m.Tier,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *RecognizeHandler) readFrame(w http.ResponseWriter, r *http.Request) (camera.Frame, string, bool) {
	var req RecognizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return camera.Frame{}, "", false
	}
	raw, err := decodeImage(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return camera.Frame{}, "", false
	}
	data, width, height, err := camera.Normalize(raw, h.maxDimension)
	if err != nil {
		respondServiceError(w, r, err)
		return camera.Frame{}, "", false
	}

	frame := camera.Frame{
		Timestamp:    time.Now(),
		Width:        width,
		Height:       height,
		Data:         data,
		SourceStream: "api",
		TraceID:      uuid.New(),
	}
	slog.DebugContext(r.Context(), "recognition request",
		"path", sanitizeForLog(r.URL.Path), "trace_id", frame.TraceID, "bytes", len(data))
	return frame, req.Category, true
}
