package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

// AttendanceHandler handles attendance history, summaries and manual records
type AttendanceHandler struct {
	service  *presence.Service
	ledger   database.LedgerReader
	location *time.Location
	now      func() time.Time
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(service *presence.Service, ledger database.LedgerReader, loc *time.Location) *AttendanceHandler {
	return &AttendanceHandler{service: service, ledger: ledger, location: loc, now: time.Now}
}

// AttendanceListResponse is one page of records
type AttendanceListResponse struct {
	Records []RecordResponse `json:"records"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// List returns attendance records, newest first
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.AttendanceFilter{
		SubjectKey: q.Get("subject"),
		Date:       date,
		Category:   q.Get("category"),
	}
	if v := q.Get("verdict"); v != "" {
		verdict, err := attendance.ParseVerdict(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Verdict = verdict
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter.Limit, filter.Offset = database.ClampPage(limit, offset)

	records, total, err := h.ledger.ListAttendance(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response := AttendanceListResponse{
		Records: make([]RecordResponse, len(records)),
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	for i := range records {
		response.Records[i] = recordToResponse(records[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Summary returns the verdict totals of a day (today when no date is given)
func (h *AttendanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if date == nil {
		today := database.CivilDate(h.now().In(h.location))
		date = &today
	}

	summary, err := h.ledger.Summarize(r.Context(), *date, q.Get("category"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summaryToResponse(summary))
}

// ManualAttendanceRequest records an already completed session
type ManualAttendanceRequest struct {
	SubjectKey string `json:"subject_key"`
	Category   string `json:"category"`
	EntryTime  string `json:"entry_time"`
	ExitTime   string `json:"exit_time"`
}

// Manual writes a completed session and its record
func (h *AttendanceHandler) Manual(w http.ResponseWriter, r *http.Request) {
	var req ManualAttendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SubjectKey == "" || req.EntryTime == "" || req.ExitTime == "" {
		respondError(w, http.StatusBadRequest, "subject_key, entry_time and exit_time are required")
		return
	}
	entry, err := parseTimestamp(req.EntryTime, h.location)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	exit, err := parseTimestamp(req.ExitTime, h.location)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.service.RecordAttendance(r.Context(), req.SubjectKey, req.Category, entry, exit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, recordToResponse(*rec))
}
