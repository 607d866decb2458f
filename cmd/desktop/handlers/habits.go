package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/habits"
	"github.com/kimhsiao/habitsync/internal/models"
)

// HabitHandler handles day logs, sessions and tags.
type HabitHandler struct {
	svc   *habits.Service
	users UserResolver
}

// NewHabitHandler creates a new HabitHandler.
func NewHabitHandler(svc *habits.Service, users UserResolver) *HabitHandler {
	return &HabitHandler{svc: svc, users: users}
}

// SaveSession handles POST /api/sessions
// Body: {"date": "2024-03-05", "session": {...}}
func (h *HabitHandler) SaveSession(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request struct {
		Date    string         `json:"date"`
		Session models.Session `json:"session"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.SaveSession(r.Context(), userID, request.Date, request.Session); err != nil {
		writeError(w, err)
		return
	}
	h.accepted(w, r, userID)
}

// DeleteSession handles DELETE /api/logs/{date}/sessions/{timestamp}
func (h *HabitHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ts, err := strconv.ParseInt(chi.URLParam(r, "timestamp"), 10, 64)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid session timestamp", err))
		return
	}

	if err := h.svc.DeleteSession(r.Context(), userID, chi.URLParam(r, "date"), ts); err != nil {
		writeError(w, err)
		return
	}
	h.accepted(w, r, userID)
}

// DayLog handles GET /api/logs/{date}
func (h *HabitHandler) DayLog(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dayLog, err := h.svc.DayLog(r.Context(), userID, chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dayLog)
}

// ListTags handles GET /api/tags
func (h *HabitHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tags, err := h.svc.Tags(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": tags})
}

// CreateTag handles POST /api/tags
func (h *HabitHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var tag models.Tag
	if err := decodeBody(w, r, &tag); err != nil {
		writeError(w, err)
		return
	}
	if tag.Type == "" {
		tag.Type = models.TagTypeNumber
	}

	if err := h.svc.CreateTag(r.Context(), userID, tag); err != nil {
		writeError(w, err)
		return
	}
	h.accepted(w, r, userID)
}

// DeleteTag handles DELETE /api/tags/{id}
func (h *HabitHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.DeleteTag(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	h.accepted(w, r, userID)
}

// accepted reports a mutation as queued along with the remaining backlog.
func (h *HabitHandler) accepted(w http.ResponseWriter, r *http.Request, userID string) {
	pending, err := h.svc.PendingCount(r.Context(), userID)
	if err != nil {
		pending = -1
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "accepted",
		"pending": pending,
	})
}
