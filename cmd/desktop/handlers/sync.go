package handlers

import (
	"net/http"
	"strconv"

	"github.com/kimhsiao/habitsync/internal/connectivity"
	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/sync"
	"github.com/kimhsiao/habitsync/internal/sync/queue"
	"github.com/kimhsiao/habitsync/internal/sync/scheduler"
)

// Switch is a connectivity signal that can be set by hand.
type Switch interface {
	connectivity.Signal
	Set(online bool)
}

// SyncHandler exposes the offline queue, sync passes and connectivity.
type SyncHandler struct {
	engine    sync.EngineInterface
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	signal    Switch
	users     UserResolver
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine sync.EngineInterface, q *queue.Queue, sched *scheduler.Scheduler, signal Switch, users UserResolver) *SyncHandler {
	return &SyncHandler{
		engine:    engine,
		queue:     q,
		scheduler: sched,
		signal:    signal,
		users:     users,
	}
}

// GetQueue handles GET /api/queue
// Returns the pending mutations of a user. ?items=true includes them.
func (h *SyncHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := h.queue.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"user":  userID,
		"count": stats.Total,
		"stats": stats,
	}
	if withItems, _ := strconv.ParseBool(r.URL.Query().Get("items")); withItems {
		items, err := h.queue.DrainOrdered(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		response["items"] = items
	}
	writeJSON(w, http.StatusOK, response)
}

// ClearQueue handles DELETE /api/queue
func (h *SyncHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles POST /api/sync
// Runs a pass for the user and waits for it.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !h.signal.Online() {
		writeError(w, errors.New(errors.ErrOffline, "device is offline"))
		return
	}
	if h.engine.Status() == sync.SyncStatusSyncing {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": string(sync.SyncStatusSyncing),
		})
		return
	}

	result := h.engine.SyncQueue(r.Context(), userID)
	pending, err := h.engine.PendingChanges(r.Context(), userID)
	if err != nil {
		pending = -1
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"pending": pending,
	})
}

// Status handles GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus(r.Context()))
}

// SetConnectivity handles POST /api/connectivity
// Body: {"online": true}. Going online triggers a sync through the scheduler.
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, err)
		return
	}
	if request.Online == nil {
		writeError(w, errors.New(errors.ErrInvalid, "online is required"))
		return
	}

	h.signal.Set(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online": h.signal.Online(),
	})
}
