package handlers

import (
	"net/http"

	"github.com/kimhsiao/habitsync/internal/lock"
)

// LockHandler unlocks and locks the API with the user's PIN.
type LockHandler struct {
	locker *lock.Locker
}

// NewLockHandler creates a new LockHandler.
func NewLockHandler(locker *lock.Locker) *LockHandler {
	return &LockHandler{locker: locker}
}

// Unlock handles POST /api/unlock
func (h *LockHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PIN string `json:"pin"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, err)
		return
	}
	if err := h.locker.Unlock(request.PIN); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unlocked": true})
}

// Lock handles POST /api/lock
func (h *LockHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.locker.Lock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"unlocked": h.locker.Unlocked()})
}

// Status handles GET /api/lock
func (h *LockHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":  h.locker.Enabled(),
		"unlocked": h.locker.Unlocked(),
	})
}

// RequireUnlocked rejects requests with 423 while the app is locked.
func (h *LockHandler) RequireUnlocked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.locker.Require(); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
