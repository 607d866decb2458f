package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/habitsync/internal/blob"
	"github.com/kimhsiao/habitsync/internal/errors"
)

// AudioHandler serves voice recordings through the chunked blob store.
type AudioHandler struct {
	store blob.Recordings
	users UserResolver
}

// NewAudioHandler creates a new AudioHandler.
func NewAudioHandler(store blob.Recordings, users UserResolver) *AudioHandler {
	return &AudioHandler{store: store, users: users}
}

// Upload handles POST /api/audio
func (h *AudioHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request struct {
		Payload          string  `json:"payload"`
		Duration         float64 `json:"duration"`
		MimeType         string  `json:"mimeType"`
		SessionTimestamp *int64  `json:"sessionTimestamp"`
		Date             string  `json:"date"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, err)
		return
	}
	if request.Payload == "" {
		writeError(w, errors.New(errors.ErrInvalid, "payload is required"))
		return
	}

	audioID, err := h.store.Upload(r.Context(), userID, request.Payload, blob.UploadMeta{
		Duration:         request.Duration,
		MimeType:         request.MimeType,
		SessionTimestamp: request.SessionTimestamp,
		Date:             request.Date,
	})
	if err != nil {
		var partial *blob.PartialUploadError
		if stderrors.As(err, &partial) {
			writeErrorDetails(w, err, map[string]interface{}{
				"audioId":    partial.AudioID,
				"chunkCount": partial.ChunkCount,
				"chunkIds":   partial.ChunkIDs,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": audioID})
}

// List handles GET /api/audio
func (h *AudioHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recordings, err := h.store.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": recordings})
}

// Get handles GET /api/audio/{id}
// ?meta=true returns the metadata record instead of the payload.
func (h *AudioHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	audioID := chi.URLParam(r, "id")

	if r.URL.Query().Get("meta") == "true" {
		meta, err := h.store.Stat(r.Context(), userID, audioID)
		if err != nil {
			writeError(w, err)
			return
		}
		if meta == nil {
			writeError(w, errors.Newf(errors.ErrNotFound, "recording %s not found", audioID))
			return
		}
		writeJSON(w, http.StatusOK, meta)
		return
	}

	rec, err := h.store.Download(r.Context(), userID, audioID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeError(w, errors.Newf(errors.ErrNotFound, "recording %s not found or incomplete", audioID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/audio/{id}
func (h *AudioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := h.users.Resolve(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
