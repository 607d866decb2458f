package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kimhsiao/habitsync/internal/docstore"
	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
	"github.com/kimhsiao/habitsync/internal/models"
	"github.com/kimhsiao/habitsync/internal/uuid"
)

// UploadMeta describes a recording being uploaded.
type UploadMeta struct {
	Duration         float64 // seconds
	MimeType         string  // defaults to the payload's data URL type
	SessionTimestamp *int64
	Date             string
}

// Recording is a fully reassembled recording.
type Recording struct {
	Payload  string  `json:"payload"`
	MimeType string  `json:"mimeType"`
	Duration float64 `json:"duration"`
}

// Recordings is implemented by ChunkedStore and CachedStore.
type Recordings interface {
	Upload(ctx context.Context, userID, payload string, meta UploadMeta) (string, error)
	Download(ctx context.Context, userID, audioID string) (*Recording, error)
	Delete(ctx context.Context, userID, audioID string) error
	Stat(ctx context.Context, userID, audioID string) (*models.StoredAudio, error)
	List(ctx context.Context, userID string) ([]*models.StoredAudio, error)
}

// PartialUploadError describes what an interrupted upload left behind in the
// remote store. The metadata record exists with no chunk references; ChunkIDs
// lists the chunk records that were written.
type PartialUploadError struct {
	AudioID    string
	ChunkCount int
	ChunkIDs   []string
	Err        error
}

func (e *PartialUploadError) Error() string {
	return fmt.Sprintf("upload of %s stopped after %d of %d chunks: %v",
		e.AudioID, len(e.ChunkIDs), e.ChunkCount, e.Err)
}

func (e *PartialUploadError) Unwrap() error {
	return e.Err
}

// MetadataPath returns the document path of a recording's metadata record.
func MetadataPath(userID, audioID string) string {
	return docstore.Join("users", userID, "audio", audioID)
}

// ChunkPath returns the document path of a chunk record.
func ChunkPath(userID, chunkID string) string {
	return docstore.Join("users", userID, "audioChunks", chunkID)
}

// ChunkedStore persists recordings as one metadata record plus bounded-size
// chunk records.
type ChunkedStore struct {
	remote        docstore.Store
	maxChunkBytes int
	now           func() time.Time
}

// Option configures a ChunkedStore.
type Option func(*ChunkedStore)

// WithMaxChunkBytes sets the decoded size limit per chunk record.
func WithMaxChunkBytes(n int) Option {
	return func(s *ChunkedStore) {
		s.maxChunkBytes = n
	}
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *ChunkedStore) {
		s.now = now
	}
}

// NewChunkedStore creates a ChunkedStore writing to remote.
func NewChunkedStore(remote docstore.Store, opts ...Option) *ChunkedStore {
	s := &ChunkedStore{
		remote:        remote,
		maxChunkBytes: DefaultMaxChunkBytes,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores payload and returns the new recording id.
//
// The metadata record is written first with an empty chunk list, then each
// chunk in index order, then the chunk list. A failure after the metadata
// write returns PARTIAL_UPLOAD_FAILURE wrapping a *PartialUploadError. Nothing
// is cleaned up; retrying allocates a fresh id.
func (s *ChunkedStore) Upload(ctx context.Context, userID, payload string, meta UploadMeta) (string, error) {
	if userID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "user id is required")
	}

	chunks, err := Split(payload, s.maxChunkBytes)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "split recording", err)
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = MimeTypeOf(payload)
	}

	record := models.StoredAudio{
		CreatedAt:        s.now().UnixMilli(),
		Size:             SizeOfEncoded(payload),
		Duration:         meta.Duration,
		MimeType:         mimeType,
		SessionTimestamp: meta.SessionTimestamp,
		Date:             meta.Date,
		ChunkCount:       len(chunks),
		ChunkIDs:         []string{},
	}

	audioID, err := s.remote.Push(ctx, docstore.Join("users", userID, "audio"), record)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrRemoteUnavailable, "write recording metadata", err)
	}

	partial := func(written []string, cause error) error {
		logging.ErrorWithCode("Recording upload interrupted", string(apperrors.ErrPartialUpload), cause, map[string]interface{}{
			"user_id":        userID,
			"audio_id":       audioID,
			"chunks_written": len(written),
			"chunk_count":    len(chunks),
		})
		return apperrors.Wrap(apperrors.ErrPartialUpload, "upload recording", &PartialUploadError{
			AudioID:    audioID,
			ChunkCount: len(chunks),
			ChunkIDs:   written,
			Err:        cause,
		})
	}

	chunkIDs := make([]string, 0, len(chunks))
	for i, c := range chunks {
		chunkID := uuid.NewChunkID(audioID, i)
		chunk := models.AudioChunk{
			AudioID:    audioID,
			ChunkIndex: i,
			Base64:     c,
			Size:       SizeOfEncoded(c),
		}
		if err := s.remote.Write(ctx, ChunkPath(userID, chunkID), chunk); err != nil {
			return "", partial(chunkIDs, err)
		}
		chunkIDs = append(chunkIDs, chunkID)
	}

	err = s.remote.Update(ctx, MetadataPath(userID, audioID), map[string]interface{}{
		"id":       audioID,
		"chunkIds": chunkIDs,
	})
	if err != nil {
		return "", partial(chunkIDs, err)
	}

	logging.Debug("Recording uploaded", map[string]interface{}{
		"user_id":  userID,
		"audio_id": audioID,
		"size":     record.Size,
		"chunks":   len(chunks),
	})
	return audioID, nil
}

// Stat returns the metadata record, or nil if there is none.
func (s *ChunkedStore) Stat(ctx context.Context, userID, audioID string) (*models.StoredAudio, error) {
	if userID == "" || audioID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "user id and audio id are required")
	}

	var record models.StoredAudio
	found, err := s.remote.Read(ctx, MetadataPath(userID, audioID), &record)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "read recording metadata", err)
	}
	if !found {
		return nil, nil
	}
	if record.ID == "" {
		record.ID = audioID
	}
	return &record, nil
}

// List returns every metadata record for userID ordered by id, including
// incomplete uploads.
func (s *ChunkedStore) List(ctx context.Context, userID string) ([]*models.StoredAudio, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "user id is required")
	}

	raw, err := s.remote.ReadRange(ctx, docstore.Join("users", userID, "audio"), "", "")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "list recordings", err)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*models.StoredAudio, 0, len(ids))
	for _, id := range ids {
		record, err := decodeMetadata(id, raw[id])
		if err != nil {
			logging.Warn("Skipping unreadable recording metadata", map[string]interface{}{
				"user_id":  userID,
				"audio_id": id,
				"error":    err.Error(),
			})
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func decodeMetadata(audioID string, raw json.RawMessage) (*models.StoredAudio, error) {
	var record models.StoredAudio
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = audioID
	}
	return &record, nil
}

// Download reassembles a recording. It returns nil without error when the
// recording does not exist, is still uploading, or has missing chunks.
func (s *ChunkedStore) Download(ctx context.Context, userID, audioID string) (*Recording, error) {
	record, err := s.Stat(ctx, userID, audioID)
	if err != nil || record == nil {
		return nil, err
	}

	if len(record.ChunkIDs) == 0 {
		logging.Warn("Recording has no chunk references", map[string]interface{}{
			"user_id":     userID,
			"audio_id":    audioID,
			"chunk_count": record.ChunkCount,
		})
		return nil, nil
	}

	chunks := make([]models.AudioChunk, 0, len(record.ChunkIDs))
	for _, chunkID := range record.ChunkIDs {
		var chunk models.AudioChunk
		found, err := s.remote.Read(ctx, ChunkPath(userID, chunkID), &chunk)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "read recording chunk", err)
		}
		if !found || chunk.AudioID != audioID {
			continue
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != record.ChunkCount {
		logging.ErrorWithCode("Recording failed integrity check", string(apperrors.ErrIntegrity), nil, map[string]interface{}{
			"user_id":     userID,
			"audio_id":    audioID,
			"chunk_count": record.ChunkCount,
			"fetched":     len(chunks),
		})
		return nil, nil
	}

	models.SortChunks(chunks)
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Base64
	}

	return &Recording{
		Payload:  Recombine(parts),
		MimeType: record.MimeType,
		Duration: record.Duration,
	}, nil
}

// Delete removes every chunk the metadata references and then the metadata
// itself. Chunk delete failures are logged and skipped.
func (s *ChunkedStore) Delete(ctx context.Context, userID, audioID string) error {
	record, err := s.Stat(ctx, userID, audioID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	for _, chunkID := range record.ChunkIDs {
		if err := s.remote.Delete(ctx, ChunkPath(userID, chunkID)); err != nil {
			logging.Warn("Failed to delete recording chunk", map[string]interface{}{
				"user_id":  userID,
				"audio_id": audioID,
				"chunk_id": chunkID,
				"error":    err.Error(),
			})
		}
	}

	if err := s.remote.Delete(ctx, MetadataPath(userID, audioID)); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "delete recording metadata", err)
	}
	return nil
}
