package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/hack-pad/hackpadfs"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
)

const (
	objectsDir = "objects"
	indexDir   = "index"
)

// CalculateHash returns the hex SHA-256 of data.
func CalculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateHash checks that hash is 64 lowercase hex characters.
func ValidateHash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("invalid hash length: %d", len(hash))
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return fmt.Errorf("invalid hash character: %c", c)
		}
	}
	return nil
}

// cacheEntry is the per-recording index file.
type cacheEntry struct {
	Hash     string  `json:"hash"`
	MimeType string  `json:"mimeType"`
	Duration float64 `json:"duration"`
	Size     int     `json:"size"`
}

// RecordingCache keeps reassembled recordings on a local filesystem.
//
// Payloads are content-addressed under objects/{hash[0:2]}/{hash[2:4]}/{hash},
// so the same recording cached for two ids is stored once. Each recording has
// an index file at index/{userID}/{audioID}.json pointing at its object.
type RecordingCache struct {
	fs hackpadfs.FS
	mu sync.Mutex
}

// NewRecordingCache creates a cache rooted at fsys.
func NewRecordingCache(fsys hackpadfs.FS) *RecordingCache {
	return &RecordingCache{fs: fsys}
}

func objectPath(hash string) string {
	return path.Join(objectsDir, hash[0:2], hash[2:4], hash)
}

func indexPath(userID, audioID string) (string, error) {
	for _, s := range []string{userID, audioID} {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
			return "", apperrors.Newf(apperrors.ErrInvalid, "invalid cache key %q", s)
		}
	}
	return path.Join(indexDir, userID, audioID+".json"), nil
}

// Put caches rec for the recording and returns its content hash.
func (c *RecordingCache) Put(userID, audioID string, rec *Recording) (string, error) {
	idx, err := indexPath(userID, audioID)
	if err != nil {
		return "", err
	}

	data := []byte(rec.Payload)
	hash := CalculateHash(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	obj := objectPath(hash)
	if _, err := hackpadfs.Stat(c.fs, obj); err != nil {
		if err := hackpadfs.MkdirAll(c.fs, path.Dir(obj), 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		if err := hackpadfs.WriteFullFile(c.fs, obj, data, 0644); err != nil {
			return "", fmt.Errorf("failed to write object: %w", err)
		}
	}

	entry, err := json.Marshal(cacheEntry{
		Hash:     hash,
		MimeType: rec.MimeType,
		Duration: rec.Duration,
		Size:     len(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode index entry: %w", err)
	}
	if err := hackpadfs.MkdirAll(c.fs, path.Dir(idx), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := hackpadfs.WriteFullFile(c.fs, idx, entry, 0644); err != nil {
		return "", fmt.Errorf("failed to write index entry: %w", err)
	}
	return hash, nil
}

// Get returns the cached recording, or nil on a miss. An object whose content
// no longer matches its hash is treated as a miss and its index entry dropped.
func (c *RecordingCache) Get(userID, audioID string) (*Recording, error) {
	idx, err := indexPath(userID, audioID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := hackpadfs.ReadFile(c.fs, idx)
	if err != nil {
		if errors.Is(err, hackpadfs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read index entry: %w", err)
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || ValidateHash(entry.Hash) != nil {
		c.dropIndex(idx, "unreadable index entry")
		return nil, nil
	}

	data, err := hackpadfs.ReadFile(c.fs, objectPath(entry.Hash))
	if err != nil {
		if errors.Is(err, hackpadfs.ErrNotExist) {
			c.dropIndex(idx, "object missing")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	if CalculateHash(data) != entry.Hash {
		c.dropIndex(idx, "hash mismatch")
		return nil, nil
	}

	return &Recording{
		Payload:  string(data),
		MimeType: entry.MimeType,
		Duration: entry.Duration,
	}, nil
}

func (c *RecordingCache) dropIndex(idx, reason string) {
	logging.Warn("Dropping cached recording", map[string]interface{}{
		"index":  idx,
		"reason": reason,
	})
	if err := hackpadfs.Remove(c.fs, idx); err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
		logging.Warn("Failed to remove cache index entry", map[string]interface{}{
			"index": idx,
			"error": err.Error(),
		})
	}
}

// Evict forgets the recording. Its object is reclaimed by Prune once no index
// entry references it.
func (c *RecordingCache) Evict(userID, audioID string) error {
	idx, err := indexPath(userID, audioID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := hackpadfs.Remove(c.fs, idx); err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
		return fmt.Errorf("failed to remove index entry: %w", err)
	}
	return nil
}

// Prune deletes objects that no index entry references and returns how many
// were removed.
func (c *RecordingCache) Prune() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	referenced := map[string]bool{}
	users, err := readDir(c.fs, indexDir)
	if err != nil {
		return 0, err
	}
	for _, user := range users {
		if !user.IsDir() {
			continue
		}
		dir := path.Join(indexDir, user.Name())
		entries, err := readDir(c.fs, dir)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			raw, err := hackpadfs.ReadFile(c.fs, path.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			var entry cacheEntry
			if json.Unmarshal(raw, &entry) == nil {
				referenced[entry.Hash] = true
			}
		}
	}

	removed := 0
	err = c.walkObjects(func(hash, p string) error {
		if referenced[hash] {
			return nil
		}
		if err := hackpadfs.Remove(c.fs, p); err != nil {
			return fmt.Errorf("failed to remove object: %w", err)
		}
		removed++
		return nil
	})
	return removed, err
}

// Objects returns the number of stored objects.
func (c *RecordingCache) Objects() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	err := c.walkObjects(func(string, string) error {
		n++
		return nil
	})
	return n, err
}

func (c *RecordingCache) walkObjects(fn func(hash, p string) error) error {
	level1, err := readDir(c.fs, objectsDir)
	if err != nil {
		return err
	}
	for _, d1 := range level1 {
		if !d1.IsDir() {
			continue
		}
		level2, err := readDir(c.fs, path.Join(objectsDir, d1.Name()))
		if err != nil {
			return err
		}
		for _, d2 := range level2 {
			if !d2.IsDir() {
				continue
			}
			dir := path.Join(objectsDir, d1.Name(), d2.Name())
			files, err := readDir(c.fs, dir)
			if err != nil {
				return err
			}
			for _, f := range files {
				if f.IsDir() || ValidateHash(f.Name()) != nil {
					continue
				}
				if err := fn(f.Name(), path.Join(dir, f.Name())); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// readDir lists name, treating a missing directory as empty.
func readDir(fsys hackpadfs.FS, name string) ([]hackpadfs.DirEntry, error) {
	entries, err := hackpadfs.ReadDir(fsys, name)
	if err != nil {
		if errors.Is(err, hackpadfs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", name, err)
	}
	return entries, nil
}

// CachedStore serves downloads from a RecordingCache and falls back to the
// remote chunked store.
type CachedStore struct {
	*ChunkedStore
	cache *RecordingCache
}

// NewCachedStore wraps store with cache.
func NewCachedStore(store *ChunkedStore, cache *RecordingCache) *CachedStore {
	return &CachedStore{ChunkedStore: store, cache: cache}
}

// Cache returns the underlying recording cache.
func (s *CachedStore) Cache() *RecordingCache {
	return s.cache
}

// Upload uploads and then caches the recording locally.
func (s *CachedStore) Upload(ctx context.Context, userID, payload string, meta UploadMeta) (string, error) {
	audioID, err := s.ChunkedStore.Upload(ctx, userID, payload, meta)
	if err != nil {
		return "", err
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = MimeTypeOf(payload)
	}
	s.put(userID, audioID, &Recording{Payload: payload, MimeType: mimeType, Duration: meta.Duration})
	return audioID, nil
}

// Download returns the cached copy when present.
func (s *CachedStore) Download(ctx context.Context, userID, audioID string) (*Recording, error) {
	if userID == "" || audioID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "user id and audio id are required")
	}

	rec, err := s.cache.Get(userID, audioID)
	if err != nil {
		logging.Warn("Recording cache read failed", map[string]interface{}{
			"audio_id": audioID,
			"error":    err.Error(),
		})
	}
	if rec != nil {
		return rec, nil
	}

	rec, err = s.ChunkedStore.Download(ctx, userID, audioID)
	if err != nil || rec == nil {
		return rec, err
	}
	s.put(userID, audioID, rec)
	return rec, nil
}

// Delete removes the recording remotely and evicts it locally.
func (s *CachedStore) Delete(ctx context.Context, userID, audioID string) error {
	if err := s.ChunkedStore.Delete(ctx, userID, audioID); err != nil {
		return err
	}
	if err := s.cache.Evict(userID, audioID); err != nil {
		logging.Warn("Recording cache evict failed", map[string]interface{}{
			"audio_id": audioID,
			"error":    err.Error(),
		})
	}
	return nil
}

func (s *CachedStore) put(userID, audioID string, rec *Recording) {
	if _, err := s.cache.Put(userID, audioID, rec); err != nil {
		logging.Warn("Recording cache write failed", map[string]interface{}{
			"audio_id": audioID,
			"error":    err.Error(),
		})
	}
}

var (
	_ Recordings = (*ChunkedStore)(nil)
	_ Recordings = (*CachedStore)(nil)
)
