// Package docstore defines the remote, path-addressed document store the sync
// core writes to, plus an in-memory and a REST implementation.
package docstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks github.com/kimhsiao/habitsync/internal/docstore Store

import (
	"context"
	"encoding/json"
	"strings"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
)

// Store is path-addressed record storage. Paths are slash-separated keys such
// as "users/u1/audio/a1".
type Store interface {
	// Read decodes the record at path into dst and reports whether it existed.
	Read(ctx context.Context, path string, dst interface{}) (bool, error)
	// Write replaces the record at path.
	Write(ctx context.Context, path string, value interface{}) error
	// Update merges fields into the record at path.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// Delete removes the record at path. Deleting a missing record is not an error.
	Delete(ctx context.Context, path string) error
	// ReadRange returns the children of collectionPath whose keys fall in
	// [startKey, endKey]. Empty bounds are open.
	ReadRange(ctx context.Context, collectionPath, startKey, endKey string) (map[string]json.RawMessage, error)
	// Push stores value under a new store-assigned key and returns the key.
	Push(ctx context.Context, collectionPath string, value interface{}) (string, error)
}

// Join builds a path from segments, dropping surrounding slashes.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split breaks a path into its segments.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ValidatePath rejects empty paths and keys containing characters the remote
// store reserves.
func ValidatePath(path string) error {
	segments := Split(path)
	if len(segments) == 0 {
		return apperrors.New(apperrors.ErrInvalid, "empty document path")
	}
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, ".$#[]") {
			return apperrors.Newf(apperrors.ErrInvalid, "invalid key %q in path %q", s, path)
		}
	}
	return nil
}
