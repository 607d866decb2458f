// Package habits applies habit log and tag mutations, queue first, and reads
// them back through the local cache.
package habits

import (
	"context"
	"sort"
	"strconv"

	"github.com/kimhsiao/habitsync/internal/docstore"
	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/models"
	syncpkg "github.com/kimhsiao/habitsync/internal/sync"
)

// SessionPath returns the remote path of one session.
func SessionPath(userID, date string, timestamp int64) string {
	return docstore.Join("users", userID, "logs", date, "sessions", strconv.FormatInt(timestamp, 10))
}

// TagPath returns the remote path of one tag.
func TagPath(userID, tagID string) string {
	return docstore.Join("users", userID, "tags", tagID)
}

// Remote writes habit mutations to the document store. Every mutation is
// keyed by a caller-chosen id, so replaying one is idempotent.
type Remote struct {
	store docstore.Store
}

var _ syncpkg.Remote = (*Remote)(nil)

// NewRemote creates a Remote over store.
func NewRemote(store docstore.Store) *Remote {
	return &Remote{store: store}
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return errors.New(errors.ErrInvalid, "missing identifier")
		}
	}
	return nil
}

// AddSession writes session under its date.
func (r *Remote) AddSession(ctx context.Context, userID, date string, session models.Session) error {
	if err := requireIDs(userID, date); err != nil {
		return err
	}
	return r.store.Write(ctx, SessionPath(userID, date, session.Timestamp), session)
}

// DeleteSession removes a session. Deleting a missing session succeeds.
func (r *Remote) DeleteSession(ctx context.Context, userID, date string, sessionTimestamp int64) error {
	if err := requireIDs(userID, date); err != nil {
		return err
	}
	return r.store.Delete(ctx, SessionPath(userID, date, sessionTimestamp))
}

// CreateTag writes tag under its id.
func (r *Remote) CreateTag(ctx context.Context, userID string, tag models.Tag) error {
	if err := requireIDs(userID, tag.ID); err != nil {
		return err
	}
	return r.store.Write(ctx, TagPath(userID, tag.ID), tag)
}

// DeleteTag removes a tag.
func (r *Remote) DeleteTag(ctx context.Context, userID, tagID string) error {
	if err := requireIDs(userID, tagID); err != nil {
		return err
	}
	return r.store.Delete(ctx, TagPath(userID, tagID))
}

// FetchDayLog reads every session of date. A date with no sessions yields an
// empty DayLog.
func (r *Remote) FetchDayLog(ctx context.Context, userID, date string) (*models.DayLog, error) {
	if err := requireIDs(userID, date); err != nil {
		return nil, err
	}

	var sessions map[string]models.Session
	if _, err := r.store.Read(ctx, docstore.Join("users", userID, "logs", date, "sessions"), &sessions); err != nil {
		return nil, err
	}

	dayLog := &models.DayLog{Date: date, Sessions: []models.Session{}}
	for _, s := range sessions {
		dayLog.Upsert(s)
	}
	return dayLog, nil
}

// FetchTags reads every tag of userID, ordered by creation time then id.
func (r *Remote) FetchTags(ctx context.Context, userID string) ([]models.Tag, error) {
	if err := requireIDs(userID); err != nil {
		return nil, err
	}

	var byID map[string]models.Tag
	if _, err := r.store.Read(ctx, docstore.Join("users", userID, "tags"), &byID); err != nil {
		return nil, err
	}

	tags := make([]models.Tag, 0, len(byID))
	for id, tag := range byID {
		if tag.ID == "" {
			tag.ID = id
		}
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].CreatedAt != tags[j].CreatedAt {
			return tags[i].CreatedAt < tags[j].CreatedAt
		}
		return tags[i].ID < tags[j].ID
	})
	return tags, nil
}
