package habits

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kimhsiao/habitsync/internal/connectivity"
	"github.com/kimhsiao/habitsync/internal/docstore"
	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
	"github.com/kimhsiao/habitsync/internal/models"
	"github.com/kimhsiao/habitsync/internal/sync/queue"
)

// DefaultSaveAttempts bounds SaveSessionWithRetry when maxAttempts is not set.
const DefaultSaveAttempts = 3

// LocalCache is the part of the local store the service reads and writes.
type LocalCache interface {
	PutDayLog(ctx context.Context, userID, date string, dayLog *models.DayLog) error
	GetDayLog(ctx context.Context, userID, date string) (*models.DayLog, error)
	PutTags(ctx context.Context, userID string, tags []models.Tag) error
	GetTags(ctx context.Context, userID string) ([]models.Tag, error)
	SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetCache(ctx context.Context, key string) (json.RawMessage, error)
	DeleteCache(ctx context.Context, key string) error
}

// RemoteReader fetches authoritative data when the cache has none.
type RemoteReader interface {
	FetchDayLog(ctx context.Context, userID, date string) (*models.DayLog, error)
	FetchTags(ctx context.Context, userID string) ([]models.Tag, error)
}

// RemoteMutator is the direct write path used when the queue is unusable.
type RemoteMutator interface {
	AddSession(ctx context.Context, userID, date string, session models.Session) error
	DeleteSession(ctx context.Context, userID, date string, sessionTimestamp int64) error
	CreateTag(ctx context.Context, userID string, tag models.Tag) error
	DeleteTag(ctx context.Context, userID, tagID string) error
}

// RemoteStore combines both remote paths; *Remote satisfies it.
type RemoteStore interface {
	RemoteReader
	RemoteMutator
}

// SyncTrigger starts draining userID's queue.
type SyncTrigger func(ctx context.Context, userID string)

// RetryDecider is asked whether to try a failed save again. attempt counts
// from 1.
type RetryDecider func(attempt int, err error) bool

// Service applies habit mutations queue first: the local cache is updated,
// the mutation is queued, and a sync is triggered if the device is online.
type Service struct {
	local   LocalCache
	queue   *queue.Queue
	remote  RemoteStore
	signal  connectivity.Signal
	trigger SyncTrigger
}

// NewService creates a Service. trigger may be nil, in which case queued
// mutations wait for the next scheduled pass.
func NewService(local LocalCache, q *queue.Queue, remote RemoteStore, signal connectivity.Signal, trigger SyncTrigger) *Service {
	return &Service{
		local:   local,
		queue:   q,
		remote:  remote,
		signal:  signal,
		trigger: trigger,
	}
}

// cacheFailed logs a degraded cache write or read and lets the caller go on.
func cacheFailed(op string, err error, ctx map[string]interface{}) {
	ctx["op"] = op
	ctx["error"] = err.Error()
	logging.Warn("Local cache unavailable, continuing without it", ctx)
}

// submit queues a mutation, falling back to the remote when the queue is
// unavailable and the device is online.
func (s *Service) submit(ctx context.Context, userID string, mutation models.MutationType, payload interface{}, direct func() error) error {
	_, err := s.queue.Enqueue(ctx, userID, mutation, payload)
	if err == nil {
		if s.trigger != nil && s.signal.Online() {
			s.trigger(ctx, userID)
		}
		return nil
	}

	if !errors.Is(err, errors.ErrStorageUnavailable) {
		return err
	}
	if !s.signal.Online() {
		return errors.Wrap(errors.ErrOffline, "queue unavailable while offline", err)
	}

	logging.Warn("Offline queue unavailable, applying mutation directly", map[string]interface{}{
		"user_id": userID,
		"type":    string(mutation),
	})
	return direct()
}

// validateKeys rejects ids that cannot be stored as one remote path segment.
func validateKeys(keys ...string) error {
	for _, key := range keys {
		if strings.Contains(key, "/") {
			return errors.Newf(errors.ErrInvalid, "invalid key %q", key)
		}
		if err := docstore.ValidatePath(key); err != nil {
			return err
		}
	}
	return nil
}

func validateSession(userID, date string, session models.Session) error {
	if userID == "" || date == "" {
		return errors.New(errors.ErrInvalid, "user id and date are required")
	}
	if session.Timestamp <= 0 {
		return errors.New(errors.ErrInvalid, "session timestamp must be positive")
	}
	return validateKeys(userID, date)
}

// SaveSession records session under date.
func (s *Service) SaveSession(ctx context.Context, userID, date string, session models.Session) error {
	if err := validateSession(userID, date, session); err != nil {
		return err
	}

	if dayLog, localOnly, err := s.dayLog(ctx, userID, date); err == nil {
		dayLog.Upsert(session)
		s.storeDayLog(ctx, userID, date, dayLog, localOnly)
	}

	return s.submit(ctx, userID, models.MutationAddSession,
		queue.AddSessionPayload{Date: date, Session: session},
		func() error { return s.remote.AddSession(ctx, userID, date, session) })
}

// SaveSessionWithRetry calls SaveSession until it succeeds, decide declines,
// or maxAttempts is reached. The last error is returned.
func (s *Service) SaveSessionWithRetry(ctx context.Context, userID, date string, session models.Session, decide RetryDecider, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSaveAttempts
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = s.SaveSession(ctx, userID, date, session); err == nil {
			return nil
		}
		if errors.Is(err, errors.ErrInvalid) || ctx.Err() != nil {
			return err
		}
		if attempt == maxAttempts || decide == nil || !decide(attempt, err) {
			break
		}
		logging.Info("Retrying session save", map[string]interface{}{
			"user_id": userID,
			"date":    date,
			"attempt": attempt + 1,
		})
	}
	return err
}

// DeleteSession removes the session with sessionTimestamp from date.
func (s *Service) DeleteSession(ctx context.Context, userID, date string, sessionTimestamp int64) error {
	if userID == "" || date == "" {
		return errors.New(errors.ErrInvalid, "user id and date are required")
	}
	if err := validateKeys(userID, date); err != nil {
		return err
	}

	if dayLog, localOnly, err := s.dayLog(ctx, userID, date); err == nil && dayLog.Remove(sessionTimestamp) {
		s.storeDayLog(ctx, userID, date, dayLog, localOnly)
	}

	return s.submit(ctx, userID, models.MutationDeleteSession,
		queue.DeleteSessionPayload{Date: date, SessionTimestamp: sessionTimestamp},
		func() error { return s.remote.DeleteSession(ctx, userID, date, sessionTimestamp) })
}

func upsertTag(tags []models.Tag, tag models.Tag) []models.Tag {
	for i := range tags {
		if tags[i].ID == tag.ID {
			tags[i] = tag
			return tags
		}
	}
	return append(tags, tag)
}

func removeTag(tags []models.Tag, tagID string) []models.Tag {
	kept := tags[:0]
	for _, t := range tags {
		if t.ID != tagID {
			kept = append(kept, t)
		}
	}
	return kept
}

// CreateTag adds tag, replacing any cached tag with the same id.
func (s *Service) CreateTag(ctx context.Context, userID string, tag models.Tag) error {
	if userID == "" || tag.ID == "" || tag.Name == "" {
		return errors.New(errors.ErrInvalid, "user id, tag id and tag name are required")
	}
	if err := validateKeys(userID, tag.ID); err != nil {
		return err
	}

	if tags, localOnly, err := s.tags(ctx, userID); err == nil {
		s.storeTags(ctx, userID, upsertTag(tags, tag), localOnly)
	}

	return s.submit(ctx, userID, models.MutationCreateTag,
		queue.CreateTagPayload{Tag: tag},
		func() error { return s.remote.CreateTag(ctx, userID, tag) })
}

// DeleteTag removes the tag with tagID.
func (s *Service) DeleteTag(ctx context.Context, userID, tagID string) error {
	if userID == "" || tagID == "" {
		return errors.New(errors.ErrInvalid, "user id and tag id are required")
	}
	if err := validateKeys(userID, tagID); err != nil {
		return err
	}

	if tags, localOnly, err := s.tags(ctx, userID); err == nil {
		s.storeTags(ctx, userID, removeTag(tags, tagID), localOnly)
	}

	return s.submit(ctx, userID, models.MutationDeleteTag,
		queue.DeleteTagPayload{TagID: tagID},
		func() error { return s.remote.DeleteTag(ctx, userID, tagID) })
}

// A cache entry written offline on a miss holds only local changes. These
// markers flag such entries so the next online read rebuilds them from the
// remote.
func dayLogMarker(userID, date string) string {
	return "local-only:day-log:" + userID + ":" + date
}

func tagsMarker(userID string) string {
	return "local-only:tags:" + userID
}

// localOnly reports whether marker is set. An unreadable marker counts as
// set.
func (s *Service) localOnly(ctx context.Context, marker string) bool {
	raw, err := s.local.GetCache(ctx, marker)
	if err != nil {
		cacheFailed("get_marker", err, map[string]interface{}{"key": marker})
		return true
	}
	return raw != nil
}

// store writes a cache entry through put. A local-only entry is marked before
// it is written, and a full entry is unmarked after.
func (s *Service) store(ctx context.Context, marker string, localOnly bool, put func() error, fields map[string]interface{}) {
	if localOnly {
		if err := s.local.SetCache(ctx, marker, true, 0); err != nil {
			cacheFailed("set_marker", err, fields)
			return
		}
	}
	if err := put(); err != nil {
		cacheFailed("put", err, fields)
		return
	}
	if !localOnly {
		if err := s.local.DeleteCache(ctx, marker); err != nil {
			cacheFailed("clear_marker", err, fields)
		}
	}
}

func (s *Service) storeDayLog(ctx context.Context, userID, date string, dayLog *models.DayLog, localOnly bool) {
	s.store(ctx, dayLogMarker(userID, date), localOnly,
		func() error { return s.local.PutDayLog(ctx, userID, date, dayLog) },
		map[string]interface{}{"user_id": userID, "date": date})
}

func (s *Service) storeTags(ctx context.Context, userID string, tags []models.Tag, localOnly bool) {
	s.store(ctx, tagsMarker(userID), localOnly,
		func() error { return s.local.PutTags(ctx, userID, tags) },
		map[string]interface{}{"user_id": userID})
}

// replayPending passes each of userID's queued payloads, oldest first, to
// apply.
func (s *Service) replayPending(ctx context.Context, userID string, apply func(payload interface{})) {
	items, err := s.queue.DrainOrdered(ctx, userID)
	if err != nil {
		cacheFailed("replay_pending", err, map[string]interface{}{"user_id": userID})
		return
	}
	for _, item := range items {
		payload, err := queue.DecodePayload(item)
		if err != nil {
			continue
		}
		apply(payload)
	}
}

// DayLog returns date's sessions from the cache, reading the remote on a
// miss when online. Offline misses yield the local changes only.
func (s *Service) DayLog(ctx context.Context, userID, date string) (*models.DayLog, error) {
	dayLog, _, err := s.dayLog(ctx, userID, date)
	return dayLog, err
}

// dayLog also reports whether the result holds only local changes.
func (s *Service) dayLog(ctx context.Context, userID, date string) (*models.DayLog, bool, error) {
	cached, err := s.local.GetDayLog(ctx, userID, date)
	if err != nil {
		cacheFailed("get_day_log", err, map[string]interface{}{"user_id": userID, "date": date})
	}
	localOnly := cached != nil && s.localOnly(ctx, dayLogMarker(userID, date))
	if cached != nil && !localOnly {
		return cached, false, nil
	}

	if !s.signal.Online() {
		if cached != nil {
			return cached, true, nil
		}
		return &models.DayLog{Date: date, Sessions: []models.Session{}}, true, nil
	}

	dayLog, err := s.remote.FetchDayLog(ctx, userID, date)
	if err != nil {
		if cached != nil {
			logging.Warn("Remote day log unavailable, serving local changes", map[string]interface{}{
				"user_id": userID,
				"date":    date,
				"error":   err.Error(),
			})
			return cached, true, nil
		}
		return nil, false, err
	}

	// Mutations not yet synced are applied on top of the remote view.
	s.replayPending(ctx, userID, func(payload interface{}) {
		switch p := payload.(type) {
		case *queue.AddSessionPayload:
			if p.Date == date {
				dayLog.Upsert(p.Session)
			}
		case *queue.DeleteSessionPayload:
			if p.Date == date {
				dayLog.Remove(p.SessionTimestamp)
			}
		}
	})
	s.storeDayLog(ctx, userID, date, dayLog, false)
	return dayLog, false, nil
}

// Tags returns userID's tags from the cache, reading the remote on a miss
// when online. Offline misses yield the local changes only.
func (s *Service) Tags(ctx context.Context, userID string) ([]models.Tag, error) {
	tags, _, err := s.tags(ctx, userID)
	return tags, err
}

func (s *Service) tags(ctx context.Context, userID string) ([]models.Tag, bool, error) {
	cached, err := s.local.GetTags(ctx, userID)
	if err != nil {
		cacheFailed("get_tags", err, map[string]interface{}{"user_id": userID})
	}
	localOnly := cached != nil && s.localOnly(ctx, tagsMarker(userID))
	if cached != nil && !localOnly {
		return cached, false, nil
	}

	if !s.signal.Online() {
		if cached != nil {
			return cached, true, nil
		}
		return []models.Tag{}, true, nil
	}

	tags, err := s.remote.FetchTags(ctx, userID)
	if err != nil {
		if cached != nil {
			logging.Warn("Remote tags unavailable, serving local changes", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			return cached, true, nil
		}
		return nil, false, err
	}

	s.replayPending(ctx, userID, func(payload interface{}) {
		switch p := payload.(type) {
		case *queue.CreateTagPayload:
			tags = upsertTag(tags, p.Tag)
		case *queue.DeleteTagPayload:
			tags = removeTag(tags, p.TagID)
		}
	})
	s.storeTags(ctx, userID, tags, false)
	return tags, false, nil
}

// PendingCount returns the number of userID's mutations not yet synced.
func (s *Service) PendingCount(ctx context.Context, userID string) (int, error) {
	return s.queue.Count(ctx, userID)
}
