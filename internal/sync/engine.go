// Package sync replays queued mutations against the remote store.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/kimhsiao/habitsync/internal/connectivity"
	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
	"github.com/kimhsiao/habitsync/internal/models"
	"github.com/kimhsiao/habitsync/internal/sync/queue"
)

// DefaultItemTimeout bounds a single remote mutation during a pass.
const DefaultItemTimeout = 30 * time.Second

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

// Remote applies mutations to the remote store.
type Remote interface {
	AddSession(ctx context.Context, userID, date string, session models.Session) error
	DeleteSession(ctx context.Context, userID, date string, sessionTimestamp int64) error
	CreateTag(ctx context.Context, userID string, tag models.Tag) error
	DeleteTag(ctx context.Context, userID, tagID string) error
}

// Result counts the outcome of one pass. Failed includes abandoned items;
// Abandoned is the subset dropped from the queue for good.
type Result struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// Engine drains the offline queue into the remote store. Only one pass runs
// at a time per Engine; construct one per process and share it.
type Engine struct {
	queue       *queue.Queue
	remote      Remote
	signal      connectivity.Signal
	itemTimeout time.Duration
	now         func() time.Time

	mu         gosync.Mutex
	syncing    bool
	lastSync   *time.Time
	lastResult Result
	observers  []func()
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithItemTimeout sets the per-mutation timeout. Zero disables it.
func WithItemTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.itemTimeout = d
	}
}

// WithClock overrides the clock used for LastSync.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new Engine.
func NewEngine(q *queue.Queue, remote Remote, signal connectivity.Signal, opts ...EngineOption) *Engine {
	e := &Engine{
		queue:       q,
		remote:      remote,
		signal:      signal,
		itemTimeout: DefaultItemTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status returns the current sync status.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return SyncStatusSyncing
	}
	return SyncStatusIdle
}

// LastSync returns when the last pass finished, or nil if none has.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSync == nil {
		return nil
	}
	t := *e.lastSync
	return &t
}

// LastResult returns the counts of the last finished pass.
func (e *Engine) LastResult() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

// PendingChanges returns the number of queued mutations for userID.
func (e *Engine) PendingChanges(ctx context.Context, userID string) (int, error) {
	return e.queue.Count(ctx, userID)
}

// OnSyncComplete registers fn to run after every finished pass. It is not
// called when a pass is skipped because the device is offline or another
// pass is running.
func (e *Engine) OnSyncComplete(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// SyncQueue applies userID's queued mutations in the order they were queued.
//
// It returns an empty Result without side effects when offline or when a pass
// is already running. Applied items are removed from the queue; a failed item
// stays queued with its retry count bumped until it reaches the retry limit,
// at which point it is dropped.
func (e *Engine) SyncQueue(ctx context.Context, userID string) Result {
	if !e.signal.Online() {
		return Result{}
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		logging.Debug("Sync already in progress", map[string]interface{}{"user_id": userID})
		return Result{}
	}
	e.syncing = true
	e.mu.Unlock()

	start := e.now()
	result := e.drain(ctx, userID)

	e.mu.Lock()
	e.syncing = false
	end := e.now()
	e.lastSync = &end
	e.lastResult = result
	observers := make([]func(), len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	logging.Info("Sync pass finished", map[string]interface{}{
		"user_id":     userID,
		"success":     result.Success,
		"failed":      result.Failed,
		"abandoned":   result.Abandoned,
		"duration_ms": end.Sub(start).Milliseconds(),
	})

	for _, fn := range observers {
		e.notify(fn)
	}
	return result
}

func (e *Engine) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Sync observer panicked", fmt.Errorf("%v", r))
		}
	}()
	fn()
}

func (e *Engine) drain(ctx context.Context, userID string) Result {
	var result Result

	items, err := e.queue.DrainOrdered(ctx, userID)
	if err != nil {
		logging.ErrorWithCode("Failed to read offline queue", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"user_id": userID})
		return result
	}

	for _, item := range items {
		if ctx.Err() != nil {
			logging.Warn("Sync pass interrupted", map[string]interface{}{
				"user_id":   userID,
				"remaining": len(items) - result.Success - result.Failed,
			})
			break
		}

		if err := e.apply(ctx, item); err != nil {
			result.Failed++

			abandoned, markErr := e.queue.MarkFailed(ctx, item)
			if markErr != nil {
				logging.ErrorWithCode("Failed to record sync failure", string(apperrors.CodeOf(markErr)), markErr,
					map[string]interface{}{"id": item.ID})
			}
			if abandoned {
				result.Abandoned++
			}

			logging.Warn("Mutation failed to sync", map[string]interface{}{
				"id":          item.ID,
				"type":        string(item.Type),
				"retry_count": item.RetryCount,
				"abandoned":   abandoned,
				"error":       err.Error(),
			})
			continue
		}

		if err := e.queue.Remove(ctx, item.ID); err != nil {
			logging.ErrorWithCode("Failed to remove applied mutation", string(apperrors.CodeOf(err)), err,
				map[string]interface{}{"id": item.ID})
		}
		result.Success++
	}

	return result
}

// apply dispatches one item to the remote, bounded by the item timeout.
// Dispatch runs inline: a mutation is never still in flight when the next one
// starts, so a remote that ignores cancellation stalls the pass rather than
// reordering it.
func (e *Engine) apply(ctx context.Context, item *models.QueueItem) error {
	payload, err := queue.DecodePayload(item)
	if err != nil {
		return err
	}

	if e.itemTimeout <= 0 {
		return e.dispatch(ctx, item.UserID, payload)
	}

	itemCtx, cancel := context.WithTimeout(ctx, e.itemTimeout)
	defer cancel()

	err = e.dispatch(itemCtx, item.UserID, payload)
	if err != nil && errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrSyncTimeout,
			fmt.Sprintf("apply %s timed out after %s", item.Type, e.itemTimeout), err)
	}
	return err
}

func (e *Engine) dispatch(ctx context.Context, userID string, payload interface{}) error {
	switch p := payload.(type) {
	case *queue.AddSessionPayload:
		return e.remote.AddSession(ctx, userID, p.Date, p.Session)
	case *queue.DeleteSessionPayload:
		return e.remote.DeleteSession(ctx, userID, p.Date, p.SessionTimestamp)
	case *queue.CreateTagPayload:
		return e.remote.CreateTag(ctx, userID, p.Tag)
	case *queue.DeleteTagPayload:
		return e.remote.DeleteTag(ctx, userID, p.TagID)
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unsupported payload %T", payload)
	}
}
