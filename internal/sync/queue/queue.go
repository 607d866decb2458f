// Package queue captures mutations that could not be applied to the remote
// store yet so they can be replayed in order later.
package queue

import (
	"context"
	"encoding/json"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
	"github.com/kimhsiao/habitsync/internal/models"
)

// Backend is the durable storage the queue lives in. *db.Store implements it.
type Backend interface {
	Enqueue(ctx context.Context, item models.NewQueueItem) (*models.QueueItem, error)
	ListQueue(ctx context.Context, userID string) ([]*models.QueueItem, error)
	CountQueue(ctx context.Context, userID string) (int, error)
	RemoveFromQueue(ctx context.Context, id string) error
	UpdateQueueItem(ctx context.Context, id string, update models.QueueItemUpdate) error
	ClearQueue(ctx context.Context) error
}

// Queue is the offline mutation queue. Construct one per process and share it.
type Queue struct {
	backend    Backend
	maxRetries int
}

// New creates a Queue over backend.
func New(backend Backend) *Queue {
	return &Queue{
		backend:    backend,
		maxRetries: models.MaxRetries,
	}
}

// MaxRetries returns the number of failed attempts after which an item is dropped.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue records a mutation for userID. payload is JSON-encoded; it is
// usually one of the typed payloads in this package.
func (q *Queue) Enqueue(ctx context.Context, userID string, mutation models.MutationType, payload interface{}) (*models.QueueItem, error) {
	if !mutation.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown mutation type %q", mutation)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode mutation payload", err)
	}

	item, err := q.backend.Enqueue(ctx, models.NewQueueItem{
		UserID: userID,
		Type:   mutation,
		Data:   data,
	})
	if err != nil {
		return nil, err
	}

	logging.Debug("Mutation queued", map[string]interface{}{
		"id":      item.ID,
		"user_id": userID,
		"type":    string(mutation),
	})
	return item, nil
}

// Count returns the number of queued items for userID.
func (q *Queue) Count(ctx context.Context, userID string) (int, error) {
	return q.backend.CountQueue(ctx, userID)
}

// DrainOrdered returns the backlog for userID oldest first. Items stay queued
// until Remove is called for them.
func (q *Queue) DrainOrdered(ctx context.Context, userID string) ([]*models.QueueItem, error) {
	return q.backend.ListQueue(ctx, userID)
}

// Remove deletes an applied item.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.backend.RemoveFromQueue(ctx, id)
}

// MarkFailed records one more failed attempt for item. Once the retry budget
// is spent the item is removed and abandoned is true.
func (q *Queue) MarkFailed(ctx context.Context, item *models.QueueItem) (abandoned bool, err error) {
	retries := item.RetryCount + 1

	if retries >= q.maxRetries {
		if err := q.backend.RemoveFromQueue(ctx, item.ID); err != nil {
			return false, err
		}
		item.RetryCount = retries
		logging.Warn("Mutation abandoned after max retries", map[string]interface{}{
			"id":          item.ID,
			"user_id":     item.UserID,
			"type":        string(item.Type),
			"retry_count": retries,
		})
		return true, nil
	}

	if err := q.backend.UpdateQueueItem(ctx, item.ID, models.QueueItemUpdate{RetryCount: &retries}); err != nil {
		return false, err
	}
	item.RetryCount = retries
	return false, nil
}

// Clear removes every queued item for every user.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.backend.ClearQueue(ctx); err != nil {
		return err
	}
	logging.Info("Offline queue cleared")
	return nil
}

// Stats summarizes the backlog of userID ("" for every user).
type Stats struct {
	Total    int                         `json:"total"`
	ByType   map[models.MutationType]int `json:"byType"`
	Retrying int                         `json:"retrying"`
	Oldest   int64                       `json:"oldest,omitempty"` // epoch ms
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context, userID string) (*Stats, error) {
	items, err := q.backend.ListQueue(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByType: map[models.MutationType]int{}}
	for _, item := range items {
		stats.Total++
		stats.ByType[item.Type]++
		if item.RetryCount > 0 {
			stats.Retrying++
		}
	}
	if len(items) > 0 {
		stats.Oldest = items[0].Timestamp
	}
	return stats, nil
}
