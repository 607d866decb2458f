// Package models provides data model definitions for habitsync.
package models

import (
	"encoding/json"
	"time"
)

// MaxRetries is the number of failed replays after which a queued mutation is dropped.
const MaxRetries = 10

// MutationType identifies the remote mutation a queue item replays.
type MutationType string

const (
	MutationAddSession    MutationType = "add_session"
	MutationDeleteSession MutationType = "delete_session"
	MutationCreateTag     MutationType = "create_tag"
	MutationDeleteTag     MutationType = "delete_tag"
)

// MutationTypes lists every supported mutation type.
var MutationTypes = []MutationType{
	MutationAddSession,
	MutationDeleteSession,
	MutationCreateTag,
	MutationDeleteTag,
}

// Valid reports whether t is one of the supported mutation types.
func (t MutationType) Valid() bool {
	switch t {
	case MutationAddSession, MutationDeleteSession, MutationCreateTag, MutationDeleteTag:
		return true
	}
	return false
}

// QueueItem represents a pending mutation awaiting application to the remote store.
type QueueItem struct {
	ID         string          `db:"id" json:"id"`
	Timestamp  int64           `db:"timestamp" json:"timestamp"` // epoch ms, replay order
	UserID     string          `db:"user_id" json:"userId"`
	Type       MutationType    `db:"type" json:"type"`
	Data       json.RawMessage `db:"data" json:"data"`
	RetryCount int             `db:"retry_count" json:"retryCount"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "offline_queue"
}

// EnqueuedAt returns the Timestamp as time.Time.
func (q *QueueItem) EnqueuedAt() time.Time {
	return time.UnixMilli(q.Timestamp)
}

// NewQueueItem is a mutation before the store assigns id, timestamp and retry count.
type NewQueueItem struct {
	UserID string
	Type   MutationType
	Data   json.RawMessage
}

// QueueItemUpdate is a partial update applied to a stored queue item.
// Only the retry count is ever changed after enqueue.
type QueueItemUpdate struct {
	RetryCount *int
}
