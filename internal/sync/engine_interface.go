package sync

import (
	"context"
	"time"
)

// EngineInterface defines the sync engine operations used by the scheduler
// and the outer surfaces. It allows for mocking in tests.
type EngineInterface interface {
	// SyncQueue runs one pass for userID. See Engine.SyncQueue.
	SyncQueue(ctx context.Context, userID string) Result

	// OnSyncComplete registers an observer called after every finished pass.
	OnSyncComplete(fn func())

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns when the last pass finished.
	LastSync() *time.Time

	// LastResult returns the counts of the last finished pass.
	LastResult() Result

	// PendingChanges returns the number of queued mutations for userID.
	PendingChanges(ctx context.Context, userID string) (int, error)
}

var _ EngineInterface = (*Engine)(nil)
