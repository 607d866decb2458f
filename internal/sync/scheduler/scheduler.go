// Package scheduler runs sync passes in the background: when connectivity
// returns, on a fixed interval while online, and on demand.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/habitsync/internal/connectivity"
	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
	syncpkg "github.com/kimhsiao/habitsync/internal/sync"
)

// Sweeper removes expired entries from the local cache.
type Sweeper interface {
	ClearExpired(ctx context.Context) (int64, error)
}

// Scheduler manages background sync operations for one signed-in user.
type Scheduler struct {
	engine        syncpkg.EngineInterface
	signal        connectivity.Signal
	sweeper       Sweeper
	userID        string
	syncInterval  time.Duration
	sweepInterval time.Duration
	passTimeout   time.Duration

	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	isRunning   bool
	unsubscribe func()
	lastSweep   time.Time
	swept       int64
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	UserID        string
	SyncInterval  time.Duration // while online (default: 15 minutes)
	SweepInterval time.Duration // cache expiry sweep (default: 1 hour)
	PassTimeout   time.Duration // bound on a whole background pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:  15 * time.Minute,
		SweepInterval: time.Hour,
		PassTimeout:   5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. sweeper may be nil.
func NewScheduler(engine syncpkg.EngineInterface, signal connectivity.Signal, sweeper Sweeper, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		engine:        engine,
		signal:        signal,
		sweeper:       sweeper,
		userID:        config.UserID,
		syncInterval:  config.SyncInterval,
		sweepInterval: config.SweepInterval,
		passTimeout:   config.PassTimeout,
		stopCh:        make(chan struct{}),
	}
	if s.syncInterval <= 0 {
		s.syncInterval = defaults.SyncInterval
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = defaults.SweepInterval
	}
	if s.passTimeout <= 0 {
		s.passTimeout = defaults.PassTimeout
	}
	return s
}

// Start subscribes to connectivity changes and starts the periodic loops.
// Calling Start on a running or stopped scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.stopped() {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.unsubscribe = s.signal.Subscribe(func(online bool) {
		if online {
			logging.Info("Connectivity restored, starting sync", map[string]interface{}{"user_id": s.userID})
			s.TriggerSync(ctx)
		}
	})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.sweepLoop(ctx)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"user_id":        s.userID,
		"sync_interval":  s.syncInterval.String(),
		"sweep_interval": s.sweepInterval.String(),
	})
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop stops the scheduler and waits for the loops and any triggered pass to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.signal.Online() {
				continue
			}
			s.runSync(ctx, "periodic")
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	if s.sweeper == nil {
		return
	}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logging.ErrorWithCode("Cache sweep failed", string(errors.CodeOf(err)), err)
			}
		}
	}
}

// runSync executes one pass and logs its outcome.
func (s *Scheduler) runSync(ctx context.Context, trigger string) syncpkg.Result {
	syncCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	result := s.engine.SyncQueue(syncCtx, s.userID)
	if result.Success+result.Failed > 0 {
		logging.Info("Background sync completed", map[string]interface{}{
			"trigger":   trigger,
			"success":   result.Success,
			"failed":    result.Failed,
			"abandoned": result.Abandoned,
		})
	}
	return result
}

// TriggerSync starts a pass in the background. It returns false when offline,
// when a pass is already running, or when the scheduler is stopped. The pass
// keeps ctx's values but not its cancellation, so it outlives the request that
// triggered it; the pass timeout still bounds it.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.signal.Online() || s.engine.Status() == syncpkg.SyncStatusSyncing {
		return false
	}

	s.mu.Lock()
	if s.stopped() {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx, "trigger")
	}()
	return true
}

// SyncNow runs a pass and waits for it. It fails with OFFLINE when there is
// no connectivity, since the pass would do nothing.
func (s *Scheduler) SyncNow(ctx context.Context) (syncpkg.Result, error) {
	if !s.signal.Online() {
		return syncpkg.Result{}, errors.New(errors.ErrOffline, "device is offline")
	}
	return s.runSync(ctx, "manual"), nil
}

// Sweep clears expired cache entries now.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	if s.sweeper == nil {
		return 0, nil
	}
	n, err := s.sweeper.ClearExpired(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastSweep = time.Now()
	s.swept += n
	s.mu.Unlock()

	if n > 0 {
		logging.Debug("Expired cache entries cleared", map[string]interface{}{"count": n})
	}
	return n, nil
}

// SchedulerStatus is a snapshot of the scheduler and engine state.
type SchedulerStatus struct {
	IsRunning    bool               `json:"isRunning"`
	IsOnline     bool               `json:"isOnline"`
	SyncStatus   syncpkg.SyncStatus `json:"syncStatus"`
	LastSyncTime *time.Time         `json:"lastSyncTime,omitempty"`
	LastResult   syncpkg.Result     `json:"lastResult"`
	PendingItems int                `json:"pendingItems"`
	LastSweep    *time.Time         `json:"lastSweep,omitempty"`
	SweptEntries int64              `json:"sweptEntries"`
}

// GetStatus returns the current status. PendingItems is -1 when the local
// store cannot be read.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:    s.isRunning,
		SweptEntries: s.swept,
	}
	if !s.lastSweep.IsZero() {
		t := s.lastSweep
		status.LastSweep = &t
	}
	s.mu.RUnlock()

	status.IsOnline = s.signal.Online()
	status.SyncStatus = s.engine.Status()
	status.LastSyncTime = s.engine.LastSync()
	status.LastResult = s.engine.LastResult()

	pending, err := s.engine.PendingChanges(ctx, s.userID)
	if err != nil {
		pending = -1
	}
	status.PendingItems = pending
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
