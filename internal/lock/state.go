package lock

import "sync"

// UnlockState records whether the user has unlocked the app in this process.
// It starts locked and is never persisted, so every process start is locked.
type UnlockState struct {
	mu       sync.RWMutex
	unlocked bool
}

// NewUnlockState returns a locked state.
func NewUnlockState() *UnlockState {
	return &UnlockState{}
}

// Get reports whether the app is unlocked.
func (s *UnlockState) Get() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}

// Set updates the unlock flag.
func (s *UnlockState) Set(unlocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocked = unlocked
}
