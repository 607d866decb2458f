package lock

import (
	"sync"

	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
)

// Locker gates access behind a PIN. With no PIN configured it is always
// unlocked.
type Locker struct {
	state *UnlockState

	mu      sync.RWMutex
	pinHash string
}

// NewLocker creates a Locker for the given PHC hash, which may be empty.
func NewLocker(state *UnlockState, pinHash string) *Locker {
	if state == nil {
		state = NewUnlockState()
	}
	return &Locker{state: state, pinHash: pinHash}
}

// Enabled reports whether a PIN is configured.
func (l *Locker) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pinHash != ""
}

// Unlock verifies pin and unlocks on a match. A wrong PIN is INVALID_PIN.
func (l *Locker) Unlock(pin string) error {
	l.mu.RLock()
	hash := l.pinHash
	l.mu.RUnlock()

	if hash == "" {
		l.state.Set(true)
		return nil
	}

	ok, err := VerifyPIN(hash, pin)
	if err != nil {
		return err
	}
	if !ok {
		logging.Warn("PIN verification failed", nil)
		return errors.New(errors.ErrInvalidPIN, "incorrect PIN")
	}
	l.state.Set(true)
	return nil
}

// Lock clears the unlock flag.
func (l *Locker) Lock() {
	l.state.Set(false)
}

// Unlocked reports whether access is currently allowed.
func (l *Locker) Unlocked() bool {
	return !l.Enabled() || l.state.Get()
}

// Require returns LOCKED unless access is allowed.
func (l *Locker) Require() error {
	if l.Unlocked() {
		return nil
	}
	return errors.New(errors.ErrLocked, "app is locked")
}

// SetPIN replaces the PIN and returns its hash for the caller to persist.
// Setting a new PIN locks the app.
func (l *Locker) SetPIN(pin string) (string, error) {
	hash, err := HashPIN(pin)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	l.pinHash = hash
	l.mu.Unlock()
	l.state.Set(false)
	return hash, nil
}

// ClearPIN removes the PIN.
func (l *Locker) ClearPIN() {
	l.mu.Lock()
	l.pinHash = ""
	l.mu.Unlock()
}
