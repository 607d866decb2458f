package lock

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
)

func TestHashAndVerifyPIN(t *testing.T) {
	hash, err := HashPIN("1234")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"))

	ok, err := VerifyPIN(hash, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPIN(hash, "4321")
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := HashPIN("1234")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts should differ")
}

func TestHashPINTooShort(t *testing.T) {
	_, err := HashPIN("12")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestVerifyPINMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdA$",
	} {
		_, err := VerifyPIN(encoded, "1234")
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "%q: %v", encoded, err)
	}
}

func TestUnlockStateStartsLocked(t *testing.T) {
	s := NewUnlockState()
	assert.False(t, s.Get())
	s.Set(true)
	assert.True(t, s.Get())
	s.Set(false)
	assert.False(t, s.Get())

	assert.False(t, NewUnlockState().Get(), "each new state is independent")
}

func TestUnlockStateConcurrent(t *testing.T) {
	s := NewUnlockState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v bool) {
			defer wg.Done()
			s.Set(v)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			s.Get()
		}()
	}
	wg.Wait()
}

func TestLocker(t *testing.T) {
	hash, err := HashPIN("2468")
	require.NoError(t, err)
	l := NewLocker(nil, hash)

	assert.True(t, l.Enabled())
	assert.True(t, apperrors.Is(l.Require(), apperrors.ErrLocked))

	assert.True(t, apperrors.Is(l.Unlock("0000"), apperrors.ErrInvalidPIN))
	assert.False(t, l.Unlocked())

	require.NoError(t, l.Unlock("2468"))
	assert.NoError(t, l.Require())

	l.Lock()
	assert.False(t, l.Unlocked())
}

func TestLockerWithoutPIN(t *testing.T) {
	l := NewLocker(NewUnlockState(), "")
	assert.False(t, l.Enabled())
	assert.NoError(t, l.Require())
	assert.NoError(t, l.Unlock(""))
}

func TestLockerSetAndClearPIN(t *testing.T) {
	state := NewUnlockState()
	l := NewLocker(state, "")
	require.NoError(t, l.Unlock(""))

	hash, err := l.SetPIN("97531")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.False(t, state.Get(), "a new PIN locks the app")

	require.NoError(t, l.Unlock("97531"))
	l.ClearPIN()
	l.Lock()
	assert.NoError(t, l.Require())

	_, err = l.SetPIN("1")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}
