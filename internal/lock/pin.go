// Package lock holds the process-scoped unlock state and PIN verification.
package lock

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/kimhsiao/habitsync/internal/errors"
)

// Argon2id parameters for an interactive unlock.
const (
	memory      uint32 = 64 * 1024
	iterations  uint32 = 3
	parallelism uint8  = 2
	saltLength  uint32 = 16
	hashLength  uint32 = 32
)

// MinPINLength is the shortest PIN HashPIN accepts.
const MinPINLength = 4

// HashPIN returns a PHC formatted Argon2id hash of pin.
func HashPIN(pin string) (string, error) {
	if len(pin) < MinPINLength {
		return "", errors.Newf(errors.ErrInvalid, "PIN must be at least %d characters", MinPINLength)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(errors.ErrInternal, "generate salt", err)
	}
	hash := argon2.IDKey([]byte(pin), salt, iterations, memory, parallelism, hashLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, iterations, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPIN reports whether pin matches the PHC encoded hash. A malformed
// hash is an INVALID_INPUT error.
func VerifyPIN(encoded, pin string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New(errors.ErrInvalid, "invalid PIN hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errors.New(errors.ErrInvalid, "unsupported PIN hash version")
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, errors.Wrap(errors.ErrInvalid, "invalid PIN hash parameters", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.Wrap(errors.ErrInvalid, "invalid PIN hash salt", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errors.New(errors.ErrInvalid, "invalid PIN hash digest")
	}

	got := argon2.IDKey([]byte(pin), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
