// Package uuid provides identifier generation for queue items, chunks and records.
package uuid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Short returns n random lowercase hex characters (1 <= n <= 32).
func Short(n int) string {
	if n < 1 {
		n = 1
	}
	if n > 32 {
		n = 32
	}
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:n]
}

// NewTimeBased returns an id of the form "<epoch-ms>-<random>". Ids generated in
// the same millisecond stay unique through the random suffix.
func NewTimeBased(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + Short(9)
}

// NewChunkID returns a chunk record id that embeds its owner and position for
// debuggability without being derived solely from them.
func NewChunkID(ownerID string, index int) string {
	return fmt.Sprintf("%s_%d_%s", ownerID, index, Short(8))
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
