// Package uuid provides unit tests for identifier generation.
package uuid

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	if !IsValid(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
}

// TestShort verifies length clamping and hex alphabet.
func TestShort(t *testing.T) {
	hex := regexp.MustCompile(`^[0-9a-f]+$`)
	for _, n := range []int{-1, 1, 8, 32, 40} {
		s := Short(n)
		want := n
		if want < 1 {
			want = 1
		}
		if want > 32 {
			want = 32
		}
		if len(s) != want {
			t.Errorf("Short(%d) length = %d, want %d", n, len(s), want)
		}
		if !hex.MatchString(s) {
			t.Errorf("Short(%d) = %q is not hex", n, s)
		}
	}
}

// TestNewTimeBased verifies the time prefix and uniqueness under rapid generation.
func TestNewTimeBased(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTimeBased(now)
		if !strings.HasPrefix(id, "1700000000123-") {
			t.Fatalf("id %q missing time prefix", id)
		}
		if ids[id] {
			t.Fatalf("duplicate id generated within one millisecond: %s", id)
		}
		ids[id] = true
	}
}

// TestNewChunkID verifies owner and index are embedded.
func TestNewChunkID(t *testing.T) {
	id := NewChunkID("audio-1", 2)
	if !strings.HasPrefix(id, "audio-1_2_") {
		t.Errorf("NewChunkID = %q", id)
	}
	if NewChunkID("audio-1", 2) == id {
		t.Error("chunk ids for the same slot should differ")
	}
}

// TestIsValid tests UUID v4 validation.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		uuid string
		want bool
	}{
		{"valid UUID v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"uppercase", "F47AC10B-58CC-4372-A567-0E02B2C3D479", true},
		{"wrong version", "f47ac10b-58cc-1372-a567-0e02b2c3d479", false},
		{"wrong variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", false},
		{"no dashes", "f47ac10b58cc4372a5670e02b2c3d479", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.uuid); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.uuid, got, tt.want)
			}
			if err := Validate(tt.uuid); (err == nil) != tt.want {
				t.Errorf("Validate(%q) err = %v", tt.uuid, err)
			}
		})
	}
}
