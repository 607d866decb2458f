// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// TestMutationType_Valid verifies the closed set of mutation types.
func TestMutationType_Valid(t *testing.T) {
	for _, mt := range MutationTypes {
		if !mt.Valid() {
			t.Errorf("%q should be valid", mt)
		}
	}
	for _, mt := range []MutationType{"", "update_session", "ADD_SESSION"} {
		if mt.Valid() {
			t.Errorf("%q should be invalid", mt)
		}
	}
}

// TestQueueItem_JSON verifies wire field names and the raw payload.
func TestQueueItem_JSON(t *testing.T) {
	item := QueueItem{
		ID:         "1700000000000-abc",
		Timestamp:  1700000000000,
		UserID:     "u1",
		Type:       MutationCreateTag,
		Data:       json.RawMessage(`{"tag":{"id":"t1"}}`),
		RetryCount: 2,
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"id", "timestamp", "userId", "type", "data", "retryCount"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing JSON field %q", key)
		}
	}

	if got := item.EnqueuedAt(); !got.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("EnqueuedAt() = %v", got)
	}
	if item.TableName() != "offline_queue" {
		t.Errorf("TableName() = %q", item.TableName())
	}
}

// TestDayLog_Upsert verifies ordering and replacement by timestamp.
func TestDayLog_Upsert(t *testing.T) {
	var d DayLog
	d.Upsert(Session{Timestamp: 30, Text: "c"})
	d.Upsert(Session{Timestamp: 10, Text: "a"})
	d.Upsert(Session{Timestamp: 20, Text: "b"})
	d.Upsert(Session{Timestamp: 10, Text: "a2"})

	if len(d.Sessions) != 3 {
		t.Fatalf("len = %d, want 3", len(d.Sessions))
	}
	want := []string{"a2", "b", "c"}
	for i, s := range d.Sessions {
		if s.Text != want[i] {
			t.Errorf("Sessions[%d].Text = %q, want %q", i, s.Text, want[i])
		}
	}
}

// TestDayLog_Remove verifies removal reports presence.
func TestDayLog_Remove(t *testing.T) {
	d := DayLog{Sessions: []Session{{Timestamp: 1}, {Timestamp: 2}}}

	if !d.Remove(1) {
		t.Error("Remove(1) should report true")
	}
	if d.Remove(1) {
		t.Error("second Remove(1) should report false")
	}
	if len(d.Sessions) != 1 || d.Sessions[0].Timestamp != 2 {
		t.Errorf("Sessions = %+v", d.Sessions)
	}
}

// TestStoredAudio_IsComplete covers the transient metadata-only state.
func TestStoredAudio_IsComplete(t *testing.T) {
	tests := []struct {
		name  string
		audio StoredAudio
		want  bool
	}{
		{"metadata only", StoredAudio{ChunkCount: 3}, false},
		{"partial ids", StoredAudio{ChunkCount: 3, ChunkIDs: []string{"a", "b"}}, false},
		{"complete", StoredAudio{ChunkCount: 2, ChunkIDs: []string{"a", "b"}}, true},
		{"zero chunks", StoredAudio{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.audio.IsComplete(); got != tt.want {
				t.Errorf("IsComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestSortChunks verifies chunks are ordered by index, not arrival.
func TestSortChunks(t *testing.T) {
	chunks := []AudioChunk{{ChunkIndex: 2}, {ChunkIndex: 0}, {ChunkIndex: 1}}
	SortChunks(chunks)
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunks[%d].ChunkIndex = %d", i, c.ChunkIndex)
		}
	}
}
