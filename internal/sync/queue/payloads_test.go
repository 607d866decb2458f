package queue

import (
	"encoding/json"
	"testing"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/models"
)

// TestDecodePayload tests each mutation type decodes to its payload struct.
func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name  string
		typ   models.MutationType
		data  string
		check func(t *testing.T, v interface{})
	}{
		{
			name: "add session",
			typ:  models.MutationAddSession,
			data: `{"date":"2024-03-05","session":{"timestamp":5,"text":"run"}}`,
			check: func(t *testing.T, v interface{}) {
				p := v.(*AddSessionPayload)
				if p.Date != "2024-03-05" || p.Session.Timestamp != 5 || p.Session.Text != "run" {
					t.Errorf("payload = %+v", p)
				}
			},
		},
		{
			name: "delete session",
			typ:  models.MutationDeleteSession,
			data: `{"date":"2024-03-05","sessionTimestamp":5}`,
			check: func(t *testing.T, v interface{}) {
				if p := v.(*DeleteSessionPayload); p.SessionTimestamp != 5 {
					t.Errorf("payload = %+v", p)
				}
			},
		},
		{
			name: "create tag",
			typ:  models.MutationCreateTag,
			data: `{"tag":{"id":"t1","name":"Run","type":"number"}}`,
			check: func(t *testing.T, v interface{}) {
				if p := v.(*CreateTagPayload); p.Tag.ID != "t1" || p.Tag.Type != models.TagTypeNumber {
					t.Errorf("payload = %+v", p)
				}
			},
		},
		{
			name: "delete tag",
			typ:  models.MutationDeleteTag,
			data: `{"tagId":"t1"}`,
			check: func(t *testing.T, v interface{}) {
				if p := v.(*DeleteTagPayload); p.TagID != "t1" {
					t.Errorf("payload = %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodePayload(&models.QueueItem{Type: tt.typ, Data: json.RawMessage(tt.data)})
			if err != nil {
				t.Fatalf("DecodePayload failed: %v", err)
			}
			tt.check(t, v)
		})
	}
}

// TestDecodePayloadErrors tests malformed and incomplete payloads.
func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		typ  models.MutationType
		data string
	}{
		{"unknown type", "rename_tag", `{}`},
		{"not json", models.MutationDeleteTag, `{`},
		{"wrong shape", models.MutationAddSession, `[]`},
		{"missing tag id", models.MutationDeleteTag, `{}`},
		{"missing date", models.MutationAddSession, `{"session":{"timestamp":1}}`},
		{"missing created tag id", models.MutationCreateTag, `{"tag":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(&models.QueueItem{Type: tt.typ, Data: json.RawMessage(tt.data)})
			if !apperrors.Is(err, apperrors.ErrInvalid) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}
