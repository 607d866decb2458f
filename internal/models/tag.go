package models

import "time"

// TagType describes how a tag's per-session value is interpreted.
type TagType string

const (
	TagTypeNumber   TagType = "number"
	TagTypeBoolean  TagType = "boolean"
	TagTypeText     TagType = "text"
	TagTypeDuration TagType = "duration"
)

// Tag represents a user-defined metric that sessions record values against.
type Tag struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      TagType `json:"type"`
	Unit      string  `json:"unit,omitempty"`
	Color     string  `json:"color,omitempty"`
	CreatedAt int64   `json:"createdAt"`
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (t *Tag) CreatedAtTime() time.Time {
	return time.UnixMilli(t.CreatedAt)
}
