package models

import "sort"

// GeoPoint is an optional GPS fix attached to a session.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Session is one dated habit log entry. Timestamp (epoch ms) identifies it within its day.
type Session struct {
	Timestamp int64                  `json:"timestamp"`
	Text      string                 `json:"text,omitempty"`
	TagValues map[string]interface{} `json:"tagValues,omitempty"`
	PhotoURL  string                 `json:"photoUrl,omitempty"`
	AudioID   string                 `json:"audioId,omitempty"`
	Location  *GeoPoint              `json:"location,omitempty"`
}

// DayLog holds every session logged on one date (YYYY-MM-DD).
type DayLog struct {
	Date     string    `json:"date"`
	Sessions []Session `json:"sessions"`
}

// TableName returns the table name for cached day logs.
func (DayLog) TableName() string {
	return "day_logs"
}

// Upsert inserts s, replacing any session with the same timestamp, and keeps
// sessions ordered by timestamp.
func (d *DayLog) Upsert(s Session) {
	for i := range d.Sessions {
		if d.Sessions[i].Timestamp == s.Timestamp {
			d.Sessions[i] = s
			return
		}
	}
	d.Sessions = append(d.Sessions, s)
	sort.Slice(d.Sessions, func(i, j int) bool {
		return d.Sessions[i].Timestamp < d.Sessions[j].Timestamp
	})
}

// Remove deletes the session with the given timestamp and reports whether one was found.
func (d *DayLog) Remove(timestamp int64) bool {
	for i := range d.Sessions {
		if d.Sessions[i].Timestamp == timestamp {
			d.Sessions = append(d.Sessions[:i], d.Sessions[i+1:]...)
			return true
		}
	}
	return false
}
