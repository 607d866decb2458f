package models

import "sort"

// StoredAudio describes one logical voice recording stored as N chunk records.
//
// A record with ChunkCount > 0 and no ChunkIDs is an upload in progress (or an
// abandoned one) and must never be served.
type StoredAudio struct {
	ID               string   `json:"id"`
	CreatedAt        int64    `json:"createdAt"`
	Size             int      `json:"size"`     // total decoded bytes
	Duration         float64  `json:"duration"` // seconds
	MimeType         string   `json:"mimeType"`
	SessionTimestamp *int64   `json:"sessionTimestamp,omitempty"`
	Date             string   `json:"date,omitempty"`
	ChunkCount       int      `json:"chunkCount"`
	ChunkIDs         []string `json:"chunkIds"`
}

// IsComplete reports whether every chunk reference has been recorded.
func (a *StoredAudio) IsComplete() bool {
	return a.ChunkCount > 0 && len(a.ChunkIDs) == a.ChunkCount
}

// AudioChunk is one bounded-size slice of an encoded recording.
type AudioChunk struct {
	AudioID    string `json:"audioId"`
	ChunkIndex int    `json:"chunkIndex"`
	Base64     string `json:"base64"`
	Size       int    `json:"size"` // decoded bytes of this slice
}

// SortChunks orders chunks by ChunkIndex ascending.
func SortChunks(chunks []AudioChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}
