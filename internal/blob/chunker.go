// Package blob stores recordings of unbounded size as a metadata record plus
// bounded-size chunk records in the remote document store.
package blob

import (
	"errors"
	"strings"
)

// DefaultMaxChunkBytes is the decoded size limit of a single chunk record.
const DefaultMaxChunkBytes = 500 * 1024

// ErrInvalidChunkSize is returned by Split for a non-positive chunk size.
var ErrInvalidChunkSize = errors.New("blob: chunk size must be positive")

// SplitPrefix separates a data URL header such as "data:audio/webm;base64,"
// from the encoded body. Payloads without a header have an empty prefix.
func SplitPrefix(payload string) (prefix, body string) {
	if !strings.HasPrefix(payload, "data:") {
		return "", payload
	}
	i := strings.IndexByte(payload, ',')
	if i < 0 {
		return "", payload
	}
	return payload[:i+1], payload[i+1:]
}

// MimeTypeOf returns the media type declared in a data URL header, or "".
func MimeTypeOf(payload string) string {
	prefix, _ := SplitPrefix(payload)
	if prefix == "" {
		return ""
	}
	mime := strings.TrimPrefix(prefix, "data:")
	mime = strings.TrimSuffix(mime, ",")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// SizeOfEncoded returns the decoded byte length of a base64 payload without
// decoding it. A data URL header is ignored.
func SizeOfEncoded(payload string) int {
	_, body := SplitPrefix(payload)
	padding := 0
	for i := len(body) - 1; i >= 0 && padding < 2 && body[i] == '='; i-- {
		padding++
	}
	size := len(body)*3/4 - padding
	if size < 0 {
		return 0
	}
	return size
}

// Split cuts payload into chunks whose decoded size is at most maxChunkBytes.
// Only the first chunk keeps the data URL header. A payload that already fits
// comes back as a single chunk equal to payload.
func Split(payload string, maxChunkBytes int) ([]string, error) {
	if maxChunkBytes <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if SizeOfEncoded(payload) <= maxChunkBytes {
		return []string{payload}, nil
	}

	prefix, body := SplitPrefix(payload)
	window := maxChunkBytes * 4 / 3
	if window < 1 {
		window = 1
	}

	chunks := make([]string, 0, (len(body)+window-1)/window)
	for start := 0; start < len(body); start += window {
		end := start + window
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[start:end])
	}
	chunks[0] = prefix + chunks[0]
	return chunks, nil
}

// Recombine joins chunks produced by Split. Chunks must already be in index
// order.
func Recombine(chunks []string) string {
	switch len(chunks) {
	case 0:
		return ""
	case 1:
		return chunks[0]
	}

	prefix, first := SplitPrefix(chunks[0])
	var b strings.Builder
	size := len(prefix) + len(first)
	for _, c := range chunks[1:] {
		size += len(c)
	}
	b.Grow(size)
	b.WriteString(prefix)
	b.WriteString(first)
	for _, c := range chunks[1:] {
		b.WriteString(c)
	}
	return b.String()
}
