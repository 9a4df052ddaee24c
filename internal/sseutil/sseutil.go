// Package sseutil parses upstream server-sent event lines.
package sseutil

import (
	"bytes"
)

var (
	doneMarker  = []byte("[DONE]")
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
	idPrefix    = []byte("id:")
	retryPrefix = []byte("retry:")
)

// DataPayload extracts the payload of a "data:" line. ok is false for blank
// lines, comments and the other SSE fields. The [DONE] marker is returned as
// a payload; callers check it with IsDone.
func DataPayload(line []byte) (payload []byte, ok bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return nil, false
	}
	if !bytes.HasPrefix(trimmed, dataPrefix) {
		return nil, false
	}
	payload = bytes.TrimSpace(trimmed[len(dataPrefix):])
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}

// IsDone reports whether payload is the end-of-stream marker.
func IsDone(payload []byte) bool {
	return bytes.Equal(bytes.TrimSpace(payload), doneMarker)
}

// IsField reports whether line is a non-data SSE field (event, id, retry).
func IsField(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	return bytes.HasPrefix(trimmed, eventPrefix) ||
		bytes.HasPrefix(trimmed, idPrefix) ||
		bytes.HasPrefix(trimmed, retryPrefix)
}
