// Package ir holds the dialect-neutral model shared by the request, response
// and stream translators, plus the SSE framing helpers they emit through.
package ir

// BuildSSEChunk frames a data-only SSE message: "data: <json>\n\n".
func BuildSSEChunk(jsonData []byte) []byte {
	size := 6 + len(jsonData) + 2
	buf := make([]byte, 0, size)
	buf = append(buf, "data: "...)
	buf = append(buf, jsonData...)
	buf = append(buf, "\n\n"...)
	return buf
}

// BuildSSEEvent frames a named SSE event: "event: <name>\ndata: <json>\n\n".
func BuildSSEEvent(eventType string, jsonData []byte) []byte {
	size := 7 + len(eventType) + 7 + len(jsonData) + 2
	buf := make([]byte, 0, size)
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, jsonData...)
	buf = append(buf, "\n\n"...)
	return buf
}
