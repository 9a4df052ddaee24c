package ir

import "testing"

// BenchmarkNewTextDeltaEvent measures the pooled hot-path delta encoder.
func BenchmarkNewTextDeltaEvent(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = NewTextDeltaEvent(0, "Hello, this is a streamed token.")
	}
}

func BenchmarkBuildSSEEvent(b *testing.B) {
	data := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = BuildSSEEvent(ClaudeSSEContentBlockDelta, data)
	}
}

// BenchmarkRandomIDs benchmarks identifier generation.
func BenchmarkRandomIDs(b *testing.B) {
	var g RandomIDs
	for i := 0; i < b.N; i++ {
		_ = g.NewID(ToolUseIDPrefix)
	}
}
