package tokenizer

import (
	"testing"

	tiktoken "github.com/tiktoken-go/tokenizer"
)

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  tiktoken.Encoding
	}{
		{"gpt-4o", tiktoken.O200kBase},
		{"gpt-4o-mini", tiktoken.O200kBase},
		{"gpt-4.1", tiktoken.O200kBase},
		{"gpt-4", tiktoken.Cl100kBase},
		{"gpt-4-0613", tiktoken.Cl100kBase},
		{"gpt-3.5-turbo", tiktoken.Cl100kBase},
		{"gpt-4-claude-sonnet-4", tiktoken.O200kBase},
		{"claude-sonnet-4", tiktoken.O200kBase},
		{"o3-mini", tiktoken.O200kBase},
		{"", tiktoken.O200kBase},
	}
	for _, tt := range tests {
		if got := EncodingFor(tt.model); got != tt.want {
			t.Errorf("EncodingFor(%q) = %v, expected %v", tt.model, got, tt.want)
		}
	}
}

func TestCountText(t *testing.T) {
	c := New()
	if got := c.CountText("gpt-4o", ""); got != 0 {
		t.Errorf("Expected 0 tokens for empty text, got %d", got)
	}
	short := c.CountText("gpt-4o", "Hello world")
	if short <= 0 || short > 4 {
		t.Errorf("Expected a small count for 'Hello world', got %d", short)
	}
	long := c.CountText("gpt-4o", "The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.")
	if long <= short {
		t.Errorf("Expected longer text to count more tokens, got %d <= %d", long, short)
	}
}

func TestCountPayload_Messages(t *testing.T) {
	c := New()
	one := c.CountPayload([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"Hello world"}]}`))
	two := c.CountPayload([]byte(`{"model":"gpt-4o","messages":[
		{"role":"system","content":"Be brief."},
		{"role":"user","content":"Hello world"}]}`))
	if one <= 0 {
		t.Fatalf("Expected tokens > 0, got %d", one)
	}
	if two <= one {
		t.Errorf("Expected a system message to add tokens, got %d <= %d", two, one)
	}
}

func TestCountPayload_PartsAndImages(t *testing.T) {
	c := New()
	text := c.CountPayload([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":[{"type":"text","text":"What is this?"}]}]}`))
	withImage := c.CountPayload([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":[
		{"type":"text","text":"What is this?"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]}]}`))
	if withImage-text != tokensPerImage {
		t.Errorf("Expected an image to add %d tokens, got %d", tokensPerImage, withImage-text)
	}
}

func TestCountPayload_ToolsAndCalls(t *testing.T) {
	c := New()
	base := c.CountPayload([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"Weather?"}]}`))
	withTools := c.CountPayload([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"Weather?"}],
		"tools":[{"type":"function","function":{"name":"get_weather","description":"Look up weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}]}`))
	if withTools <= base+tokensPerTool {
		t.Errorf("Expected tool declarations to add more than %d tokens, got %d", tokensPerTool, withTools-base)
	}

	withCall := c.CountPayload([]byte(`{"model":"gpt-4o","messages":[
		{"role":"user","content":"Weather?"},
		{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Tokyo\"}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"sunny"}]}`))
	if withCall <= base {
		t.Errorf("Expected tool call history to add tokens, got %d <= %d", withCall, base)
	}
}

func TestCountPayload_Empty(t *testing.T) {
	c := New()
	if got := c.CountPayload([]byte(`{"model":"gpt-4o"}`)); got != 0 {
		t.Errorf("Expected 0 for a payload without messages, got %d", got)
	}
	if got := c.CountPayload([]byte(`not json`)); got != 0 {
		t.Errorf("Expected 0 for invalid JSON, got %d", got)
	}
}
