package ir

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func eventData(t *testing.T, ev StreamEvent) gjson.Result {
	t.Helper()
	if !gjson.ValidBytes(ev.Data) {
		t.Fatalf("invalid JSON in %s event: %s", ev.Name, ev.Data)
	}
	return gjson.ParseBytes(ev.Data)
}

func TestBuildSSEEvent(t *testing.T) {
	got := string(BuildSSEEvent("ping", []byte(`{"type":"ping"}`)))
	want := "event: ping\ndata: {\"type\":\"ping\"}\n\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestBuildSSEChunk(t *testing.T) {
	got := string(BuildSSEChunk([]byte("[DONE]")))
	if got != "data: [DONE]\n\n" {
		t.Errorf("Expected data-only framing, got %q", got)
	}
}

func TestNewMessageStartEvent(t *testing.T) {
	ev := NewMessageStartEvent("msg_1", "claude-sonnet-4", 42)
	if ev.Name != ClaudeSSEMessageStart {
		t.Errorf("Expected name %s, got %s", ClaudeSSEMessageStart, ev.Name)
	}
	d := eventData(t, ev)
	checks := map[string]string{
		"type":                        "message_start",
		"message.id":                  "msg_1",
		"message.type":                "message",
		"message.role":                "assistant",
		"message.model":               "claude-sonnet-4",
		"message.usage.input_tokens":  "42",
		"message.usage.output_tokens": "1",
	}
	for path, want := range checks {
		if got := d.Get(path).String(); got != want {
			t.Errorf("%s: expected %q, got %q", path, want, got)
		}
	}
	if !d.Get("message.content").IsArray() || len(d.Get("message.content").Array()) != 0 {
		t.Errorf("Expected empty content array, got %s", d.Get("message.content").Raw)
	}
	if d.Get("message.stop_reason").Type != gjson.Null {
		t.Errorf("Expected null stop_reason, got %s", d.Get("message.stop_reason").Raw)
	}
}

func TestBlockStartEvents(t *testing.T) {
	d := eventData(t, NewTextBlockStartEvent(1))
	if d.Get("index").Int() != 1 || d.Get("content_block.type").String() != "text" {
		t.Errorf("Unexpected text block start: %s", d.Raw)
	}
	if !d.Get("content_block.text").Exists() {
		t.Error("Expected empty text field on text block start")
	}

	d = eventData(t, NewToolUseBlockStartEvent(2, "toolu_1", "get_weather"))
	if d.Get("index").Int() != 2 ||
		d.Get("content_block.type").String() != "tool_use" ||
		d.Get("content_block.id").String() != "toolu_1" ||
		d.Get("content_block.name").String() != "get_weather" {
		t.Errorf("Unexpected tool block start: %s", d.Raw)
	}
	if d.Get("content_block.input").Raw != "{}" {
		t.Errorf("Expected empty input object, got %s", d.Get("content_block.input").Raw)
	}
}

func TestDeltaEvents_PoolReuse(t *testing.T) {
	first := NewTextDeltaEvent(0, "Hello")
	second := NewTextDeltaEvent(3, "world")

	if gjson.GetBytes(first.Data, "delta.text").String() != "Hello" {
		t.Errorf("First event mutated by pool reuse: %s", first.Data)
	}
	d := eventData(t, second)
	if d.Get("index").Int() != 3 || d.Get("delta.type").String() != "text_delta" {
		t.Errorf("Unexpected text delta: %s", d.Raw)
	}

	j := eventData(t, NewInputJSONDeltaEvent(1, `{"loc":`))
	if j.Get("delta.type").String() != "input_json_delta" || j.Get("delta.partial_json").String() != `{"loc":` {
		t.Errorf("Unexpected input_json delta: %s", j.Raw)
	}
}

func TestNewMessageDeltaEvent(t *testing.T) {
	d := eventData(t, NewMessageDeltaEvent(StopReasonToolUse, nil))
	if d.Get("delta.stop_reason").String() != "tool_use" {
		t.Errorf("Expected tool_use, got %s", d.Get("delta.stop_reason").Raw)
	}
	if d.Get("delta.stop_sequence").Type != gjson.Null {
		t.Error("Expected null stop_sequence")
	}
	if d.Get("usage.input_tokens").Exists() {
		t.Error("Expected input_tokens omitted without usage")
	}
	if d.Get("usage.output_tokens").Int() != 0 {
		t.Errorf("Expected 0 output_tokens, got %d", d.Get("usage.output_tokens").Int())
	}

	d = eventData(t, NewMessageDeltaEvent(StopReasonEndTurn, &Usage{PromptTokens: 10, CompletionTokens: 7}))
	if d.Get("usage.input_tokens").Int() != 10 || d.Get("usage.output_tokens").Int() != 7 {
		t.Errorf("Unexpected usage: %s", d.Get("usage").Raw)
	}
}

func TestStreamEventBytes(t *testing.T) {
	got := string(NewMessageStopEvent().Bytes())
	if !strings.HasPrefix(got, "event: message_stop\ndata: ") || !strings.HasSuffix(got, "\n\n") {
		t.Errorf("Unexpected framing: %q", got)
	}
	if !strings.Contains(string(NewPingEvent().Data), `"ping"`) {
		t.Error("Expected ping payload")
	}
}

func TestNewErrorEvent(t *testing.T) {
	ev := NewErrorEvent("api_error", "upstream went away")
	if ev.Name != ClaudeSSEError {
		t.Errorf("Expected name %s, got %s", ClaudeSSEError, ev.Name)
	}
	d := eventData(t, ev)
	if d.Get("type").String() != "error" ||
		d.Get("error.type").String() != "api_error" ||
		d.Get("error.message").String() != "upstream went away" {
		t.Errorf("Unexpected error event: %s", d.Raw)
	}
}
