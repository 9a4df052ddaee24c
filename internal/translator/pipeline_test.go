package translator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/tidwall/gjson"
)

func TestPipeline_PrepareClaude(t *testing.T) {
	p := NewPipeline(&ir.SequentialIDs{})
	payload := []byte(`{"model":"claude-sonnet-4-20250514","stream":true,"max_tokens":64,
		"system":[{"type":"text","text":"Be brief."}],
		"messages":[{"role":"user","content":[{"type":"text","text":"Weather?","cache_control":{"type":"ephemeral"}}]}],
		"tools":[{"name":"get_weather","input_schema":{"type":"object"}}],
		"tool_choice":{"type":"any"}}`)

	prepared, err := p.Prepare(payload)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if prepared.Format != ir.FormatClaude || prepared.Signal != SignalSystemArray {
		t.Errorf("Expected claude via system-array, got %s/%s", prepared.Format, prepared.Signal)
	}
	if prepared.Model != "claude-sonnet-4-20250514" || !prepared.Stream {
		t.Errorf("Unexpected model/stream: %q %v", prepared.Model, prepared.Stream)
	}

	out := gjson.ParseBytes(prepared.Payload)
	if out.Get("messages.0.role").String() != "system" || out.Get("messages.0.content").String() != "Be brief." {
		t.Errorf("Expected leading system message, got %s", out.Get("messages.0").Raw)
	}
	if out.Get("messages.1.content.0.cache_control").Exists() {
		t.Error("cache_control must be stripped")
	}
	if out.Get("tools.0.function.name").String() != "get_weather" {
		t.Errorf("Expected converted tool, got %s", out.Get("tools").Raw)
	}
	if out.Get("tool_choice").String() != "required" {
		t.Errorf("Expected required, got %s", out.Get("tool_choice").Raw)
	}
	if _, signal := DetectFormatSignal(prepared.Payload); signal != SignalNone {
		t.Errorf("Converted payload should classify as chat-array, matched %q", signal)
	}
}

func TestPipeline_PrepareOpenAIPassthrough(t *testing.T) {
	p := NewPipeline(nil)
	payload := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	prepared, err := p.Prepare(payload)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if prepared.Format != ir.FormatOpenAI {
		t.Errorf("Expected openai, got %s", prepared.Format)
	}
	if !bytes.Equal(prepared.Payload, payload) {
		t.Errorf("Expected payload unchanged, got %s", prepared.Payload)
	}
}

func TestPipeline_TranscodeResponse(t *testing.T) {
	p := NewPipeline(&ir.SequentialIDs{})
	body := []byte(`{"choices":[{"message":{"content":"Hello"},"finish_reason":"length"}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`)

	out, usage, err := p.TranscodeResponse(ir.FormatClaude, body, "claude-4-sonnet")
	if err != nil {
		t.Fatalf("TranscodeResponse failed: %v", err)
	}
	got := gjson.ParseBytes(out)
	if got.Get("content.0.text").String() != "Hello" || got.Get("stop_reason").String() != "max_tokens" {
		t.Errorf("Unexpected response: %s", out)
	}
	if got.Get("model").String() != "claude-4-sonnet" {
		t.Errorf("Expected display model, got %s", got.Get("model").String())
	}
	if usage == nil || usage.TotalTokens != 6 {
		t.Errorf("Expected usage, got %+v", usage)
	}

	same, usage, err := p.TranscodeResponse(ir.FormatOpenAI, body, "ignored")
	if err != nil || !bytes.Equal(same, body) {
		t.Errorf("Expected chat-array body untouched, got %s (%v)", same, err)
	}
	if usage == nil || usage.PromptTokens != 4 {
		t.Errorf("Expected passthrough usage extracted, got %+v", usage)
	}

	if _, _, err := p.TranscodeResponse(ir.FormatClaude, []byte("oops"), "m"); err == nil {
		t.Error("Expected error for invalid upstream body")
	}
}

func TestPipeline_ClaudeStreamProcessor(t *testing.T) {
	p := NewPipeline(&ir.SequentialIDs{})
	sp := p.NewStreamProcessor(ir.FormatClaude, "claude-4-sonnet")

	var wire strings.Builder
	for _, data := range []string{
		`{"choices":[{"delta":{"content":"Hi"}}]}`,
		`{"choices":[{"delta":{"content":" there"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`,
	} {
		for _, b := range sp.Process([]byte(data)) {
			wire.Write(b)
		}
	}
	if !sp.Done() {
		t.Error("Expected processor done after finish_reason")
	}
	if tail := sp.Finish(); tail != nil {
		t.Errorf("Expected no events after termination, got %d", len(tail))
	}

	text := wire.String()
	want := []string{
		"event: message_start\n",
		"event: content_block_start\n",
		"event: content_block_delta\n",
		"event: content_block_stop\n",
		"event: message_delta\n",
		"event: message_stop\n",
	}
	last := -1
	for _, w := range want {
		i := strings.Index(text, w)
		if i < 0 || i < last {
			t.Fatalf("Expected %q after offset %d in %q", w, last, text)
		}
		last = i
	}
	if !strings.HasSuffix(text, "\n\n") {
		t.Error("Expected SSE framing to end with a blank line")
	}
	if sp.Usage() == nil || sp.Usage().CompletionTokens != 2 {
		t.Errorf("Expected usage from final chunk, got %+v", sp.Usage())
	}
}

func TestPipeline_PassthroughStreamProcessor(t *testing.T) {
	sp := NewPipeline(nil).NewStreamProcessor(ir.FormatOpenAI, "gpt-4o")
	chunk := `{"choices":[{"delta":{"content":"x"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`

	out := sp.Process([]byte(chunk))
	if len(out) != 1 || string(out[0]) != "data: "+chunk+"\n\n" {
		t.Errorf("Expected chunk forwarded verbatim, got %q", out)
	}
	out = sp.Process([]byte("[DONE]"))
	if len(out) != 1 || string(out[0]) != "data: [DONE]\n\n" {
		t.Errorf("Expected [DONE] forwarded, got %q", out)
	}
	if !sp.Done() {
		t.Error("Expected done after [DONE]")
	}
	if sp.Process([]byte(chunk)) != nil || sp.Finish() != nil {
		t.Error("Expected nothing after [DONE]")
	}
	if sp.Usage() == nil || sp.Usage().PromptTokens != 1 {
		t.Errorf("Expected usage captured, got %+v", sp.Usage())
	}
}

func TestPipeline_PassthroughStreamFail(t *testing.T) {
	sp := NewPipeline(nil).NewStreamProcessor(ir.FormatOpenAI, "gpt-4o")
	out := sp.Fail("api_error", "reset")
	want := `data: {"error":{"message":"reset","type":"api_error"}}` + "\n\n"
	if len(out) != 1 || string(out[0]) != want {
		t.Errorf("Expected %q, got %q", want, out)
	}
	if !sp.Done() || sp.Fail("api_error", "again") != nil {
		t.Error("Expected the stream to end after a failure")
	}
}

// A message-block request with a prior tool exchange survives the trip to the
// chat-array dialect and the reply maps back to tool_use blocks.
func TestPipeline_RoundTrip(t *testing.T) {
	p := NewPipeline(&ir.SequentialIDs{})
	payload := []byte(`{"model":"claude-sonnet-4","max_tokens":128,"messages":[
		{"role":"user","content":"Weather in Paris?"},
		{"role":"assistant","content":[{"type":"tool_use","id":"toolu_a","name":"get_weather","input":{"city":"Paris"}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_a","content":"sunny"}]}
	],"tools":[{"name":"get_weather","input_schema":{"type":"object"}}]}`)

	prepared, err := p.Prepare(payload)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	msgs := gjson.GetBytes(prepared.Payload, "messages").Array()
	if len(msgs) != 3 {
		t.Fatalf("Expected user, assistant, tool messages, got %d", len(msgs))
	}
	if msgs[1].Get("tool_calls.0.id").String() != "toolu_a" || msgs[2].Get("tool_call_id").String() != "toolu_a" {
		t.Errorf("Expected tool ids linked, got %s", gjson.GetBytes(prepared.Payload, "messages").Raw)
	}

	upstream := []byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"call_z","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Lyon\"}"}}]},"finish_reason":"tool_calls"}]}`)
	out, _, err := p.TranscodeResponse(prepared.Format, upstream, "claude-sonnet-4")
	if err != nil {
		t.Fatalf("TranscodeResponse failed: %v", err)
	}
	got := gjson.ParseBytes(out)
	if got.Get("content.#").Int() != 1 || got.Get("content.0.type").String() != "tool_use" {
		t.Fatalf("Expected a single tool_use block, got %s", got.Get("content").Raw)
	}
	if got.Get("content.0.id").String() != "call_z" || got.Get("content.0.input.city").String() != "Lyon" {
		t.Errorf("Unexpected tool_use block: %s", got.Get("content.0").Raw)
	}
	if got.Get("stop_reason").String() != "tool_use" {
		t.Errorf("Expected tool_use, got %s", got.Get("stop_reason").String())
	}
}
