package to_ir

import (
	"bytes"
	"strings"

	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/tidwall/gjson"
)

var doneMarker = []byte("[DONE]")

// IsDone reports whether an SSE data payload is the upstream end-of-stream marker.
func IsDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), doneMarker)
}

// ParseOpenAIResponse parses a non-streaming chat-array response. Multiple
// choices are merged: text is concatenated and tool calls are collected in
// order, since some upstream models split text and tool calls across choices.
func ParseOpenAIResponse(body []byte) (*ir.Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrNotObject
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrNotObject
	}

	resp := &ir.Response{
		ID:    root.Get("id").String(),
		Model: root.Get("model").String(),
		Usage: parseUsage(root.Get("usage")),
	}

	var text strings.Builder
	root.Get("choices").ForEach(func(_, choice gjson.Result) bool {
		msg := choice.Get("message")
		text.WriteString(contentText(msg.Get("content")))
		msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			if !tc.IsObject() {
				return true
			}
			resp.ToolCalls = append(resp.ToolCalls, ir.ToolCall{
				ID:   tc.Get("id").String(),
				Name: tc.Get("function.name").String(),
				Args: argumentsString(tc.Get("function.arguments")),
			})
			return true
		})
		if fc := msg.Get("function_call"); fc.IsObject() {
			resp.ToolCalls = append(resp.ToolCalls, ir.ToolCall{
				Name: fc.Get("name").String(),
				Args: argumentsString(fc.Get("arguments")),
			})
		}
		resp.FinishReason = mergeFinishReason(resp.FinishReason, choice.Get("finish_reason").String())
		return true
	})
	resp.Text = text.String()
	return resp, nil
}

// ParseOpenAIChunk parses one stream chunk payload. ok is false when the
// payload is not a JSON object or its choices are not an array.
func ParseOpenAIChunk(data []byte) (chunk *ir.StreamChunk, ok bool) {
	if !gjson.ValidBytes(data) {
		return nil, false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, false
	}

	chunk = &ir.StreamChunk{Usage: parseUsage(root.Get("usage"))}
	choices := root.Get("choices")
	switch {
	case choices.IsArray():
	case choices.Exists() && choices.Type != gjson.Null:
		return nil, false
	case root.Get("delta").Exists() || root.Get("finish_reason").Exists():
		// Bare choice object without the choices wrapper.
		readChoice(chunk, root)
		return chunk, true
	default:
		return chunk, true
	}

	choices.ForEach(func(_, choice gjson.Result) bool {
		if choice.IsObject() {
			readChoice(chunk, choice)
		}
		return true
	})
	return chunk, true
}

func readChoice(chunk *ir.StreamChunk, choice gjson.Result) {
	delta := choice.Get("delta")
	chunk.Text += contentText(delta.Get("content"))
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		if !tc.IsObject() {
			return true
		}
		chunk.ToolCalls = append(chunk.ToolCalls, ir.ToolCallDelta{
			Index: int(tc.Get("index").Int()),
			ID:    tc.Get("id").String(),
			Name:  tc.Get("function.name").String(),
			Args:  argumentsString(tc.Get("function.arguments")),
		})
		return true
	})
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.Str != "" {
		chunk.FinishReason = ir.FinishReason(fr.Str)
	}
}

// contentText flattens string or array-of-parts content into text.
func contentText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.Str
	case content.IsArray():
		var sb strings.Builder
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Type == gjson.String {
				sb.WriteString(part.Str)
			} else if t := part.Get("text"); t.Type == gjson.String {
				sb.WriteString(t.Str)
			}
			return true
		})
		return sb.String()
	}
	return ""
}

// argumentsString returns tool arguments as text; some upstreams send an
// object instead of the usual JSON-encoded string.
func argumentsString(args gjson.Result) string {
	switch {
	case !args.Exists() || args.Type == gjson.Null:
		return ""
	case args.Type == gjson.String:
		return args.Str
	}
	return args.Raw
}

func mergeFinishReason(current ir.FinishReason, next string) ir.FinishReason {
	switch {
	case next == "":
		return current
	case current == "" || ir.FinishReason(next) == ir.FinishReasonToolCalls:
		return ir.FinishReason(next)
	}
	return current
}

func parseUsage(u gjson.Result) *ir.Usage {
	if !u.IsObject() {
		return nil
	}
	usage := &ir.Usage{
		PromptTokens:     u.Get("prompt_tokens").Int(),
		CompletionTokens: u.Get("completion_tokens").Int(),
		TotalTokens:      u.Get("total_tokens").Int(),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
