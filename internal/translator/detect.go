// Package translator converts between the message-block and chat-array
// dialects. Pipeline is the single entry point used by the HTTP layer.
package translator

import (
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/nghyane/copilot-gateway/internal/translator/to_ir"
	"github.com/tidwall/gjson"
)

// Detection signals, in evaluation order.
const (
	SignalNone             = ""
	SignalSystemArray      = "system-array"
	SignalMetadata         = "metadata"
	SignalContentPart      = "content-part"
	SignalToolInputSchema  = "tool-input-schema"
	SignalToolChoiceObject = "tool-choice-object"
)

// DetectFormat classifies a request payload. It never fails: empty, invalid
// or non-object payloads and payloads without any message-block signal are
// chat-array.
func DetectFormat(payload []byte) ir.Format {
	f, _ := DetectFormatSignal(payload)
	return f
}

// DetectFormatSignal is DetectFormat plus the name of the first matching
// signal (SignalNone for chat-array).
func DetectFormatSignal(payload []byte) (ir.Format, string) {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return ir.FormatOpenAI, SignalNone
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return ir.FormatOpenAI, SignalNone
	}

	if root.Get("system").IsArray() {
		return ir.FormatClaude, SignalSystemArray
	}
	if md := root.Get("metadata"); md.Exists() && md.Type != gjson.Null {
		return ir.FormatClaude, SignalMetadata
	}
	if hasMessageBlockPart(root.Get("messages")) {
		return ir.FormatClaude, SignalContentPart
	}
	if hasInputSchemaTool(root.Get("tools")) {
		return ir.FormatClaude, SignalToolInputSchema
	}
	if tc := root.Get("tool_choice"); tc.IsObject() && to_ir.Truthy(tc.Get("type")) {
		return ir.FormatClaude, SignalToolChoiceObject
	}
	return ir.FormatOpenAI, SignalNone
}

func hasMessageBlockPart(messages gjson.Result) bool {
	found := false
	messages.ForEach(func(_, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(_, part gjson.Result) bool {
			if !part.IsObject() {
				return true
			}
			switch part.Get("type").String() {
			case string(ir.ContentTypeToolUse), string(ir.ContentTypeToolResult):
				found = true
			default:
				found = to_ir.Truthy(part.Get("cache_control"))
			}
			return !found
		})
		return !found
	})
	return found
}

func hasInputSchemaTool(tools gjson.Result) bool {
	found := false
	tools.ForEach(func(_, tool gjson.Result) bool {
		found = to_ir.Truthy(tool.Get("input_schema")) && !tool.Get("function").Exists()
		return !found
	})
	return found
}
