// Package from_ir renders ir values into wire payloads.
package from_ir

import (
	"strings"

	"github.com/nghyane/copilot-gateway/internal/json"
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/tidwall/gjson"
)

// ToOpenAIRequest renders a parsed message-block request as a chat-array
// request. Missing tool_use ids are filled from ids.
func ToOpenAIRequest(req *ir.Request, ids ir.IDGenerator) ([]byte, error) {
	root := newObject(req.Extra, 4)

	messages := make([]any, 0, len(req.Messages)+1)
	if req.HasSystem {
		messages = append(messages, object{
			{"role", string(ir.RoleSystem)},
			{"content", strings.Join(req.System, "\n")},
		})
	}
	for i := range req.Messages {
		messages = append(messages, convertMessage(&req.Messages[i], ids)...)
	}
	root.set("messages", messages)

	if req.HasTools {
		tools := make([]any, 0, len(req.Tools))
		for i := range req.Tools {
			tools = append(tools, convertTool(&req.Tools[i]))
		}
		root.set("tools", tools)
	}
	if req.ToolChoice != nil {
		root.set("tool_choice", convertToolChoice(req.ToolChoice))
	}
	if req.StopSequences != nil {
		root.set("stop", json.RawMessage(req.StopSequences))
	}
	return json.Marshal(root)
}

// convertMessage expands one message-block message into zero or more
// chat-array messages: one per tool_result, then the message itself unless
// its content was only tool results.
func convertMessage(msg *ir.Message, ids ir.IDGenerator) []any {
	if !msg.HasParts() {
		m := baseMessage(msg)
		if msg.Content != nil {
			m.set("content", json.RawMessage(msg.Content))
		}
		return []any{m}
	}

	var toolUses, toolResults, others []*ir.ContentPart
	for i := range msg.Parts {
		p := &msg.Parts[i]
		switch p.Type {
		case ir.ContentTypeToolUse:
			toolUses = append(toolUses, p)
		case ir.ContentTypeToolResult:
			toolResults = append(toolResults, p)
		default:
			others = append(others, p)
		}
	}

	out := make([]any, 0, len(toolResults)+1)
	for _, p := range toolResults {
		out = append(out, object{
			{"role", string(ir.RoleTool)},
			{"tool_call_id", p.ToolResult.ToolUseID},
			{"content", toolResultText(p.ToolResult.Content)},
		})
	}
	if len(toolResults) > 0 && len(others) == 0 && len(toolUses) == 0 {
		return out
	}

	m := baseMessage(msg)
	if len(toolUses) > 0 && msg.Role == ir.RoleAssistant {
		if len(others) > 0 {
			m.set("content", rawParts(others))
		} else {
			m.set("content", "")
		}
		calls := make([]any, 0, len(toolUses))
		for i, p := range toolUses {
			id := p.ToolUse.ID
			if id == "" {
				id = ids.NewID(ir.ToolCallIDPrefix)
			}
			calls = append(calls, object{
				{"id", id},
				{"type", "function"},
				{"index", i},
				{"function", object{
					{"name", p.ToolUse.Name},
					{"arguments", argumentsJSON(p.ToolUse.Input)},
				}},
			})
		}
		m.set("tool_calls", calls)
		return append(out, m)
	}

	if len(others) > 0 {
		m.set("content", rawParts(others))
	} else {
		m.set("content", json.RawMessage(msg.Content))
	}
	return append(out, m)
}

func baseMessage(msg *ir.Message) object {
	m := make(object, 0, len(msg.Extra)+3)
	if msg.Role != "" {
		m = append(m, member{"role", string(msg.Role)})
	}
	for _, f := range msg.Extra {
		m = append(m, member{f.Key, json.RawMessage(f.Value)})
	}
	return m
}

func rawParts(parts []*ir.ContentPart) []any {
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, json.RawMessage(p.Raw))
	}
	return out
}

// toolResultText flattens tool_result content into the string the chat-array
// tool message requires.
func toolResultText(content []byte) string {
	if content == nil {
		return ""
	}
	r := gjson.ParseBytes(content)
	switch {
	case r.Type == gjson.String:
		return r.Str
	case r.IsArray():
		lines := make([]string, 0, len(r.Array()))
		r.ForEach(func(_, el gjson.Result) bool {
			if t := el.Get("text"); el.IsObject() && t.Type == gjson.String && t.Str != "" {
				lines = append(lines, t.Str)
			} else {
				lines = append(lines, compact(el.Raw))
			}
			return true
		})
		return strings.Join(lines, "\n")
	}
	return compact(r.Raw)
}

func argumentsJSON(input []byte) string {
	if len(input) == 0 {
		return "{}"
	}
	return compact(string(input))
}

func compact(raw string) string {
	return gjson.Get(raw, "@ugly").Raw
}

func convertTool(t *ir.ToolDefinition) any {
	if t.Raw != nil {
		return json.RawMessage(t.Raw)
	}
	fn := object{{"name", t.Name}}
	if t.HasDesc {
		fn = append(fn, member{"description", t.Description})
	}
	if t.Parameters != nil {
		fn = append(fn, member{"parameters", json.RawMessage(t.Parameters)})
	}
	return object{{"type", "function"}, {"function", fn}}
}

func convertToolChoice(tc *ir.ToolChoice) any {
	switch tc.Kind {
	case ir.ToolChoiceAny:
		return "required"
	case ir.ToolChoiceTool:
		return object{
			{"type", "function"},
			{"function", object{{"name", tc.Name}}},
		}
	case ir.ToolChoiceString:
		return json.RawMessage(tc.Raw)
	}
	return "auto"
}
