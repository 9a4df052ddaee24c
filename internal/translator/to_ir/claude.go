// Package to_ir parses wire payloads into the ir model. Parsing is lenient:
// elements that do not match the expected shape are skipped, never fatal.
package to_ir

import (
	"errors"

	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// ErrNotObject is returned when a payload is not a JSON object.
var ErrNotObject = errors.New("payload is not a JSON object")

// ParseClaudeRequest parses a message-block request. Fields the model does not
// cover are kept in Request.Extra.
func ParseClaudeRequest(payload []byte) (*ir.Request, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrNotObject
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, ErrNotObject
	}

	req := &ir.Request{}
	root.ForEach(func(key, value gjson.Result) bool {
		switch k := key.String(); k {
		case "system":
			req.System, req.HasSystem = parseSystem(value)
		case "metadata":
			// Dropped: the upstream has no equivalent.
		case "messages":
			req.Messages = parseMessages(value)
		case "tools":
			if value.IsArray() {
				req.HasTools = true
				req.Tools = parseTools(value)
			}
		case "tool_choice":
			req.ToolChoice = parseToolChoice(value)
		case "stop_sequences":
			if value.Type != gjson.Null {
				req.StopSequences = []byte(value.Raw)
			}
		default:
			if k == "model" {
				req.Model = value.String()
			}
			req.Extra = append(req.Extra, ir.Field{Key: k, Value: []byte(value.Raw)})
		}
		return true
	})
	return req, nil
}

func parseSystem(value gjson.Result) ([]string, bool) {
	switch {
	case value.IsArray():
		segments := make([]string, 0, len(value.Array()))
		value.ForEach(func(_, el gjson.Result) bool {
			if el.Type == gjson.String {
				segments = append(segments, el.String())
			} else {
				segments = append(segments, el.Get("text").String())
			}
			return true
		})
		return segments, true
	case value.Type == gjson.String:
		return []string{value.String()}, true
	case value.IsObject():
		return []string{value.Get("text").String()}, true
	}
	return nil, false
}

func parseMessages(value gjson.Result) []ir.Message {
	if !value.IsArray() {
		return nil
	}
	messages := make([]ir.Message, 0, len(value.Array()))
	value.ForEach(func(_, m gjson.Result) bool {
		if !m.IsObject() {
			log.Debugf("to_ir: skipping non-object message %s", truncate(m.Raw))
			return true
		}
		messages = append(messages, parseMessage(m))
		return true
	})
	return messages
}

func parseMessage(m gjson.Result) ir.Message {
	msg := ir.Message{}
	m.ForEach(func(key, value gjson.Result) bool {
		switch k := key.String(); k {
		case "role":
			msg.Role = ir.Role(value.String())
		case "content":
			msg.Content = []byte(value.Raw)
			if value.IsArray() {
				msg.Parts = parseParts(value)
			}
		default:
			msg.Extra = append(msg.Extra, ir.Field{Key: k, Value: []byte(value.Raw)})
		}
		return true
	})
	return msg
}

func parseParts(value gjson.Result) []ir.ContentPart {
	parts := make([]ir.ContentPart, 0, len(value.Array()))
	value.ForEach(func(_, p gjson.Result) bool {
		if !p.IsObject() {
			log.Debugf("to_ir: skipping malformed content part %s", truncate(p.Raw))
			return true
		}
		parts = append(parts, parsePart(p))
		return true
	})
	return parts
}

func parsePart(p gjson.Result) ir.ContentPart {
	cache := p.Get("cache_control")
	part := ir.ContentPart{CacheControl: Truthy(cache)}

	switch p.Get("type").String() {
	case string(ir.ContentTypeToolUse):
		part.Type = ir.ContentTypeToolUse
		tu := &ir.ToolUse{
			ID:   p.Get("id").String(),
			Name: p.Get("name").String(),
		}
		if input := p.Get("input"); input.Exists() && input.Type != gjson.Null {
			tu.Input = []byte(input.Raw)
		}
		part.ToolUse = tu
		return part
	case string(ir.ContentTypeToolResult):
		part.Type = ir.ContentTypeToolResult
		tr := &ir.ToolResult{
			ToolUseID: p.Get("tool_use_id").String(),
			IsError:   p.Get("is_error").Bool(),
		}
		if content := p.Get("content"); content.Exists() && content.Type != gjson.Null {
			tr.Content = []byte(content.Raw)
		}
		part.ToolResult = tr
		return part
	case string(ir.ContentTypeText):
		part.Type = ir.ContentTypeText
		part.Text = p.Get("text").String()
	default:
		part.Type = ir.ContentTypeOther
	}

	part.Raw = []byte(p.Raw)
	if cache.Exists() {
		if stripped, err := sjson.DeleteBytes(part.Raw, "cache_control"); err == nil {
			part.Raw = stripped
		}
	}
	return part
}

func parseTools(value gjson.Result) []ir.ToolDefinition {
	tools := make([]ir.ToolDefinition, 0, len(value.Array()))
	value.ForEach(func(_, t gjson.Result) bool {
		if !t.IsObject() {
			log.Debugf("to_ir: skipping malformed tool %s", truncate(t.Raw))
			return true
		}
		if t.Get("function").Exists() {
			tools = append(tools, ir.ToolDefinition{Raw: []byte(t.Raw)})
			return true
		}
		def := ir.ToolDefinition{Name: t.Get("name").String()}
		if desc := t.Get("description"); desc.Exists() && desc.Type != gjson.Null {
			def.Description = desc.String()
			def.HasDesc = true
		}
		if schema := t.Get("input_schema"); schema.Exists() && schema.Type != gjson.Null {
			def.Parameters = []byte(schema.Raw)
		}
		tools = append(tools, def)
		return true
	})
	return tools
}

func parseToolChoice(value gjson.Result) *ir.ToolChoice {
	switch {
	case !value.Exists() || value.Type == gjson.Null:
		return nil
	case value.Type == gjson.String:
		return &ir.ToolChoice{Kind: ir.ToolChoiceString, Raw: []byte(value.Raw)}
	case value.IsObject():
		switch value.Get("type").String() {
		case "auto":
			return &ir.ToolChoice{Kind: ir.ToolChoiceAuto}
		case "any":
			return &ir.ToolChoice{Kind: ir.ToolChoiceAny}
		case "tool":
			if name := value.Get("name").String(); name != "" {
				return &ir.ToolChoice{Kind: ir.ToolChoiceTool, Name: name}
			}
		}
	}
	return &ir.ToolChoice{Kind: ir.ToolChoiceUnknown}
}

// Truthy reports whether a JSON value would count as set: present and not
// null, false, zero or the empty string.
func Truthy(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	}
	return true
}

func truncate(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
