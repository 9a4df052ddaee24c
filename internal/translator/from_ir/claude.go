package from_ir

import (
	"strings"

	"github.com/nghyane/copilot-gateway/internal/json"
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/tailscale/hujson"
	"github.com/tidwall/gjson"
)

// ToClaudeResponse renders a parsed chat-array response as a message-block
// response for model.
func ToClaudeResponse(resp *ir.Response, model string, ids ir.IDGenerator) ([]byte, error) {
	content := make([]any, 0, len(resp.ToolCalls)+1)
	if resp.Text != "" {
		content = append(content, map[string]any{"type": string(ir.ContentTypeText), "text": resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		id := tc.ID
		if id == "" {
			id = ids.NewID(ir.ToolUseIDPrefix)
		}
		content = append(content, map[string]any{
			"type":  string(ir.ContentTypeToolUse),
			"id":    id,
			"name":  tc.Name,
			"input": ParseToolArgs(tc.Args),
		})
	}

	usage := map[string]any{"input_tokens": int64(0), "output_tokens": int64(0)}
	if resp.Usage != nil {
		usage["input_tokens"] = resp.Usage.PromptTokens
		usage["output_tokens"] = resp.Usage.CompletionTokens
	}

	return json.Marshal(map[string]any{
		"id":            ids.NewID(ir.MessageIDPrefix),
		"type":          "message",
		"role":          string(ir.RoleAssistant),
		"content":       content,
		"model":         model,
		"stop_reason":   string(ir.MapFinishReason(resp.FinishReason)),
		"stop_sequence": nil,
		"usage":         usage,
	})
}

var emptyObject = json.RawMessage("{}")

// ParseToolArgs turns a tool call's argument string into a JSON object.
// Lenient JSON (comments, trailing commas) is accepted; anything that is not
// an object yields {}.
func ParseToolArgs(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" {
		return emptyObject
	}
	if gjson.Valid(args) {
		if gjson.Parse(args).IsObject() {
			return json.RawMessage(args)
		}
		return emptyObject
	}
	std, err := hujson.Standardize([]byte(args))
	if err != nil || !gjson.ValidBytes(std) || !gjson.ParseBytes(std).IsObject() {
		return emptyObject
	}
	return json.RawMessage(std)
}
