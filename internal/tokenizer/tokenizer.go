// Package tokenizer estimates prompt sizes for chat-array payloads with
// tiktoken encodings. Counts are estimates: the upstream may tokenize
// non-OpenAI models differently.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	tiktoken "github.com/tiktoken-go/tokenizer"
)

const (
	tokensPerMessage = 3
	tokensPerName    = 1
	replyPriming     = 3
	tokensPerImage   = 85
	tokensPerTool    = 8
)

// Counter wraps a cache of tiktoken codecs keyed by encoding.
type Counter struct {
	mu     sync.Mutex
	codecs map[tiktoken.Encoding]tiktoken.Codec
}

func New() *Counter {
	return &Counter{codecs: make(map[tiktoken.Encoding]tiktoken.Codec)}
}

// EncodingFor picks cl100k_base for the gpt-3.5 and gpt-4 families and
// o200k_base for everything newer.
func EncodingFor(model string) tiktoken.Encoding {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"):
		return tiktoken.O200kBase
	case strings.HasPrefix(m, "gpt-3.5"), strings.HasPrefix(m, "gpt-35"), m == "gpt-4", strings.HasPrefix(m, "gpt-4-"):
		if strings.Contains(m, "claude") {
			return tiktoken.O200kBase
		}
		return tiktoken.Cl100kBase
	case strings.HasPrefix(m, "text-embedding"):
		return tiktoken.Cl100kBase
	}
	return tiktoken.O200kBase
}

func (c *Counter) codec(enc tiktoken.Encoding) (tiktoken.Codec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if codec, ok := c.codecs[enc]; ok {
		return codec, nil
	}
	codec, err := tiktoken.Get(enc)
	if err != nil {
		return nil, err
	}
	c.codecs[enc] = codec
	return codec, nil
}

// CountText returns the token count of s, falling back to a four bytes per
// token estimate when the codec cannot load.
func (c *Counter) CountText(model, s string) int {
	if s == "" {
		return 0
	}
	codec, err := c.codec(EncodingFor(model))
	if err != nil {
		return (len(s) + 3) / 4
	}
	ids, _, err := codec.Encode(s)
	if err != nil {
		return (len(s) + 3) / 4
	}
	return len(ids)
}

// CountPayload estimates the prompt tokens of a chat-array request: message
// overhead, text and image parts, prior tool calls and tool declarations.
func (c *Counter) CountPayload(payload []byte) int {
	root := gjson.ParseBytes(payload)
	model := root.Get("model").String()

	total := 0
	messages := root.Get("messages").Array()
	for _, msg := range messages {
		total += tokensPerMessage
		total += c.CountText(model, msg.Get("role").String())
		if name := msg.Get("name"); name.Exists() {
			total += tokensPerName + c.CountText(model, name.String())
		}
		total += c.countContent(model, msg.Get("content"))
		for _, call := range msg.Get("tool_calls").Array() {
			total += c.CountText(model, call.Get("function.name").String())
			total += c.CountText(model, call.Get("function.arguments").String())
		}
	}
	if len(messages) > 0 {
		total += replyPriming
	}

	for _, tool := range root.Get("tools").Array() {
		total += tokensPerTool
		total += c.CountText(model, tool.Get("function.name").String())
		total += c.CountText(model, tool.Get("function.description").String())
		if params := tool.Get("function.parameters"); params.Exists() {
			total += c.CountText(model, params.Raw)
		}
	}
	return total
}

func (c *Counter) countContent(model string, content gjson.Result) int {
	switch {
	case content.Type == gjson.String:
		return c.CountText(model, content.String())
	case content.IsArray():
		n := 0
		for _, part := range content.Array() {
			switch part.Get("type").String() {
			case "text":
				n += c.CountText(model, part.Get("text").String())
			case "image_url", "image":
				n += tokensPerImage
			default:
				n += c.CountText(model, part.Raw)
			}
		}
		return n
	}
	return 0
}
