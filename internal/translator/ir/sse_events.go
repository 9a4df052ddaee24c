package ir

import (
	"sync"

	"github.com/nghyane/copilot-gateway/internal/json"
)

// Message-block stream event names.
const (
	ClaudeSSEMessageStart      = "message_start"
	ClaudeSSEContentBlockStart = "content_block_start"
	ClaudeSSEContentBlockDelta = "content_block_delta"
	ClaudeSSEContentBlockStop  = "content_block_stop"
	ClaudeSSEMessageDelta      = "message_delta"
	ClaudeSSEMessageStop       = "message_stop"
	ClaudeSSEPing              = "ping"
	ClaudeSSEError             = "error"
)

// StreamEvent is one named message-block event with its JSON body.
type StreamEvent struct {
	Name string
	Data []byte
}

// Bytes frames the event for the wire.
func (e StreamEvent) Bytes() []byte {
	return BuildSSEEvent(e.Name, e.Data)
}

func newEvent(name string, v any) StreamEvent {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{"type":"` + name + `"}`)
	}
	return StreamEvent{Name: name, Data: data}
}

type claudeUsage struct {
	InputTokens  *int64 `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens"`
}

type claudeMessageStart struct {
	Type    string `json:"type"`
	Message struct {
		ID           string      `json:"id"`
		Type         string      `json:"type"`
		Role         string      `json:"role"`
		Content      []struct{}  `json:"content"`
		Model        string      `json:"model"`
		StopReason   *string     `json:"stop_reason"`
		StopSequence *string     `json:"stop_sequence"`
		Usage        claudeUsage `json:"usage"`
	} `json:"message"`
}

// NewMessageStartEvent opens a message. Output tokens start at 1 as the
// upstream has not reported any yet.
func NewMessageStartEvent(id, model string, inputTokens int64) StreamEvent {
	var ev claudeMessageStart
	ev.Type = ClaudeSSEMessageStart
	ev.Message.ID = id
	ev.Message.Type = "message"
	ev.Message.Role = string(RoleAssistant)
	ev.Message.Content = []struct{}{}
	ev.Message.Model = model
	ev.Message.Usage = claudeUsage{InputTokens: &inputTokens, OutputTokens: 1}
	return newEvent(ClaudeSSEMessageStart, &ev)
}

type claudeTextBlockStart struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content_block"`
}

func NewTextBlockStartEvent(index int) StreamEvent {
	ev := claudeTextBlockStart{Type: ClaudeSSEContentBlockStart, Index: index}
	ev.ContentBlock.Type = string(ContentTypeText)
	return newEvent(ClaudeSSEContentBlockStart, &ev)
}

type claudeToolUseBlockStart struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type  string   `json:"type"`
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Input struct{} `json:"input"`
	} `json:"content_block"`
}

// NewToolUseBlockStartEvent opens a tool_use block with an empty input;
// the arguments follow as input_json_delta events.
func NewToolUseBlockStartEvent(index int, id, name string) StreamEvent {
	ev := claudeToolUseBlockStart{Type: ClaudeSSEContentBlockStart, Index: index}
	ev.ContentBlock.Type = string(ContentTypeToolUse)
	ev.ContentBlock.ID = id
	ev.ContentBlock.Name = name
	return newEvent(ClaudeSSEContentBlockStart, &ev)
}

type claudeTextDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

var claudeTextDeltaPool = sync.Pool{
	New: func() any {
		d := &claudeTextDelta{Type: ClaudeSSEContentBlockDelta}
		d.Delta.Type = "text_delta"
		return d
	},
}

// NewTextDeltaEvent is the per-token hot path; the body struct is pooled.
func NewTextDeltaEvent(index int, text string) StreamEvent {
	d := claudeTextDeltaPool.Get().(*claudeTextDelta)
	defer func() {
		d.Index, d.Delta.Text = 0, ""
		claudeTextDeltaPool.Put(d)
	}()
	d.Index = index
	d.Delta.Text = text
	return newEvent(ClaudeSSEContentBlockDelta, d)
}

type claudeInputJSONDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

var claudeInputJSONDeltaPool = sync.Pool{
	New: func() any {
		d := &claudeInputJSONDelta{Type: ClaudeSSEContentBlockDelta}
		d.Delta.Type = "input_json_delta"
		return d
	},
}

func NewInputJSONDeltaEvent(index int, partialJSON string) StreamEvent {
	d := claudeInputJSONDeltaPool.Get().(*claudeInputJSONDelta)
	defer func() {
		d.Index, d.Delta.PartialJSON = 0, ""
		claudeInputJSONDeltaPool.Put(d)
	}()
	d.Index = index
	d.Delta.PartialJSON = partialJSON
	return newEvent(ClaudeSSEContentBlockDelta, d)
}

type claudeBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

func NewContentBlockStopEvent(index int) StreamEvent {
	return newEvent(ClaudeSSEContentBlockStop, &claudeBlockStop{Type: ClaudeSSEContentBlockStop, Index: index})
}

type claudeMessageDelta struct {
	Type  string `json:"type"`
	Delta struct {
		StopReason   StopReason `json:"stop_reason"`
		StopSequence *string    `json:"stop_sequence"`
	} `json:"delta"`
	Usage claudeUsage `json:"usage"`
}

// NewMessageDeltaEvent carries the stop reason and the chunk's usage. Without
// usage only output_tokens is sent, as 0.
func NewMessageDeltaEvent(reason StopReason, usage *Usage) StreamEvent {
	ev := claudeMessageDelta{Type: ClaudeSSEMessageDelta}
	ev.Delta.StopReason = reason
	if usage != nil {
		input := usage.PromptTokens
		ev.Usage = claudeUsage{InputTokens: &input, OutputTokens: usage.CompletionTokens}
	}
	return newEvent(ClaudeSSEMessageDelta, &ev)
}

var (
	messageStopData = []byte(`{"type":"message_stop"}`)
	pingData        = []byte(`{"type":"ping"}`)
)

func NewMessageStopEvent() StreamEvent {
	return StreamEvent{Name: ClaudeSSEMessageStop, Data: messageStopData}
}

func NewPingEvent() StreamEvent {
	return StreamEvent{Name: ClaudeSSEPing, Data: pingData}
}

type claudeError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewErrorEvent reports a failure after the stream has started, when the
// HTTP status can no longer change.
func NewErrorEvent(errType, message string) StreamEvent {
	ev := claudeError{Type: ClaudeSSEError}
	ev.Error.Type = errType
	ev.Error.Message = message
	return newEvent(ClaudeSSEError, &ev)
}
