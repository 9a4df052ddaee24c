package from_ir

import (
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/nghyane/copilot-gateway/internal/translator/to_ir"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// heartbeatEvery is the number of content-bearing chunks between pings.
const heartbeatEvery = 3

// defaultToolName is used when the first delta of a tool call carries no name.
const defaultToolName = "unknown"

// ClaudeStreamReframer turns chat-array stream chunks into the message-block
// event protocol. One reframer serves exactly one stream and is not safe for
// concurrent use.
//
// States: not started, streaming, terminated. Terminated is final: every call
// after it returns nil.
type ClaudeStreamReframer struct {
	model string
	ids   ir.IDGenerator
	state *ir.ClaudeStreamState
	usage *ir.Usage
}

func NewClaudeStreamReframer(model string, ids ir.IDGenerator) *ClaudeStreamReframer {
	return &ClaudeStreamReframer{
		model: model,
		ids:   ids,
		state: ir.NewClaudeStreamState(),
	}
}

// Done reports whether the stream has terminated.
func (r *ClaudeStreamReframer) Done() bool {
	return r.state.Terminated
}

// Usage returns the last usage figures seen on the stream, nil if none.
func (r *ClaudeStreamReframer) Usage() *ir.Usage {
	return r.usage
}

// State exposes the stream state for inspection.
func (r *ClaudeStreamReframer) State() *ir.ClaudeStreamState {
	return r.state
}

// Process consumes one upstream SSE data payload and returns the events it
// produces, in order.
func (r *ClaudeStreamReframer) Process(data []byte) []ir.StreamEvent {
	if r.state.Terminated {
		return nil
	}
	if to_ir.IsDone(data) {
		return r.Finish()
	}

	chunk, ok := to_ir.ParseOpenAIChunk(data)
	if !ok {
		log.Debugf("claude stream: skipping malformed chunk: %.120s", data)
		return nil
	}
	if chunk.Usage != nil {
		r.usage = chunk.Usage
	}

	events := make([]ir.StreamEvent, 0, 4)
	if !r.state.Started {
		events = append(events, r.start(chunk.Usage))
	}

	contentBearing := false
	if chunk.Text != "" {
		if !r.state.TextBlockOpen {
			idx := 0
			if len(r.state.ToolBlocks) > 0 {
				idx = 1
			}
			r.state.TextBlockOpen = true
			r.state.TextBlockIndex = idx
			events = append(events, ir.NewTextBlockStartEvent(idx))
		}
		events = append(events, ir.NewTextDeltaEvent(r.state.TextBlockIndex, chunk.Text))
		contentBearing = true
	}

	for _, tc := range chunk.ToolCalls {
		block, seen := r.state.ToolBlocks[tc.Index]
		if !seen {
			block = &ir.ToolBlock{ID: tc.ID, Name: tc.Name}
			if block.ID == "" {
				block.ID = r.ids.NewID(ir.ToolUseIDPrefix)
			}
			if block.Name == "" {
				block.Name = defaultToolName
			}
			r.state.ToolBlocks[tc.Index] = block
			events = append(events, ir.NewToolUseBlockStartEvent(tc.Index, block.ID, block.Name))
		}
		if tc.Args != "" {
			block.Args.WriteString(tc.Args)
			events = append(events, ir.NewInputJSONDeltaEvent(tc.Index, tc.Args))
			contentBearing = true
		}
	}

	if contentBearing {
		r.state.EventCounter++
		if r.state.EventCounter%heartbeatEvery == 0 {
			events = append(events, ir.NewPingEvent())
		}
	}

	if chunk.FinishReason != "" {
		events = append(events, r.close(ir.MapFinishReason(chunk.FinishReason), chunk.Usage)...)
	}
	return events
}

// Finish closes the message when the upstream ends without a finish reason,
// either through the [DONE] marker or end of input. A stream that never
// started still yields a complete, empty message.
func (r *ClaudeStreamReframer) Finish() []ir.StreamEvent {
	if r.state.Terminated {
		return nil
	}
	events := make([]ir.StreamEvent, 0, 4)
	if !r.state.Started {
		events = append(events, r.start(nil))
	}
	return append(events, r.close(ir.StopReasonEndTurn, nil)...)
}

// Fail reports an upstream failure in-band. It does not terminate the
// stream; Finish still closes the message afterwards.
func (r *ClaudeStreamReframer) Fail(errType, message string) []ir.StreamEvent {
	if r.state.Terminated {
		return nil
	}
	return []ir.StreamEvent{ir.NewErrorEvent(errType, message)}
}

func (r *ClaudeStreamReframer) start(usage *ir.Usage) ir.StreamEvent {
	r.state.Started = true
	r.state.MessageID = r.ids.NewID(ir.MessageIDPrefix)
	var input int64
	if usage != nil {
		input = usage.PromptTokens
	}
	return ir.NewMessageStartEvent(r.state.MessageID, r.model, input)
}

func (r *ClaudeStreamReframer) close(reason ir.StopReason, usage *ir.Usage) []ir.StreamEvent {
	events := make([]ir.StreamEvent, 0, len(r.state.ToolBlocks)+3)
	for _, idx := range r.state.ToolIndices() {
		events = append(events, ir.NewContentBlockStopEvent(idx))
	}
	if r.state.TextBlockOpen {
		r.state.TextBlockOpen = false
		events = append(events, ir.NewContentBlockStopEvent(r.state.TextBlockIndex))
	}
	events = append(events, ir.NewMessageDeltaEvent(reason, usage), ir.NewMessageStopEvent())
	r.state.Terminated = true
	return events
}
