package translator

import (
	"github.com/nghyane/copilot-gateway/internal/translator/from_ir"
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/nghyane/copilot-gateway/internal/translator/to_ir"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Pipeline is the classify, transcode and reframe path for one gateway. It
// holds no per-request state; stream state lives in the processors it
// returns.
type Pipeline struct {
	ids ir.IDGenerator
}

// NewPipeline builds a pipeline. A nil ids uses random identifiers.
func NewPipeline(ids ir.IDGenerator) *Pipeline {
	if ids == nil {
		ids = ir.RandomIDs{}
	}
	return &Pipeline{ids: ids}
}

// Prepared is a request ready for the upstream.
type Prepared struct {
	// Payload is the chat-array request body.
	Payload []byte
	// Format is the dialect the client spoke.
	Format ir.Format
	// Signal names the detection rule that matched, empty for chat-array.
	Signal string
	Model  string
	Stream bool
}

// Prepare classifies payload and, for message-block requests, rewrites it
// into the chat-array dialect. Chat-array payloads are returned unchanged.
func (p *Pipeline) Prepare(payload []byte) (*Prepared, error) {
	format, signal := DetectFormatSignal(payload)
	prepared := &Prepared{
		Payload: payload,
		Format:  format,
		Signal:  signal,
		Model:   gjson.GetBytes(payload, "model").String(),
		Stream:  gjson.GetBytes(payload, "stream").Bool(),
	}
	if format != ir.FormatClaude {
		return prepared, nil
	}

	req, err := to_ir.ParseClaudeRequest(payload)
	if err != nil {
		return nil, err
	}
	converted, err := from_ir.ToOpenAIRequest(req, p.ids)
	if err != nil {
		return nil, err
	}
	prepared.Payload = converted
	return prepared, nil
}

// TranscodeResponse converts a non-streaming upstream body for a client of
// the given format. Chat-array bodies pass through unchanged. The returned
// usage is nil when the upstream reported none.
func (p *Pipeline) TranscodeResponse(format ir.Format, body []byte, model string) ([]byte, *ir.Usage, error) {
	if format != ir.FormatClaude {
		return body, usageOf(body), nil
	}
	resp, err := to_ir.ParseOpenAIResponse(body)
	if err != nil {
		return nil, nil, err
	}
	out, err := from_ir.ToClaudeResponse(resp, model, p.ids)
	if err != nil {
		return nil, nil, err
	}
	return out, resp.Usage, nil
}

// StreamProcessor converts upstream SSE data payloads into framed bytes for
// the client. Implementations are single-stream and not concurrency safe.
type StreamProcessor interface {
	// Process handles one upstream data payload, including the [DONE] marker.
	Process(data []byte) [][]byte
	// Finish is called when the upstream ends; it may close an open message.
	Finish() [][]byte
	// Fail reports an upstream failure after the response has started.
	Fail(errType, message string) [][]byte
	// Done reports that no further upstream input is wanted.
	Done() bool
	// Usage returns the last usage figures seen, nil if none.
	Usage() *ir.Usage
}

// NewStreamProcessor returns the processor for a client of the given format.
func (p *Pipeline) NewStreamProcessor(format ir.Format, model string) StreamProcessor {
	if format == ir.FormatClaude {
		return &claudeStreamProcessor{reframer: from_ir.NewClaudeStreamReframer(model, p.ids)}
	}
	return &passthroughStreamProcessor{}
}

type claudeStreamProcessor struct {
	reframer *from_ir.ClaudeStreamReframer
}

func (c *claudeStreamProcessor) Process(data []byte) [][]byte {
	return frame(c.reframer.Process(data))
}

func (c *claudeStreamProcessor) Finish() [][]byte {
	return frame(c.reframer.Finish())
}

func (c *claudeStreamProcessor) Fail(errType, message string) [][]byte {
	return frame(c.reframer.Fail(errType, message))
}

func (c *claudeStreamProcessor) Done() bool       { return c.reframer.Done() }
func (c *claudeStreamProcessor) Usage() *ir.Usage { return c.reframer.Usage() }

func frame(events []ir.StreamEvent) [][]byte {
	if len(events) == 0 {
		return nil
	}
	out := make([][]byte, len(events))
	for i, ev := range events {
		out[i] = ev.Bytes()
	}
	return out
}

type passthroughStreamProcessor struct {
	done  bool
	usage *ir.Usage
}

var doneChunk = ir.BuildSSEChunk([]byte("[DONE]"))

func (s *passthroughStreamProcessor) Process(data []byte) [][]byte {
	if s.done {
		return nil
	}
	if to_ir.IsDone(data) {
		s.done = true
		return [][]byte{doneChunk}
	}
	if u := usageOf(data); u != nil {
		s.usage = u
	}
	return [][]byte{ir.BuildSSEChunk(data)}
}

// Fail sends a chat-array style error chunk and ends the stream.
func (s *passthroughStreamProcessor) Fail(errType, message string) [][]byte {
	if s.done {
		return nil
	}
	s.done = true
	body, _ := sjson.SetBytes([]byte(`{"error":{}}`), "error.message", message)
	body, _ = sjson.SetBytes(body, "error.type", errType)
	return [][]byte{ir.BuildSSEChunk(body)}
}

func (s *passthroughStreamProcessor) Finish() [][]byte { return nil }
func (s *passthroughStreamProcessor) Done() bool       { return s.done }
func (s *passthroughStreamProcessor) Usage() *ir.Usage { return s.usage }

func usageOf(body []byte) *ir.Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.IsObject() {
		return nil
	}
	return &ir.Usage{
		PromptTokens:     u.Get("prompt_tokens").Int(),
		CompletionTokens: u.Get("completion_tokens").Int(),
		TotalTokens:      u.Get("total_tokens").Int(),
	}
}
