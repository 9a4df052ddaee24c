package ir

// Format identifies one of the two wire dialects the gateway speaks.
type Format string

const (
	// FormatClaude is the message-block dialect: system arrays, typed content
	// blocks, tool_use/tool_result parts and object-shaped tool_choice.
	FormatClaude Format = "claude"

	// FormatOpenAI is the chat-array dialect understood by the upstream.
	FormatOpenAI Format = "openai"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
	// ContentTypeOther covers images, documents and any part type the
	// translator does not interpret. Such parts are forwarded as-is.
	ContentTypeOther ContentType = "other"
)

// ContentPart is one element of a structured message content sequence.
// Exactly one of the variant fields is meaningful for a given Type.
type ContentPart struct {
	Type ContentType

	// Text is set for ContentTypeText.
	Text string

	ToolUse    *ToolUse
	ToolResult *ToolResult

	// Raw is the part as received with any cache_control annotation removed.
	// Text and Other parts are re-emitted from Raw.
	Raw []byte

	// CacheControl records that the part carried a cache_control annotation.
	CacheControl bool
}

// ToolUse is a model-issued function invocation.
type ToolUse struct {
	ID   string
	Name string
	// Input is the raw JSON arguments object, nil when absent.
	Input []byte
}

// ToolResult is the caller-supplied outcome of a prior ToolUse.
type ToolResult struct {
	ToolUseID string
	// Content is the raw JSON content (string, array or other), nil when absent.
	Content []byte
	IsError bool
}

// Message is one entry of a request's conversation.
type Message struct {
	Role Role

	// Content is the raw JSON content value exactly as received, nil when absent.
	Content []byte

	// Parts is non-nil when Content is an array.
	Parts []ContentPart

	// Extra carries message fields the translator does not model (name, etc).
	Extra Extra
}

// HasParts reports whether the message content was a structured sequence.
func (m *Message) HasParts() bool {
	return m.Parts != nil
}

// ToolDefinition is a tool declaration in either dialect.
type ToolDefinition struct {
	Name        string
	Description string
	HasDesc     bool
	// Parameters is the raw JSON schema (input_schema), nil when absent.
	Parameters []byte

	// Raw is set when the tool already used the chat-array wrapper shape; it
	// is forwarded untouched.
	Raw []byte
}

type ToolChoiceKind string

const (
	ToolChoiceAuto    ToolChoiceKind = "auto"
	ToolChoiceAny     ToolChoiceKind = "any"
	ToolChoiceTool    ToolChoiceKind = "tool"
	ToolChoiceString  ToolChoiceKind = "string"
	ToolChoiceUnknown ToolChoiceKind = "unknown"
)

// ToolChoice is the tagged tool_choice variant.
type ToolChoice struct {
	Kind ToolChoiceKind
	// Name is the forced tool for ToolChoiceTool.
	Name string
	// Raw holds the JSON string value for ToolChoiceString.
	Raw []byte
}

// Request is a parsed message-block request.
type Request struct {
	Model string

	// System holds the system prompt segments in order; HasSystem is false
	// when the field was absent or null.
	System    []string
	HasSystem bool

	Messages   []Message
	Tools      []ToolDefinition
	HasTools   bool
	ToolChoice *ToolChoice

	// StopSequences is the raw stop_sequences value, nil when absent.
	StopSequences []byte

	// Extra carries top-level fields the translator does not model
	// (model, max_tokens, stream, temperature, ...), in document order.
	Extra Extra
}

// ToolCall is a completed tool call in an upstream response.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// ToolCallDelta is one incremental tool call fragment in a stream chunk.
type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	Args  string
}

type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonFunctionCall  FinishReason = "function_call"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// Response is a parsed non-streaming chat-array response.
type Response struct {
	ID           string
	Model        string
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        *Usage
}

// StreamChunk is one parsed chat-array stream chunk.
type StreamChunk struct {
	Text         string
	ToolCalls    []ToolCallDelta
	FinishReason FinishReason
	Usage        *Usage
}
