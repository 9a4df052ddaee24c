package ir

import (
	"slices"
	"strings"
)

// ToolBlock is one streamed tool_use block keyed by its upstream index.
type ToolBlock struct {
	ID   string
	Name string
	Args strings.Builder
}

// ClaudeStreamState is the per-stream state of the message-block reframer.
// Started never reverts and ToolBlocks only grows until the stream ends.
type ClaudeStreamState struct {
	MessageID      string
	Started        bool
	TextBlockOpen  bool
	TextBlockIndex int
	ToolBlocks     map[int]*ToolBlock
	EventCounter   int
	Terminated     bool
}

func NewClaudeStreamState() *ClaudeStreamState {
	return &ClaudeStreamState{ToolBlocks: make(map[int]*ToolBlock)}
}

// ToolIndices returns the opened tool block indices in ascending order.
func (s *ClaudeStreamState) ToolIndices() []int {
	indices := make([]int, 0, len(s.ToolBlocks))
	for idx := range s.ToolBlocks {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	return indices
}
