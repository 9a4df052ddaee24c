package ir

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Identifier prefixes used by the translator.
const (
	MessageIDPrefix  = "msg_"
	ToolUseIDPrefix  = "toolu_"
	ToolCallIDPrefix = "call_"
)

// IDGenerator produces identifiers for synthesized messages and tool calls.
type IDGenerator interface {
	NewID(prefix string) string
}

// RandomIDs generates prefix + 24 random hex characters.
type RandomIDs struct{}

func (RandomIDs) NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:24]
}

// SequentialIDs generates prefix + an increasing counter starting at 1.
// Deterministic, for tests and reproducible fixtures.
type SequentialIDs struct {
	n atomic.Int64
}

func (s *SequentialIDs) NewID(prefix string) string {
	return prefix + strconv.FormatInt(s.n.Add(1), 10)
}
