package ir

// StopReason is the message-block dialect's stop_reason vocabulary.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonPauseTurn    StopReason = "pause_turn"
	StopReasonRefusal      StopReason = "refusal"
)

// MapFinishReason converts an upstream finish_reason into a stop_reason.
// The table is total: values already in the message-block vocabulary are kept,
// everything else (including "stop" and the empty string) becomes end_turn.
func MapFinishReason(reason FinishReason) StopReason {
	switch reason {
	case FinishReasonLength:
		return StopReasonMaxTokens
	case FinishReasonToolCalls, FinishReasonFunctionCall:
		return StopReasonToolUse
	}
	switch sr := StopReason(reason); sr {
	case StopReasonEndTurn, StopReasonMaxTokens, StopReasonToolUse,
		StopReasonStopSequence, StopReasonPauseTurn, StopReasonRefusal:
		return sr
	}
	return StopReasonEndTurn
}
