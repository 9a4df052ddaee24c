package ir

import (
	"strings"
	"testing"
)

func TestRandomIDs_Prefix(t *testing.T) {
	var g RandomIDs
	for _, prefix := range []string{MessageIDPrefix, ToolUseIDPrefix, ToolCallIDPrefix} {
		id := g.NewID(prefix)
		if !strings.HasPrefix(id, prefix) {
			t.Errorf("Expected prefix %q, got %q", prefix, id)
		}
		if len(id) != len(prefix)+24 {
			t.Errorf("Expected %d chars, got %d (%q)", len(prefix)+24, len(id), id)
		}
	}
	if g.NewID("x_") == g.NewID("x_") {
		t.Error("Expected distinct random ids")
	}
}

func TestSequentialIDs(t *testing.T) {
	g := &SequentialIDs{}
	got := []string{g.NewID("call_"), g.NewID("msg_"), g.NewID("call_")}
	want := []string{"call_1", "msg_2", "call_3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("id %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		in   FinishReason
		want StopReason
	}{
		{FinishReasonStop, StopReasonEndTurn},
		{"", StopReasonEndTurn},
		{FinishReasonLength, StopReasonMaxTokens},
		{FinishReasonToolCalls, StopReasonToolUse},
		{FinishReasonFunctionCall, StopReasonToolUse},
		{FinishReasonContentFilter, StopReasonEndTurn},
		{"stop_sequence", StopReasonStopSequence},
		{"end_turn", StopReasonEndTurn},
		{"refusal", StopReasonRefusal},
		{"something_new", StopReasonEndTurn},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if got := MapFinishReason(tt.in); got != tt.want {
				t.Errorf("MapFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClaudeStreamState_ToolIndicesSorted(t *testing.T) {
	s := NewClaudeStreamState()
	for _, idx := range []int{5, 0, 2} {
		s.ToolBlocks[idx] = &ToolBlock{}
	}
	got := s.ToolIndices()
	want := []int{0, 2, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}
