package agent

import (
	"testing"

	"github.com/reagentd/reagent/internal/providers"
)

func TestRepairHistoryCompleteGroupUntouched(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "run it"},
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: "tool", ToolCallID: "a", Content: "ok"},
		{Role: "tool", ToolCallID: "b", Content: "ok"},
		{Role: "assistant", Content: "done"},
	}
	out := RepairHistory(msgs)
	if len(out) != 5 {
		t.Fatalf("len = %d", len(out))
	}
	if len(out[1].ToolCalls) != 2 {
		t.Error("complete group lost its calls")
	}
}

func TestRepairHistoryPartialGroupRepairedWhole(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "run it"},
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: "tool", ToolCallID: "a", Content: "ok"},
		// result for "b" lost in a crash
		{Role: "user", Content: "still there?"},
	}
	out := RepairHistory(msgs)
	if len(out) != 3 {
		t.Fatalf("out = %+v", out)
	}
	if len(out[1].ToolCalls) != 0 {
		t.Error("broken group kept its tool calls")
	}
	if out[1].Content != "(tool call in progress)" {
		t.Errorf("placeholder = %q", out[1].Content)
	}
	if out[2].Role != "user" {
		t.Error("user message lost")
	}
}

func TestRepairHistoryRepairedAssistantKeepsText(t *testing.T) {
	msgs := []providers.Message{
		{Role: "assistant", Content: "let me check", ToolCalls: []providers.ToolCall{{ID: "x"}}},
	}
	out := RepairHistory(msgs)
	if out[0].Content != "let me check" {
		t.Errorf("content = %q", out[0].Content)
	}
	if out[0].OriginalParts != nil {
		t.Error("original parts survived repair")
	}
}

func TestRepairHistoryOrphanToolDropped(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "hi"},
		{Role: "tool", ToolCallID: "ghost", Content: "stale"},
		{Role: "assistant", Content: "hello"},
	}
	out := RepairHistory(msgs)
	if len(out) != 2 {
		t.Fatalf("out = %+v", out)
	}
	for _, m := range out {
		if m.Role == "tool" {
			t.Error("orphan tool result survived")
		}
	}
}

func TestRepairHistoryUserResetsExpectedSet(t *testing.T) {
	msgs := []providers.Message{
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "a"}}},
		{Role: "tool", ToolCallID: "a", Content: "ok"},
		{Role: "user", Content: "next"},
		{Role: "tool", ToolCallID: "a", Content: "duplicate delivery"},
	}
	out := RepairHistory(msgs)
	if len(out) != 3 {
		t.Fatalf("out = %+v", out)
	}
	if out[len(out)-1].Role == "tool" {
		t.Error("stale tool result after user turn survived")
	}
}
