package agent

import (
	"log/slog"

	"github.com/reagentd/reagent/internal/providers"
)

// RepairHistory fixes tool_use/tool_result pairing before a provider request.
//
// A crash or disconnect can leave an assistant tool-call message without its
// results, or tool results without their call. Providers reject both. Repair
// runs in two passes:
//
//  1. Mark every assistant tool-call group whose results are not ALL present
//     before the next user message. Partial groups count as broken; the
//     group is repaired all-or-none.
//  2. Rewrite marked assistants to plain text and drop every tool message
//     that does not answer a surviving call. A user message resets the
//     expected set, so stale results after a user turn are dropped too.
func RepairHistory(msgs []providers.Message) []providers.Message {
	broken := markBrokenGroups(msgs)

	expected := make(map[string]bool)
	out := make([]providers.Message, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case "assistant":
			expected = make(map[string]bool)
			if len(m.ToolCalls) == 0 {
				out = append(out, m)
				continue
			}
			if broken[i] {
				slog.Warn("repairing incomplete tool-call group", "calls", len(m.ToolCalls))
				repaired := m
				repaired.ToolCalls = nil
				repaired.OriginalParts = nil
				if repaired.Content == "" {
					repaired.Content = "(tool call in progress)"
				}
				out = append(out, repaired)
				continue
			}
			for _, tc := range m.ToolCalls {
				expected[tc.ID] = true
			}
			out = append(out, m)

		case "user":
			expected = make(map[string]bool)
			out = append(out, m)

		case "tool":
			if !expected[m.ToolCallID] {
				slog.Warn("dropping orphan tool result", "tool_call_id", m.ToolCallID)
				continue
			}
			out = append(out, m)

		default:
			out = append(out, m)
		}
	}
	return out
}

// markBrokenGroups returns the indexes of assistant messages whose tool-call
// results are incomplete before the next user or assistant message.
func markBrokenGroups(msgs []providers.Message) map[int]bool {
	broken := make(map[int]bool)
	for i, m := range msgs {
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		remaining := make(map[string]bool, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			remaining[tc.ID] = true
		}
		for j := i + 1; j < len(msgs) && msgs[j].Role == "tool"; j++ {
			delete(remaining, msgs[j].ToolCallID)
		}
		if len(remaining) > 0 {
			broken[i] = true
		}
	}
	return broken
}
