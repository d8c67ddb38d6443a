package ctxmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reagentd/reagent/internal/providers"
	"github.com/reagentd/reagent/pkg/protocol"
)

const (
	// Compression triggers once the history crosses this share of the window.
	compressThreshold = 0.85

	// recentTurns user turns (with their assistant/tool followers) always
	// survive compression untouched.
	recentTurns = 3

	// Tool results longer than this are cleared in the compressed prefix.
	maxKeptToolResult = 200

	// Runs of this many adjacent same-tool messages get folded.
	minFoldRun = 3
)

// Manager watches conversation size against the model window and compresses
// the history when it grows too large: fold repetitive tool output, clear
// verbose tool results, then replace everything but the recent turns with an
// LLM-written summary.
type Manager struct {
	provider providers.Provider
	model    string
}

func NewManager(p providers.Provider, model string) *Manager {
	return &Manager{provider: p, model: model}
}

// Stats computes the current context pressure for a message list.
func (m *Manager) Stats(msgs []providers.Message) protocol.ContextStats {
	total := EstimateMessages(msgs)
	window := WindowFor(m.model)
	usage := float64(total) / float64(window)
	return protocol.ContextStats{
		TotalTokens:    total,
		MaxTokens:      window,
		UsagePercent:   usage * 100,
		ShouldCompress: usage >= compressThreshold && len(msgs) > 2*recentTurns,
	}
}

// ShouldCompress reports whether the history needs compression. Both
// conditions must hold: token pressure past the threshold, and enough
// messages that compressing actually removes something.
func (m *Manager) ShouldCompress(msgs []providers.Message) bool {
	return m.Stats(msgs).ShouldCompress
}

// Compress shrinks the history. The last recentTurns user turns are kept
// verbatim; the prefix before them is folded, cleared and summarized into a
// single synthetic system message. Token count only decreases: if the result
// would not be smaller, the original is returned unchanged.
func (m *Manager) Compress(ctx context.Context, msgs []providers.Message) ([]providers.Message, error) {
	split := recentBoundary(msgs, recentTurns)
	if split <= 0 {
		return msgs, nil
	}
	prefix := append([]providers.Message(nil), msgs[:split]...)
	recent := msgs[split:]

	prefix = foldToolRuns(prefix)
	prefix = clearLongToolResults(prefix)

	summary, err := m.summarize(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("ctxmgr: summarize: %w", err)
	}

	compressed := make([]providers.Message, 0, len(recent)+1)
	compressed = append(compressed, providers.Message{
		Role:    "system",
		Content: "[Earlier conversation compressed]\n" + summary,
	})
	compressed = append(compressed, recent...)

	before := EstimateMessages(msgs)
	after := EstimateMessages(compressed)
	if after >= before {
		slog.Warn("compression did not shrink history, keeping original",
			"before", before, "after", after)
		return msgs, nil
	}
	slog.Info("history compressed", "before_tokens", before, "after_tokens", after,
		"before_msgs", len(msgs), "after_msgs", len(compressed))
	return compressed, nil
}

// recentBoundary returns the index where the last n user turns begin. A turn
// is a user message plus everything up to the next user message.
func recentBoundary(msgs []providers.Message, n int) int {
	count := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			count++
			if count == n {
				return i
			}
		}
	}
	return 0
}

// foldToolRuns collapses runs of minFoldRun+ adjacent tool messages from the
// same tool. Search-style tools fold into one synthetic summary result; code
// execution keeps only the last result of the run, since later runs supersede
// earlier attempts.
func foldToolRuns(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	i := 0
	for i < len(msgs) {
		if msgs[i].Role != "tool" {
			out = append(out, msgs[i])
			i++
			continue
		}

		j := i
		for j < len(msgs) && msgs[j].Role == "tool" && msgs[j].Name == msgs[i].Name {
			j++
		}
		run := msgs[i:j]
		if len(run) < minFoldRun {
			out = append(out, run...)
			i = j
			continue
		}

		switch run[0].Name {
		case "web_search", "url_fetch":
			successful := 0
			for _, m := range run {
				if toolStatus(m.Content) != "error" {
					successful++
				}
			}
			folded := run[0]
			summary, _ := json.Marshal(map[string]interface{}{
				"status":      "summary",
				"total_calls": len(run),
				"successful":  successful,
				"failed":      len(run) - successful,
			})
			folded.Content = string(summary)
			out = append(out, folded)
		case "code_executor":
			out = append(out, run[len(run)-1])
		default:
			out = append(out, run...)
		}
		i = j
	}
	return out
}

// clearLongToolResults shrinks verbose tool output. Envelope JSON keeps its
// status, the first three generated files and a truncated error; anything
// else keeps its first 200 chars behind a size marker. Enough survives for
// the summary model to know what the tool did.
func clearLongToolResults(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Role != "tool" {
			continue
		}
		n := len(out[i].Content)
		if n <= maxKeptToolResult {
			continue
		}
		if summary, ok := summarizeToolJSON(out[i].Content); ok {
			out[i].Content = summary
		} else {
			out[i].Content = fmt.Sprintf("[Compressed: %d chars] %s",
				n, out[i].Content[:maxKeptToolResult])
		}
	}
	return out
}

// toolStatus extracts the status field from an envelope, "" if not JSON.
func toolStatus(content string) string {
	var env struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return ""
	}
	return env.Status
}

// summarizeToolJSON reduces an envelope to its status, first three generated
// files and a truncated error message.
func summarizeToolJSON(content string) (string, bool) {
	var env struct {
		Status         string   `json:"status"`
		GeneratedFiles []string `json:"generated_files"`
		Error          *struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &env); err != nil || env.Status == "" {
		return "", false
	}

	kept := map[string]interface{}{"status": env.Status}
	if len(env.GeneratedFiles) > 0 {
		files := env.GeneratedFiles
		if len(files) > 3 {
			files = files[:3]
		}
		kept["generated_files"] = files
	}
	if env.Error != nil {
		msg := env.Error.Message
		if len(msg) > maxKeptToolResult {
			msg = msg[:maxKeptToolResult]
		}
		kept["error"] = map[string]string{"kind": env.Error.Kind, "message": msg}
	}
	data, err := json.Marshal(kept)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (m *Manager) summarize(ctx context.Context, msgs []providers.Message) (string, error) {
	var sb strings.Builder
	for _, msg := range msgs {
		text := msg.Text()
		if text == "" && len(msg.ToolCalls) > 0 {
			var names []string
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			text = "(called " + strings.Join(names, ", ") + ")"
		}
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, text)
	}

	prompt := `Summarize the conversation below for continued work. Use exactly these sections:

## Core task
## Completed
## Pending
## Key decisions
## Important files

Be specific about file names, parameters and decisions. Omit pleasantries.

Conversation:
` + sb.String()

	resp, err := m.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Model:    m.model,
		Options:  map[string]interface{}{"max_tokens": 1024, "temperature": 0.3},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
