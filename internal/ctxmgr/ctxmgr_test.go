package ctxmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/reagentd/reagent/internal/providers"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"latin", strings.Repeat("a", 40), 10},
		{"cjk", strings.Repeat("中", 15), 10},
		{"mixed", "中中中" + strings.Repeat("a", 8), 4}, // 3/1.5 + 8/4
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.in); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestWindowFor(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-5-20250929", 200_000},
		{"gemini-2.5-pro", 1_000_000},
		{"gpt-4o", 128_000},
		{"gpt-4-turbo", 128_000},
		{"gpt-4-32k", 32_768},
		{"gpt-4", 8_192},
		{"glm-4.6", 128_000},
		{"deepseek-chat", 128_000},
		{"some-new-model", 128_000},
	}
	for _, tt := range tests {
		if got := WindowFor(tt.model); got != tt.want {
			t.Errorf("WindowFor(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

// summaryProvider returns a fixed summary for Compress tests.
type summaryProvider struct {
	summary string
	calls   int
}

func (p *summaryProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.calls++
	return &providers.ChatResponse{Content: p.summary, FinishReason: "stop"}, nil
}

func (p *summaryProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *summaryProvider) DefaultModel() string { return "gpt-4o" }
func (p *summaryProvider) Name() string         { return "test" }

func turn(i int) []providers.Message {
	return []providers.Message{
		{Role: "user", Content: fmt.Sprintf("question %d %s", i, strings.Repeat("x", 200))},
		{Role: "assistant", Content: fmt.Sprintf("answer %d %s", i, strings.Repeat("y", 200))},
	}
}

func TestShouldCompressRequiresBothConditions(t *testing.T) {
	m := NewManager(&summaryProvider{}, "gpt-4")

	// Few messages: even with pressure the length gate blocks compression.
	short := []providers.Message{
		{Role: "user", Content: strings.Repeat("a", 40_000)},
	}
	if m.ShouldCompress(short) {
		t.Error("compressed a conversation shorter than 2x recent turns")
	}

	// Many messages but low pressure.
	var light []providers.Message
	for i := 0; i < 10; i++ {
		light = append(light, turn(i)...)
	}
	if m.ShouldCompress(light) {
		t.Error("compressed a conversation well under the window")
	}

	// Many messages and past the threshold.
	var heavy []providers.Message
	for i := 0; i < 10; i++ {
		heavy = append(heavy, providers.Message{Role: "user", Content: strings.Repeat("a", 4000)})
		heavy = append(heavy, providers.Message{Role: "assistant", Content: strings.Repeat("b", 4000)})
	}
	if !m.ShouldCompress(heavy) {
		stats := m.Stats(heavy)
		t.Errorf("did not compress at %.0f%% usage with %d messages", stats.UsagePercent, len(heavy))
	}
}

func TestCompressKeepsRecentTurnsVerbatim(t *testing.T) {
	p := &summaryProvider{summary: "## Core task\nreporting"}
	m := NewManager(p, "gpt-4")

	var msgs []providers.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, turn(i)...)
	}

	got, err := m.Compress(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	if p.calls != 1 {
		t.Errorf("summary model called %d times, want 1", p.calls)
	}

	if got[0].Role != "system" || !strings.Contains(got[0].Content, "## Core task") {
		t.Errorf("first message should be the synthetic summary: %+v", got[0])
	}
	// Last 3 user turns (6 messages) survive untouched.
	tail := got[len(got)-6:]
	orig := msgs[len(msgs)-6:]
	for i := range tail {
		if tail[i].Content != orig[i].Content {
			t.Errorf("recent message %d altered: %q", i, tail[i].Content)
		}
	}
}

func TestCompressNeverGrowsHistory(t *testing.T) {
	// A summary longer than the entire prefix must be rejected.
	p := &summaryProvider{summary: strings.Repeat("long summary ", 2000)}
	m := NewManager(p, "gpt-4")

	var msgs []providers.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, turn(i)...)
	}

	got, err := m.Compress(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(msgs) {
		t.Errorf("oversized summary accepted: %d messages, want original %d", len(got), len(msgs))
	}
}

func TestFoldToolRuns(t *testing.T) {
	searchMsg := func(i int) providers.Message {
		content := `{"status":"success","result":"found"}`
		if i == 4 {
			content = `{"status":"error","error":{"kind":"network","message":"timeout"}}`
		}
		return providers.Message{Role: "tool", Name: "web_search", ToolCallID: fmt.Sprintf("s%d", i), Content: content}
	}
	execMsg := func(i int) providers.Message {
		return providers.Message{Role: "tool", Name: "code_executor", ToolCallID: fmt.Sprintf("e%d", i), Content: fmt.Sprintf("run %d", i)}
	}

	msgs := []providers.Message{
		{Role: "user", Content: "go"},
		searchMsg(1), searchMsg(2), searchMsg(3), searchMsg(4),
		{Role: "assistant", Content: "found it"},
		execMsg(1), execMsg(2), execMsg(3),
		{Role: "assistant", Content: "done"},
		searchMsg(5), searchMsg(6), // run of 2: below fold threshold
	}

	got := foldToolRuns(msgs)

	var searches, execs int
	for _, m := range got {
		switch m.Name {
		case "web_search":
			searches++
		case "code_executor":
			execs++
		}
	}
	if searches != 3 { // 1 folded + 2 below threshold
		t.Errorf("web_search messages = %d, want 3", searches)
	}
	if execs != 1 {
		t.Errorf("code_executor messages = %d, want 1 (last kept)", execs)
	}

	// The folded run becomes one synthetic summary result counting successes
	// and failures; the kept exec must be the last of its run.
	var fold struct {
		Status     string `json:"status"`
		TotalCalls int    `json:"total_calls"`
		Successful int    `json:"successful"`
		Failed     int    `json:"failed"`
	}
	foundFold, foundLast := false, false
	for _, m := range got {
		if m.Name == "web_search" && strings.Contains(m.Content, `"total_calls"`) {
			if err := json.Unmarshal([]byte(m.Content), &fold); err != nil {
				t.Fatal(err)
			}
			foundFold = true
		}
		if m.Name == "code_executor" && m.Content == "run 3" {
			foundLast = true
		}
	}
	if !foundFold {
		t.Fatal("fold summary missing")
	}
	if fold.Status != "summary" || fold.TotalCalls != 4 || fold.Successful != 3 || fold.Failed != 1 {
		t.Errorf("fold summary = %+v", fold)
	}
	if !foundLast {
		t.Error("last code_executor result not kept")
	}
}

func TestClearLongToolResults(t *testing.T) {
	msgs := []providers.Message{
		{Role: "tool", Name: "file_reader", Content: strings.Repeat("z", 500)},
		{Role: "tool", Name: "file_list", Content: "a.txt"},
		{Role: "assistant", Content: strings.Repeat("k", 500)}, // not a tool result
	}
	got := clearLongToolResults(msgs)

	want := "[Compressed: 500 chars] " + strings.Repeat("z", 200)
	if got[0].Content != want {
		t.Errorf("long result not cleared: %q", got[0].Content)
	}
	if got[1].Content != "a.txt" {
		t.Errorf("short result altered: %q", got[1].Content)
	}
	if len(got[2].Content) != 500 {
		t.Error("assistant content must never be cleared")
	}
	if len(msgs[0].Content) != 500 {
		t.Error("input slice mutated")
	}
}

func TestClearLongToolResultsKeepsEnvelopeFacts(t *testing.T) {
	env := map[string]interface{}{
		"status":          "success",
		"result":          strings.Repeat("output ", 100),
		"generated_files": []string{"a.png", "b.png", "c.png", "d.png"},
	}
	data, _ := json.Marshal(env)

	errEnv := map[string]interface{}{
		"status": "error",
		"error": map[string]string{
			"kind":    "tool_execution",
			"message": strings.Repeat("traceback ", 100),
		},
	}
	errData, _ := json.Marshal(errEnv)

	msgs := []providers.Message{
		{Role: "tool", Name: "code_executor", Content: string(data)},
		{Role: "tool", Name: "code_executor", Content: string(errData)},
	}
	got := clearLongToolResults(msgs)

	var kept struct {
		Status         string   `json:"status"`
		Result         string   `json:"result"`
		GeneratedFiles []string `json:"generated_files"`
	}
	if err := json.Unmarshal([]byte(got[0].Content), &kept); err != nil {
		t.Fatalf("cleared envelope is not JSON: %q", got[0].Content)
	}
	if kept.Status != "success" || kept.Result != "" {
		t.Errorf("kept = %+v", kept)
	}
	if len(kept.GeneratedFiles) != 3 {
		t.Errorf("generated_files = %v, want first 3", kept.GeneratedFiles)
	}

	var keptErr struct {
		Status string `json:"status"`
		Error  struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(got[1].Content), &keptErr); err != nil {
		t.Fatalf("cleared error envelope is not JSON: %q", got[1].Content)
	}
	if keptErr.Status != "error" || keptErr.Error.Kind != "tool_execution" {
		t.Errorf("keptErr = %+v", keptErr)
	}
	if len(keptErr.Error.Message) > 200 {
		t.Errorf("error message not truncated: %d chars", len(keptErr.Error.Message))
	}
}
