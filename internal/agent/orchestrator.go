package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reagentd/reagent/internal/ctxmgr"
	"github.com/reagentd/reagent/internal/providers"
	"github.com/reagentd/reagent/internal/store"
	"github.com/reagentd/reagent/internal/tools"
	"github.com/reagentd/reagent/internal/workspace"
	"github.com/reagentd/reagent/pkg/protocol"
)

const (
	defaultMaxIterations = 100

	// Long tool runs emit a heartbeat at this interval so clients know the
	// turn is alive.
	heartbeatInterval = 10 * time.Second

	argsPreviewRunes = 120
)

// Config tunes one orchestrator instance.
type Config struct {
	MaxIterations int
	ExtraPrompt   string // appended to the built-in system prompt
}

// RunRequest is one user turn.
type RunRequest struct {
	Username       string
	ConversationID string
	Content        string
	ClientMsgID    string
	Model          string
}

// Orchestrator drives the reasoning loop: send history to the model, execute
// the tools it calls, feed results back, repeat until a final answer or the
// iteration cap.
type Orchestrator struct {
	store     *store.Store
	registry  *providers.Registry
	tools     *tools.Registry
	workspace *workspace.Manager
	cfg       Config
	tracer    trace.Tracer
}

func New(st *store.Store, reg *providers.Registry, tr *tools.Registry, ws *workspace.Manager, cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Orchestrator{
		store:     st,
		registry:  reg,
		tools:     tr,
		workspace: ws,
		cfg:       cfg,
		tracer:    otel.Tracer("reagent/agent"),
	}
}

// retryHooked is implemented by every provider adapter; the registry hands
// out the Provider interface, so the hooks are wired through an assertion.
type retryHooked interface {
	SetRetryHooks(onRetry func(int, int, time.Duration, string), onExhausted func(int, string))
}

// RunTurn executes one user turn end to end, emitting progress events along
// the way. The final event always arrives, whatever the outcome; the returned
// error reports setup and provider failures for the caller's logs.
func (o *Orchestrator) RunTurn(ctx context.Context, req RunRequest, emit func(protocol.Event)) error {
	runID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("conversation.id", req.ConversationID),
	))
	defer span.End()

	send := func(ev protocol.Event) {
		ev.TS = time.Now().UnixMilli()
		emit(ev)
	}

	conv, err := o.prepareConversation(&req)
	if err != nil {
		return err
	}

	model := req.Model
	if model == "" {
		model = conv.Model
	}
	provider, err := o.registry.ForModel(model)
	if err != nil {
		return err
	}
	if model == "" {
		model = provider.DefaultModel()
	}
	if conv.Model != model {
		if err := o.store.SetModel(req.Username, conv.ID, model); err != nil {
			return err
		}
	}

	dirName := conv.OutputDir
	if dirName == "" {
		// Conversations written before output_dir existed derive the same
		// stable name from their creation time.
		dirName = store.OutputDirName(conv.CreatedAt, conv.ID)
	}
	dir, err := o.workspace.EnsureDir(dirName)
	if err != nil {
		return err
	}

	toolCtx := tools.WithConversationID(ctx, conv.ID)
	toolCtx = tools.WithOutputDir(toolCtx, dir)
	toolCtx = tools.WithOutputDirName(toolCtx, dirName)
	toolCtx = tools.WithUsername(toolCtx, req.Username)

	if h, ok := provider.(retryHooked); ok {
		h.SetRetryHooks(
			func(attempt, maxRetries int, delay time.Duration, reason string) {
				send(protocol.Event{
					Type: protocol.EventRetry, Attempt: attempt,
					MaxRetries: maxRetries, Delay: delay.Seconds(), Reason: reason,
				})
			},
			func(attempts int, reason string) {
				send(protocol.Event{
					Type: protocol.EventRetryExhausted, Attempt: attempts, Reason: reason,
				})
			},
		)
	}

	history := RepairHistory(conv.History())
	storeMsgs := conv.Messages
	pending := conv.PendingImages

	cm := ctxmgr.NewManager(provider, model)
	system := providers.Message{Role: "system", Content: BuildSystemPrompt(SystemPromptConfig{
		Model:         model,
		OutputDirName: dirName,
		ToolNames:     o.tools.List(),
		ExtraPrompt:   o.cfg.ExtraPrompt,
	})}

	slog.Info("turn started", "run_id", runID, "conversation", conv.ID,
		"user", req.Username, "model", model)

	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		stats := cm.Stats(history)
		send(protocol.Event{Type: protocol.EventContextStats, Iter: iter, Stats: &stats})

		if stats.ShouldCompress {
			history, storeMsgs = o.compressHistory(ctx, cm, conv, history, storeMsgs, stats, send)
		}

		send(protocol.Event{Type: protocol.EventIterStart, Iter: iter})

		imgMsg, survivors := materializePendingImages(pending)
		if len(survivors) != len(pending) || imgMsg != nil {
			if err := o.store.SetPendingImages(req.Username, conv.ID, survivors); err != nil {
				slog.Warn("persisting pending image queue failed", "error", err)
			}
			pending = survivors
		}

		reqMsgs := make([]providers.Message, 0, len(history)+2)
		reqMsgs = append(reqMsgs, system)
		reqMsgs = append(reqMsgs, history...)
		if imgMsg != nil {
			reqMsgs = append(reqMsgs, *imgMsg)
		}

		resp, err := o.callModel(ctx, provider, model, reqMsgs, iter, send)
		if err != nil {
			if providers.IsContentFilter(err) {
				// Terminal for the turn, but nothing is persisted beyond the
				// user message so the next turn starts clean.
				send(protocol.Event{Type: protocol.EventFinal, Iter: iter,
					Result: &protocol.FinalResult{
						Status: protocol.FinalContentFilter,
						Error:  "the provider's content filter blocked this request; try rephrasing or switching model",
					}})
				return err
			}
			o.appendStoreMessage(conv, &storeMsgs, store.Message{
				Role: "assistant", Content: err.Error(), Status: store.StatusFailed,
			})
			send(protocol.Event{Type: protocol.EventFinal, Iter: iter,
				Result: &protocol.FinalResult{Status: protocol.FinalFailed, Error: err.Error()}})
			return err
		}

		toolCalls := resp.ToolCalls
		if len(toolCalls) == 0 {
			if code := extractPythonFence(resp.Content); code != "" {
				if _, ok := o.tools.Get("code_executor"); ok {
					toolCalls = []providers.ToolCall{synthesizeCodeCall(code)}
					slog.Info("code fence treated as code_executor call", "iter", iter)
				}
			}
		}

		assistant := store.Message{
			Role:          "assistant",
			Content:       resp.Content,
			ToolCalls:     toolCalls,
			OriginalParts: resp.RawParts,
		}
		o.appendStoreMessage(conv, &storeMsgs, assistant)
		history = append(history, providers.Message{
			Role:          "assistant",
			Content:       resp.Content,
			ToolCalls:     toolCalls,
			OriginalParts: resp.RawParts,
		})

		if len(toolCalls) == 0 {
			send(protocol.Event{Type: protocol.EventIterDone, Iter: iter, Status: "success"})
			send(protocol.Event{Type: protocol.EventFinal, Iter: iter,
				Result: &protocol.FinalResult{Status: protocol.FinalSuccess, Result: resp.Content}})
			slog.Info("turn completed", "run_id", runID, "iterations", iter)
			return nil
		}

		// Content accompanying tool calls is commentary, not the answer.
		if resp.Content != "" {
			send(protocol.Event{Type: protocol.EventNote, Iter: iter, Delta: resp.Content})
		}

		for _, tc := range toolCalls {
			callCtx := tools.WithPendingImages(toolCtx, pendingPaths(pending))
			res := o.execTool(callCtx, iter, tc, send)

			if len(res.Plan) > 0 {
				send(protocol.Event{Type: protocol.EventPlanUpdate, Iter: iter, Plan: res.Plan})
			}

			var files []string
			if len(res.Files) > 0 {
				files = workspace.FilterExisting(dir, res.Files)
				if len(files) > 0 {
					send(protocol.Event{Type: protocol.EventFilesGenerated, Iter: iter,
						Tool: tc.Name, Files: files})
				}
			}

			if res.ImagesOp != "" || len(res.Images) > 0 {
				switch res.ImagesOp {
				case tools.ImagesOpClear:
					pending = nil
				case tools.ImagesOpRemove:
					pending = removeQueuedImages(pending, res.Images, dir)
				default:
					pending = mergeQueuedImages(pending, res.Images, dir)
					if len(res.Images) > 0 {
						send(protocol.Event{
							Type: protocol.EventExec, Phase: protocol.ExecPhaseFiles,
							Iter: iter, Tool: tc.Name, Files: imageNames(res.Images),
							Message: fmt.Sprintf("%d image(s) queued for viewing", len(res.Images)),
						})
					}
				}
				if err := o.store.SetPendingImages(req.Username, conv.ID, pending); err != nil {
					slog.Warn("persisting queued images failed", "error", err)
				}
			}

			envelope := res.Envelope()
			o.appendStoreMessage(conv, &storeMsgs, store.Message{
				Role: "tool", Content: envelope,
				ToolCallID: tc.ID, Name: tc.Name, GeneratedFiles: files,
			})
			history = append(history, providers.Message{
				Role: "tool", Content: envelope, ToolCallID: tc.ID, Name: tc.Name,
			})
		}

		send(protocol.Event{Type: protocol.EventIterDone, Iter: iter, Status: "tool_calls"})
	}

	msg := fmt.Sprintf("reached the maximum of %d iterations without a final answer", o.cfg.MaxIterations)
	o.appendStoreMessage(conv, &storeMsgs, store.Message{
		Role: "assistant", Content: msg, Status: store.StatusFailed,
	})
	send(protocol.Event{Type: protocol.EventFinal, Iter: o.cfg.MaxIterations,
		Result: &protocol.FinalResult{Status: protocol.FinalFailed, Error: msg}})
	return fmt.Errorf("agent: %s", msg)
}

// prepareConversation resolves or creates the conversation and appends the
// user message. Appends are idempotent, so client retries land on the same
// stored message.
func (o *Orchestrator) prepareConversation(req *RunRequest) (*store.Conversation, error) {
	if req.ConversationID == "" {
		conv, err := o.store.Create(req.Username, req.Model)
		if err != nil {
			return nil, err
		}
		req.ConversationID = conv.ID
	}

	if strings.TrimSpace(req.Content) != "" {
		_, err := o.store.AppendMessage(req.Username, req.ConversationID, store.Message{
			Role:        "user",
			Content:     req.Content,
			ClientMsgID: req.ClientMsgID,
		})
		if err != nil {
			return nil, err
		}
	}
	return o.store.Get(req.Username, req.ConversationID)
}

// callModel streams one provider call, forwarding deltas as thinking/note
// events.
func (o *Orchestrator) callModel(ctx context.Context, provider providers.Provider, model string,
	msgs []providers.Message, iter int, send func(protocol.Event)) (*providers.ChatResponse, error) {

	ctx, span := o.tracer.Start(ctx, "agent.llm",
		trace.WithAttributes(attribute.String("llm.model", model), attribute.Int("iter", iter)))
	defer span.End()

	var thinking strings.Builder
	return provider.ChatStream(ctx, providers.ChatRequest{
		Messages: msgs,
		Tools:    o.tools.Definitions(),
		Model:    model,
	}, func(chunk providers.StreamChunk) {
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
			send(protocol.Event{Type: protocol.EventThinking, Iter: iter,
				Delta: chunk.Thinking, FullContent: thinking.String()})
		}
	})
}

// execTool runs one tool call on a worker goroutine, emitting a heartbeat
// while it runs. The returned result is never nil.
func (o *Orchestrator) execTool(ctx context.Context, iter int, tc providers.ToolCall,
	send func(protocol.Event)) *tools.Result {

	ctx, span := o.tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(attribute.String("tool.name", tc.Name)))
	defer span.End()

	send(protocol.Event{
		Type: protocol.EventExec, Phase: protocol.ExecPhaseStart, Iter: iter,
		Tool: tc.Name, ArgsPreview: previewArgs(tc.Arguments),
	})

	start := time.Now()
	done := make(chan *tools.Result, 1)
	// A dropped client must not kill an in-flight tool; the result is awaited
	// and persisted either way. Tools carry their own timeouts.
	execCtx := context.WithoutCancel(ctx)
	go func() {
		done <- o.tools.Execute(execCtx, tc.Name, tc.ParsedArguments())
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-done:
			elapsed := time.Since(start).Seconds()
			phase := protocol.ExecPhaseDone
			if res.IsError {
				phase = protocol.ExecPhaseError
			}
			ok := !res.IsError
			send(protocol.Event{
				Type: protocol.EventExec, Phase: phase, Iter: iter,
				Tool: tc.Name, ElapsedSec: elapsed, Success: &ok,
				Message: truncateRunes(res.ForLLM, 200),
			})
			slog.Info("tool executed", "tool", tc.Name, "elapsed", elapsed, "error", res.IsError)
			return res

		case <-ticker.C:
			send(protocol.Event{
				Type: protocol.EventExec, Phase: protocol.ExecPhaseHeartbeat, Iter: iter,
				Tool: tc.Name, ElapsedSec: time.Since(start).Seconds(),
			})
		}
	}
}

// compressHistory runs context compression and persists the shrunken
// conversation. Compression failure is not fatal; the turn continues with the
// uncompressed history.
func (o *Orchestrator) compressHistory(ctx context.Context, cm *ctxmgr.Manager,
	conv *store.Conversation, history []providers.Message, storeMsgs []store.Message,
	oldStats protocol.ContextStats, send func(protocol.Event)) ([]providers.Message, []store.Message) {

	send(protocol.Event{Type: protocol.EventCompressionStart, OldStats: &oldStats})

	compressed, err := cm.Compress(ctx, history)
	if err != nil {
		slog.Warn("context compression failed", "error", err)
		send(protocol.Event{Type: protocol.EventCompressionFailed, Message: err.Error()})
		return history, storeMsgs
	}

	newStats := cm.Stats(compressed)
	if newStats.TotalTokens >= oldStats.TotalTokens {
		// Compression declined to shrink; nothing to persist.
		send(protocol.Event{Type: protocol.EventCompressionFailed,
			Message: "compression did not reduce context size"})
		return history, storeMsgs
	}

	// compressed = [summary] + untouched tail of the original history, so the
	// persisted form keeps the original store records for the tail.
	tail := len(compressed) - 1
	newStore := make([]store.Message, 0, len(compressed))
	newStore = append(newStore, store.Message{
		ID:        store.NewMessageID(),
		Role:      "system",
		Content:   compressed[0].Content,
		Status:    store.StatusCompleted,
		CreatedAt: time.Now(),
	})
	if tail > 0 && tail <= len(storeMsgs) {
		newStore = append(newStore, storeMsgs[len(storeMsgs)-tail:]...)
	}
	if err := o.store.ReplaceMessages(conv.Username, conv.ID, newStore); err != nil {
		slog.Warn("persisting compressed history failed", "error", err)
		send(protocol.Event{Type: protocol.EventCompressionFailed, Message: err.Error()})
		return history, storeMsgs
	}

	send(protocol.Event{Type: protocol.EventCompressionDone,
		OldStats: &oldStats, NewStats: &newStats})
	return compressed, newStore
}

func (o *Orchestrator) appendStoreMessage(conv *store.Conversation, storeMsgs *[]store.Message, msg store.Message) {
	stored, err := o.store.AppendMessage(conv.Username, conv.ID, msg)
	if err != nil {
		slog.Error("persisting message failed", "conversation", conv.ID,
			"role", msg.Role, "error", err)
		return
	}
	*storeMsgs = append(*storeMsgs, *stored)
}

var pythonFenceRe = regexp.MustCompile("(?s)```(?:python|py)[ \t]*\n(.*?)```")

// extractPythonFence pulls the first python code fence out of assistant text.
// Some models answer with a fence instead of a code_executor call; the fence
// is promoted to a synthetic call so the code still runs.
func extractPythonFence(content string) string {
	m := pythonFenceRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func synthesizeCodeCall(code string) providers.ToolCall {
	args, _ := json.Marshal(map[string]string{"code": code})
	return providers.ToolCall{
		ID:        "fence-" + uuid.NewString()[:8],
		Name:      "code_executor",
		Arguments: string(args),
	}
}

func previewArgs(args string) string {
	return truncateRunes(args, argsPreviewRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
