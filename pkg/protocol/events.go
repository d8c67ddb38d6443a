package protocol

import "encoding/json"

// Event type discriminators pushed from the orchestrator to transports (SSE).
const (
	EventContextStats      = "context_stats"
	EventCompressionStart  = "compression_start"
	EventCompressionDone   = "compression_done"
	EventCompressionFailed = "compression_failed"
	EventIterStart         = "iter_start"
	EventIterDone          = "iter_done"
	EventThinking          = "thinking"
	EventNote              = "note"
	EventExec              = "exec"
	EventFilesGenerated    = "files_generated"
	EventPlanUpdate        = "plan_update"
	EventRetry             = "retry"
	EventRetryExhausted    = "retry_exhausted"
	EventFinal             = "final"
)

// Exec phases (in Event.Phase).
const (
	ExecPhaseStart     = "start"
	ExecPhaseHeartbeat = "heartbeat"
	ExecPhaseDone      = "done"
	ExecPhaseError     = "error"
	ExecPhaseFiles     = "files"
)

// Final statuses (in FinalResult.Status).
const (
	FinalSuccess       = "success"
	FinalFailed        = "failed"
	FinalContentFilter = "content_filter"
)

// ContextStats describes token usage before a turn or around compression.
type ContextStats struct {
	TotalTokens    int     `json:"total_tokens"`
	MaxTokens      int     `json:"max_tokens"`
	UsagePercent   float64 `json:"usage_percent"`
	ShouldCompress bool    `json:"should_compress"`
}

// FinalResult is the payload of the terminal "final" event.
type FinalResult struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Event is one progress event emitted during a turn. Only the fields relevant
// to the Type are populated; everything else is omitted from the JSON.
type Event struct {
	Type string `json:"type"`
	Iter int    `json:"iter,omitempty"`
	TS   int64  `json:"ts,omitempty"` // unix ms

	// thinking / note
	Delta       string `json:"delta,omitempty"`
	FullContent string `json:"full_content,omitempty"`

	// exec lifecycle
	Phase       string  `json:"phase,omitempty"`
	Tool        string  `json:"tool,omitempty"`
	ArgsPreview string  `json:"args_preview,omitempty"`
	ElapsedSec  float64 `json:"elapsed_sec,omitempty"`
	Success     *bool   `json:"success,omitempty"`

	// iter_done / compression lifecycle
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// files_generated
	Files []string `json:"files,omitempty"`

	// plan_update
	Plan    json.RawMessage `json:"plan,omitempty"`
	Summary string          `json:"summary,omitempty"`

	// retry / retry_exhausted
	Attempt    int     `json:"attempt,omitempty"`
	MaxRetries int     `json:"max_retries,omitempty"`
	Delay      float64 `json:"delay,omitempty"` // seconds
	Reason     string  `json:"reason,omitempty"`

	// context_stats / compression_done
	Stats    *ContextStats `json:"stats,omitempty"`
	OldStats *ContextStats `json:"old_stats,omitempty"`
	NewStats *ContextStats `json:"new_stats,omitempty"`

	// final
	Result *FinalResult `json:"result,omitempty"`
}
