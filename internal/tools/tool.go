package tools

import (
	"context"
	"encoding/json"
)

// Error kinds carried in tool envelopes. The orchestrator and clients branch
// on kind, never on message text.
const (
	KindParameterValidation = "parameter_validation"
	KindToolExecution       = "tool_execution"
	KindExternalAPI         = "external_api"
	KindNetwork             = "network"
	KindRateLimit           = "rate_limit"
	KindLLMTimeout          = "llm_timeout"
	KindLLMResponseParse    = "llm_response_parse"
	KindLLMAPI              = "llm_api"
	KindDataNotFound        = "data_not_found"
	KindDataFormat          = "data_format"
	KindResourceExhausted   = "resource_exhausted"
	KindContentFilter       = "content_filter"
)

// Tool types carried in envelopes. Atomic tools do one thing; workflow tools
// coordinate multi-step state like plans.
const (
	TypeAtomic   = "atomic"
	TypeWorkflow = "workflow"
)

// Pending-image queue operations a tool can request via Result.ImagesOp.
const (
	ImagesOpAdd    = "add"
	ImagesOpRemove = "remove"
	ImagesOpClear  = "clear"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// WorkflowTool marks a tool as type "workflow" in its envelopes. Everything
// else is atomic.
type WorkflowTool interface {
	Workflow()
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM    string `json:"for_llm"`
	IsError   bool   `json:"is_error"`
	ErrorKind string `json:"error_kind,omitempty"`

	// Set by the registry on dispatch; tools never fill these themselves.
	ToolName string `json:"tool_name,omitempty"`
	ToolType string `json:"tool_type,omitempty"`

	// Files the tool attributes to this call (workspace-relative names).
	Files []string `json:"files,omitempty"`

	// Images the tool wants queued for model viewing, and the queue
	// operation to apply (add when empty).
	Images   []QueuedImage `json:"images,omitempty"`
	ImagesOp string        `json:"images_op,omitempty"`

	// Plan carries the current plan document when the tool updated it.
	Plan json.RawMessage `json:"plan,omitempty"`

	Err error `json:"-"`
}

// QueuedImage is a workspace image the tool requests be shown to the model.
type QueuedImage struct {
	Path           string `json:"path"`
	Detail         string `json:"detail,omitempty"`
	RemainingViews int    `json:"remaining_views,omitempty"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(kind, message string) *Result {
	return &Result{ForLLM: message, IsError: true, ErrorKind: kind}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

func (r *Result) WithFiles(files ...string) *Result {
	r.Files = append(r.Files, files...)
	return r
}

// Envelope renders the result as the JSON the model receives:
//
//	{"status":"success","tool_name":...,"tool_type":...,"result":...}
//	{"status":"error","tool_name":...,"tool_type":...,"error":{"kind":...,"message":...}}
func (r *Result) Envelope() string {
	env := map[string]interface{}{}
	if r.ToolName != "" {
		env["tool_name"] = r.ToolName
	}
	toolType := r.ToolType
	if toolType == "" {
		toolType = TypeAtomic
	}
	env["tool_type"] = toolType
	if len(r.Files) > 0 {
		env["generated_files"] = r.Files
	}

	if r.IsError {
		kind := r.ErrorKind
		if kind == "" {
			kind = KindToolExecution
		}
		env["status"] = "error"
		env["error"] = map[string]string{"kind": kind, "message": r.ForLLM}
	} else {
		env["status"] = "success"
		env["result"] = r.ForLLM
	}
	data, _ := json.Marshal(env)
	return string(data)
}
