package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/reagentd/reagent/internal/sandbox"
	"github.com/reagentd/reagent/internal/workspace"
)

// CodeExecutor runs model-generated Python in the conversation workspace.
// Inline mode takes the code directly; file mode runs a script the model
// previously wrote with file_writer.
type CodeExecutor struct {
	runner *sandbox.Runner
}

func NewCodeExecutor(runner *sandbox.Runner) *CodeExecutor {
	return &CodeExecutor{runner: runner}
}

func (t *CodeExecutor) Name() string { return "code_executor" }
func (t *CodeExecutor) Description() string {
	return "Execute Python code in the conversation workspace. Output files are attributed automatically; write them to the current directory."
}
func (t *CodeExecutor) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Python source to execute (inline mode)",
			},
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Workspace script to execute instead of inline code (file mode)",
			},
		},
	}
}

func (t *CodeExecutor) Execute(ctx context.Context, args map[string]interface{}) *Result {
	code, _ := args["code"].(string)
	filename, _ := args["filename"].(string)
	if code == "" && filename == "" {
		return ErrorResult(KindParameterValidation, "either code or filename is required")
	}

	dir := OutputDirFromCtx(ctx)
	if dir == "" {
		return ErrorResult(KindToolExecution, "no output directory for this conversation")
	}

	var (
		res *sandbox.RunResult
		err error
	)
	if code != "" {
		res, err = t.runner.RunInline(ctx, dir, code)
	} else {
		res, err = t.runner.RunFile(ctx, dir, filename)
	}
	if err != nil {
		return ErrorResult(KindToolExecution, err.Error())
	}

	var sb strings.Builder
	if res.Stdout != "" {
		sb.WriteString(res.Stdout)
	}
	if res.Stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("STDERR:\n")
		sb.WriteString(res.Stderr)
	}
	if len(res.Files) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Generated files: %s", strings.Join(res.Files, ", "))
	}

	if res.TimedOut {
		return ErrorResult(KindResourceExhausted,
			fmt.Sprintf("execution timed out after %.0fs\n%s", res.ElapsedSec, sb.String()))
	}
	if res.ExitCode != 0 {
		msg := sb.String()
		if msg == "" {
			msg = fmt.Sprintf("process exited with code %d", res.ExitCode)
		}
		return ErrorResult(KindToolExecution, msg)
	}
	if sb.Len() == 0 {
		sb.WriteString("(execution completed with no output)")
	}

	out := NewResult(sb.String()).WithFiles(res.Files...)
	// Freshly generated images get queued for one viewing so the model can
	// check its own plots.
	for _, f := range res.Files {
		if workspace.IsImageFile(f) {
			out.Images = append(out.Images, QueuedImage{Path: f, Detail: "auto", RemainingViews: 1})
		}
	}
	return out
}
