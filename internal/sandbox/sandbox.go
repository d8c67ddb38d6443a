package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/reagentd/reagent/internal/workspace"
)

const (
	defaultTimeout = 120 * time.Second
	maxOutputBytes = 32 * 1024
)

// RunResult is the outcome of one code execution.
type RunResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimedOut   bool
	Files      []string // workspace-relative files the run created or modified
	ElapsedSec float64
}

// Runner executes model-generated Python inside a conversation workspace.
// Isolation comes from the dedicated working directory, source rewriting and
// the deny rules of the calling tool, not from OS-level containment.
type Runner struct {
	python  string
	timeout time.Duration
}

func NewRunner() *Runner {
	return &Runner{python: "python3", timeout: defaultTimeout}
}

func (r *Runner) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

func (r *Runner) SetPython(path string) {
	if path != "" {
		r.python = path
	}
}

// RunInline executes a code string. The source goes through the rewrite
// pipeline, lands in a temp file inside dir, and runs with dir as cwd.
func (r *Runner) RunInline(ctx context.Context, dir, code string) (*RunResult, error) {
	prepared := PrepareSource(code)

	tmp, err := os.CreateTemp(dir, "run-*.py")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create script: %w", err)
	}
	scriptPath := tmp.Name()
	defer os.Remove(scriptPath)

	if _, err := tmp.WriteString(prepared); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sandbox: write script: %w", err)
	}
	tmp.Close()

	return r.run(ctx, dir, scriptPath)
}

// RunFile executes an existing script from the workspace by name.
func (r *Runner) RunFile(ctx context.Context, dir, filename string) (*RunResult, error) {
	scriptPath := filepath.Join(dir, filepath.Base(filename))
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("sandbox: script not found: %s", filename)
	}
	// File mode still goes through the rewrite pipeline via a shadow copy;
	// the user's original script stays untouched.
	return r.RunInline(ctx, dir, string(data))
}

func (r *Runner) run(ctx context.Context, dir, scriptPath string) (*RunResult, error) {
	snap, err := workspace.TakeSnapshot(dir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.python, scriptPath)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &RunResult{
		Stdout:     clip(stdout.String()),
		Stderr:     clip(stderr.String()),
		ElapsedSec: elapsed.Seconds(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
	} else if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return nil, fmt.Errorf("sandbox: exec python: %w", runErr)
	}

	files, err := snap.Diff(dir)
	if err != nil {
		slog.Warn("sandbox: file attribution failed", "error", err)
	} else {
		// The shadow script itself is never an artifact.
		base := filepath.Base(scriptPath)
		for _, f := range files {
			if f != base {
				result.Files = append(result.Files, f)
			}
		}
	}

	return result, nil
}

func clip(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + fmt.Sprintf("\n[Truncated: %d bytes total]", len(s))
}
