package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// Commands that are never run regardless of arguments. Matching is by word
// boundary so "format" inside a filename does not trip "rm".
var shellDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\b`),
	regexp.MustCompile(`\bchmod\b`),
	regexp.MustCompile(`\bchown\b`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff|halt)\b`),
	regexp.MustCompile(`\b(ssh|scp|sftp)\b`),
	regexp.MustCompile(`\bdd\b`),
	regexp.MustCompile(`\b(apt|apt-get|yum|dnf|pacman|brew)\s+(install|remove|purge)\b`),
	regexp.MustCompile(`\bpip[23]?\s+install\b`),
	regexp.MustCompile(`\bnpm\s+(install|i)\b`),
}

// Output redirections that would land outside the workspace: any >, >> or
// 2> whose target starts with / or climbs with ../.
var shellEscapeRedirect = regexp.MustCompile(`(?:\d?>>?)\s*(?:/|\.\./|"(?:/|\.\./)|'(?:/|\.\./))`)

// ShellExecutor runs a command inside the conversation workspace.
type ShellExecutor struct {
	timeout time.Duration
}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{timeout: 60 * time.Second}
}

func (t *ShellExecutor) Name() string { return "shell_executor" }
func (t *ShellExecutor) Description() string {
	return "Execute a shell command in the conversation workspace. Destructive and privileged commands are denied."
}
func (t *ShellExecutor) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellExecutor) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)

	for _, pattern := range shellDenyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(KindParameterValidation,
				fmt.Sprintf("command denied by safety policy: matches %s", pattern.String()))
		}
	}
	if shellEscapeRedirect.MatchString(command) {
		return ErrorResult(KindParameterValidation,
			"output redirection outside the workspace is not allowed")
	}

	dir := OutputDirFromCtx(ctx)
	if dir == "" {
		return ErrorResult(KindToolExecution, "no output directory for this conversation")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(KindResourceExhausted, fmt.Sprintf("command timed out after %s", t.timeout))
		}
		if output == "" {
			output = err.Error()
		}
		return ErrorResult(KindToolExecution, output)
	}

	if output == "" {
		output = "(command completed with no output)"
	}
	return NewResult(output)
}
