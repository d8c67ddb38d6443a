package agent

import (
	"fmt"
	"strings"
	"time"
)

// SystemPromptConfig carries everything the system prompt mentions.
type SystemPromptConfig struct {
	Model         string
	OutputDirName string
	ToolNames     []string
	ExtraPrompt   string
}

// BuildSystemPrompt assembles the per-turn system message. Kept short: the
// tool schemas carry their own usage details, the prompt only sets the
// ground rules the schemas cannot express.
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var sb strings.Builder

	sb.WriteString("You are a task-focused assistant that completes data and file work using tools.\n\n")
	fmt.Fprintf(&sb, "Current date: %s\n", time.Now().Format("2006-01-02"))
	if cfg.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", cfg.Model)
	}
	if cfg.OutputDirName != "" {
		fmt.Fprintf(&sb, "Workspace: all files you create or read live in the working directory (%s). Use bare filenames, never absolute paths.\n", cfg.OutputDirName)
	}
	if len(cfg.ToolNames) > 0 {
		fmt.Fprintf(&sb, "Available tools: %s\n", strings.Join(cfg.ToolNames, ", "))
	}

	sb.WriteString(`
Rules:
- Use code_executor for computation, data processing and chart generation. Write output files to the current directory.
- When a task needs multiple steps, publish a plan with create_plan and update it as you go.
- To look at an image you produced, queue it with manage_images_view.
- Report the files you produced in your final answer.
- Answer in the user's language.`)

	if cfg.ExtraPrompt != "" {
		sb.WriteString("\n\n")
		sb.WriteString(cfg.ExtraPrompt)
	}
	return sb.String()
}
