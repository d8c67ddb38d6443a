package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadBytes caps file_reader output so one giant file cannot blow the
// model context.
const maxReadBytes = 64 * 1024

// resolveWorkspacePath confines a model-supplied path to the conversation's
// output directory. Absolute paths and traversal outside the directory are
// rejected.
func resolveWorkspacePath(ctx context.Context, name string) (string, error) {
	dir := OutputDirFromCtx(ctx)
	if dir == "" {
		return "", fmt.Errorf("no output directory for this conversation")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", name)
	}
	path := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", name)
	}
	return path, nil
}

// FileReader reads a text file from the conversation workspace.
type FileReader struct{}

func (t *FileReader) Name() string { return "file_reader" }
func (t *FileReader) Description() string {
	return "Read a text file from the conversation workspace. Returns at most 64KB."
}
func (t *FileReader) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to read, relative to the workspace",
			},
		},
		"required": []string{"filename"},
	}
}

func (t *FileReader) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["filename"].(string)
	path, err := resolveWorkspacePath(ctx, name)
	if err != nil {
		return ErrorResult(KindParameterValidation, err.Error())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult(KindDataNotFound, fmt.Sprintf("file not found: %s", name))
		}
		return ErrorResult(KindToolExecution, fmt.Sprintf("read %s: %v", name, err))
	}
	if len(data) > maxReadBytes {
		return NewResult(fmt.Sprintf("%s\n\n[Truncated: file is %d bytes, showing first %d]",
			string(data[:maxReadBytes]), len(data), maxReadBytes))
	}
	return NewResult(string(data))
}

// FileList lists workspace files with sizes.
type FileList struct{}

func (t *FileList) Name() string { return "file_list" }
func (t *FileList) Description() string {
	return "List the files in the conversation workspace."
}
func (t *FileList) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *FileList) Execute(ctx context.Context, args map[string]interface{}) *Result {
	dir := OutputDirFromCtx(ctx)
	if dir == "" {
		return ErrorResult(KindToolExecution, "no output directory for this conversation")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ErrorResult(KindToolExecution, fmt.Sprintf("list workspace: %v", err))
	}

	var lines []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%d bytes)", e.Name(), info.Size()))
	}
	if len(lines) == 0 {
		return NewResult("(workspace is empty)")
	}
	sort.Strings(lines)
	return NewResult(strings.Join(lines, "\n"))
}

// FileWriter creates or overwrites a workspace file.
type FileWriter struct{}

func (t *FileWriter) Name() string { return "file_writer" }
func (t *FileWriter) Description() string {
	return "Write content to a file in the conversation workspace, creating or overwriting it."
}
func (t *FileWriter) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to write, relative to the workspace",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		"required": []string{"filename", "content"},
	}
}

func (t *FileWriter) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["filename"].(string)
	content, _ := args["content"].(string)

	// The workspace is flat: any directory prefix the model supplies is
	// stripped, the same way the sandbox rewrites paths in generated code.
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) || base == "" {
		return ErrorResult(KindParameterValidation, fmt.Sprintf("invalid filename: %q", name))
	}

	dir := OutputDirFromCtx(ctx)
	if dir == "" {
		return ErrorResult(KindToolExecution, "no output directory for this conversation")
	}
	if err := os.WriteFile(filepath.Join(dir, base), []byte(content), 0644); err != nil {
		return ErrorResult(KindToolExecution, fmt.Sprintf("write %s: %v", base, err))
	}
	msg := fmt.Sprintf("wrote %d bytes to %s", len(content), base)
	if base != name {
		msg += fmt.Sprintf(" (flattened from %s)", name)
	}
	return NewResult(msg).WithFiles(base)
}

// FileEditor edits a workspace file in one of two mutually exclusive modes:
// whole-string replacement (old_string/new_string, optionally replace_all)
// or line-range replacement (start_line/end_line/line_content). The optional
// verify_context guards line edits against a stale view of the file.
type FileEditor struct{}

func (t *FileEditor) Name() string { return "file_editor" }
func (t *FileEditor) Description() string {
	return "Edit a workspace file. Either replace an exact string (old_string/new_string, replace_all for every occurrence) or replace a line range (start_line/end_line/line_content, 1-based inclusive)."
}
func (t *FileEditor) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to edit",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace. Must occur exactly once unless replace_all is true.",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text for old_string",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence of old_string, default false",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "First line to replace, 1-based",
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "Last line to replace, inclusive",
			},
			"line_content": map[string]interface{}{
				"type":        "string",
				"description": "Replacement for the addressed line range",
			},
			"verify_context": map[string]interface{}{
				"type":        "string",
				"description": "Text that must appear inside the addressed line range, aborting the edit if absent",
			},
		},
		"required": []string{"filename"},
	}
}

func (t *FileEditor) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["filename"].(string)
	oldString, hasOld := args["old_string"].(string)
	_, hasStart := args["start_line"].(float64)

	if hasOld && hasStart {
		return ErrorResult(KindParameterValidation,
			"old_string and start_line are mutually exclusive: pick string or line-range mode")
	}
	if !hasOld && !hasStart {
		return ErrorResult(KindParameterValidation,
			"provide old_string/new_string for string mode or start_line/end_line/line_content for line mode")
	}

	path, err := resolveWorkspacePath(ctx, name)
	if err != nil {
		return ErrorResult(KindParameterValidation, err.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult(KindDataNotFound, fmt.Sprintf("file not found: %s", name))
		}
		return ErrorResult(KindToolExecution, fmt.Sprintf("read %s: %v", name, err))
	}
	content := string(data)

	var updated string
	if hasOld {
		updated, err = replaceString(content, oldString, args)
	} else {
		updated, err = replaceLines(content, args)
	}
	if err != nil {
		return ErrorResult(KindDataFormat, err.Error())
	}

	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return ErrorResult(KindToolExecution, fmt.Sprintf("write %s: %v", name, err))
	}
	return NewResult(fmt.Sprintf("edited %s (%d bytes)", name, len(updated))).WithFiles(name)
}

func replaceString(content, oldString string, args map[string]interface{}) (string, error) {
	if oldString == "" {
		return "", fmt.Errorf("old_string must not be empty")
	}
	newString, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return "", fmt.Errorf("old_string not found in file")
	case count > 1 && !replaceAll:
		return "", fmt.Errorf("old_string occurs %d times; provide a larger unique snippet or set replace_all", count)
	case replaceAll:
		return strings.ReplaceAll(content, oldString, newString), nil
	default:
		return strings.Replace(content, oldString, newString, 1), nil
	}
}

func replaceLines(content string, args map[string]interface{}) (string, error) {
	startF, _ := args["start_line"].(float64)
	endF, hasEnd := args["end_line"].(float64)
	lineContent, hasContent := args["line_content"].(string)
	verify, _ := args["verify_context"].(string)

	if !hasEnd || !hasContent {
		return "", fmt.Errorf("line mode needs start_line, end_line and line_content")
	}
	start, end := int(startF), int(endF)

	lines := strings.Split(content, "\n")
	if start < 1 || end < start || end > len(lines) {
		return "", fmt.Errorf("line range %d-%d out of bounds (file has %d lines)", start, end, len(lines))
	}

	region := strings.Join(lines[start-1:end], "\n")
	if verify != "" && !strings.Contains(region, verify) {
		return "", fmt.Errorf("verify_context not found in lines %d-%d; re-read the file before editing", start, end)
	}

	var out []string
	out = append(out, lines[:start-1]...)
	out = append(out, strings.Split(lineContent, "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}
