package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func workspaceCtx(t *testing.T) (context.Context, string) {
	t.Helper()
	dir := t.TempDir()
	return WithOutputDir(context.Background(), dir), dir
}

func TestFileWriterAndReader(t *testing.T) {
	ctx, dir := workspaceCtx(t)

	w := &FileWriter{}
	res := w.Execute(ctx, map[string]interface{}{"filename": "notes.md", "content": "# notes"})
	if res.IsError {
		t.Fatalf("write failed: %s", res.ForLLM)
	}
	if len(res.Files) != 1 || res.Files[0] != "notes.md" {
		t.Errorf("files = %v", res.Files)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.md")); err != nil {
		t.Fatal("file not written")
	}

	r := &FileReader{}
	res = r.Execute(ctx, map[string]interface{}{"filename": "notes.md"})
	if res.IsError || res.ForLLM != "# notes" {
		t.Errorf("read result: %+v", res)
	}
}

func TestFileReaderNotFound(t *testing.T) {
	ctx, _ := workspaceCtx(t)
	res := (&FileReader{}).Execute(ctx, map[string]interface{}{"filename": "ghost.txt"})
	if !res.IsError || res.ErrorKind != KindDataNotFound {
		t.Errorf("result: %+v", res)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	ctx, _ := workspaceCtx(t)
	tests := []string{
		"../outside.txt",
		"../../etc/passwd",
		"/etc/passwd",
		"sub/../../escape.txt",
	}
	for _, name := range tests {
		res := (&FileReader{}).Execute(ctx, map[string]interface{}{"filename": name})
		if !res.IsError || res.ErrorKind != KindParameterValidation {
			t.Errorf("read %q not rejected: %+v", name, res)
		}
		res = (&FileEditor{}).Execute(ctx, map[string]interface{}{
			"filename": name, "old_string": "a", "new_string": "b",
		})
		if !res.IsError || res.ErrorKind != KindParameterValidation {
			t.Errorf("edit %q not rejected: %+v", name, res)
		}
	}
}

func TestFileWriterFlattensPaths(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	w := &FileWriter{}
	tests := []struct {
		name string
		base string
	}{
		{"../outside.txt", "outside.txt"},
		{"sub/dir/report.md", "report.md"},
		{"/abs/path/data.csv", "data.csv"},
	}
	for _, tt := range tests {
		res := w.Execute(ctx, map[string]interface{}{"filename": tt.name, "content": "x"})
		if res.IsError {
			t.Fatalf("write %q failed: %s", tt.name, res.ForLLM)
		}
		if len(res.Files) != 1 || res.Files[0] != tt.base {
			t.Errorf("files for %q = %v", tt.name, res.Files)
		}
		if !strings.Contains(res.ForLLM, "flattened from") {
			t.Errorf("no flatten notice for %q: %s", tt.name, res.ForLLM)
		}
		if _, err := os.Stat(filepath.Join(dir, tt.base)); err != nil {
			t.Errorf("%q not written as %q", tt.name, tt.base)
		}
	}

	res := w.Execute(ctx, map[string]interface{}{"filename": "..", "content": "x"})
	if !res.IsError || res.ErrorKind != KindParameterValidation {
		t.Errorf("bare .. accepted: %+v", res)
	}
}

func TestFileReaderTruncatesLargeFiles(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	big := strings.Repeat("x", maxReadBytes+100)
	os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0644)

	res := (&FileReader{}).Execute(ctx, map[string]interface{}{"filename": "big.txt"})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "[Truncated:") {
		t.Error("truncation marker missing")
	}
}

func TestFileList(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bb"), 0644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644)
	os.MkdirAll(filepath.Join(dir, "subdir"), 0755)

	res := (&FileList{}).Execute(ctx, nil)
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	lines := strings.Split(res.ForLLM, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.HasPrefix(lines[0], "a.txt") || !strings.HasPrefix(lines[1], "b.txt") {
		t.Errorf("listing wrong: %v", lines)
	}
}

func TestFileEditorStringMode(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "code.py"), []byte("x = 1\ny = 2\n"), 0644)
	e := &FileEditor{}

	res := e.Execute(ctx, map[string]interface{}{
		"filename": "code.py", "old_string": "y = 2", "new_string": "y = 3",
	})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "code.py"))
	if string(data) != "x = 1\ny = 3\n" {
		t.Errorf("content = %q", data)
	}
}

func TestFileEditorStringModeUniqueness(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("same\nsame\n"), 0644)
	e := &FileEditor{}

	res := e.Execute(ctx, map[string]interface{}{
		"filename": "dup.txt", "old_string": "same", "new_string": "other",
	})
	if !res.IsError || res.ErrorKind != KindDataFormat {
		t.Errorf("ambiguous replace accepted: %+v", res)
	}

	res = e.Execute(ctx, map[string]interface{}{
		"filename": "dup.txt", "old_string": "absent", "new_string": "other",
	})
	if !res.IsError || res.ErrorKind != KindDataFormat {
		t.Errorf("missing old_string accepted: %+v", res)
	}
}

func TestFileEditorReplaceAll(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("same\nsame\n"), 0644)
	e := &FileEditor{}

	res := e.Execute(ctx, map[string]interface{}{
		"filename": "dup.txt", "old_string": "same", "new_string": "other",
		"replace_all": true,
	})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "dup.txt"))
	if string(data) != "other\nother\n" {
		t.Errorf("content = %q", data)
	}
}

func TestFileEditorLineMode(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "list.txt"), []byte("one\ntwo\nthree\nfour"), 0644)
	e := &FileEditor{}

	res := e.Execute(ctx, map[string]interface{}{
		"filename":   "list.txt",
		"start_line": float64(2), "end_line": float64(3),
		"line_content": "TWO\nTHREE",
	})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "list.txt"))
	if string(data) != "one\nTWO\nTHREE\nfour" {
		t.Errorf("content = %q", data)
	}

	res = e.Execute(ctx, map[string]interface{}{
		"filename":   "list.txt",
		"start_line": float64(3), "end_line": float64(99),
		"line_content": "x",
	})
	if !res.IsError || res.ErrorKind != KindDataFormat {
		t.Errorf("out-of-bounds range accepted: %+v", res)
	}
}

func TestFileEditorVerifyContext(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "cfg.ini"), []byte("[a]\nmode=fast\n[b]\nmode=slow\n"), 0644)
	e := &FileEditor{}

	// verify_context must match inside the addressed range, not elsewhere.
	res := e.Execute(ctx, map[string]interface{}{
		"filename":   "cfg.ini",
		"start_line": float64(2), "end_line": float64(2),
		"line_content": "mode=careful", "verify_context": "mode=slow",
	})
	if !res.IsError || res.ErrorKind != KindDataFormat {
		t.Errorf("stale verify_context accepted: %+v", res)
	}

	res = e.Execute(ctx, map[string]interface{}{
		"filename":   "cfg.ini",
		"start_line": float64(2), "end_line": float64(2),
		"line_content": "mode=careful", "verify_context": "mode=fast",
	})
	if res.IsError {
		t.Fatalf("valid verify_context rejected: %s", res.ForLLM)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "cfg.ini"))
	if string(data) != "[a]\nmode=careful\n[b]\nmode=slow\n" {
		t.Errorf("edit not applied: %q", data)
	}
}

func TestFileEditorModesMutuallyExclusive(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("a\nb\n"), 0644)
	e := &FileEditor{}

	res := e.Execute(ctx, map[string]interface{}{
		"filename": "f.txt", "old_string": "a", "new_string": "x",
		"start_line": float64(1), "end_line": float64(1), "line_content": "x",
	})
	if !res.IsError || res.ErrorKind != KindParameterValidation {
		t.Errorf("mixed modes accepted: %+v", res)
	}

	res = e.Execute(ctx, map[string]interface{}{"filename": "f.txt"})
	if !res.IsError || res.ErrorKind != KindParameterValidation {
		t.Errorf("no mode accepted: %+v", res)
	}
}
