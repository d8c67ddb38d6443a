package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShellDenyList(t *testing.T) {
	ctx, _ := workspaceCtx(t)
	sh := NewShellExecutor()

	denied := []string{
		"rm -rf /",
		"rm file.txt",
		"sudo apt-get update",
		"chmod 777 script.sh",
		"chown root file",
		"mkfs.ext4 /dev/sda1",
		"mount /dev/sda1 /mnt",
		"reboot",
		"ssh user@host",
		"scp file user@host:/tmp",
		"apt install curl",
		"pip install requests",
		"npm install lodash",
		"dd if=/dev/zero of=/dev/sda",
	}
	for _, cmd := range denied {
		res := sh.Execute(ctx, map[string]interface{}{"command": cmd})
		if !res.IsError || res.ErrorKind != KindParameterValidation {
			t.Errorf("command %q not denied: %+v", cmd, res)
		}
	}
}

func TestShellRedirectEscapeDenied(t *testing.T) {
	ctx, _ := workspaceCtx(t)
	sh := NewShellExecutor()

	denied := []string{
		"echo x > /etc/cron.d/evil",
		"echo x >> ../outside.txt",
		"ls 2> /var/log/leak",
		`echo x > "../quoted.txt"`,
	}
	for _, cmd := range denied {
		res := sh.Execute(ctx, map[string]interface{}{"command": cmd})
		if !res.IsError {
			t.Errorf("redirect %q not denied", cmd)
		}
	}

	// Redirects inside the workspace are fine.
	res := sh.Execute(ctx, map[string]interface{}{"command": "echo hello > local.txt"})
	if res.IsError {
		t.Errorf("workspace redirect denied: %s", res.ForLLM)
	}
}

func TestShellRunsInWorkspace(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644)
	sh := NewShellExecutor()

	res := sh.Execute(ctx, map[string]interface{}{"command": "ls"})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "marker.txt") {
		t.Errorf("output = %q", res.ForLLM)
	}
}

func TestShellCapturesStderrAndExitCode(t *testing.T) {
	ctx, _ := workspaceCtx(t)
	sh := NewShellExecutor()

	res := sh.Execute(ctx, map[string]interface{}{"command": "echo oops >&2; exit 1"})
	if !res.IsError {
		t.Fatal("nonzero exit not reported as error")
	}
	if !strings.Contains(res.ForLLM, "oops") {
		t.Errorf("stderr lost: %q", res.ForLLM)
	}
}

func TestCreatePlan(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	p := &CreatePlan{}

	res := p.Execute(ctx, map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"title": "load data", "status": "done"},
			map[string]interface{}{"title": "build chart"},
		},
	})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}

	var steps []PlanStep
	if err := json.Unmarshal(res.Plan, &steps); err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].Status != "done" || steps[1].Status != "pending" {
		t.Errorf("steps = %+v", steps)
	}
	if steps[1].ID != 2 {
		t.Errorf("auto id = %d, want 2", steps[1].ID)
	}

	if _, err := os.Stat(filepath.Join(dir, "plan.json")); err != nil {
		t.Error("plan.json not persisted")
	}
}

func TestCreatePlanValidation(t *testing.T) {
	ctx, _ := workspaceCtx(t)
	p := &CreatePlan{}

	bad := []map[string]interface{}{
		{"steps": []interface{}{}},
		{"steps": "not an array"},
		{"steps": []interface{}{map[string]interface{}{"status": "done"}}}, // no title
		{"steps": []interface{}{map[string]interface{}{"title": "x", "status": "bogus"}}},
	}
	for i, args := range bad {
		res := p.Execute(ctx, args)
		if !res.IsError || res.ErrorKind != KindParameterValidation {
			t.Errorf("case %d accepted: %+v", i, res)
		}
	}
}

func TestManageImagesView(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "chart.png"), []byte("png"), 0644)
	m := &ManageImagesView{}

	res := m.Execute(ctx, map[string]interface{}{
		"filenames": []interface{}{"chart.png", "missing.png", "notes.txt"},
		"detail":    "high",
		"views":     float64(3),
	})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	if len(res.Images) != 1 {
		t.Fatalf("images = %+v", res.Images)
	}
	img := res.Images[0]
	if img.Detail != "high" || img.RemainingViews != 3 {
		t.Errorf("image = %+v", img)
	}
	if !strings.Contains(res.ForLLM, "skipped") {
		t.Error("skipped files not reported")
	}

	if res.ImagesOp != ImagesOpAdd {
		t.Errorf("default op = %q", res.ImagesOp)
	}

	res = m.Execute(ctx, map[string]interface{}{
		"filenames": []interface{}{"missing.png"},
	})
	if !res.IsError || res.ErrorKind != KindDataNotFound {
		t.Errorf("all-missing result: %+v", res)
	}
}

func TestManageImagesViewActions(t *testing.T) {
	ctx, dir := workspaceCtx(t)
	os.WriteFile(filepath.Join(dir, "chart.png"), []byte("png"), 0644)
	m := &ManageImagesView{}

	queued := WithPendingImages(ctx, []string{
		filepath.Join(dir, "chart.png"),
		filepath.Join(dir, "map.png"),
	})

	res := m.Execute(queued, map[string]interface{}{"action": "list"})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "chart.png") || !strings.Contains(res.ForLLM, "map.png") {
		t.Errorf("list = %q", res.ForLLM)
	}

	res = m.Execute(ctx, map[string]interface{}{"action": "list"})
	if res.IsError || !strings.Contains(res.ForLLM, "no images queued") {
		t.Errorf("empty list = %+v", res)
	}

	// Removal works even when the file no longer exists on disk.
	res = m.Execute(queued, map[string]interface{}{
		"action": "remove", "filenames": []interface{}{"map.png"},
	})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	if res.ImagesOp != ImagesOpRemove || len(res.Images) != 1 {
		t.Errorf("remove result: %+v", res)
	}
	if res.Images[0].Path != filepath.Join(dir, "map.png") {
		t.Errorf("remove path = %q", res.Images[0].Path)
	}

	res = m.Execute(queued, map[string]interface{}{"action": "clear"})
	if res.IsError || res.ImagesOp != ImagesOpClear {
		t.Errorf("clear result: %+v", res)
	}

	res = m.Execute(ctx, map[string]interface{}{"action": "archive"})
	if !res.IsError || res.ErrorKind != KindParameterValidation {
		t.Errorf("unknown action accepted: %+v", res)
	}

	res = m.Execute(ctx, map[string]interface{}{"action": "remove"})
	if !res.IsError || res.ErrorKind != KindParameterValidation {
		t.Errorf("remove without filenames accepted: %+v", res)
	}
}
