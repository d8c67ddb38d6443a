package agent

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reagentd/reagent/internal/store"
	"github.com/reagentd/reagent/internal/tools"
)

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
}

func TestMergeQueuedImages(t *testing.T) {
	dir := t.TempDir()
	pending := []store.PendingImage{
		{Path: filepath.Join(dir, "a.png"), Detail: "auto", RemainingViews: 1},
	}

	out := mergeQueuedImages(pending, []tools.QueuedImage{
		{Path: "a.png", Detail: "high", RemainingViews: 3}, // already queued, relative path
		{Path: "b.png"}, // new, defaults
	}, dir)

	if len(out) != 2 {
		t.Fatalf("out = %+v", out)
	}
	// Re-queuing a pending image leaves its entry untouched.
	if out[0].Detail != "auto" || out[0].RemainingViews != 1 {
		t.Errorf("re-queue changed the entry: %+v", out[0])
	}
	if out[1].Path != filepath.Join(dir, "b.png") {
		t.Errorf("relative path not resolved: %q", out[1].Path)
	}
	if out[1].Detail != "auto" || out[1].RemainingViews != 1 {
		t.Errorf("defaults not applied: %+v", out[1])
	}
}

func TestRemoveQueuedImages(t *testing.T) {
	dir := t.TempDir()
	pending := []store.PendingImage{
		{Path: filepath.Join(dir, "a.png"), Detail: "auto", RemainingViews: 1},
		{Path: filepath.Join(dir, "b.png"), Detail: "low", RemainingViews: 2},
	}

	out := removeQueuedImages(pending, []tools.QueuedImage{
		{Path: "a.png"}, // relative path resolves against dir
		{Path: filepath.Join(dir, "ghost.png")}, // not queued, ignored
	}, dir)

	if len(out) != 1 || out[0].Path != filepath.Join(dir, "b.png") {
		t.Errorf("out = %+v", out)
	}
}

func TestMaterializePendingImages(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "chart.png")
	writeTestPNG(t, imgPath)

	pending := []store.PendingImage{
		{Path: imgPath, Detail: "low", RemainingViews: 2},
	}
	msg, survivors := materializePendingImages(pending)
	if msg == nil {
		t.Fatal("no message built")
	}
	if msg.Role != "user" {
		t.Errorf("role = %q", msg.Role)
	}
	if len(msg.Parts) != 2 || msg.Parts[0].Type != "text" || msg.Parts[1].Type != "image_url" {
		t.Fatalf("parts = %+v", msg.Parts)
	}
	if !strings.HasPrefix(msg.Parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("url = %.40q", msg.Parts[1].ImageURL.URL)
	}
	if len(survivors) != 1 || survivors[0].RemainingViews != 1 {
		t.Errorf("survivors = %+v", survivors)
	}

	// Second view exhausts the budget.
	msg, survivors = materializePendingImages(survivors)
	if msg == nil {
		t.Fatal("second view not delivered")
	}
	if len(survivors) != 0 {
		t.Errorf("exhausted image not evicted: %+v", survivors)
	}
}

func TestMaterializePendingImagesEvictsUnreadable(t *testing.T) {
	pending := []store.PendingImage{
		{Path: "/nonexistent/ghost.png", Detail: "auto", RemainingViews: 5},
	}
	msg, survivors := materializePendingImages(pending)
	if msg != nil {
		t.Errorf("message built from unreadable image: %+v", msg)
	}
	if len(survivors) != 0 {
		t.Errorf("unreadable image not evicted: %+v", survivors)
	}
}

func TestMaterializePendingImagesEmpty(t *testing.T) {
	msg, survivors := materializePendingImages(nil)
	if msg != nil || survivors != nil {
		t.Errorf("got %+v, %+v", msg, survivors)
	}
}
