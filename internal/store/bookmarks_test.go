package store

import (
	"path/filepath"
	"testing"
)

func newTestBookmarks(t *testing.T) *Bookmarks {
	t.Helper()
	b, err := OpenBookmarks(filepath.Join(t.TempDir(), "bookmarks.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBookmarkLifecycle(t *testing.T) {
	b := newTestBookmarks(t)

	if err := b.Add("alice", "ab12cd34", "quarterly report"); err != nil {
		t.Fatal(err)
	}

	pinned, err := b.IsBookmarked("alice", "ab12cd34")
	if err != nil || !pinned {
		t.Errorf("IsBookmarked = (%v, %v), want (true, nil)", pinned, err)
	}
	if pinned, _ := b.IsBookmarked("bob", "ab12cd34"); pinned {
		t.Error("bookmark leaked across users")
	}

	list, err := b.List("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Note != "quarterly report" {
		t.Errorf("list = %+v", list)
	}

	if err := b.Remove("alice", "ab12cd34"); err != nil {
		t.Fatal(err)
	}
	if pinned, _ := b.IsBookmarked("alice", "ab12cd34"); pinned {
		t.Error("bookmark survived removal")
	}
}

func TestFilePinLifecycle(t *testing.T) {
	b := newTestBookmarks(t)

	if err := b.Pin("alice", "ab12cd34", "report.xlsx", "final numbers"); err != nil {
		t.Fatal(err)
	}
	if err := b.Pin("alice", "ab12cd34", "chart.png", ""); err != nil {
		t.Fatal(err)
	}

	list, err := b.List("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}

	if err := b.Unpin("alice", "ab12cd34", "chart.png"); err != nil {
		t.Fatal(err)
	}
	list, _ = b.List("alice")
	if len(list) != 1 || list[0].Filename != "report.xlsx" {
		t.Errorf("after unpin: %+v", list)
	}

	// Deleting the conversation drops file pins too.
	if err := b.Remove("alice", "ab12cd34"); err != nil {
		t.Fatal(err)
	}
	if list, _ := b.List("alice"); len(list) != 0 {
		t.Errorf("pins survived conversation removal: %+v", list)
	}
}

func TestBookmarkAddIsUpsert(t *testing.T) {
	b := newTestBookmarks(t)
	b.Add("alice", "ab12cd34", "first note")
	b.Add("alice", "ab12cd34", "updated note")

	list, _ := b.List("alice")
	if len(list) != 1 {
		t.Fatalf("duplicate bookmark rows: %d", len(list))
	}
	if list[0].Note != "updated note" {
		t.Errorf("note = %q, want updated", list[0].Note)
	}
}
