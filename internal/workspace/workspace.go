package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// mtimeSlack absorbs filesystem timestamp granularity when attributing
// files to a run. Coarse filesystems round mtimes to whole seconds, so a
// file written right at run start can appear older than the run.
const mtimeSlack = 2 * time.Second

// Manager owns the per-conversation output directories where tools write
// their artifacts.
//
//	{base}/outputs/{YYYYMMDD_HHMMSS}_{conversationID}/
type Manager struct {
	base string
}

func NewManager(base string) (*Manager, error) {
	m := &Manager{base: base}
	if err := os.MkdirAll(filepath.Join(base, "outputs"), 0755); err != nil {
		return nil, fmt.Errorf("workspace: create outputs root: %w", err)
	}
	return m, nil
}

// EnsureDir creates (if needed) the output directory with the given name and
// returns its absolute path. The name is fixed at conversation creation and
// recorded in the store, so every caller lands on the same directory.
func (m *Manager) EnsureDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", fmt.Errorf("workspace: invalid output dir name %q", name)
	}
	dir := filepath.Join(m.base, "outputs", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("workspace: create output dir: %w", err)
	}
	return dir, nil
}

// Snapshot captures the current file set of a directory with modification
// times. Taken before a tool runs; compared after.
type Snapshot struct {
	taken time.Time
	files map[string]time.Time // relative path -> mtime
}

func TakeSnapshot(dir string) (*Snapshot, error) {
	snap := &Snapshot{taken: time.Now(), files: make(map[string]time.Time)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		snap.files[rel] = info.ModTime()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: snapshot %s: %w", dir, err)
	}
	return snap, nil
}

// Diff returns the files created or modified since the snapshot was taken:
// paths absent from the snapshot plus paths whose mtime is at or after the
// snapshot time minus slack. Sorted for stable attribution output.
func (s *Snapshot) Diff(dir string) ([]string, error) {
	cutoff := s.taken.Add(-mtimeSlack)
	var changed []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		prev, existed := s.files[rel]
		if !existed {
			changed = append(changed, rel)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(prev) && !info.ModTime().Before(cutoff) {
			changed = append(changed, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: diff %s: %w", dir, err)
	}

	sort.Strings(changed)
	return changed, nil
}

// FilterExisting keeps only names that are real files in dir or absolute
// URLs. Models sometimes report files they never wrote.
func FilterExisting(dir string, names []string) []string {
	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
			out = append(out, name)
			continue
		}
		base := filepath.Base(name)
		if info, err := os.Stat(filepath.Join(dir, base)); err == nil && !info.IsDir() {
			out = append(out, base)
		}
	}
	return out
}
