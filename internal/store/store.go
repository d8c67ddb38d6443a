package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrForbidden = errors.New("conversation belongs to another user")
)

// AnonymousUser owns conversations created without a username. Anyone may
// read them.
const AnonymousUser = "anonymous"

// IndexEntry is the listing-level view of one conversation. List never opens
// conversation files; everything a list needs lives in the index.
type IndexEntry struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Title        string    `json:"title,omitempty"`
	Model        string    `json:"model,omitempty"`
	Path         string    `json:"path"` // relative to the conversations root
	OutputDir    string    `json:"output_dir,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DirEnsurer creates workspace output directories. Satisfied by
// workspace.Manager; wired in so Create can materialize the directory
// eagerly.
type DirEnsurer interface {
	EnsureDir(name string) (string, error)
}

// Store persists conversations as sharded JSON files:
//
//	{root}/conversations/{username}/{YYYY-MM}/{timestamp}_{id}.json
//	{root}/conversations/index.json
//
// All writes are atomic (temp file then rename). Mutations serialize per
// conversation; the index has its own lock.
type Store struct {
	root      string
	workspace DirEnsurer // optional, nil in stores that never create

	indexMu sync.Mutex
	index   map[string]IndexEntry // conversation id -> entry

	convMu sync.Mutex
	locks  map[string]*sync.Mutex // conversation id -> file lock
}

func New(root string) (*Store, error) {
	s := &Store{
		root:  filepath.Join(root, "conversations"),
		index: make(map[string]IndexEntry),
		locks: make(map[string]*sync.Mutex),
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}
	if err := s.loadIndex(); err != nil {
		slog.Warn("store: index unreadable, rebuilding", "error", err)
		if err := s.RebuildIndex(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// SetWorkspace wires the workspace manager so Create materializes each
// conversation's output directory up front.
func (s *Store) SetWorkspace(w DirEnsurer) {
	s.workspace = w
}

// Create starts a new conversation for username. An empty username means
// anonymous. The output directory name is fixed here and never changes.
func (s *Store) Create(username, model string) (*Conversation, error) {
	if username == "" {
		username = AnonymousUser
	}
	now := time.Now()
	conv := &Conversation{
		ID:        NewConversationID(),
		Username:  username,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	conv.OutputDir = OutputDirName(now, conv.ID)

	if s.workspace != nil {
		if _, err := s.workspace.EnsureDir(conv.OutputDir); err != nil {
			return nil, err
		}
	}

	rel := filepath.Join(username, now.Format("2006-01"),
		fmt.Sprintf("%s_%s.json", now.Format("20060102_150405"), conv.ID))

	mu := s.lockFor(conv.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.writeConversation(rel, conv); err != nil {
		return nil, err
	}
	return conv, s.updateIndex(conv, rel)
}

// Get loads a conversation, enforcing ownership.
func (s *Store) Get(username, id string) (*Conversation, error) {
	entry, err := s.lookup(username, id)
	if err != nil {
		return nil, err
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return s.readConversation(entry.Path)
}

// List returns the caller's conversations newest-first, from the index only.
func (s *Store) List(username string) []IndexEntry {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	var out []IndexEntry
	for _, e := range s.index {
		if e.Username == username {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete removes a conversation file and its index entry. Workspace output
// directories are retained; artifacts outlive the chat that made them.
func (s *Store) Delete(username, id string) error {
	entry, err := s.lookup(username, id)
	if err != nil {
		return err
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(filepath.Join(s.root, entry.Path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete conversation: %w", err)
	}

	s.indexMu.Lock()
	delete(s.index, id)
	err = s.saveIndexLocked()
	s.indexMu.Unlock()
	return err
}

// AppendMessage adds a message to a conversation and returns the stored copy.
//
// Appends are idempotent: a message whose ClientMsgID already exists merges
// its generated files into the stored copy and returns it without a second
// append. A message matching the tail's role and normalized content is
// treated as a retry and merged the same way.
func (s *Store) AppendMessage(username, id string, msg Message) (*Message, error) {
	entry, err := s.lookup(username, id)
	if err != nil {
		return nil, err
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.readConversation(entry.Path)
	if err != nil {
		return nil, err
	}

	if msg.ClientMsgID != "" {
		for i := range conv.Messages {
			if conv.Messages[i].Role == msg.Role && conv.Messages[i].ClientMsgID == msg.ClientMsgID {
				existing := &conv.Messages[i]
				if merged := unionFiles(existing.GeneratedFiles, msg.GeneratedFiles); len(merged) != len(existing.GeneratedFiles) {
					existing.GeneratedFiles = merged
					if err := s.flush(conv, entry.Path); err != nil {
						return nil, err
					}
				}
				return existing, nil
			}
		}
	}
	if n := len(conv.Messages); n > 0 {
		last := &conv.Messages[n-1]
		if last.Role == msg.Role && len(last.ToolCalls) == 0 && len(msg.ToolCalls) == 0 &&
			NormalizeContent(msg.Content) != "" &&
			NormalizeContent(last.Content) == NormalizeContent(msg.Content) {
			changed := false
			if merged := unionFiles(last.GeneratedFiles, msg.GeneratedFiles); len(merged) != len(last.GeneratedFiles) {
				last.GeneratedFiles = merged
				changed = true
			}
			if msg.ClientMsgID != "" && last.ClientMsgID == "" {
				last.ClientMsgID = msg.ClientMsgID
				changed = true
			}
			if changed {
				if err := s.flush(conv, entry.Path); err != nil {
					return nil, err
				}
			}
			return last, nil
		}
	}

	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = StatusCompleted
	}
	conv.Messages = append(conv.Messages, msg)

	if conv.Title == "" && msg.Role == "user" {
		conv.Title = TitleFromContent(msg.Content)
	}

	if err := s.flush(conv, entry.Path); err != nil {
		return nil, err
	}
	return &conv.Messages[len(conv.Messages)-1], nil
}

// unionFiles merges two file lists preserving first-seen order.
func unionFiles(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, lists := range [][]string{a, b} {
		for _, f := range lists {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// UpdateMessage applies fn to the message with the given id and persists the
// result. fn runs under the conversation lock.
func (s *Store) UpdateMessage(username, id, msgID string, fn func(*Message)) error {
	return s.Update(username, id, func(conv *Conversation) error {
		for i := range conv.Messages {
			if conv.Messages[i].ID == msgID {
				fn(&conv.Messages[i])
				return nil
			}
		}
		return fmt.Errorf("%w: message %s", ErrNotFound, msgID)
	})
}

// Update applies fn to the whole conversation under its lock and persists.
func (s *Store) Update(username, id string, fn func(*Conversation) error) error {
	entry, err := s.lookup(username, id)
	if err != nil {
		return err
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.readConversation(entry.Path)
	if err != nil {
		return err
	}
	if err := fn(conv); err != nil {
		return err
	}
	return s.flush(conv, entry.Path)
}

// SetModel records the model used for subsequent turns.
func (s *Store) SetModel(username, id, model string) error {
	return s.Update(username, id, func(conv *Conversation) error {
		conv.Model = model
		return nil
	})
}

// SetPendingImages replaces the pending image queue.
func (s *Store) SetPendingImages(username, id string, images []PendingImage) error {
	return s.Update(username, id, func(conv *Conversation) error {
		conv.PendingImages = images
		return nil
	})
}

// ReplaceMessages swaps the full message list, used after context compression.
func (s *Store) ReplaceMessages(username, id string, msgs []Message) error {
	return s.Update(username, id, func(conv *Conversation) error {
		conv.Messages = msgs
		return nil
	})
}

// RebuildIndex scans every conversation file and rewrites the index from
// scratch. Recovery path for a lost or corrupt index.
func (s *Store) RebuildIndex() error {
	fresh := make(map[string]IndexEntry)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || d.Name() == "index.json" {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		conv, err := s.readConversation(rel)
		if err != nil {
			slog.Warn("store: skipping unreadable conversation", "path", rel, "error", err)
			return nil
		}
		fresh[conv.ID] = indexEntryFor(conv, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: rebuild index: %w", err)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	s.index = fresh
	return s.saveIndexLocked()
}

// --- internals ---

func (s *Store) lookup(username, id string) (IndexEntry, error) {
	s.indexMu.Lock()
	entry, ok := s.index[id]
	s.indexMu.Unlock()
	if !ok {
		return IndexEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// Anonymous conversations are open to every caller; named ones only to
	// their owner.
	if entry.Username == AnonymousUser || entry.Username == "" {
		return entry, nil
	}
	if entry.Username != username {
		return IndexEntry{}, fmt.Errorf("%w: %s", ErrForbidden, id)
	}
	return entry, nil
}

func (s *Store) flush(conv *Conversation, rel string) error {
	conv.UpdatedAt = time.Now()
	if err := s.writeConversation(rel, conv); err != nil {
		return err
	}
	return s.updateIndex(conv, rel)
}

func (s *Store) updateIndex(conv *Conversation, rel string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	s.index[conv.ID] = indexEntryFor(conv, rel)
	return s.saveIndexLocked()
}

func indexEntryFor(conv *Conversation, rel string) IndexEntry {
	return IndexEntry{
		ID:           conv.ID,
		Username:     conv.Username,
		Title:        conv.Title,
		Model:        conv.Model,
		Path:         rel,
		OutputDir:    conv.OutputDir,
		MessageCount: len(conv.Messages),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
}

func (s *Store) readConversation(rel string) (*Conversation, error) {
	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("store: read conversation: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("store: parse conversation %s: %w", rel, err)
	}
	return &conv, nil
}

func (s *Store) writeConversation(rel string, conv *Conversation) error {
	path := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("store: create shard dir: %w", err)
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal conversation: %w", err)
	}
	return atomicWrite(filepath.Dir(path), path, data)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.root, "index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		s.index[e.ID] = e
	}
	return nil
}

func (s *Store) saveIndexLocked() error {
	entries := make([]IndexEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal index: %w", err)
	}
	return atomicWrite(s.root, filepath.Join(s.root, "index.json"), data)
}

// atomicWrite lands data at path via a temp file and rename so readers never
// observe a half-written file.
func atomicWrite(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".write-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
