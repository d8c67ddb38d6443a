package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Bookmarks pins workspace files for quick recall. Kept in SQLite rather than
// the JSON index so toggling a pin never rewrites conversation files. A pin
// with an empty filename marks the whole conversation.
type Bookmarks struct {
	db *sql.DB
}

func OpenBookmarks(path string) (*Bookmarks, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: open %s: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bookmarks (
			username        TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			filename        TEXT NOT NULL DEFAULT '',
			note            TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			PRIMARY KEY (username, conversation_id, filename)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("bookmarks: init schema: %w", err)
	}
	return &Bookmarks{db: db}, nil
}

func (b *Bookmarks) Close() error { return b.db.Close() }

// Pin records a workspace file (or, with filename "", the conversation
// itself). Re-pinning updates the note.
func (b *Bookmarks) Pin(username, conversationID, filename, note string) error {
	_, err := b.db.Exec(`
		INSERT INTO bookmarks (username, conversation_id, filename, note, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (username, conversation_id, filename) DO UPDATE SET note = excluded.note`,
		username, conversationID, filename, note, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("bookmarks: pin: %w", err)
	}
	return nil
}

// Unpin removes one file pin.
func (b *Bookmarks) Unpin(username, conversationID, filename string) error {
	_, err := b.db.Exec(`
		DELETE FROM bookmarks WHERE username = ? AND conversation_id = ? AND filename = ?`,
		username, conversationID, filename)
	if err != nil {
		return fmt.Errorf("bookmarks: unpin: %w", err)
	}
	return nil
}

// Add pins a conversation. Kept as the conversation-level convenience over Pin.
func (b *Bookmarks) Add(username, conversationID, note string) error {
	return b.Pin(username, conversationID, "", note)
}

// Remove drops every pin under a conversation, files included. Called when
// the conversation is deleted.
func (b *Bookmarks) Remove(username, conversationID string) error {
	_, err := b.db.Exec(`DELETE FROM bookmarks WHERE username = ? AND conversation_id = ?`,
		username, conversationID)
	if err != nil {
		return fmt.Errorf("bookmarks: remove: %w", err)
	}
	return nil
}

// Bookmark is one pinned file or conversation.
type Bookmark struct {
	ConversationID string    `json:"conversation_id"`
	Filename       string    `json:"filename,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (b *Bookmarks) List(username string) ([]Bookmark, error) {
	rows, err := b.db.Query(`
		SELECT conversation_id, filename, note, created_at FROM bookmarks
		WHERE username = ? ORDER BY created_at DESC, filename`, username)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: list: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var bm Bookmark
		var ts int64
		if err := rows.Scan(&bm.ConversationID, &bm.Filename, &bm.Note, &ts); err != nil {
			return nil, fmt.Errorf("bookmarks: scan: %w", err)
		}
		bm.CreatedAt = time.Unix(ts, 0)
		out = append(out, bm)
	}
	return out, rows.Err()
}

func (b *Bookmarks) IsBookmarked(username, conversationID string) (bool, error) {
	var one int
	err := b.db.QueryRow(`
		SELECT 1 FROM bookmarks WHERE username = ? AND conversation_id = ? LIMIT 1`,
		username, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bookmarks: query: %w", err)
	}
	return true, nil
}
