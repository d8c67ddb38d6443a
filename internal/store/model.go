package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/reagentd/reagent/internal/providers"
)

// Message statuses. A message is created pending, then finalized exactly once.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Message is one persisted conversation entry. It is a superset of the
// provider message: ids, status, attribution and timestamps live here only.
//
// Extra carries JSON fields this version does not know about; they survive
// every rewrite so newer and older builds can share a data directory.
type Message struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Content    string                  `json:"content,omitempty"`
	Parts      []providers.ContentPart `json:"parts,omitempty"`
	ToolCalls  []providers.ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string                  `json:"tool_call_id,omitempty"`
	Name       string                  `json:"name,omitempty"`

	Status         string          `json:"status,omitempty"`
	ClientMsgID    string          `json:"client_msg_id,omitempty"`
	GeneratedFiles []string        `json:"generated_files,omitempty"`
	OriginalParts  json.RawMessage `json:"original_parts,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownMessageFields = []string{
	"id", "role", "content", "parts", "tool_calls", "tool_call_id", "name",
	"status", "client_msg_id", "generated_files", "original_parts", "created_at",
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownMessageFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	*m = Message(p)
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	data, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Provider converts the stored message to the canonical provider message.
func (m Message) Provider() providers.Message {
	return providers.Message{
		Role:          m.Role,
		Content:       m.Content,
		Parts:         m.Parts,
		ToolCalls:     m.ToolCalls,
		ToolCallID:    m.ToolCallID,
		Name:          m.Name,
		OriginalParts: m.OriginalParts,
	}
}

// PendingImage is one queued workspace image awaiting injection into the
// model context.
type PendingImage struct {
	Path           string `json:"path"`
	Detail         string `json:"detail,omitempty"` // "low", "auto", "high"
	RemainingViews int    `json:"remaining_views"`
}

// Conversation is the persisted unit: one JSON file per conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Title     string    `json:"title,omitempty"`
	Model     string    `json:"model,omitempty"`
	OutputDir string    `json:"output_dir,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages      []Message      `json:"messages"`
	PendingImages []PendingImage `json:"pending_images,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownConversationFields = []string{
	"id", "username", "title", "model", "output_dir", "created_at", "updated_at",
	"messages", "pending_images",
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	type plain Conversation
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownConversationFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	*c = Conversation(p)
	return nil
}

func (c Conversation) MarshalJSON() ([]byte, error) {
	type plain Conversation
	data, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// History converts all messages to provider form for an LLM request.
func (c *Conversation) History() []providers.Message {
	out := make([]providers.Message, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = m.Provider()
	}
	return out
}

// OutputDirName is the workspace directory name for a conversation. Fixed at
// creation: the creation timestamp plus the conversation id.
func OutputDirName(createdAt time.Time, id string) string {
	return createdAt.Format("20060102_150405") + "_" + id
}

// NewConversationID returns an 8-hex-char conversation id.
func NewConversationID() string {
	return randomHex(4)
}

// NewMessageID returns a 12-hex-char message id.
func NewMessageID() string {
	return randomHex(6)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
