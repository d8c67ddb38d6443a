package providers

import (
	"context"
	"encoding/json"
)

// Provider is the interface all LLM provider adapters must implement.
type Provider interface {
	// Chat sends messages to the LLM and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response chunks via callback.
	// Returns the final complete response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai", "gemini").
	Name() string
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages []Message              `json:"messages"`
	Tools    []ToolDefinition       `json:"tools,omitempty"`
	Model    string                 `json:"model,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length", "content_filter"
	Usage        *Usage     `json:"usage,omitempty"`

	// RawParts holds the provider's original assistant parts for protocols that
	// require byte-equivalent round-tripping (Gemini thoughtSignature). Opaque.
	RawParts json.RawMessage `json:"raw_parts,omitempty"`
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	Done     bool   `json:"done,omitempty"`
}

// ContentPart is one element of a multimodal message body. Internal image
// parts use the OpenAI data-URL convention; adapters translate outward.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries a data URL plus the provider detail hint.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "low", "high", "auto"
}

// Message is the canonical provider-independent message. The store persists a
// superset of this (ids, timestamps); adapters consume exactly these fields.
type Message struct {
	Role    string        `json:"role"` // "system", "user", "assistant", "tool"
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"` // multimodal alternative to Content

	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool"
	Name       string     `json:"name,omitempty"`         // tool name, for role="tool"

	// OriginalParts preserves provider-signed assistant parts (Gemini
	// thoughtSignature) byte-for-byte. Never synthesized, only round-tripped.
	OriginalParts json.RawMessage `json:"original_parts,omitempty"`
}

// Text returns the flat text of the message, joining text parts when the
// message is multimodal.
func (m Message) Text() string {
	if m.Content != "" || len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// ToolCall is the LLM's request to invoke a tool. Arguments follow the wire
// convention of string-typed JSON; adapters normalize to objects where the
// protocol requires it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object serialized as string
}

// ParsedArguments decodes the argument string, falling back to an empty map
// on invalid JSON (the registry still validates required parameters).
func (tc ToolCall) ParsedArguments() map[string]interface{} {
	args := make(map[string]interface{})
	if tc.Arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return make(map[string]interface{})
	}
	return args
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
