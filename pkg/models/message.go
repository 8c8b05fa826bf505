package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn of conversation history.
//
// Invariant: a tool message must follow, in the same ordered history, an
// assistant message whose ToolCalls contains a matching ToolCallID. An
// assistant message with non-empty ToolCalls may have Content == "".
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToolCall is a structured request from the model to run a named tool.
// IDs are opaque but stable across retries within the same turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call. Failures are
// carried as content with IsError set, never as turn-level errors.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`

	// Spilled marks a result whose full bytes live in the result store;
	// Content then holds a short descriptor.
	Spilled bool `json:"spilled,omitempty"`
}

// Attachment is a file or media reference carried on a message for
// vision-capable models.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url,omitempty"`
	URI      string `json:"uri,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Artifact is a non-text byproduct of a tool call.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// UsageTriple tracks token usage for a single model.
type UsageTriple struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// UsageCounters is monotonically non-decreasing token usage tracking.
type UsageCounters struct {
	PromptTokens     int64                  `json:"prompt_tokens"`
	CompletionTokens int64                  `json:"completion_tokens"`
	TotalTokens      int64                  `json:"total_tokens"`
	ByModel          map[string]UsageTriple `json:"by_model,omitempty"`
}

// Record adds usage for a single provider call, preserving monotonicity.
func (u *UsageCounters) Record(model string, prompt, completion int64) {
	if u.ByModel == nil {
		u.ByModel = make(map[string]UsageTriple)
	}
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.TotalTokens += prompt + completion

	t := u.ByModel[model]
	t.PromptTokens += prompt
	t.CompletionTokens += completion
	t.TotalTokens += prompt + completion
	u.ByModel[model] = t
}

// Session is one conversation thread, identified by a UUIDv4 string.
type Session struct {
	ID              string        `json:"id"`
	WorkingDir      string        `json:"working_directory"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	History         []Message     `json:"history"`
	Billing         UsageCounters `json:"billing"`
	STM             STMState      `json:"stm"`
	LTMRef          string        `json:"ltm_ref,omitempty"`
	YaRN            YaRNState     `json:"yarn"`
	PendingPromptID string        `json:"pending_prompt_id,omitempty"`
	Cancelled       bool          `json:"cancelled"`
}

// STMState is the persisted short-term-memory ring buffer.
type STMState struct {
	History []STMEntry `json:"history"`
	MaxSize int        `json:"max_size"`
}

// STMEntry is one stripped message held in short-term memory.
type STMEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// YaRNState is the per-session append-only thread archive.
type YaRNState struct {
	Threads map[string][]Message `json:"threads"`
}

// MCPServerStatus is the connection state of a configured MCP server.
type MCPServerStatus string

const (
	MCPServerDisabled  MCPServerStatus = "disabled"
	MCPServerConnected MCPServerStatus = "connected"
	MCPServerFailed    MCPServerStatus = "failed"
)

// ToolDef describes a tool's wire shape as advertised by a provider or server.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

