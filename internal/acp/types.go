// Package acp implements the agent side of the Agent Client Protocol:
// JSON-RPC 2.0 over newline-framed stdio, with session lifecycle methods
// inbound and session/update notifications outbound.
// Spec: https://agentclientprotocol.com
package acp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the ACP revision this agent speaks.
const ProtocolVersion = 1

// Message represents a JSON-RPC 2.0 message: a request (Method and ID),
// a notification (Method, no ID), or a response (ID with Result/Error).
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// IsRequest returns true if the message is a request.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification returns true if the message is a notification.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse returns true if the message is a response.
func (m *Message) IsResponse() bool { return m.Method == "" && m.ID != nil }

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// InitializeParams is the client's first request.
type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
	ClientInfo         ImplementationInfo `json:"clientInfo"`
}

// InitializeResult advertises the agent's capabilities.
type InitializeResult struct {
	ProtocolVersion   int                `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities  `json:"agentCapabilities"`
	AgentInfo         ImplementationInfo `json:"agentInfo"`
	AuthMethods       []AuthMethod       `json:"authMethods,omitempty"`
}

// ClientCapabilities describes what the client can do for the agent.
type ClientCapabilities struct {
	FS       *FSCapabilities `json:"fs,omitempty"`
	Terminal bool            `json:"terminal,omitempty"`
}

// FSCapabilities describes client-side file operations.
type FSCapabilities struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

// AgentCapabilities describes what the agent supports.
type AgentCapabilities struct {
	LoadSession        bool                `json:"loadSession,omitempty"`
	PromptCapabilities *PromptCapabilities `json:"promptCapabilities,omitempty"`
	MCPCapabilities    *MCPCapabilities    `json:"mcpCapabilities,omitempty"`
}

// PromptCapabilities describes accepted prompt content types.
type PromptCapabilities struct {
	Image           bool `json:"image,omitempty"`
	Audio           bool `json:"audio,omitempty"`
	EmbeddedContext bool `json:"embeddedContext,omitempty"`
}

// MCPCapabilities describes MCP transports the agent can attach.
type MCPCapabilities struct {
	HTTP bool `json:"http"`
	SSE  bool `json:"sse"`
}

// ImplementationInfo identifies an ACP implementation.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// AuthMethod describes an authentication method the agent accepts.
type AuthMethod struct {
	Type string `json:"type"`
}

// SessionNewParams requests a new session.
type SessionNewParams struct {
	CWD string `json:"cwd"`
}

// SessionNewResult carries the created session id.
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// SessionLoadParams requests an existing session be reopened.
type SessionLoadParams struct {
	SessionID string `json:"sessionId"`
	CWD       string `json:"cwd,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// SessionPromptParams sends a user prompt into a session.
type SessionPromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// SessionPromptResult closes a prompt with its stop reason.
type SessionPromptResult struct {
	StopReason string `json:"stopReason"`
}

// SessionCancelParams requests cancellation of an in-flight prompt.
type SessionCancelParams struct {
	SessionID string `json:"sessionId"`
}

// SessionSetModeParams switches a session mode (e.g. redaction level).
type SessionSetModeParams struct {
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode"`
}

// ContentBlock is one piece of prompt or response content.
type ContentBlock struct {
	// Type of content: text, image, audio, resource, resource_link.
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Resource *Resource `json:"resource,omitempty"`
	URI      string    `json:"uri,omitempty"`
	Data     string    `json:"data,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
}

// Resource is an embedded or linked resource.
type Resource struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// SessionUpdateParams wraps a session/update notification.
type SessionUpdateParams struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// Session update discriminator values.
const (
	UpdateUserMessageChunk    = "user_message_chunk"
	UpdateAgentMessageChunk   = "agent_message_chunk"
	UpdateThoughtMessageChunk = "thought_message_chunk"
	UpdateToolCall            = "tool_call"
	UpdateToolCallUpdate      = "tool_call_update"
	UpdatePlan                = "plan"
)

// PlanEntry is one step of a streamed plan update.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ToolCallContent is a structured piece of tool output.
type ToolCallContent struct {
	Type    string        `json:"type"`
	Content *ContentBlock `json:"content,omitempty"`
}

// SessionUpdate is one agent→client update. The wire overloads the
// "content" key: a single ContentBlock for message chunks, an array of
// ToolCallContent for tool calls; custom marshaling resolves that.
type SessionUpdate struct {
	// Type is the discriminator (JSON key: "sessionUpdate").
	Type string `json:"-"`

	// MessageContent is set for *_message_chunk updates.
	MessageContent *ContentBlock `json:"-"`

	// Tool call fields.
	ToolCallID  string            `json:"toolCallId,omitempty"`
	Title       string            `json:"title,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Status      string            `json:"status,omitempty"`
	ToolContent []ToolCallContent `json:"-"`
	RawInput    json.RawMessage   `json:"rawInput,omitempty"`

	// Entries is set for plan updates.
	Entries []PlanEntry `json:"entries,omitempty"`
}

type sessionUpdateJSON struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Title         string          `json:"title,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	Status        string          `json:"status,omitempty"`
	RawInput      json.RawMessage `json:"rawInput,omitempty"`
	Entries       []PlanEntry     `json:"entries,omitempty"`
}

// MarshalJSON writes the correct "content" shape for the update type.
func (u SessionUpdate) MarshalJSON() ([]byte, error) {
	raw := sessionUpdateJSON{
		SessionUpdate: u.Type,
		ToolCallID:    u.ToolCallID,
		Title:         u.Title,
		Kind:          u.Kind,
		Status:        u.Status,
		RawInput:      u.RawInput,
		Entries:       u.Entries,
	}
	switch u.Type {
	case UpdateUserMessageChunk, UpdateAgentMessageChunk, UpdateThoughtMessageChunk:
		if u.MessageContent != nil {
			data, err := json.Marshal(u.MessageContent)
			if err != nil {
				return nil, err
			}
			raw.Content = data
		}
	case UpdateToolCall, UpdateToolCallUpdate:
		if len(u.ToolContent) > 0 {
			data, err := json.Marshal(u.ToolContent)
			if err != nil {
				return nil, err
			}
			raw.Content = data
		}
	}
	return json.Marshal(raw)
}

// UnmarshalJSON resolves the overloaded "content" key by update type.
func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	var raw sessionUpdateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal SessionUpdate: %w", err)
	}
	u.Type = raw.SessionUpdate
	u.ToolCallID = raw.ToolCallID
	u.Title = raw.Title
	u.Kind = raw.Kind
	u.Status = raw.Status
	u.RawInput = raw.RawInput
	u.Entries = raw.Entries

	if len(raw.Content) == 0 {
		return nil
	}
	switch raw.SessionUpdate {
	case UpdateUserMessageChunk, UpdateAgentMessageChunk, UpdateThoughtMessageChunk:
		var cb ContentBlock
		if err := json.Unmarshal(raw.Content, &cb); err != nil {
			return fmt.Errorf("unmarshal message content: %w", err)
		}
		u.MessageContent = &cb
	case UpdateToolCall, UpdateToolCallUpdate:
		var tcc []ToolCallContent
		if err := json.Unmarshal(raw.Content, &tcc); err != nil {
			return fmt.Errorf("unmarshal tool call content: %w", err)
		}
		u.ToolContent = tcc
	}
	return nil
}
