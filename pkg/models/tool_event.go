package models

import (
	"encoding/json"
	"time"
)

// ToolCallStatus is the lifecycle state of a tool invocation as reported to
// the client. Every call is announced as pending exactly once, then receives
// at least one update whose final status is completed or failed.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// ToolKind classifies a tool call for display purposes.
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindDelete  ToolKind = "delete"
	ToolKindMove    ToolKind = "move"
	ToolKindExecute ToolKind = "execute"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindThink   ToolKind = "think"
	ToolKindOther   ToolKind = "other"
)

// ToolEvent is one lifecycle transition of a tool call, including timing and
// result content once the call has finished.
type ToolEvent struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Title      string          `json:"title,omitempty"`
	Kind       ToolKind        `json:"kind,omitempty"`
	Status     ToolCallStatus  `json:"status"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// Terminal reports whether the event's status ends the call's lifecycle.
func (e ToolEvent) Terminal() bool {
	return e.Status == ToolCallCompleted || e.Status == ToolCallFailed
}
