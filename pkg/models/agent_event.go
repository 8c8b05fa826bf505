// Package models provides domain types shared across the CLIO runtime.
package models

import (
	"time"
)

// AgentEvent is the unified event model for a session's update stream.
// The orchestrator emits these in causal order; sinks (the ACP agent, the
// session log) consume them without re-ordering.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a session for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// SessionID identifies the session the event belongs to.
	SessionID string `json:"session_id,omitempty"`

	// TurnID identifies the user turn (one prompt and its exchanges).
	TurnID string `json:"turn_id,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Chunk *ChunkEventPayload `json:"chunk,omitempty"`
	Tool  *ToolEvent         `json:"tool,omitempty"`
	Turn  *TurnEventPayload  `json:"turn,omitempty"`
	Plan  *PlanEventPayload  `json:"plan,omitempty"`
	Error *ErrorEventPayload `json:"error,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// Turn lifecycle
	AgentEventTurnStarted  AgentEventType = "turn.started"
	AgentEventTurnFinished AgentEventType = "turn.finished"

	// Streamed message content
	AgentEventUserChunk    AgentEventType = "chunk.user"
	AgentEventAgentChunk   AgentEventType = "chunk.agent"
	AgentEventThoughtChunk AgentEventType = "chunk.thought"

	// Tool lifecycle: Tool payload carries the status transition.
	AgentEventToolCall       AgentEventType = "tool.call"
	AgentEventToolCallUpdate AgentEventType = "tool.update"

	// Plan updates
	AgentEventPlan AgentEventType = "plan"

	// Turn-level errors (provider failures surfaced to the session log)
	AgentEventError AgentEventType = "error"
)

// ChunkEventPayload is an incremental piece of streamed message content.
type ChunkEventPayload struct {
	Text string `json:"text"`
}

// TurnEventPayload carries turn lifecycle metadata.
type TurnEventPayload struct {
	// StopReason is set on turn.finished events.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// PromptID is the ACP request id the turn answers.
	PromptID string `json:"prompt_id,omitempty"`
}

// PlanEventPayload is a structured task plan shared with the client.
type PlanEventPayload struct {
	Entries []PlanEntry `json:"entries"`
}

// PlanEntry is one step of a plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ErrorEventPayload standardizes errors on the event stream.
type ErrorEventPayload struct {
	// Message is the error description (required).
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Retriable indicates if the operation can be retried.
	Retriable bool `json:"retriable,omitempty"`

	// Err is the original error (runtime only, not serialized).
	// Used to preserve error types for errors.Is/errors.As.
	Err error `json:"-"`
}

// StopReason is the terminal outcome of a turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopCancelled StopReason = "cancelled"
)
