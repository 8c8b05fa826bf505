package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestAgentEventType_Constants(t *testing.T) {
	tests := []struct {
		constant AgentEventType
		expected string
	}{
		{AgentEventTurnStarted, "turn.started"},
		{AgentEventTurnFinished, "turn.finished"},
		{AgentEventUserChunk, "chunk.user"},
		{AgentEventAgentChunk, "chunk.agent"},
		{AgentEventThoughtChunk, "chunk.thought"},
		{AgentEventToolCall, "tool.call"},
		{AgentEventToolCallUpdate, "tool.update"},
		{AgentEventPlan, "plan"},
		{AgentEventError, "error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestAgentEvent_JSONRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	original := AgentEvent{
		Version:   1,
		Type:      AgentEventAgentChunk,
		Time:      now,
		Sequence:  7,
		SessionID: "11111111-2222-4333-8444-555555555555",
		TurnID:    "turn-1",
		Chunk:     &ChunkEventPayload{Text: "Hi!"},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded AgentEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.Type != original.Type {
		t.Errorf("Type = %v, want %v", decoded.Type, original.Type)
	}
	if decoded.Sequence != original.Sequence {
		t.Errorf("Sequence = %d, want %d", decoded.Sequence, original.Sequence)
	}
	if decoded.Chunk == nil || decoded.Chunk.Text != "Hi!" {
		t.Errorf("Chunk = %+v, want text %q", decoded.Chunk, "Hi!")
	}
	if decoded.Tool != nil || decoded.Error != nil || decoded.Plan != nil {
		t.Error("unexpected non-nil payloads for chunk event")
	}
}

func TestAgentEvent_ErrorPayloadOmitsErr(t *testing.T) {
	event := AgentEvent{
		Version: 1,
		Type:    AgentEventError,
		Error: &ErrorEventPayload{
			Message:   "provider timeout",
			Code:      "timeout",
			Retriable: true,
			Err:       errors.New("underlying"),
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	errPayload, ok := raw["error"].(map[string]any)
	if !ok {
		t.Fatalf("error payload missing: %s", data)
	}
	if _, present := errPayload["Err"]; present {
		t.Error("Err field should not serialize")
	}
	if errPayload["message"] != "provider timeout" {
		t.Errorf("message = %v, want %q", errPayload["message"], "provider timeout")
	}
}

func TestStopReason_Constants(t *testing.T) {
	if string(StopEndTurn) != "end_turn" {
		t.Errorf("StopEndTurn = %q", StopEndTurn)
	}
	if string(StopMaxTokens) != "max_tokens" {
		t.Errorf("StopMaxTokens = %q", StopMaxTokens)
	}
	if string(StopCancelled) != "cancelled" {
		t.Errorf("StopCancelled = %q", StopCancelled)
	}
}

func TestToolEvent_Terminal(t *testing.T) {
	tests := []struct {
		status ToolCallStatus
		want   bool
	}{
		{ToolCallPending, false},
		{ToolCallInProgress, false},
		{ToolCallCompleted, true},
		{ToolCallFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			e := ToolEvent{Status: tt.status}
			if e.Terminal() != tt.want {
				t.Errorf("Terminal() = %v, want %v", e.Terminal(), tt.want)
			}
		})
	}
}
