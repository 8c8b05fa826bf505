package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/clio-agent/clio/pkg/models"
)

// EventSink receives session update events in causal order. The ACP
// agent converts them to session/update notifications; tests collect
// them directly.
type EventSink interface {
	Emit(event models.AgentEvent)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(models.AgentEvent)

// Emit calls the function.
func (f EventSinkFunc) Emit(event models.AgentEvent) { f(event) }

// emitter stamps events with a monotonic sequence, the session, and the
// turn before handing them to the sink. All orchestrator goroutines for
// a session share one emitter, so sequence order is emission order.
type emitter struct {
	sink      EventSink
	sessionID string
	turnID    string
	seq       atomic.Uint64
}

func newEmitter(sink EventSink, sessionID, turnID string) *emitter {
	return &emitter{sink: sink, sessionID: sessionID, turnID: turnID}
}

func (e *emitter) emit(event models.AgentEvent) {
	if e.sink == nil {
		return
	}
	event.Version = 1
	event.Time = time.Now().UTC()
	event.Sequence = e.seq.Add(1)
	event.SessionID = e.sessionID
	event.TurnID = e.turnID
	e.sink.Emit(event)
}

func (e *emitter) chunk(eventType models.AgentEventType, text string) {
	e.emit(models.AgentEvent{
		Type:  eventType,
		Chunk: &models.ChunkEventPayload{Text: text},
	})
}

func (e *emitter) tool(event models.ToolEvent) {
	eventType := models.AgentEventToolCall
	if event.Status != models.ToolCallPending {
		eventType = models.AgentEventToolCallUpdate
	}
	e.emit(models.AgentEvent{Type: eventType, Tool: &event})
}

func (e *emitter) turnStarted(promptID string) {
	e.emit(models.AgentEvent{
		Type: models.AgentEventTurnStarted,
		Turn: &models.TurnEventPayload{PromptID: promptID},
	})
}

func (e *emitter) turnFinished(stop models.StopReason, promptID string) {
	e.emit(models.AgentEvent{
		Type: models.AgentEventTurnFinished,
		Turn: &models.TurnEventPayload{StopReason: stop, PromptID: promptID},
	})
}

func (e *emitter) error(message, code string) {
	e.emit(models.AgentEvent{
		Type:  models.AgentEventError,
		Error: &models.ErrorEventPayload{Message: message, Code: code},
	})
}
