package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/clio-agent/clio/internal/orchestrator"
	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/pkg/models"
)

// Agent serves the ACP methods over a transport and drives the
// orchestrator. One reader goroutine owns the inbound stream; each
// prompt runs on its own worker so cancel notifications stay readable.
type Agent struct {
	transport *Transport
	orch      *orchestrator.Orchestrator
	store     *session.Store
	logger    *slog.Logger

	initialized bool

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewAgent wires the transport to the orchestrator and session store.
func NewAgent(transport *Transport, orch *orchestrator.Orchestrator, store *session.Store, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		transport: transport,
		orch:      orch,
		store:     store,
		logger:    logger,
		sessions:  make(map[string]*session.Session),
	}
}

// Run reads the inbound stream until EOF or ctx is done. Protocol errors
// are answered on the wire and never terminate the loop.
func (a *Agent) Run(ctx context.Context) error {
	defer a.releaseSessions()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := a.transport.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if rpcErr, ok := err.(*Error); ok {
				a.transport.RespondError(nil, rpcErr.Code, rpcErr.Message)
				continue
			}
			return err
		}
		a.dispatch(ctx, msg)
	}
}

func (a *Agent) dispatch(ctx context.Context, msg *Message) {
	if msg.IsNotification() {
		switch msg.Method {
		case "session/cancel":
			a.handleCancel(msg.Params)
		default:
			a.logger.Debug("ignoring notification", "method", msg.Method)
		}
		return
	}

	if !a.initialized && msg.Method != "initialize" {
		a.transport.RespondError(msg.ID, ErrCodeInvalidRequest,
			"initialize must be the first request")
		return
	}

	switch msg.Method {
	case "initialize":
		a.handleInitialize(msg)
	case "authenticate":
		// No auth methods are advertised; accept and move on.
		a.transport.Respond(msg.ID, map[string]any{})
	case "session/new":
		a.handleSessionNew(msg)
	case "session/load":
		a.handleSessionLoad(msg)
	case "session/prompt":
		go a.handleSessionPrompt(ctx, msg)
	case "session/set_mode":
		a.handleSetMode(msg)
	default:
		a.transport.RespondError(msg.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("unknown method: %s", msg.Method))
	}
}

func (a *Agent) handleInitialize(msg *Message) {
	var params InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		a.transport.RespondError(msg.ID, ErrCodeInvalidParams, err.Error())
		return
	}

	version := ProtocolVersion
	if params.ProtocolVersion > 0 && params.ProtocolVersion < version {
		version = params.ProtocolVersion
	}
	a.initialized = true

	a.transport.Respond(msg.ID, InitializeResult{
		ProtocolVersion: version,
		AgentCapabilities: AgentCapabilities{
			LoadSession:        true,
			PromptCapabilities: &PromptCapabilities{EmbeddedContext: true},
			MCPCapabilities:    &MCPCapabilities{HTTP: false, SSE: false},
		},
		AgentInfo: ImplementationInfo{Name: "clio", Title: "CLIO", Version: "1.0.0"},
	})
}

func (a *Agent) handleSessionNew(msg *Message) {
	var params SessionNewParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.CWD == "" {
		a.transport.RespondError(msg.ID, ErrCodeInvalidParams, "cwd is required")
		return
	}

	sess, err := a.store.Create(params.CWD)
	if err != nil {
		a.transport.RespondError(msg.ID, ErrCodeInternal, err.Error())
		return
	}
	a.trackSession(sess)
	a.transport.Respond(msg.ID, SessionNewResult{SessionID: sess.ID()})
}

func (a *Agent) handleSessionLoad(msg *Message) {
	var params SessionLoadParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.SessionID == "" {
		a.transport.RespondError(msg.ID, ErrCodeInvalidParams, "sessionId is required")
		return
	}

	if a.lookupSession(params.SessionID) == nil {
		sess, err := a.store.Load(params.SessionID, params.Force)
		if err != nil {
			a.transport.RespondError(msg.ID, ErrCodeInternal, err.Error())
			return
		}
		a.trackSession(sess)
	}
	sess := a.lookupSession(params.SessionID)

	// Replay the thread before answering so the client renders history
	// in order, then the null response closes the load.
	a.replayThread(sess)
	a.transport.Respond(msg.ID, nil)
}

func (a *Agent) replayThread(sess *session.Session) {
	msgs, err := sess.YaRN().GetThread("main")
	if err != nil {
		return
	}
	for _, m := range msgs {
		var updateType string
		switch m.Role {
		case models.RoleUser:
			updateType = UpdateUserMessageChunk
		case models.RoleAssistant:
			updateType = UpdateAgentMessageChunk
		default:
			continue
		}
		if m.Content == "" {
			continue
		}
		a.notifyUpdate(sess.ID(), SessionUpdate{
			Type:           updateType,
			MessageContent: &ContentBlock{Type: "text", Text: m.Content},
		})
	}
}

func (a *Agent) handleSessionPrompt(ctx context.Context, msg *Message) {
	var params SessionPromptParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.SessionID == "" {
		a.transport.RespondError(msg.ID, ErrCodeInvalidParams, "sessionId and prompt are required")
		return
	}
	sess := a.lookupSession(params.SessionID)
	if sess == nil {
		a.transport.RespondError(msg.ID, ErrCodeInvalidParams,
			fmt.Sprintf("unknown session: %s", params.SessionID))
		return
	}

	blocks := make([]orchestrator.PromptBlock, 0, len(params.Prompt))
	for _, cb := range params.Prompt {
		switch cb.Type {
		case "text":
			blocks = append(blocks, orchestrator.PromptBlock{Type: "text", Text: cb.Text})
		case "resource":
			block := orchestrator.PromptBlock{Type: "resource"}
			if cb.Resource != nil {
				block.URI = cb.Resource.URI
				block.Content = cb.Resource.Text
				block.MimeType = cb.Resource.MimeType
			}
			blocks = append(blocks, block)
		case "resource_link":
			blocks = append(blocks, orchestrator.PromptBlock{Type: "resource_link", URI: cb.URI})
		}
	}

	promptID := "null"
	if msg.ID != nil {
		promptID = string(*msg.ID)
	}

	sink := a.sinkFor(params.SessionID)
	stop, err := a.orch.ProcessPrompt(ctx, sess, blocks, promptID, sink)
	if err == orchestrator.ErrTurnInFlight {
		a.transport.RespondError(msg.ID, ErrCodeInvalidRequest, err.Error())
		return
	}
	if err != nil {
		a.transport.RespondError(msg.ID, ErrCodeInternal, err.Error())
		return
	}
	a.transport.Respond(msg.ID, SessionPromptResult{StopReason: string(stop)})
}

func (a *Agent) handleCancel(params json.RawMessage) {
	var p SessionCancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	if sess := a.lookupSession(p.SessionID); sess != nil {
		sess.Cancel()
	}
}

func (a *Agent) handleSetMode(msg *Message) {
	var params SessionSetModeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.SessionID == "" {
		a.transport.RespondError(msg.ID, ErrCodeInvalidParams, "sessionId is required")
		return
	}
	if a.lookupSession(params.SessionID) == nil {
		a.transport.RespondError(msg.ID, ErrCodeInvalidParams,
			fmt.Sprintf("unknown session: %s", params.SessionID))
		return
	}
	// Modes are advisory for now; the orchestrator reads config live.
	a.transport.Respond(msg.ID, map[string]any{})
}

// sinkFor converts orchestrator events into session/update notifications
// for one session, preserving emission order.
func (a *Agent) sinkFor(sessionID string) orchestrator.EventSink {
	return orchestrator.EventSinkFunc(func(event models.AgentEvent) {
		var update SessionUpdate
		switch event.Type {
		case models.AgentEventAgentChunk:
			update = SessionUpdate{
				Type:           UpdateAgentMessageChunk,
				MessageContent: &ContentBlock{Type: "text", Text: event.Chunk.Text},
			}
		case models.AgentEventUserChunk:
			update = SessionUpdate{
				Type:           UpdateUserMessageChunk,
				MessageContent: &ContentBlock{Type: "text", Text: event.Chunk.Text},
			}
		case models.AgentEventThoughtChunk:
			update = SessionUpdate{
				Type:           UpdateThoughtMessageChunk,
				MessageContent: &ContentBlock{Type: "text", Text: event.Chunk.Text},
			}
		case models.AgentEventToolCall, models.AgentEventToolCallUpdate:
			update = toolUpdate(event)
		case models.AgentEventPlan:
			entries := make([]PlanEntry, len(event.Plan.Entries))
			for i, e := range event.Plan.Entries {
				entries[i] = PlanEntry{Content: e.Content, Priority: e.Priority, Status: e.Status}
			}
			update = SessionUpdate{Type: UpdatePlan, Entries: entries}
		default:
			// Turn lifecycle and error events stay internal.
			return
		}
		a.notifyUpdate(sessionID, update)
	})
}

func toolUpdate(event models.AgentEvent) SessionUpdate {
	tool := event.Tool
	update := SessionUpdate{
		ToolCallID: tool.ToolCallID,
		Status:     string(tool.Status),
	}
	if event.Type == models.AgentEventToolCall {
		update.Type = UpdateToolCall
		update.Title = tool.Title
		update.Kind = string(tool.Kind)
		update.RawInput = tool.Input
	} else {
		update.Type = UpdateToolCallUpdate
		if tool.Output != "" {
			update.ToolContent = []ToolCallContent{{
				Type:    "content",
				Content: &ContentBlock{Type: "text", Text: tool.Output},
			}}
		}
	}
	return update
}

func (a *Agent) notifyUpdate(sessionID string, update SessionUpdate) {
	err := a.transport.Notify("session/update", SessionUpdateParams{
		SessionID: sessionID,
		Update:    update,
	})
	if err != nil {
		a.logger.Warn("session/update failed", "session_id", sessionID, "error", err)
	}
}

func (a *Agent) trackSession(sess *session.Session) {
	a.mu.Lock()
	a.sessions[sess.ID()] = sess
	a.mu.Unlock()
}

func (a *Agent) lookupSession(id string) *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[id]
}

func (a *Agent) releaseSessions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, sess := range a.sessions {
		if err := sess.Cleanup(); err != nil {
			a.logger.Warn("session cleanup failed", "session_id", id, "error", err)
		}
		delete(a.sessions, id)
	}
}

// RequestPermission asks the client to approve an action; used sparingly
// and only when the client advertised the capability.
func (a *Agent) RequestPermission(sessionID, title string) (bool, error) {
	ch, err := a.transport.Request("session/request_permission", map[string]any{
		"sessionId": sessionID,
		"title":     title,
	})
	if err != nil {
		return false, err
	}
	resp, ok := <-ch
	if !ok || resp.Error != nil {
		return false, fmt.Errorf("permission request failed")
	}
	var result struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return false, err
	}
	return result.Outcome == "approved" || result.Outcome == "allowed", nil
}
