// Package orchestrator drives the agent execution core: one user prompt
// becomes a sequence of provider streaming turns interleaved with tool
// executions, until a terminal stop reason closes the turn.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clio-agent/clio/internal/budget"
	"github.com/clio-agent/clio/internal/observability"
	"github.com/clio-agent/clio/internal/providers"
	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/internal/vault"
	"github.com/clio-agent/clio/pkg/models"
)

// State is the per-session execution state.
type State string

const (
	StateIdle         State = "idle"
	StatePrompting    State = "prompting"
	StateStreaming    State = "streaming"
	StateToolDispatch State = "tool_dispatch"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// ErrTurnInFlight rejects a second prompt while one is processing.
var ErrTurnInFlight = errors.New("a prompt is already in flight for this session")

// defaultMaxIterations bounds provider round-trips within one turn.
const defaultMaxIterations = 40

// Config tunes the orchestrator.
type Config struct {
	Model        string
	SystemPrompt string

	// MaxIterations caps provider calls per turn. 0 uses the default.
	MaxIterations int
}

// Orchestrator owns the prompt→stream→tool-dispatch→persist loop for
// every session in the process. At most one turn runs per session.
type Orchestrator struct {
	provider providers.LLMProvider
	budget   *budget.Manager
	registry *toolexec.Registry
	executor *toolexec.Executor
	vault    *vault.FileVault
	ltm      *session.LTM
	metrics  *budget.Metrics
	logger   *slog.Logger
	tracer   *observability.Tracer
	recorder *observability.EventRecorder
	config   Config

	mu       sync.Mutex
	inFlight map[string]State
}

// New creates an orchestrator. metrics and logger may be nil.
func New(provider providers.LLMProvider, bm *budget.Manager, registry *toolexec.Registry, executor *toolexec.Executor, fv *vault.FileVault, ltm *session.LTM, metrics *budget.Metrics, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider: provider,
		budget:   bm,
		registry: registry,
		executor: executor,
		vault:    fv,
		ltm:      ltm,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
		inFlight: make(map[string]State),
	}
}

// SetTracer attaches a tracer; spans cover turns, provider calls, and
// tool dispatch. A nil tracer stays a no-op.
func (o *Orchestrator) SetTracer(t *observability.Tracer) {
	o.tracer = t
}

// SetRecorder attaches an event recorder backing the session timeline.
func (o *Orchestrator) SetRecorder(r *observability.EventRecorder) {
	o.recorder = r
}

// SessionState reports the current execution state for a session.
func (o *Orchestrator) SessionState(sessionID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.inFlight[sessionID]; ok {
		return s
	}
	return StateIdle
}

func (o *Orchestrator) setState(sessionID string, s State) {
	o.mu.Lock()
	o.inFlight[sessionID] = s
	o.mu.Unlock()
}

// ProcessPrompt runs one full turn. The sink receives every update in
// causal order. The returned stop reason is final; provider failures
// surface as end_turn with an error event, never as a Go error, so the
// ACP layer always has a valid response to send.
func (o *Orchestrator) ProcessPrompt(ctx context.Context, sess *session.Session, blocks []PromptBlock, promptID string, sink EventSink) (models.StopReason, error) {
	sessionID := sess.ID()

	o.mu.Lock()
	if state, busy := o.inFlight[sessionID]; busy && state != StateIdle {
		o.mu.Unlock()
		return "", ErrTurnInFlight
	}
	o.inFlight[sessionID] = StatePrompting
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, sessionID)
		o.mu.Unlock()
	}()

	sess.ClearCancelled()
	sess.SetPendingPrompt(promptID)
	defer sess.SetPendingPrompt("")

	content := assembleUserMessage(blocks)
	sess.AddMessage(models.Message{Role: models.RoleUser, Content: content})

	turnID, err := o.vault.BeginTurn(content)
	if err != nil {
		return "", fmt.Errorf("open vault turn: %w", err)
	}
	// The record is retained after close so the user can still undo.
	defer o.vault.CloseTurn(turnID)

	ctx = observability.AddSessionID(ctx, sessionID)
	ctx = observability.AddRunID(ctx, turnID)
	ctx, span := o.tracer.TracePromptProcessing(ctx, sessionID, promptID)
	defer span.End()

	turnStart := time.Now()
	if o.recorder != nil {
		o.recorder.RecordRunStart(ctx, turnID, map[string]interface{}{"prompt_id": promptID})
	}

	em := newEmitter(sink, sessionID, turnID)
	em.turnStarted(promptID)

	sctx := o.sessionCtx(sess, turnID)
	stop := o.runLoop(ctx, sess, em, sctx)

	em.turnFinished(stop, promptID)
	o.metrics.RecordTurn()
	o.tracer.SetAttributes(span, "stop_reason", string(stop))
	if o.recorder != nil {
		o.recorder.RecordRunEnd(ctx, time.Since(turnStart), nil)
	}

	if err := sess.Save(); err != nil {
		o.logger.Error("session save failed", "session_id", sessionID, "error", err)
	}
	if err := o.ltm.Save(); err != nil {
		o.logger.Warn("ltm save failed", "session_id", sessionID, "error", err)
	}
	return stop, nil
}

// runLoop iterates provider calls and tool dispatch until terminal.
func (o *Orchestrator) runLoop(ctx context.Context, sess *session.Session, em *emitter, sctx *toolexec.SessionCtx) models.StopReason {
	sessionID := sess.ID()
	tools := o.registry.Definitions()

	for iteration := 0; iteration < o.config.MaxIterations; iteration++ {
		if sess.Cancelled() {
			o.setState(sessionID, StateCancelled)
			return models.StopCancelled
		}

		messages := append(
			[]models.Message{{Role: models.RoleSystem, Content: o.buildSystemPrompt(sess)}},
			sess.History()...)
		shaped, report, err := o.budget.Shape(messages, tools)
		if err != nil {
			o.setState(sessionID, StateFailed)
			em.error(err.Error(), "context_overflow")
			sess.AddMessage(models.Message{
				Role:    models.RoleAssistant,
				Content: "I could not fit the conversation into the model's context window. Please start a new session or trim the request.",
			})
			return models.StopEndTurn
		}
		o.metrics.RecordTrim(report)

		o.setState(sessionID, StateStreaming)

		llmCtx, llmSpan := o.tracer.TraceLLMRequest(ctx, o.provider.Name(), o.config.Model)
		llmStart := time.Now()
		if o.recorder != nil {
			o.recorder.Record(llmCtx, observability.EventTypeLLMRequest, o.provider.Name(),
				map[string]interface{}{"model": o.config.Model, "messages": len(shaped)})
		}

		var accumulated string
		var calls []models.ToolCall
		result := providers.SendRequestStreaming(llmCtx, o.provider,
			o.completionRequest(shaped, tools),
			func(text string) bool {
				if sess.Cancelled() {
					return false
				}
				accumulated += text
				em.chunk(models.AgentEventAgentChunk, text)
				return true
			},
			func(call models.ToolCall) {
				calls = append(calls, call)
			})

		o.tracer.SetAttributes(llmSpan,
			"finish_reason", string(result.FinishReason),
			"prompt_tokens", result.Usage.PromptTokens,
			"completion_tokens", result.Usage.CompletionTokens)
		o.tracer.RecordError(llmSpan, result.Err)
		llmSpan.End()
		if o.recorder != nil {
			eventType := observability.EventTypeLLMResponse
			if !result.Success {
				eventType = observability.EventTypeLLMError
			}
			o.recorder.Record(llmCtx, eventType, o.provider.Name(), map[string]interface{}{
				"finish_reason": string(result.FinishReason),
				"duration_ms":   time.Since(llmStart).Milliseconds(),
			})
		}

		sess.RecordAPIUsage(o.config.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
		o.metrics.RecordUsage(o.config.Model, result.Usage)
		o.budget.ObserveUsage(result.Usage.PromptTokens)

		if !result.Success {
			o.setState(sessionID, StateFailed)
			o.logger.Error("provider request failed",
				"session_id", sessionID, "provider", o.provider.Name(), "error", result.Err)
			em.error(fmt.Sprintf("provider error: %v", result.Err), "provider")
			sess.AddMessage(models.Message{
				Role:    models.RoleAssistant,
				Content: "I hit a provider error and could not finish this request. Please try again.",
			})
			return models.StopEndTurn
		}

		switch result.FinishReason {
		case providers.FinishCancelled:
			o.setState(sessionID, StateCancelled)
			if accumulated != "" {
				sess.AddMessage(models.Message{Role: models.RoleAssistant, Content: accumulated})
			}
			return models.StopCancelled

		case providers.FinishToolCalls:
			sess.AddMessage(models.Message{
				Role:      models.RoleAssistant,
				Content:   accumulated,
				ToolCalls: calls,
			})
			if sess.Cancelled() {
				o.setState(sessionID, StateCancelled)
				return models.StopCancelled
			}
			o.setState(sessionID, StateToolDispatch)
			o.dispatchTools(ctx, sess, em, sctx, calls)
			continue

		case providers.FinishLength:
			sess.AddMessage(models.Message{Role: models.RoleAssistant, Content: accumulated})
			return models.StopMaxTokens

		default:
			sess.AddMessage(models.Message{Role: models.RoleAssistant, Content: accumulated})
			return models.StopEndTurn
		}
	}

	em.error("turn exceeded the iteration limit", "max_iterations")
	return models.StopEndTurn
}

// dispatchTools executes the buffered calls sequentially so tool-result
// messages land in call order and updates stream in causal order.
func (o *Orchestrator) dispatchTools(ctx context.Context, sess *session.Session, em *emitter, sctx *toolexec.SessionCtx, calls []models.ToolCall) {
	for _, call := range calls {
		if sess.Cancelled() {
			// Unexecuted calls still need results to keep the pairing
			// invariant; they are reported as cancelled.
			sess.AddMessage(models.Message{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    "tool call cancelled",
				IsError:    true,
			})
			continue
		}
		toolStart := time.Now()
		if o.recorder != nil {
			o.recorder.RecordToolStart(ctx, call.Name, json.RawMessage(call.Arguments))
		}
		res := o.executor.Execute(ctx, call, sctx, em.tool)
		if o.recorder != nil {
			var execErr error
			if res.IsError {
				execErr = errors.New(res.Content)
			}
			o.recorder.RecordToolEnd(ctx, call.Name, time.Since(toolStart), res.Content, execErr)
		}
		sess.AddMessage(models.Message{
			Role:       models.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    res.Content,
			IsError:    res.IsError,
		})
	}
}

func (o *Orchestrator) sessionCtx(sess *session.Session, turnID string) *toolexec.SessionCtx {
	auth, err := vault.NewAuthorizer(sess.WorkingDir())
	if err != nil {
		o.logger.Error("authorizer init failed", "session_id", sess.ID(), "error", err)
	}
	return &toolexec.SessionCtx{
		SessionID:  sess.ID(),
		WorkingDir: sess.WorkingDir(),
		TurnID:     turnID,
		Authorizer: auth,
		Vault:      o.vault,
		STM:        sess.STM(),
	}
}

// buildSystemPrompt layers the configured prompt with project memory.
func (o *Orchestrator) buildSystemPrompt(sess *session.Session) string {
	prompt := o.config.SystemPrompt
	if prompt == "" {
		prompt = "You are CLIO, an AI coding agent working in " + sess.WorkingDir() + "."
	}
	if snapshot := o.ltm.Snapshot(); snapshot != "" {
		prompt += "\n\n" + snapshot
	}
	return prompt
}

func (o *Orchestrator) completionRequest(messages []models.Message, tools []models.ToolDef) *providers.CompletionRequest {
	req := &providers.CompletionRequest{
		Model: o.config.Model,
		Tools: providers.FromDefs(tools),
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if req.System == "" {
				req.System = msg.Content
			} else {
				req.System += "\n\n" + msg.Content
			}
		case models.RoleTool:
			req.Messages = append(req.Messages, providers.CompletionMessage{
				Role: "tool",
				ToolResults: []models.ToolResult{{
					ToolCallID: msg.ToolCallID,
					Content:    msg.Content,
					IsError:    msg.IsError,
				}},
			})
		default:
			req.Messages = append(req.Messages, providers.CompletionMessage{
				Role:      string(msg.Role),
				Content:   msg.Content,
				ToolCalls: msg.ToolCalls,
			})
		}
	}
	return req
}

// UndoTurn reverses a completed turn's filesystem effects.
func (o *Orchestrator) UndoTurn(turnID string) error {
	return o.vault.UndoTurn(turnID)
}
