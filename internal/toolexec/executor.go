package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clio-agent/clio/internal/jsonrpc"
	"github.com/clio-agent/clio/internal/observability"
	"github.com/clio-agent/clio/internal/redact"
	"github.com/clio-agent/clio/internal/resultstore"
	"github.com/clio-agent/clio/pkg/models"
)

// Config tunes the executor.
type Config struct {
	// PerToolTimeout bounds a single execution. Default 30s.
	PerToolTimeout time.Duration

	// PerTool overrides the timeout for specific tools.
	PerTool map[string]time.Duration

	// SpillThresholdBytes is the result size beyond which the full bytes
	// go to the result store. Default 32 KiB.
	SpillThresholdBytes int

	// RedactionLevel scrubs tool output before it reaches the
	// conversation or disk.
	RedactionLevel redact.Level
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		PerToolTimeout:      30 * time.Second,
		SpillThresholdBytes: 32 << 10,
		RedactionLevel:      redact.LevelStandard,
	}
}

// EmitFunc receives tool lifecycle events in causal order.
type EmitFunc func(models.ToolEvent)

// Executor dispatches tool calls under the execution contract. Failures
// become structured tool results; nothing here aborts a turn.
type Executor struct {
	registry *Registry
	config   Config
	results  *resultstore.Store
	logger   *slog.Logger
	tracer   *observability.Tracer
}

// NewExecutor creates an executor. results may be nil to disable
// spilling; logger may be nil for silent operation.
func NewExecutor(registry *Registry, config Config, results *resultstore.Store, logger *slog.Logger) *Executor {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.SpillThresholdBytes <= 0 {
		config.SpillThresholdBytes = 32 << 10
	}
	if config.RedactionLevel == "" {
		config.RedactionLevel = redact.LevelStandard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, config: config, results: results, logger: logger}
}

// SetTracer attaches a tracer; every Execute gets a tool span. A nil
// tracer stays a no-op.
func (e *Executor) SetTracer(t *observability.Tracer) {
	e.tracer = t
}

// Execute runs one tool call to completion and returns its result. The
// emit callback sees pending → in_progress → completed|failed, in order.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, sctx *SessionCtx, emit EmitFunc) models.ToolResult {
	if emit == nil {
		emit = func(models.ToolEvent) {}
	}
	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	tool, source, found := e.registry.Resolve(call.Name)
	kind := models.ToolKindOther
	if tool != nil {
		kind = tool.Kind()
	}

	emit(models.ToolEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Title:      call.Name,
		Kind:       kind,
		Status:     models.ToolCallPending,
		Input:      call.Arguments,
	})

	finish := func(res models.ToolResult, started time.Time) models.ToolResult {
		status := models.ToolCallCompleted
		errText := ""
		if res.IsError {
			status = models.ToolCallFailed
			errText = res.Content
			e.tracer.RecordError(span, errors.New(res.Content))
		}
		e.tracer.SetAttributes(span, "tool_call_id", call.ID, "status", string(status))
		emit(models.ToolEvent{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Kind:       kind,
			Status:     status,
			Output:     res.Content,
			Error:      errText,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		})
		return res
	}

	started := time.Now().UTC()
	emit(models.ToolEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Kind:       kind,
		Status:     models.ToolCallInProgress,
		StartedAt:  started,
	})

	if !found {
		return finish(errorResult(call.ID, fmt.Sprintf("tool not found: %s", call.Name), ""), started)
	}

	args, errMsg := e.parseArguments(call)
	if errMsg != "" {
		return finish(errorResult(call.ID, "invalid arguments", errMsg), started)
	}

	if tool != nil {
		if missing := e.missingRequired(tool.Schema(), args); len(missing) > 0 {
			detail := fmt.Sprintf("missing required fields: %v", missing)
			return finish(errorResult(call.ID, "invalid arguments", detail), started)
		}
	}

	timeout := e.config.PerToolTimeout
	if t, ok := e.config.PerTool[call.Name]; ok && t > 0 {
		timeout = t
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := e.runGuarded(toolCtx, tool, source, call, sctx, args, timeout)
	res.ToolCallID = call.ID
	res.Content = redact.Redact(res.Content, e.config.RedactionLevel)
	res = e.maybeSpill(sctx, call, res)
	return finish(res, started)
}

// parseArguments repairs and decodes the model-produced argument blob.
func (e *Executor) parseArguments(call models.ToolCall) (map[string]any, string) {
	raw := string(call.Arguments)
	if raw == "" {
		return map[string]any{}, ""
	}
	repaired, err := jsonrpc.Repair(raw)
	if err != nil {
		e.logger.Warn("tool arguments unparseable",
			"tool", call.Name, "tool_call_id", call.ID, "raw", raw)
		return nil, err.Error()
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Sprintf("arguments are not an object: %v", err)
	}
	return args, ""
}

// missingRequired validates required fields named by the tool schema.
func (e *Executor) missingRequired(schema json.RawMessage, args map[string]any) []string {
	var s struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}
	var missing []string
	for _, field := range s.Required {
		if v, ok := args[field]; !ok || v == nil {
			missing = append(missing, field)
		}
	}
	return missing
}

// runGuarded executes the tool in a goroutine with panic recovery,
// waiting on completion or deadline.
func (e *Executor) runGuarded(ctx context.Context, tool Tool, source Source, call models.ToolCall, sctx *SessionCtx, args map[string]any, timeout time.Duration) models.ToolResult {
	type outcome struct {
		result *models.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked",
					"tool", call.Name, "tool_call_id", call.ID, "panic", r)
				done <- outcome{err: fmt.Errorf("%w: %v", ErrToolPanic, r)}
			}
		}()
		var res *models.ToolResult
		var err error
		if tool != nil {
			res, err = tool.Execute(ctx, sctx, args)
		} else {
			res, err = source.CallTool(ctx, call.Name, args)
		}
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return models.ToolResult{
				Content: fmt.Sprintf("tool execution timed out after %v", timeout),
				IsError: true,
			}
		}
		return models.ToolResult{Content: "tool execution cancelled", IsError: true}
	case out := <-done:
		if out.err != nil {
			return models.ToolResult{Content: out.err.Error(), IsError: true}
		}
		if out.result == nil {
			return models.ToolResult{Content: "tool returned no result", IsError: true}
		}
		return *out.result
	}
}

// maybeSpill moves oversized results into the result store, leaving a
// descriptor in the conversation.
func (e *Executor) maybeSpill(sctx *SessionCtx, call models.ToolCall, res models.ToolResult) models.ToolResult {
	if e.results == nil || sctx == nil || res.IsError {
		return res
	}
	if len(res.Content) <= e.config.SpillThresholdBytes {
		return res
	}
	if _, err := e.results.Put(sctx.SessionID, call.ID, []byte(res.Content)); err != nil {
		e.logger.Warn("tool result spill failed",
			"tool", call.Name, "tool_call_id", call.ID, "error", err)
		return res
	}
	size := len(res.Content)
	res.Content = fmt.Sprintf(
		"[result stored: %d bytes from %s; fetch with read_tool_result tool_call_id=%s]",
		size, call.Name, call.ID)
	res.Spilled = true
	return res
}

func errorResult(toolCallID, message, detail string) models.ToolResult {
	payload := map[string]string{"error": message}
	if detail != "" {
		payload["detail"] = detail
	}
	data, _ := json.Marshal(payload)
	return models.ToolResult{ToolCallID: toolCallID, Content: string(data), IsError: true}
}
