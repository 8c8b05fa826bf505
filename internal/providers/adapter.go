package providers

import (
	"context"

	"github.com/clio-agent/clio/pkg/models"
)

// FinishReason is the uniform terminal state of a streaming request.
type FinishReason string

const (
	FinishEndTurn   FinishReason = "end_turn"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishCancelled FinishReason = "cancelled"
)

// Result is the outcome of one streaming completion.
type Result struct {
	Success      bool
	FinishReason FinishReason
	Usage        models.UsageTriple
	Err          error
}

// OnChunk receives each text delta; returning false cancels the stream.
type OnChunk func(text string) bool

// OnToolCall receives each completed tool call.
type OnToolCall func(call models.ToolCall)

// SendRequestStreaming drives one provider completion under the uniform
// contract: text deltas go to onChunk, completed tool calls to
// onToolCall, and the terminal state comes back as a Result. Transport
// errors and malformed streams yield Success=false; nothing panics
// through this boundary.
func SendRequestStreaming(ctx context.Context, p LLMProvider, req *CompletionRequest, onChunk OnChunk, onToolCall OnToolCall) Result {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := p.Complete(streamCtx, req)
	if err != nil {
		return Result{Success: false, FinishReason: FinishEndTurn, Err: err}
	}

	var (
		usage       models.UsageTriple
		sawToolCall bool
		cancelled   bool
		stopReason  string
		streamErr   error
	)

	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			streamErr = chunk.Error
			break
		}
		if chunk.Text != "" && !cancelled && onChunk != nil {
			if !onChunk(chunk.Text) {
				cancelled = true
				cancel()
			}
		}
		if chunk.ToolCall != nil && !cancelled {
			sawToolCall = true
			if onToolCall != nil {
				onToolCall(*chunk.ToolCall)
			}
		}
		if chunk.Done {
			stopReason = chunk.StopReason
			if chunk.InputTokens > 0 || chunk.OutputTokens > 0 {
				usage = models.UsageTriple{
					PromptTokens:     int64(chunk.InputTokens),
					CompletionTokens: int64(chunk.OutputTokens),
					TotalTokens:      int64(chunk.InputTokens + chunk.OutputTokens),
				}
			}
		}
	}

	switch {
	case cancelled:
		return Result{Success: true, FinishReason: FinishCancelled, Usage: usage}
	case streamErr != nil:
		if ctx.Err() != nil {
			return Result{Success: true, FinishReason: FinishCancelled, Usage: usage}
		}
		return Result{Success: false, FinishReason: FinishEndTurn, Usage: usage, Err: streamErr}
	}

	return Result{Success: true, FinishReason: mapFinish(stopReason, sawToolCall), Usage: usage}
}

// mapFinish normalizes provider-native stop reasons; absent one, a turn
// that produced tool calls continues and anything else ends it.
func mapFinish(stopReason string, sawToolCall bool) FinishReason {
	switch stopReason {
	case "tool_calls", "tool_use":
		return FinishToolCalls
	case "length", "max_tokens":
		return FinishLength
	case "end_turn", "stop":
		// Some providers report stop even when the stream carried tool
		// calls; the calls take precedence.
		if sawToolCall {
			return FinishToolCalls
		}
		return FinishEndTurn
	}
	if sawToolCall {
		return FinishToolCalls
	}
	return FinishEndTurn
}
