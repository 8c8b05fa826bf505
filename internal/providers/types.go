package providers

import (
	"context"
	"encoding/json"

	"github.com/clio-agent/clio/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of each API (Anthropic, OpenAI,
// Google, Bedrock, ...) while presenting one streaming contract to the
// orchestrator.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines
// may call Complete() simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which LLM model to use (e.g. "claude-sonnet-4-5",
	// "gpt-4o"). If empty, the provider's default model is used.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages in
	// most LLM APIs.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tool schema the model may call into.
	Tools []Tool `json:"-"`

	// MaxTokens limits the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking enables extended thinking on supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens sets the token budget for extended thinking.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
// Role values: "system", "user", "assistant", "tool".
type CompletionMessage struct {
	Role string `json:"role"`

	// Content is the text content (may be empty for tool-only messages).
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools.
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`

	// Attachments contains images or files for vision-capable models.
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Chunks are delivered through channels as the model generates output.
// Each chunk may contain partial text, a completed tool call, thinking
// deltas, or the Done signal with usage and a stop reason.
type CompletionChunk struct {
	// Text contains partial response text (streamed incrementally).
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed.
	Done bool `json:"done,omitempty"`

	// StopReason carries the provider's native finish reason on the
	// final chunk ("tool_calls", "length", "end_turn", ...). Empty when
	// the provider does not report one; the adapter then infers it.
	StopReason string `json:"stop_reason,omitempty"`

	// Error contains any error that occurred (streaming is terminated).
	Error error `json:"-"`

	// Thinking contains reasoning text when extended thinking is on.
	Thinking string `json:"thinking,omitempty"`

	// ThinkingStart signals the beginning of a thinking block.
	ThinkingStart bool `json:"thinking_start,omitempty"`

	// ThinkingEnd signals the end of a thinking block.
	ThinkingEnd bool `json:"thinking_end,omitempty"`

	// InputTokens / OutputTokens report usage; only populated on the
	// final chunk and only when the provider supplies them.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Tool describes a tool advertised to the model. Providers only read
// the definition; execution happens in the tool executor.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns what the tool does, for model tool selection.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage
}

// ToolResult is the executor's result shape, re-exported for callers
// that construct tool-result messages next to provider requests.
type ToolResult = models.ToolResult

// DefTool adapts a wire-level ToolDef (built-in registry or MCP) to the
// Tool interface.
type DefTool struct {
	Def models.ToolDef
}

// Name returns the tool name.
func (d DefTool) Name() string { return d.Def.Name }

// Description returns the tool description.
func (d DefTool) Description() string { return d.Def.Description }

// Schema returns the tool parameter schema.
func (d DefTool) Schema() json.RawMessage { return d.Def.Schema }

// FromDefs wraps tool definitions for a completion request.
func FromDefs(defs []models.ToolDef) []Tool {
	tools := make([]Tool, len(defs))
	for i, def := range defs {
		tools[i] = DefTool{Def: def}
	}
	return tools
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier (e.g. "claude-sonnet-4-5").
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`

	// SupportsVision indicates if the model can process images.
	SupportsVision bool `json:"supports_vision"`
}
