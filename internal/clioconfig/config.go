// Package clioconfig loads and persists the per-project configuration at
// .clio/config.json. It deliberately carries no CLI surface; a consumer
// binary decides how the struct is constructed or overridden.
package clioconfig

import (
	"time"

	"github.com/clio-agent/clio/internal/mcp"
	"github.com/clio-agent/clio/internal/redact"
)

// Config is the full on-disk configuration.
type Config struct {
	LLM           LLMConfig           `json:"llm"`
	Redaction     RedactionConfig     `json:"redaction"`
	Context       ContextConfig       `json:"context"`
	Session       SessionConfig       `json:"session"`
	Tools         ToolsConfig         `json:"tools"`
	MCP           MCPConfig           `json:"mcp"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
}

// LLMConfig selects the provider and model for the session.
type LLMConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`

	// MaxContextTokens is the model window; 0 means use the provider's
	// published default for the model.
	MaxContextTokens int `json:"max_context_tokens,omitempty"`
}

// RedactionConfig selects the secret-scrubbing level.
type RedactionConfig struct {
	Level redact.Level `json:"level"`
}

// ContextConfig tunes the context budget manager.
type ContextConfig struct {
	// BudgetRatio is the share of the model window given to input.
	BudgetRatio float64 `json:"budget_ratio"`

	// ResponseReserve is the token headroom kept for the response.
	ResponseReserve int `json:"response_reserve"`
}

// SessionConfig tunes session memory.
type SessionConfig struct {
	STMMaxSize int `json:"stm_max_size"`

	// LTM pruning policy.
	LTMMaxAgeDays     int     `json:"ltm_max_age_days"`
	LTMMinConfidence  float64 `json:"ltm_min_confidence"`
	LTMPerCategoryCap int     `json:"ltm_per_category_cap"`
}

// ToolsConfig tunes tool execution.
type ToolsConfig struct {
	// ExecTimeout bounds a single terminal command.
	ExecTimeout time.Duration `json:"exec_timeout"`

	// ExecMaxOutputBytes bounds captured stdout+stderr; overflow truncates.
	ExecMaxOutputBytes int `json:"exec_max_output_bytes"`

	// SpillThresholdBytes is the result size beyond which tool output is
	// written to the result store and referenced by id.
	SpillThresholdBytes int `json:"spill_threshold_bytes"`

	// PerTool overrides timeout/retry for specific tools.
	PerTool map[string]ToolOverride `json:"per_tool,omitempty"`
}

// ToolOverride is a per-tool execution override.
type ToolOverride struct {
	Timeout    time.Duration `json:"timeout,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
}

// MCPConfig lists external MCP servers.
type MCPConfig struct {
	Enabled        bool                `json:"enabled"`
	Servers        []*mcp.ServerConfig `json:"servers,omitempty"`
	RequestTimeout time.Duration       `json:"request_timeout"`
}

// ManagerConfig adapts the section to the MCP manager's shape.
func (c MCPConfig) ManagerConfig() *mcp.Config {
	return &mcp.Config{Enabled: c.Enabled, Servers: c.Servers}
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
	File   string `json:"file,omitempty"`
}

// ObservabilityConfig tunes metrics export and tracing. Both are off
// unless an address or endpoint is configured.
type ObservabilityConfig struct {
	// MetricsAddr serves Prometheus metrics when set (e.g. "127.0.0.1:9464").
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// OTLPEndpoint enables trace export when set (e.g. "localhost:4317").
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool `json:"otlp_insecure,omitempty"`

	// TraceSamplingRate is the fraction of turns traced; 0 means all.
	TraceSamplingRate float64 `json:"trace_sampling_rate,omitempty"`

	// EventBufferSize caps the in-memory event timeline. Default 1000.
	EventBufferSize int `json:"event_buffer_size,omitempty"`
}

// Default returns the configuration used when no config.json exists.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
		},
		Redaction: RedactionConfig{Level: redact.LevelStandard},
		Context: ContextConfig{
			BudgetRatio:     0.58,
			ResponseReserve: 4096,
		},
		Session: SessionConfig{
			STMMaxSize:        20,
			LTMMaxAgeDays:     90,
			LTMMinConfidence:  0.2,
			LTMPerCategoryCap: 200,
		},
		Tools: ToolsConfig{
			ExecTimeout:         2 * time.Minute,
			ExecMaxOutputBytes:  1 << 20, // 1 MiB
			SpillThresholdBytes: 32 << 10,
		},
		MCP: MCPConfig{
			RequestTimeout: 30 * time.Second,
		},
		Logging:       LoggingConfig{Level: "info", Format: "json"},
		Observability: ObservabilityConfig{EventBufferSize: 1000},
	}
}
