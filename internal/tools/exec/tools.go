package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/pkg/models"
)

// Tool is the terminal_execution tool.
type Tool struct {
	runner Runner
}

// New creates the tool. Zero fields in runner take the package defaults.
func New(runner Runner) *Tool {
	return &Tool{runner: runner}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "terminal_execution" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Run a shell command in the project directory. Output is captured up to a fixed limit; long runs are terminated at the timeout."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindExecute }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to the project root).",
			},
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default from config).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute runs the command inside the sandbox.
func (t *Tool) Execute(ctx context.Context, sctx *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return &models.ToolResult{Content: "command is required", IsError: true}, nil
	}

	dir := ""
	if sctx != nil {
		dir = sctx.WorkingDir
		if cwd, ok := args["cwd"].(string); ok && cwd != "" {
			if sctx.Authorizer == nil {
				return &models.ToolResult{Content: "no sandbox configured", IsError: true}, nil
			}
			resolved, err := sctx.Authorizer.Resolve(cwd)
			if err != nil {
				return &models.ToolResult{Content: fmt.Sprintf("denied: %v", err), IsError: true}, nil
			}
			dir = resolved
		}
	}

	env := map[string]string{}
	if raw, ok := args["env"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
	}
	stdin, _ := args["input"].(string)

	runner := t.runner
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		runner.Timeout = time.Duration(secs) * time.Second
	}

	res, err := runner.Run(ctx, command, dir, env, stdin)
	if err != nil {
		return &models.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("encode result: %v", err), IsError: true}, nil
	}
	return &models.ToolResult{Content: string(payload), Truncated: res.Truncated}, nil
}
