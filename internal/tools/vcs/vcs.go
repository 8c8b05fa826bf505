// Package vcs implements the version_control tool: a thin, read-mostly
// surface over git in the project directory, built on the same bounded
// runner as terminal execution.
package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clio-agent/clio/internal/toolexec"
	toolsexec "github.com/clio-agent/clio/internal/tools/exec"
	"github.com/clio-agent/clio/pkg/models"
)

// Tool is the version_control tool.
type Tool struct {
	runner toolsexec.Runner
}

// New creates the tool.
func New(runner toolsexec.Runner) *Tool {
	return &Tool{runner: runner}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "version_control" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Inspect and stage changes with git: status, diff, log, show, add, commit, branch."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindExecute }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"status", "diff", "log", "show", "add", "commit", "branch"},
				"description": "Git operation.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Optional path to scope diff/add.",
			},
			"ref": map[string]interface{}{
				"type":        "string",
				"description": "Ref for show/log (default HEAD).",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Commit message for commit.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Entry limit for log (default 10).",
				"minimum":     1,
			},
		},
		"required": []string{"operation"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute dispatches on operation.
func (t *Tool) Execute(ctx context.Context, sctx *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	op, _ := args["operation"].(string)
	path, _ := args["path"].(string)
	ref, _ := args["ref"].(string)

	if path != "" && sctx != nil && sctx.Authorizer != nil {
		if _, err := sctx.Authorizer.Resolve(path); err != nil {
			return &models.ToolResult{Content: fmt.Sprintf("denied: %v", err), IsError: true}, nil
		}
	}

	var command string
	switch op {
	case "status":
		command = "git status --porcelain=v1 --branch"
	case "diff":
		command = "git diff"
		if path != "" {
			command += " -- " + shellQuote(path)
		}
	case "log":
		limit := 10
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}
		command = fmt.Sprintf("git log --oneline -n %d", limit)
		if ref != "" {
			command += " " + shellQuote(ref)
		}
	case "show":
		if ref == "" {
			ref = "HEAD"
		}
		command = "git show --stat " + shellQuote(ref)
	case "add":
		if path == "" {
			return &models.ToolResult{Content: "path is required for add", IsError: true}, nil
		}
		command = "git add -- " + shellQuote(path)
	case "commit":
		message, _ := args["message"].(string)
		if message == "" {
			return &models.ToolResult{Content: "message is required for commit", IsError: true}, nil
		}
		command = "git commit -m " + shellQuote(message)
	case "branch":
		command = "git branch --show-current"
	default:
		return &models.ToolResult{Content: fmt.Sprintf("unknown operation: %q", op), IsError: true}, nil
	}

	dir := ""
	if sctx != nil {
		dir = sctx.WorkingDir
	}
	res, err := t.runner.Run(ctx, command, dir, nil, "")
	if err != nil {
		return &models.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	content := res.Stdout
	if res.Stderr != "" {
		content += res.Stderr
	}
	return &models.ToolResult{
		Content:   content,
		IsError:   res.ExitCode != 0,
		Truncated: res.Truncated,
	}, nil
}

// shellQuote single-quotes a value for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
