// Package files implements the file_operations tool: sandboxed reads and
// vault-backed mutations within the session working directory.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	MaxReadBytes int
}

// Tool is the file_operations tool.
type Tool struct {
	maxReadLen int
}

// New creates the tool.
func New(cfg Config) *Tool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &Tool{maxReadLen: limit}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "file_operations" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Read, write, edit, list, delete, or rename files inside the project. Mutations are backed up and undoable."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindEdit }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"read", "write", "edit", "list", "delete", "rename"},
				"description": "Operation to perform.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Target path (relative to the project root).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File contents for write.",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Text to replace for edit.",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text for edit.",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace all occurrences (default: false).",
			},
			"new_path": map[string]interface{}{
				"type":        "string",
				"description": "Destination path for rename.",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Byte offset to start reading from (default: 0).",
				"minimum":     0,
			},
			"max_bytes": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum bytes to read (capped by tool default).",
				"minimum":     0,
			},
		},
		"required": []string{"operation", "path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute dispatches on operation.
func (t *Tool) Execute(ctx context.Context, sctx *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	_ = ctx
	op, _ := args["operation"].(string)
	path, _ := args["path"].(string)
	if strings.TrimSpace(path) == "" {
		return toolError("path is required"), nil
	}
	if sctx == nil || sctx.Authorizer == nil {
		return toolError("no sandbox configured"), nil
	}

	resolved, err := sctx.Authorizer.Resolve(path)
	if err != nil {
		return toolError(fmt.Sprintf("denied: %v", err)), nil
	}

	switch op {
	case "read":
		return t.read(resolved, args)
	case "list":
		return t.list(resolved, path)
	case "write":
		return t.write(sctx, resolved, path, args)
	case "edit":
		return t.edit(sctx, resolved, path, args)
	case "delete":
		return t.delete(sctx, resolved, path)
	case "rename":
		return t.rename(sctx, resolved, path, args)
	default:
		return toolError(fmt.Sprintf("unknown operation: %q", op)), nil
	}
}

func (t *Tool) read(resolved string, args map[string]any) (*models.ToolResult, error) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	offset := intArg(args, "offset", 0)
	if offset > len(data) {
		offset = len(data)
	}
	data = data[offset:]

	limit := intArg(args, "max_bytes", t.maxReadLen)
	if limit > t.maxReadLen {
		limit = t.maxReadLen
	}
	truncated := false
	if len(data) > limit {
		data = data[:limit]
		truncated = true
	}

	res := &models.ToolResult{Content: string(data), Truncated: truncated}
	if truncated {
		res.Content += fmt.Sprintf("\n[truncated at %d bytes; re-read with offset=%d]", limit, offset+limit)
	}
	return res, nil
}

func (t *Tool) list(resolved, path string) (*models.ToolResult, error) {
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("list directory: %v", err)), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return jsonResult(map[string]interface{}{"path": path, "entries": names})
}

func (t *Tool) write(sctx *toolexec.SessionCtx, resolved, path string, args map[string]any) (*models.ToolResult, error) {
	content, ok := args["content"].(string)
	if !ok {
		return toolError("content is required for write"), nil
	}
	if err := t.backup(sctx, resolved); err != nil {
		return toolError(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"path": path, "bytes_written": len(content)})
}

func (t *Tool) edit(sctx *toolexec.SessionCtx, resolved, path string, args map[string]any) (*models.ToolResult, error) {
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if oldText == "" {
		return toolError("old_text is required for edit"), nil
	}
	replaceAll, _ := args["replace_all"].(bool)

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)
	if !strings.Contains(content, oldText) {
		return toolError("old_text not found"), nil
	}

	replacements := 1
	if replaceAll {
		replacements = strings.Count(content, oldText)
		content = strings.ReplaceAll(content, oldText, newText)
	} else {
		content = strings.Replace(content, oldText, newText, 1)
	}

	if err := t.backup(sctx, resolved); err != nil {
		return toolError(err.Error()), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"path": path, "replacements": replacements})
}

func (t *Tool) delete(sctx *toolexec.SessionCtx, resolved, path string) (*models.ToolResult, error) {
	if _, err := os.Stat(resolved); err != nil {
		return toolError(fmt.Sprintf("delete: %v", err)), nil
	}
	if err := t.backup(sctx, resolved); err != nil {
		return toolError(err.Error()), nil
	}
	if err := os.Remove(resolved); err != nil {
		return toolError(fmt.Sprintf("delete: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"path": path, "deleted": true})
}

func (t *Tool) rename(sctx *toolexec.SessionCtx, resolved, path string, args map[string]any) (*models.ToolResult, error) {
	newPath, _ := args["new_path"].(string)
	if strings.TrimSpace(newPath) == "" {
		return toolError("new_path is required for rename"), nil
	}
	newResolved, err := sctx.Authorizer.Resolve(newPath)
	if err != nil {
		return toolError(fmt.Sprintf("denied: %v", err)), nil
	}
	if sctx.Vault != nil && sctx.TurnID != "" {
		if err := sctx.Vault.BeforeRename(sctx.TurnID, resolved, newResolved); err != nil {
			return toolError(fmt.Sprintf("vault backup: %v", err)), nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(newResolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}
	if err := os.Rename(resolved, newResolved); err != nil {
		return toolError(fmt.Sprintf("rename: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"path": path, "new_path": newPath})
}

// backup records the pre-turn state before any mutation.
func (t *Tool) backup(sctx *toolexec.SessionCtx, resolved string) error {
	if sctx.Vault == nil || sctx.TurnID == "" {
		return nil
	}
	if err := sctx.Vault.BeforeWrite(sctx.TurnID, resolved); err != nil {
		return fmt.Errorf("vault backup: %w", err)
	}
	return nil
}

func intArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok && v >= 0 {
		return int(v)
	}
	return fallback
}

func toolError(msg string) *models.ToolResult {
	return &models.ToolResult{Content: msg, IsError: true}
}

func jsonResult(v map[string]interface{}) (*models.ToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &models.ToolResult{Content: string(payload)}, nil
}
