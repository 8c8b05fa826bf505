// Package coderef implements the code_intelligence tool. The embedding
// index is an external collaborator; this tool only performs bounded
// lexical lookups (definitions and references by text match) so the model
// can navigate without the index being available.
package coderef

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/pkg/models"
)

const (
	maxMatches   = 100
	maxFileBytes = 1 << 20
)

// skipDirs are never scanned.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".clio": true, "dist": true, "target": true,
}

// Tool is the code_intelligence tool.
type Tool struct{}

// New creates the tool.
func New() *Tool { return &Tool{} }

// Name returns the tool name.
func (t *Tool) Name() string { return "code_intelligence" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Find symbol definitions and references in the project by exact text search."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindRead }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"symbol": map[string]interface{}{
				"type":        "string",
				"description": "Symbol or text to look up.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Subdirectory to scope the search (default: project root).",
			},
			"extensions": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "File extensions to include, e.g. [\".go\"].",
			},
		},
		"required": []string{"symbol"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute scans the sandbox for matches.
func (t *Tool) Execute(ctx context.Context, sctx *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	symbol, _ := args["symbol"].(string)
	if strings.TrimSpace(symbol) == "" {
		return &models.ToolResult{Content: "symbol is required", IsError: true}, nil
	}
	if sctx == nil || sctx.Authorizer == nil {
		return &models.ToolResult{Content: "no sandbox configured", IsError: true}, nil
	}

	scope := "."
	if p, ok := args["path"].(string); ok && p != "" {
		scope = p
	}
	root, err := sctx.Authorizer.Resolve(scope)
	if err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("denied: %v", err), IsError: true}, nil
	}

	var exts map[string]bool
	if raw, ok := args["extensions"].([]any); ok && len(raw) > 0 {
		exts = map[string]bool{}
		for _, e := range raw {
			if s, ok := e.(string); ok {
				exts[s] = true
			}
		}
	}

	var matches []string
	truncated := false
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if exts != nil && !exts[filepath.Ext(path)] {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileBytes {
			return nil
		}
		if len(matches) >= maxMatches {
			truncated = true
			return filepath.SkipAll
		}
		scanFile(path, root, symbol, &matches)
		return nil
	})
	if err != nil && err != context.Canceled {
		return &models.ToolResult{Content: fmt.Sprintf("scan failed: %v", err), IsError: true}, nil
	}

	if len(matches) == 0 {
		return &models.ToolResult{Content: fmt.Sprintf("no matches for %q", symbol)}, nil
	}
	content := strings.Join(matches, "\n")
	if truncated {
		content += fmt.Sprintf("\n[stopped after %d matches]", maxMatches)
	}
	return &models.ToolResult{Content: content, Truncated: truncated}, nil
}

func scanFile(path, root, symbol string, matches *[]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !strings.Contains(line, symbol) {
			continue
		}
		*matches = append(*matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(line)))
		if len(*matches) >= maxMatches {
			return
		}
	}
}
