// Package resultread implements the read_tool_result tool: fetching
// spilled tool outputs back from the result store, in slices.
package resultread

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clio-agent/clio/internal/resultstore"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/pkg/models"
)

// DefaultSliceBytes bounds one read so a spilled result cannot flood the
// conversation it was spilled to protect.
const DefaultSliceBytes = 16 << 10

// Tool is the read_tool_result tool.
type Tool struct {
	store *resultstore.Store
}

// New creates the tool.
func New(store *resultstore.Store) *Tool {
	return &Tool{store: store}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "read_tool_result" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Read a stored tool result by tool_call_id, optionally a slice of it."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindRead }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tool_call_id": map[string]interface{}{
				"type":        "string",
				"description": "Id of the stored result to read.",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Byte offset to start from (default 0).",
				"minimum":     0,
			},
			"max_bytes": map[string]interface{}{
				"type":        "integer",
				"description": "Bytes to return (default 16 KiB).",
				"minimum":     1,
			},
		},
		"required": []string{"tool_call_id"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute reads a stored result slice.
func (t *Tool) Execute(ctx context.Context, sctx *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	_ = ctx
	callID, _ := args["tool_call_id"].(string)
	if callID == "" {
		return &models.ToolResult{Content: "tool_call_id is required", IsError: true}, nil
	}
	if sctx == nil || t.store == nil {
		return &models.ToolResult{Content: "result store unavailable", IsError: true}, nil
	}

	data, err := t.store.Get(sctx.SessionID, callID)
	if err != nil {
		return &models.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	offset := 0
	if v, ok := args["offset"].(float64); ok && v > 0 {
		offset = int(v)
	}
	if offset > len(data) {
		offset = len(data)
	}
	limit := DefaultSliceBytes
	if v, ok := args["max_bytes"].(float64); ok && v > 0 {
		limit = int(v)
	}

	slice := data[offset:]
	truncated := false
	if len(slice) > limit {
		slice = slice[:limit]
		truncated = true
	}

	content := string(slice)
	if truncated {
		content += fmt.Sprintf("\n[%d of %d bytes; continue with offset=%d]",
			offset+len(slice), len(data), offset+len(slice))
	}
	return &models.ToolResult{Content: content, Truncated: truncated}, nil
}
