// Package todo implements the session-scoped todo_list tool.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/pkg/models"
)

// Item is one todo entry.
type Item struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Tool is the todo_list tool. State lives for the session only.
type Tool struct {
	mu    sync.Mutex
	next  int
	items []Item
}

// New creates an empty list.
func New() *Tool {
	return &Tool{next: 1}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "todo_list" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Track the current task plan: add, complete, remove, and list todo items."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindThink }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"add", "complete", "remove", "list", "clear"},
				"description": "List operation.",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Item text for add.",
			},
			"id": map[string]interface{}{
				"type":        "integer",
				"description": "Item id for complete/remove.",
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

// Items returns a copy of the current list.
func (t *Tool) Items() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

// Execute dispatches on operation.
func (t *Tool) Execute(ctx context.Context, _ *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	_ = ctx
	op, _ := args["operation"].(string)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch op {
	case "add":
		text, _ := args["text"].(string)
		if text == "" {
			return errResult("text is required for add")
		}
		item := Item{ID: t.next, Text: text}
		t.next++
		t.items = append(t.items, item)
		return t.renderLocked()

	case "complete":
		id := intArg(args, "id")
		for i := range t.items {
			if t.items[i].ID == id {
				t.items[i].Done = true
				return t.renderLocked()
			}
		}
		return errResult(fmt.Sprintf("no item with id %d", id))

	case "remove":
		id := intArg(args, "id")
		for i := range t.items {
			if t.items[i].ID == id {
				t.items = append(t.items[:i], t.items[i+1:]...)
				return t.renderLocked()
			}
		}
		return errResult(fmt.Sprintf("no item with id %d", id))

	case "clear":
		t.items = nil
		return t.renderLocked()

	case "list":
		return t.renderLocked()

	default:
		return errResult(fmt.Sprintf("unknown operation: %q", op))
	}
}

func (t *Tool) renderLocked() (*models.ToolResult, error) {
	payload, err := json.MarshalIndent(map[string]interface{}{"items": t.items}, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("encode result: %v", err))
	}
	return &models.ToolResult{Content: string(payload)}, nil
}

func intArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func errResult(msg string) (*models.ToolResult, error) {
	return &models.ToolResult{Content: msg, IsError: true}, nil
}
