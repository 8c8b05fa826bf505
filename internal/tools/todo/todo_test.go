package todo

import (
	"context"
	"encoding/json"
	"testing"
)

func exec(t *testing.T, tool *Tool, args map[string]any) (string, bool) {
	t.Helper()
	res, err := tool.Execute(context.Background(), nil, args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res.Content, res.IsError
}

func TestTodo_AddCompleteRemove(t *testing.T) {
	tool := New()

	exec(t, tool, map[string]any{"operation": "add", "text": "write tests"})
	exec(t, tool, map[string]any{"operation": "add", "text": "run linter"})

	items := tool.Items()
	if len(items) != 2 || items[0].ID != 1 || items[1].ID != 2 {
		t.Fatalf("items = %+v", items)
	}

	exec(t, tool, map[string]any{"operation": "complete", "id": float64(1)})
	items = tool.Items()
	if !items[0].Done || items[1].Done {
		t.Errorf("after complete: %+v", items)
	}

	exec(t, tool, map[string]any{"operation": "remove", "id": float64(2)})
	items = tool.Items()
	if len(items) != 1 || items[0].Text != "write tests" {
		t.Errorf("after remove: %+v", items)
	}
}

func TestTodo_ListJSON(t *testing.T) {
	tool := New()
	exec(t, tool, map[string]any{"operation": "add", "text": "one"})
	out, isErr := exec(t, tool, map[string]any{"operation": "list"})
	if isErr {
		t.Fatal("list errored")
	}
	var payload struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("not JSON: %q", out)
	}
	if len(payload.Items) != 1 || payload.Items[0].Text != "one" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestTodo_Errors(t *testing.T) {
	tool := New()
	if _, isErr := exec(t, tool, map[string]any{"operation": "add"}); !isErr {
		t.Error("add without text should error")
	}
	if _, isErr := exec(t, tool, map[string]any{"operation": "complete", "id": float64(9)}); !isErr {
		t.Error("completing unknown id should error")
	}
	if _, isErr := exec(t, tool, map[string]any{"operation": "explode"}); !isErr {
		t.Error("unknown operation should error")
	}
}
