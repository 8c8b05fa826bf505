package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/pkg/models"
)

func newTool(t *testing.T) *Tool {
	t.Helper()
	ltm, err := session.OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))
	if err != nil {
		t.Fatal(err)
	}
	return New(session.NewSTM(10), ltm)
}

func TestMemory_StoreDiscovery(t *testing.T) {
	tool := newTool(t)
	res, err := tool.Execute(context.Background(), nil, map[string]any{
		"operation":  "store_discovery",
		"topic":      "build",
		"content":    "uses make",
		"confidence": 0.8,
	})
	if err != nil || res.IsError {
		t.Fatalf("res = %+v, %v", res, err)
	}
	if !strings.Contains(res.Content, "build") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestMemory_RecallAndSearch(t *testing.T) {
	tool := newTool(t)
	tool.stm.Add(models.RoleUser, "remember the deploy runs on fridays")

	res, _ := tool.Execute(context.Background(), nil, map[string]any{"operation": "recall"})
	if !strings.Contains(res.Content, "deploy runs on fridays") {
		t.Errorf("recall = %q", res.Content)
	}

	res, _ = tool.Execute(context.Background(), nil, map[string]any{
		"operation": "search",
		"query":     "what did I say about the deploy",
	})
	if res.IsError || !strings.Contains(res.Content, "fridays") {
		t.Errorf("search = %+v", res)
	}
}

func TestMemory_RequiredFields(t *testing.T) {
	tool := newTool(t)
	res, _ := tool.Execute(context.Background(), nil, map[string]any{"operation": "store_discovery"})
	if !res.IsError {
		t.Error("missing topic/content should error")
	}
	res, _ = tool.Execute(context.Background(), nil, map[string]any{"operation": "bogus"})
	if !res.IsError {
		t.Error("unknown operation should error")
	}
}

func TestMemory_ContextRule(t *testing.T) {
	tool := newTool(t)
	res, _ := tool.Execute(context.Background(), nil, map[string]any{
		"operation": "set_context_rule",
		"path":      "internal/",
		"content":   "private packages",
	})
	if res.IsError {
		t.Fatalf("res = %+v", res)
	}
	rules := tool.ltm.RulesFor("internal/session/stm.go")
	if len(rules) != 1 || rules[0] != "private packages" {
		t.Errorf("rules = %v", rules)
	}
}
