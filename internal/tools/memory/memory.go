// Package memory implements the memory_operations tool: the model's
// surface over short-term recall and the project's long-term memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/pkg/models"
)

// Tool is the memory_operations tool.
type Tool struct {
	stm *session.STM
	ltm *session.LTM
}

// New creates the tool bound to a session's STM and the project LTM.
func New(stm *session.STM, ltm *session.LTM) *Tool {
	return &Tool{stm: stm, ltm: ltm}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "memory_operations" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Recall recent conversation, search it, and record durable project knowledge: discoveries, solutions, code patterns, workflows, failures, and per-path context rules."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindThink }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{
					"recall", "search",
					"store_discovery", "store_solution", "store_pattern",
					"record_workflow", "store_failure", "set_context_rule",
				},
				"description": "Memory operation to perform.",
			},
			"query":      map[string]interface{}{"type": "string", "description": "Search query for the search operation."},
			"topic":      map[string]interface{}{"type": "string", "description": "Key for discoveries, patterns, workflows, and failures."},
			"content":    map[string]interface{}{"type": "string", "description": "The insight, solution, pattern, or reason to store."},
			"example":    map[string]interface{}{"type": "string", "description": "Optional example for store_solution."},
			"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1, "description": "Confidence in the stored entry (default 0.5)."},
			"success":    map[string]interface{}{"type": "boolean", "description": "Outcome for record_workflow."},
			"steps":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Steps for record_workflow."},
			"path":       map[string]interface{}{"type": "string", "description": "Path prefix for set_context_rule."},
		},
		"required": []string{"operation"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute dispatches on operation. The session's own STM (from the
// call context) takes precedence over the construction-time ring.
func (t *Tool) Execute(ctx context.Context, sctx *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	_ = ctx
	stm := t.stm
	if sctx != nil && sctx.STM != nil {
		stm = sctx.STM
	}
	if stm == nil {
		stm = session.NewSTM(0)
	}
	op, _ := args["operation"].(string)
	topic, _ := args["topic"].(string)
	content, _ := args["content"].(string)
	confidence := 0.5
	if c, ok := args["confidence"].(float64); ok {
		confidence = c
	}

	switch op {
	case "recall":
		return ok(stm.Describe())

	case "search":
		query, _ := args["query"].(string)
		if query == "" {
			return fail("query is required for search")
		}
		if found, hit := stm.SearchContext(query); hit {
			return ok(found)
		}
		return ok("no matching context found")

	case "store_discovery":
		if topic == "" || content == "" {
			return fail("topic and content are required")
		}
		t.ltm.AddDiscovery(topic, content, confidence)
		return t.saved("discovery", topic)

	case "store_solution":
		if topic == "" || content == "" {
			return fail("topic and content are required")
		}
		example, _ := args["example"].(string)
		t.ltm.AddProblemSolution(topic, content, example, confidence)
		return t.saved("solution", topic)

	case "store_pattern":
		if topic == "" || content == "" {
			return fail("topic and content are required")
		}
		t.ltm.AddCodePattern(topic, content, "", confidence)
		return t.saved("pattern", topic)

	case "record_workflow":
		if topic == "" {
			return fail("topic is required")
		}
		success, _ := args["success"].(bool)
		var steps []string
		if raw, isList := args["steps"].([]any); isList {
			for _, s := range raw {
				if str, isStr := s.(string); isStr {
					steps = append(steps, str)
				}
			}
		}
		t.ltm.AddWorkflow(topic, steps, success)
		return t.saved("workflow", topic)

	case "store_failure":
		if topic == "" || content == "" {
			return fail("topic and content are required")
		}
		t.ltm.AddFailure(topic, content, confidence)
		return t.saved("failure", topic)

	case "set_context_rule":
		path, _ := args["path"].(string)
		if path == "" || content == "" {
			return fail("path and content are required")
		}
		t.ltm.SetContextRule(path, content)
		return t.saved("context rule", path)

	default:
		return fail(fmt.Sprintf("unknown operation: %q", op))
	}
}

func (t *Tool) saved(kind, key string) (*models.ToolResult, error) {
	if err := t.ltm.Save(); err != nil {
		return fail(fmt.Sprintf("persist memory: %v", err))
	}
	return ok(fmt.Sprintf("stored %s %q", kind, key))
}

func ok(content string) (*models.ToolResult, error) {
	return &models.ToolResult{Content: content}, nil
}

func fail(msg string) (*models.ToolResult, error) {
	return &models.ToolResult{Content: msg, IsError: true}, nil
}
