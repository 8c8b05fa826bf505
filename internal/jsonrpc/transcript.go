package jsonrpc

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clio-agent/clio/pkg/models"
)

// RepairReport summarizes what RepairTranscript changed.
type RepairReport struct {
	Messages              []models.Message
	Added                 []models.Message
	DroppedDuplicateCount int
	DroppedOrphanCount    int
	Moved                 bool
}

// RepairTranscript enforces invariant 1: every assistant message with
// ToolCalls=[c1..cn] must be followed, in order, by tool messages whose
// ToolCallID runs through c1..cn. It moves matching tool messages directly
// after their assistant turn, inserts synthetic error results for tool calls
// missing a result, and drops duplicate or orphan tool messages.
func RepairTranscript(messages []models.Message) RepairReport {
	report := RepairReport{Messages: make([]models.Message, 0, len(messages))}
	seen := make(map[string]bool)
	changed := false

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if msg.Role != models.RoleAssistant {
			if msg.Role == models.RoleTool {
				// A tool message here, outside the loop below, is orphaned:
				// it did not immediately follow its assistant turn.
				report.DroppedOrphanCount++
				changed = true
				continue
			}
			report.Messages = append(report.Messages, msg)
			continue
		}

		if len(msg.ToolCalls) == 0 {
			report.Messages = append(report.Messages, msg)
			continue
		}

		pendingOrder := make([]string, 0, len(msg.ToolCalls))
		pending := make(map[string]bool, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" {
				continue
			}
			pendingOrder = append(pendingOrder, tc.ID)
			pending[tc.ID] = true
		}

		results := make(map[string]models.Message)
		var remainder []models.Message

		j := i + 1
		for ; j < len(messages); j++ {
			next := messages[j]
			if next.Role == models.RoleAssistant {
				break
			}
			if next.Role != models.RoleTool {
				remainder = append(remainder, next)
				continue
			}

			id := next.ToolCallID
			if !pending[id] {
				report.DroppedOrphanCount++
				changed = true
				continue
			}
			if seen[id] {
				report.DroppedDuplicateCount++
				changed = true
				continue
			}
			seen[id] = true
			delete(pending, id)
			results[id] = next
		}

		report.Messages = append(report.Messages, msg)
		if len(results) > 0 && len(remainder) > 0 {
			report.Moved = true
			changed = true
		}

		for _, tc := range msg.ToolCalls {
			if r, ok := results[tc.ID]; ok {
				report.Messages = append(report.Messages, r)
				continue
			}
			if seen[tc.ID] {
				continue
			}
			synthetic := missingResult(tc.ID, tc.Name, msg.CreatedAt)
			report.Added = append(report.Added, synthetic)
			report.Messages = append(report.Messages, synthetic)
			seen[tc.ID] = true
			changed = true
		}

		report.Messages = append(report.Messages, remainder...)
		i = j - 1
	}

	if !changed {
		report.Messages = messages
	}
	return report
}

func missingResult(toolCallID, toolName string, parent time.Time) models.Message {
	if toolName == "" {
		toolName = "unknown"
	}
	created := time.Now()
	if !parent.IsZero() {
		created = parent.Add(time.Nanosecond)
	}
	return models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		ToolCallID: toolCallID,
		Content:    fmt.Sprintf("missing tool result for %q; synthesized during transcript repair", toolName),
		IsError:    true,
		CreatedAt:  created,
	}
}

// ValidatePairing returns the tool-call IDs that have no matching result,
// scanning in document order without repairing anything.
func ValidatePairing(messages []models.Message) []string {
	pending := make(map[string]bool)
	var missing []string
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			for id := range pending {
				missing = append(missing, id)
			}
			pending = make(map[string]bool)
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
		case models.RoleTool:
			delete(pending, msg.ToolCallID)
		}
	}
	for id := range pending {
		missing = append(missing, id)
	}
	return missing
}
