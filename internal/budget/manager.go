// Package budget keeps provider payloads inside the model context
// window: it estimates the token cost of the system prompt, the tool
// schemas, and history, and trims whole messages from the oldest end
// while preserving assistant/tool-result pairing.
package budget

import (
	"errors"
	"fmt"

	"github.com/clio-agent/clio/internal/tokens"
	"github.com/clio-agent/clio/pkg/models"
)

// ErrOverBudget reports that nothing more can be trimmed and the payload
// still exceeds the window.
var ErrOverBudget = errors.New("context exceeds budget and cannot be trimmed further")

// Config tunes the manager.
type Config struct {
	// MaxContextTokens is the model window.
	MaxContextTokens int

	// BudgetRatio is the share of the window given to input. Default 0.58.
	BudgetRatio float64

	// ResponseReserve caps input at window-reserve when that is tighter
	// than the ratio.
	ResponseReserve int
}

// TrimReport describes what Shape dropped.
type TrimReport struct {
	DroppedMessages int
	DroppedTurns    int
	InputTokens     int
}

// Manager shapes message slices to the budget and feeds provider usage
// back into the token estimator.
type Manager struct {
	est *tokens.Estimator
	cfg Config

	// lastChars is the character size of the last shaped payload, used to
	// refine the estimator when the provider reports exact prompt tokens.
	lastChars int
}

// NewManager creates a manager. est must not be nil.
func NewManager(est *tokens.Estimator, cfg Config) *Manager {
	if cfg.BudgetRatio <= 0 || cfg.BudgetRatio >= 1 {
		cfg.BudgetRatio = 0.58
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 200000
	}
	return &Manager{est: est, cfg: cfg}
}

// Budget returns the input token budget.
func (m *Manager) Budget() int {
	budget := int(float64(m.cfg.MaxContextTokens) * m.cfg.BudgetRatio)
	if m.cfg.ResponseReserve > 0 {
		if hard := m.cfg.MaxContextTokens - m.cfg.ResponseReserve; hard < budget {
			budget = hard
		}
	}
	return budget
}

// Shape fits messages plus tool schemas into the budget. messages[0]
// must be the system message and the final message the current user
// message; neither is ever dropped. When trimming happens a placeholder
// naming the dropped span is inserted after the system message.
func (m *Manager) Shape(messages []models.Message, tools []models.ToolDef) ([]models.Message, TrimReport, error) {
	budget := m.Budget()
	toolTokens := m.estimateTools(tools)

	total := m.est.EstimateMessages(messages) + toolTokens
	if total <= budget {
		m.noteChars(messages, tools)
		return messages, TrimReport{InputTokens: total}, nil
	}

	if len(messages) < 2 {
		return nil, TrimReport{InputTokens: total}, fmt.Errorf("%w: %d tokens over a %d budget", ErrOverBudget, total, budget)
	}

	// Everything from the current user message onward is protected: the
	// prompt itself plus any tool exchanges already made for it.
	tailStart := len(messages) - 1
	for i := len(messages) - 1; i >= 1; i-- {
		if messages[i].Role == models.RoleUser {
			tailStart = i
			break
		}
	}

	head := messages[0]
	tail := messages[tailStart:]
	middle := messages[1:tailStart]
	groups := groupPairs(middle)

	report := TrimReport{}
	dropFrom := 0
	for dropFrom < len(groups) {
		kept := flatten(groups[dropFrom:])
		candidate := make([]models.Message, 0, len(kept)+len(tail)+2)
		candidate = append(candidate, head)
		candidate = append(candidate, m.placeholder(report))
		candidate = append(candidate, kept...)
		candidate = append(candidate, tail...)

		total = m.est.EstimateMessages(candidate) + toolTokens
		if total <= budget {
			report.InputTokens = total
			m.noteChars(candidate, tools)
			return candidate, report, nil
		}

		g := groups[dropFrom]
		report.DroppedMessages += len(g)
		if g[0].Role == models.RoleUser {
			report.DroppedTurns++
		}
		dropFrom++
	}

	// Everything droppable is gone; try system + placeholder + the
	// protected tail.
	candidate := append([]models.Message{head, m.placeholder(report)}, tail...)
	total = m.est.EstimateMessages(candidate) + toolTokens
	if total <= budget {
		report.InputTokens = total
		m.noteChars(candidate, tools)
		return candidate, report, nil
	}
	return nil, TrimReport{InputTokens: total}, fmt.Errorf(
		"%w: %d tokens over a %d budget with only the system and current messages left",
		ErrOverBudget, total, budget)
}

// ObserveUsage refines the estimator from a provider-reported prompt
// token count for the last shaped payload. Absent usage keeps the
// current ratio.
func (m *Manager) ObserveUsage(promptTokens int64) {
	if promptTokens <= 0 || m.lastChars <= 0 {
		return
	}
	m.est.SetLearnedRatio(m.lastChars, promptTokens)
}

func (m *Manager) placeholder(r TrimReport) models.Message {
	return models.Message{
		Role: models.RoleSystem,
		Content: fmt.Sprintf("[context trimmed: %d earlier messages from %d turns were dropped]",
			r.DroppedMessages, r.DroppedTurns),
	}
}

func (m *Manager) estimateTools(tools []models.ToolDef) int {
	total := 0
	for _, t := range tools {
		total += m.est.EstimateText(t.Name)
		total += m.est.EstimateText(t.Description)
		total += m.est.EstimateText(string(t.Schema))
	}
	return total
}

func (m *Manager) noteChars(messages []models.Message, tools []models.ToolDef) {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}
	for _, t := range tools {
		chars += len(t.Name) + len(t.Description) + len(t.Schema)
	}
	m.lastChars = chars
}

// groupPairs splits messages into indivisible drop units: an assistant
// message carrying tool calls travels with its tool results, and a tool
// result can never be orphaned from its parent.
func groupPairs(messages []models.Message) [][]models.Message {
	var groups [][]models.Message
	i := 0
	for i < len(messages) {
		msg := messages[i]
		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			group := []models.Message{msg}
			j := i + 1
			for j < len(messages) && messages[j].Role == models.RoleTool {
				group = append(group, messages[j])
				j++
			}
			groups = append(groups, group)
			i = j
			continue
		}
		if msg.Role == models.RoleTool {
			// Orphaned result (parent outside the droppable range);
			// attach it to the previous group rather than strand it.
			if len(groups) > 0 {
				groups[len(groups)-1] = append(groups[len(groups)-1], msg)
			} else {
				groups = append(groups, []models.Message{msg})
			}
			i++
			continue
		}
		groups = append(groups, []models.Message{msg})
		i++
	}
	return groups
}

func flatten(groups [][]models.Message) []models.Message {
	var out []models.Message
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
