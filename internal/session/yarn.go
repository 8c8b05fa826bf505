package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/clio-agent/clio/pkg/models"
)

// YaRN is the per-session full-fidelity thread archive. Threads are
// append-only and never trimmed; session/load replays from here.
type YaRN struct {
	mu      sync.Mutex
	threads map[string][]models.Message
}

// NewYaRN creates an empty archive.
func NewYaRN() *YaRN {
	return &YaRN{threads: make(map[string][]models.Message)}
}

// RestoreYaRN rebuilds the archive from a persisted state.
func RestoreYaRN(state models.YaRNState) *YaRN {
	y := NewYaRN()
	for id, msgs := range state.Threads {
		y.threads[id] = append([]models.Message(nil), msgs...)
	}
	return y
}

// CreateThread registers a thread id. Creating an existing thread is a
// no-op so replays are idempotent.
func (y *YaRN) CreateThread(id string) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if _, ok := y.threads[id]; !ok {
		y.threads[id] = nil
	}
}

// AddToThread appends a message to a thread, creating it if needed.
func (y *YaRN) AddToThread(id string, msg models.Message) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.threads[id] = append(y.threads[id], msg)
}

// GetThread returns a copy of the thread's messages in append order.
func (y *YaRN) GetThread(id string) ([]models.Message, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	msgs, ok := y.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread not found: %s", id)
	}
	return append([]models.Message(nil), msgs...), nil
}

// ListThreads returns thread ids, sorted for stable output.
func (y *YaRN) ListThreads() []string {
	y.mu.Lock()
	defer y.mu.Unlock()
	ids := make([]string, 0, len(y.threads))
	for id := range y.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SummarizeThread renders a short description of a thread.
func (y *YaRN) SummarizeThread(id string) (string, error) {
	msgs, err := y.GetThread(id)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("thread %s is empty", id), nil
	}

	var firstUser, lastAssistant string
	toolCalls := 0
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			if firstUser == "" {
				firstUser = m.Content
			}
		case models.RoleAssistant:
			if m.Content != "" {
				lastAssistant = m.Content
			}
			toolCalls += len(m.ToolCalls)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d messages, %d tool calls", len(msgs), toolCalls)
	if firstUser != "" {
		fmt.Fprintf(&b, "; started with: %s", truncate(firstUser, 120))
	}
	if lastAssistant != "" {
		fmt.Fprintf(&b, "; last reply: %s", truncate(lastAssistant, 120))
	}
	return b.String(), nil
}

// State snapshots the archive for persistence.
func (y *YaRN) State() models.YaRNState {
	y.mu.Lock()
	defer y.mu.Unlock()
	threads := make(map[string][]models.Message, len(y.threads))
	for id, msgs := range y.threads {
		threads[id] = append([]models.Message(nil), msgs...)
	}
	return models.YaRNState{Threads: threads}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
