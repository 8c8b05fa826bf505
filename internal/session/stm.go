// Package session implements the per-project session substrate: the
// short-term message ring (STM), the shared long-term memory file (LTM),
// the append-only thread archive (YaRN), the cross-process session lock,
// and atomic session persistence under .clio/sessions/.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/clio-agent/clio/pkg/models"
)

// DefaultSTMSize is the short-term memory cap when none is configured.
const DefaultSTMSize = 20

// conversationTags strips markup the model sometimes wraps replies in so
// STM holds plain content only.
var conversationTags = regexp.MustCompile(`</?(?:thinking|response|answer|result|message)>`)

// STM is a capped FIFO of recent messages for quick context recall.
type STM struct {
	mu      sync.Mutex
	maxSize int
	entries []models.STMEntry

	// lastOrdinal remembers the most recent ordinal query so "repeat it"
	// can re-resolve it.
	lastOrdinal string
}

// NewSTM creates an empty STM. maxSize <= 0 uses DefaultSTMSize.
func NewSTM(maxSize int) *STM {
	if maxSize <= 0 {
		maxSize = DefaultSTMSize
	}
	return &STM{maxSize: maxSize}
}

// RebuildSTM reconstructs an STM from full history, keeping only user and
// assistant turns with content.
func RebuildSTM(maxSize int, history []models.Message) *STM {
	s := NewSTM(maxSize)
	for _, m := range history {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		s.Add(m.Role, m.Content)
	}
	return s
}

// Add appends a stripped entry, evicting the oldest when over capacity.
func (s *STM) Add(role models.Role, content string) {
	stripped := strings.TrimSpace(conversationTags.ReplaceAllString(content, ""))
	if stripped == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, models.STMEntry{Role: role, Content: stripped})
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Context returns a copy of the current entries, oldest first.
func (s *STM) Context() []models.STMEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.STMEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// State snapshots the ring for persistence.
func (s *STM) State() models.STMState {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]models.STMEntry, len(s.entries))
	copy(entries, s.entries)
	return models.STMState{History: entries, MaxSize: s.maxSize}
}

// Restore replaces the ring from a persisted state.
func (s *STM) Restore(state models.STMState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.MaxSize > 0 {
		s.maxSize = state.MaxSize
	}
	s.entries = append([]models.STMEntry(nil), state.History...)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

var ordinalWords = map[string]int{
	"first": 1, "1st": 1,
	"second": 2, "2nd": 2,
	"third": 3, "3rd": 3,
	"fourth": 4, "4th": 4,
	"fifth": 5, "5th": 5,
}

var (
	ordinalQuery = regexp.MustCompile(`(?i)\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th|last)\s+(?:thing|message)\b`)
	keywordQuery = regexp.MustCompile(`(?i)\bwhat did i say about\s+(.+?)\??$`)
	repeatQuery  = regexp.MustCompile(`(?i)\brepeat\s+(it|that)\b`)
)

// SearchContext answers a natural-language recall query against the ring:
// ordinal references ("first thing I said"), keyword lookups ("what did I
// say about X"), and the contextual "repeat it/that", which re-resolves
// the most recent ordinal query.
func (s *STM) SearchContext(query string) (string, bool) {
	q := strings.TrimSpace(query)

	if repeatQuery.MatchString(q) {
		s.mu.Lock()
		last := s.lastOrdinal
		s.mu.Unlock()
		if last == "" {
			return "", false
		}
		return s.resolveOrdinal(last)
	}

	if m := ordinalQuery.FindStringSubmatch(q); m != nil {
		word := strings.ToLower(m[1])
		s.mu.Lock()
		s.lastOrdinal = word
		s.mu.Unlock()
		return s.resolveOrdinal(word)
	}

	if m := keywordQuery.FindStringSubmatch(q); m != nil {
		keyword := strings.ToLower(strings.Trim(m[1], ` "'.`))
		for _, e := range s.userEntries() {
			if strings.Contains(strings.ToLower(e.Content), keyword) {
				return e.Content, true
			}
		}
		return "", false
	}

	return "", false
}

func (s *STM) resolveOrdinal(word string) (string, bool) {
	users := s.userEntries()
	if len(users) == 0 {
		return "", false
	}
	if word == "last" {
		return users[len(users)-1].Content, true
	}
	n, ok := ordinalWords[word]
	if !ok || n > len(users) {
		return "", false
	}
	return users[n-1].Content, true
}

func (s *STM) userEntries() []models.STMEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.STMEntry
	for _, e := range s.entries {
		if e.Role == models.RoleUser {
			out = append(out, e)
		}
	}
	return out
}

// Describe renders the ring as numbered lines for tool output.
func (s *STM) Describe() string {
	entries := s.Context()
	if len(entries) == 0 {
		return "short-term memory is empty"
	}
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, e.Role, e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
