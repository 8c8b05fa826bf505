package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clio-agent/clio/internal/jsonrpc"
	"github.com/clio-agent/clio/pkg/models"
)

// Session is the live, lock-owned view of one conversation. It wraps the
// persisted models.Session with the STM ring and YaRN archive and guards
// all mutation behind its own lock; the Orchestrator is the only writer.
type Session struct {
	mu   sync.Mutex
	data models.Session

	stm  *STM
	yarn *YaRN

	path string
	lock *Lock
}

// Store creates and opens sessions under a .clio/sessions directory.
type Store struct {
	dir        string
	stmMaxSize int
}

// NewStore creates a session store rooted at dir.
func NewStore(dir string, stmMaxSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	if stmMaxSize <= 0 {
		stmMaxSize = DefaultSTMSize
	}
	return &Store{dir: dir, stmMaxSize: stmMaxSize}, nil
}

// Create makes a new session owned by this process.
func (st *Store) Create(workingDir string) (*Session, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	lock, err := AcquireLock(st.lockPath(id), false)
	if err != nil {
		return nil, err
	}

	s := &Session{
		data: models.Session{
			ID:         id,
			WorkingDir: workingDir,
			CreatedAt:  now,
			UpdatedAt:  now,
			STM:        models.STMState{MaxSize: st.stmMaxSize},
			YaRN:       models.YaRNState{Threads: map[string][]models.Message{}},
		},
		stm:  NewSTM(st.stmMaxSize),
		yarn: NewYaRN(),
		path: st.sessionPath(id),
		lock: lock,
	}
	s.yarn.CreateThread("main")
	if err := s.Save(); err != nil {
		lock.Release()
		return nil, err
	}
	return s, nil
}

// Load opens an existing session, acquiring its lock and repairing the
// transcript pairing before anything reads it. A corrupt session file is
// an error; it is never silently reset.
func (st *Store) Load(id string, force bool) (*Session, error) {
	if !validSessionID(id) {
		return nil, fmt.Errorf("invalid session id: %q", id)
	}
	path := st.sessionPath(id)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", id, err)
	}
	var data models.Session
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", path, err)
	}

	lock, err := AcquireLock(st.lockPath(id), force)
	if err != nil {
		return nil, err
	}

	repaired := jsonrpc.RepairTranscript(data.History)
	data.History = repaired.Messages

	s := &Session{
		data: data,
		stm:  RebuildSTM(data.STM.MaxSize, data.History),
		yarn: RestoreYaRN(data.YaRN),
		path: path,
		lock: lock,
	}
	return s, nil
}

// List returns the ids of sessions on disk.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

// Delete removes a session's file and lock. The caller must not hold the
// session open.
func (st *Store) Delete(id string) error {
	if !validSessionID(id) {
		return fmt.Errorf("invalid session id: %q", id)
	}
	if err := os.Remove(st.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(st.lockPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (st *Store) sessionPath(id string) string {
	return filepath.Join(st.dir, id+".json")
}

func (st *Store) lockPath(id string) string {
	return filepath.Join(st.dir, id+".lock")
}

func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ID
}

// WorkingDir returns the sandbox root for the session.
func (s *Session) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.WorkingDir
}

// History returns a copy of the ordered message history.
func (s *Session) History() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.data.History...)
}

// STM exposes the short-term memory ring.
func (s *Session) STM() *STM { return s.stm }

// YaRN exposes the thread archive.
func (s *Session) YaRN() *YaRN { return s.yarn }

// AddMessage appends to history, the STM ring, and the main YaRN thread.
func (s *Session) AddMessage(msg models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.data.History = append(s.data.History, msg)
	s.data.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.stm.Add(msg.Role, msg.Content)
	s.yarn.AddToThread("main", msg)
}

// RecordAPIUsage folds a provider's reported usage into billing.
func (s *Session) RecordAPIUsage(model string, promptTokens, completionTokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Billing.Record(model, promptTokens, completionTokens)
}

// Usage returns the accumulated billing counters.
func (s *Session) Usage() models.UsageCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Billing
}

// SetPendingPrompt marks a prompt in flight; empty clears it.
func (s *Session) SetPendingPrompt(promptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PendingPromptID = promptID
}

// PendingPrompt returns the in-flight prompt id, if any.
func (s *Session) PendingPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.PendingPromptID
}

// Cancel flags the session; streaming callbacks observe it per delta.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Cancelled = true
}

// ClearCancelled resets the flag at the start of a new turn.
func (s *Session) ClearCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Cancelled = false
}

// Cancelled reports whether the session's current turn was cancelled.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Cancelled
}

// Save persists the session JSON atomically.
func (s *Session) Save() error {
	s.mu.Lock()
	s.data.STM = s.stm.State()
	s.data.YaRN = s.yarn.State()
	data, err := json.MarshalIndent(s.data, "", "  ")
	path := s.path
	s.mu.Unlock()
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, path)
}

// Cleanup releases the session lock. The session file stays on disk.
func (s *Session) Cleanup() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Release()
}
