package vault

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BackupKind distinguishes the three capture forms.
type BackupKind string

const (
	// BackupOriginal holds the pre-turn bytes of a modified or deleted file.
	BackupOriginal BackupKind = "original"
	// BackupTombstone marks a file that did not exist before the turn.
	BackupTombstone BackupKind = "tombstone"
	// BackupRename records that the file was moved to RenameTarget.
	BackupRename BackupKind = "rename"
)

// BackupEntry is one captured path within a turn.
type BackupEntry struct {
	Path         string     `json:"path"`
	Kind         BackupKind `json:"kind"`
	Blob         string     `json:"blob,omitempty"`
	Mode         os.FileMode `json:"mode,omitempty"`
	RenameTarget string     `json:"rename_target,omitempty"`
	CapturedAt   time.Time  `json:"captured_at"`
}

// TurnRecord is the persisted manifest for one user turn.
type TurnRecord struct {
	TurnID    string        `json:"turn_id"`
	Prompt    string        `json:"prompt"`
	StartedAt time.Time     `json:"started_at"`
	ClosedAt  time.Time     `json:"closed_at,omitempty"`
	Backups   []BackupEntry `json:"backups"`
}

// FileVault captures pre-turn file state under a vault directory, one
// subdirectory per turn. The first mutation of a path within a turn wins;
// later captures of the same path are no-ops, so UndoTurn restores the
// state at turn start rather than an intermediate one.
type FileVault struct {
	mu   sync.Mutex
	root string

	// open turns, keyed by turn id
	turns map[string]*turnState
}

type turnState struct {
	record   TurnRecord
	captured map[string]bool
}

// NewFileVault creates a vault rooted at dir (typically
// .clio/vault/<session>). The directory is created on first capture.
func NewFileVault(dir string) *FileVault {
	return &FileVault{root: dir, turns: make(map[string]*turnState)}
}

// BeginTurn opens a new turn record and returns its id.
func (v *FileVault) BeginTurn(prompt string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := uuid.NewString()
	st := &turnState{
		record: TurnRecord{
			TurnID:    id,
			Prompt:    prompt,
			StartedAt: time.Now().UTC(),
		},
		captured: make(map[string]bool),
	}
	v.turns[id] = st
	if err := os.MkdirAll(v.turnDir(id), 0o755); err != nil {
		delete(v.turns, id)
		return "", fmt.Errorf("create vault turn dir: %w", err)
	}
	if err := v.saveManifestLocked(st); err != nil {
		delete(v.turns, id)
		return "", err
	}
	return id, nil
}

// CloseTurn marks the turn finished. The record stays on disk for undo.
func (v *FileVault) CloseTurn(turnID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.turns[turnID]
	if !ok {
		return fmt.Errorf("unknown turn %s", turnID)
	}
	st.record.ClosedAt = time.Now().UTC()
	err := v.saveManifestLocked(st)
	delete(v.turns, turnID)
	return err
}

// BeforeWrite captures path ahead of a write or delete. An existing file
// is copied into the vault; a missing one is recorded as a tombstone.
func (v *FileVault) BeforeWrite(turnID, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.turns[turnID]
	if !ok {
		return fmt.Errorf("unknown turn %s", turnID)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if st.captured[abs] {
		return nil
	}

	entry := BackupEntry{Path: abs, CapturedAt: time.Now().UTC()}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		entry.Kind = BackupTombstone
	case err != nil:
		return fmt.Errorf("stat %s: %w", abs, err)
	default:
		entry.Kind = BackupOriginal
		entry.Mode = info.Mode().Perm()
		entry.Blob = fmt.Sprintf("%d.blob", len(st.record.Backups))
		if err := copyFile(abs, filepath.Join(v.turnDir(turnID), entry.Blob)); err != nil {
			return fmt.Errorf("vault backup %s: %w", abs, err)
		}
	}

	st.captured[abs] = true
	st.record.Backups = append(st.record.Backups, entry)
	return v.saveManifestLocked(st)
}

// BeforeRename captures a rename from oldPath to newPath. The original
// location is recorded so undo can move the file back; the destination is
// captured like a write (its prior content, if any, must also be
// restorable).
func (v *FileVault) BeforeRename(turnID, oldPath, newPath string) error {
	if err := v.BeforeWrite(turnID, newPath); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.turns[turnID]
	if !ok {
		return fmt.Errorf("unknown turn %s", turnID)
	}
	oldAbs, err := filepath.Abs(oldPath)
	if err != nil {
		return err
	}
	newAbs, err := filepath.Abs(newPath)
	if err != nil {
		return err
	}
	if st.captured[oldAbs] {
		return nil
	}
	st.captured[oldAbs] = true
	st.record.Backups = append(st.record.Backups, BackupEntry{
		Path:         oldAbs,
		Kind:         BackupRename,
		RenameTarget: newAbs,
		CapturedAt:   time.Now().UTC(),
	})
	return v.saveManifestLocked(st)
}

// Record returns the turn record for an open or closed turn.
func (v *FileVault) Record(turnID string) (TurnRecord, error) {
	v.mu.Lock()
	if st, ok := v.turns[turnID]; ok {
		rec := st.record
		v.mu.Unlock()
		return rec, nil
	}
	v.mu.Unlock()
	return v.loadManifest(turnID)
}

// UndoTurn restores every captured path to its pre-turn state: original
// bytes are written back, created files are deleted, and renames are
// reversed. Entries are processed newest-first so later captures cannot
// clobber earlier restorations.
func (v *FileVault) UndoTurn(turnID string) error {
	rec, err := v.Record(turnID)
	if err != nil {
		return err
	}

	var firstErr error
	for i := len(rec.Backups) - 1; i >= 0; i-- {
		entry := rec.Backups[i]
		var e error
		switch entry.Kind {
		case BackupOriginal:
			e = copyFile(filepath.Join(v.turnDir(turnID), entry.Blob), entry.Path)
			if e == nil && entry.Mode != 0 {
				e = os.Chmod(entry.Path, entry.Mode)
			}
		case BackupTombstone:
			e = os.Remove(entry.Path)
			if os.IsNotExist(e) {
				e = nil
			}
		case BackupRename:
			e = os.Rename(entry.RenameTarget, entry.Path)
		}
		if e != nil && firstErr == nil {
			firstErr = fmt.Errorf("undo %s: %w", entry.Path, e)
		}
	}
	return firstErr
}

// PruneTurn deletes a turn's vault directory once undo is no longer
// needed (e.g. at session deletion).
func (v *FileVault) PruneTurn(turnID string) error {
	v.mu.Lock()
	delete(v.turns, turnID)
	v.mu.Unlock()
	return os.RemoveAll(v.turnDir(turnID))
}

func (v *FileVault) turnDir(turnID string) string {
	return filepath.Join(v.root, turnID)
}

func (v *FileVault) saveManifestLocked(st *turnState) error {
	data, err := json.MarshalIndent(st.record, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(v.turnDir(st.record.TurnID), "manifest.json")
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vault manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

func (v *FileVault) loadManifest(turnID string) (TurnRecord, error) {
	data, err := os.ReadFile(filepath.Join(v.turnDir(turnID), "manifest.json"))
	if err != nil {
		return TurnRecord{}, fmt.Errorf("load vault turn %s: %w", turnID, err)
	}
	var rec TurnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TurnRecord{}, fmt.Errorf("parse vault turn %s: %w", turnID, err)
	}
	return rec, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
