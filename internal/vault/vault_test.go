package vault

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestAuthorizer_Resolve(t *testing.T) {
	root := t.TempDir()
	extra := t.TempDir()
	a, err := NewAuthorizer(root, extra)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative inside", "sub/file.txt", false},
		{"dot", ".", false},
		{"absolute inside", filepath.Join(root, "a.txt"), false},
		{"second root", filepath.Join(extra, "b.txt"), false},
		{"traversal escape", "../outside.txt", true},
		{"nested traversal escape", "sub/../../outside.txt", true},
		{"absolute outside", "/etc/passwd", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Resolve(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Resolve(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Errorf("Resolve(%q) error: %v", tt.path, err)
			}
		})
	}
}

func TestAuthorizer_DeniedIsTyped(t *testing.T) {
	a, _ := NewAuthorizer(t.TempDir())
	_, err := a.Resolve("/etc/passwd")
	if !errors.Is(err, ErrDenied) {
		t.Errorf("want ErrDenied, got %v", err)
	}
}

func TestAuthorizer_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows CI")
	}
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink: %v", err)
	}
	a, _ := NewAuthorizer(root)

	if _, err := a.Resolve("escape/secret.txt"); !errors.Is(err, ErrDenied) {
		t.Errorf("symlink escape: want ErrDenied, got %v", err)
	}

	// A symlink pointing inside the sandbox stays allowed.
	inner := filepath.Join(root, "real")
	os.MkdirAll(inner, 0o755)
	os.Symlink(inner, filepath.Join(root, "alias"))
	if _, err := a.Resolve("alias/ok.txt"); err != nil {
		t.Errorf("internal symlink denied: %v", err)
	}
}

func TestFileVault_FirstCaptureWins(t *testing.T) {
	dir := t.TempDir()
	work := t.TempDir()
	v := NewFileVault(dir)

	target := filepath.Join(work, "file.txt")
	if err := os.WriteFile(target, []byte("v0"), 0o644); err != nil {
		t.Fatal(err)
	}

	turn, err := v.BeginTurn("edit file")
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}

	// First mutation captures v0; the file then changes twice.
	if err := v.BeforeWrite(turn, target); err != nil {
		t.Fatalf("BeforeWrite: %v", err)
	}
	os.WriteFile(target, []byte("v1"), 0o644)
	if err := v.BeforeWrite(turn, target); err != nil {
		t.Fatalf("BeforeWrite second: %v", err)
	}
	os.WriteFile(target, []byte("v2"), 0o644)

	rec, err := v.Record(turn)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.Backups) != 1 {
		t.Fatalf("backups = %d, want 1 (first capture wins)", len(rec.Backups))
	}

	if err := v.UndoTurn(turn); err != nil {
		t.Fatalf("UndoTurn: %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "v0" {
		t.Errorf("after undo: %q, want %q", got, "v0")
	}
}

func TestFileVault_TombstoneAndRename(t *testing.T) {
	dir := t.TempDir()
	work := t.TempDir()
	v := NewFileVault(dir)

	turn, err := v.BeginTurn("create and move")
	if err != nil {
		t.Fatal(err)
	}

	created := filepath.Join(work, "new.txt")
	if err := v.BeforeWrite(turn, created); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(created, []byte("fresh"), 0o644)

	src := filepath.Join(work, "src.txt")
	dst := filepath.Join(work, "dst.txt")
	os.WriteFile(src, []byte("moving"), 0o644)
	if err := v.BeforeRename(turn, src, dst); err != nil {
		t.Fatal(err)
	}
	os.Rename(src, dst)

	if err := v.CloseTurn(turn); err != nil {
		t.Fatalf("CloseTurn: %v", err)
	}

	// Undo works on a closed turn via the persisted manifest.
	if err := v.UndoTurn(turn); err != nil {
		t.Fatalf("UndoTurn: %v", err)
	}
	if _, err := os.Stat(created); !os.IsNotExist(err) {
		t.Error("created file should be deleted by undo")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("rename destination should be gone after undo")
	}
	got, err := os.ReadFile(src)
	if err != nil || string(got) != "moving" {
		t.Errorf("rename source = %q, %v; want %q back", got, err, "moving")
	}
}

func TestFileVault_UndoDeletedFile(t *testing.T) {
	v := NewFileVault(t.TempDir())
	work := t.TempDir()
	target := filepath.Join(work, "doomed.txt")
	os.WriteFile(target, []byte("keep me"), 0o600)

	turn, _ := v.BeginTurn("delete file")
	if err := v.BeforeWrite(turn, target); err != nil {
		t.Fatal(err)
	}
	os.Remove(target)

	if err := v.UndoTurn(turn); err != nil {
		t.Fatalf("UndoTurn: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil || string(got) != "keep me" {
		t.Errorf("restored = %q, %v", got, err)
	}
	info, _ := os.Stat(target)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}
