package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireLock_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.lock")
	l, err := AcquireLock(path, false)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	info := l.Info()
	if info.PID != os.Getpid() {
		t.Errorf("pid = %d", info.PID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lockfile missing: %v", err)
	}
	var onDisk LockInfo
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("lockfile not JSON: %v", err)
	}
	if onDisk.PID != os.Getpid() || onDisk.Hostname == "" {
		t.Errorf("lockfile contents = %+v", onDisk)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lockfile should be removed on release")
	}
	// Double release is harmless.
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestAcquireLock_HeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.lock")
	l, err := AcquireLock(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	if _, err := AcquireLock(path, false); !errors.Is(err, ErrLocked) {
		t.Errorf("want ErrLocked, got %v", err)
	}
	// Force does not displace a live same-host holder either.
	if _, err := AcquireLock(path, true); !errors.Is(err, ErrLocked) {
		t.Errorf("force against live holder: want ErrLocked, got %v", err)
	}
}

func TestAcquireLock_ReclaimsDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.lock")
	hostname, _ := os.Hostname()
	stale := LockInfo{PID: 999999999, Hostname: hostname, AcquiredAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(stale)
	os.WriteFile(path, data, 0o644)

	l, err := AcquireLock(path, false)
	if err != nil {
		t.Fatalf("dead holder should be reclaimed: %v", err)
	}
	l.Release()
}

func TestAcquireLock_CrossHostNeedsForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.lock")
	other := LockInfo{PID: 1, Hostname: "some-other-host", AcquiredAt: time.Now()}
	data, _ := json.Marshal(other)
	os.WriteFile(path, data, 0o644)

	if _, err := AcquireLock(path, false); !errors.Is(err, ErrLocked) {
		t.Errorf("cross-host holder without force: want ErrLocked, got %v", err)
	}
	l, err := AcquireLock(path, true)
	if err != nil {
		t.Fatalf("force should reclaim cross-host lock: %v", err)
	}
	l.Release()
}

func TestAcquireLock_CorruptLockfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.lock")
	os.WriteFile(path, []byte("garbage"), 0o644)

	if _, err := AcquireLock(path, false); !errors.Is(err, ErrLocked) {
		t.Errorf("corrupt lock without force: want ErrLocked, got %v", err)
	}
	l, err := AcquireLock(path, true)
	if err != nil {
		t.Fatalf("force should reclaim corrupt lock: %v", err)
	}
	l.Release()
}
