package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// ErrLocked is returned when the session lock is held by a live process.
var ErrLocked = errors.New("session locked by another process")

// LockInfo identifies the lock holder.
type LockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held session lockfile.
type Lock struct {
	path string
	info LockInfo
}

// AcquireLock takes exclusive ownership of a session via its lockfile.
// A held lock fails fast with ErrLocked unless the holder is provably
// dead (same host, pid gone) or force is set for a cross-host or
// undecidable holder.
func AcquireLock(path string, force bool) (*Lock, error) {
	hostname, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now().UTC()}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			if err := enc.Encode(info); err != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("write lock: %w", err)
			}
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, err
			}
			return &Lock{path: path, info: info}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}

		holder, readErr := readLockInfo(path)
		if readErr != nil {
			// Corrupt or vanished lockfile: reclaim only under force.
			if !force {
				return nil, fmt.Errorf("%w: unreadable lockfile %s", ErrLocked, path)
			}
		} else if !stale(holder, hostname, force) {
			return nil, fmt.Errorf("%w: held by pid %d on %s since %s",
				ErrLocked, holder.PID, holder.Hostname, holder.AcquiredAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaim lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: lost reclaim race for %s", ErrLocked, path)
}

// stale reports whether the holder can be displaced. Same-host dead pids
// are always stale; anything on another host needs force since liveness
// cannot be checked from here.
func stale(holder LockInfo, hostname string, force bool) bool {
	if holder.Hostname == hostname {
		return !pidAlive(holder.PID)
	}
	return force
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func readLockInfo(path string) (LockInfo, error) {
	var info LockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	return info, nil
}

// Info returns the holder info written to the lockfile.
func (l *Lock) Info() LockInfo {
	return l.info
}

// Release removes the lockfile. Releasing twice is harmless.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
