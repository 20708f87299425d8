// Package proflock implements the per-profile single-writer advisory lock:
// a JSON lock file holding the owner's PID, with liveness probing so a
// crashed owner's stale lock is reclaimed instead of wedging the profile.
package proflock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/drewcsillag/notecove/pkg/types"
)

// LockFileName is the lock file inside a profile directory.
const LockFileName = "profile.lock"

// lockRecord is the on-disk lock body.
type lockRecord struct {
	PID       int   `json:"pid"`
	Timestamp int64 `json:"timestamp"`
}

// Lock is one acquired profile lock.
type Lock struct {
	path string
	pid  int
}

// Acquire takes the profile lock. If a live process other than this one
// already holds it, Acquire fails with ErrLockHeld; a stale lock from a
// dead process is overwritten.
func Acquire(profileDir string) (*Lock, error) {
	path := filepath.Join(profileDir, LockFileName)
	pid := os.Getpid()

	if rec, err := readLock(path); err == nil {
		if rec.PID != pid && processAlive(rec.PID) {
			return nil, fmt.Errorf("%w: pid %d", types.ErrLockHeld, rec.PID)
		}
	}

	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	data, err := json.Marshal(lockRecord{PID: pid, Timestamp: types.NowMillis()})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: path, pid: pid}, nil
}

// Release deletes the lock file. Releasing a lock that was already
// reclaimed is a no-op.
func (l *Lock) Release() error {
	rec, err := readLock(l.path)
	if err != nil {
		return nil
	}
	if rec.PID != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live process holds the profile lock.
func IsLocked(profileDir string) bool {
	rec, err := readLock(filepath.Join(profileDir, LockFileName))
	if err != nil {
		return false
	}
	return processAlive(rec.PID)
}

func readLock(path string) (lockRecord, error) {
	var rec lockRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	if rec.PID <= 0 {
		return rec, fmt.Errorf("lock file has no pid")
	}
	return rec, nil
}

// processAlive sends the null signal to probe for process existence.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
