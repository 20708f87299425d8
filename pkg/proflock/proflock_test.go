package proflock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/drewcsillag/notecove/pkg/types"
)

// TestAcquireRelease tests the basic lock lifecycle
func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !IsLocked(dir) {
		t.Error("IsLocked = false while held")
	}

	// Re-acquiring from the same process succeeds.
	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	_ = again

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if IsLocked(dir) {
		t.Error("IsLocked = true after release")
	}
}

// TestAcquireHeldByLiveProcess tests rejection against a live owner
func TestAcquireHeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()

	// PID 1 is always alive.
	data, _ := json.Marshal(lockRecord{PID: 1, Timestamp: types.NowMillis()})
	if err := os.WriteFile(filepath.Join(dir, LockFileName), data, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Acquire(dir); !errors.Is(err, types.ErrLockHeld) {
		t.Errorf("err = %v, want ErrLockHeld", err)
	}
}

// TestAcquireStaleLock tests reclaiming a dead owner's lock
func TestAcquireStaleLock(t *testing.T) {
	dir := t.TempDir()

	// An implausibly high PID that cannot be running.
	data, _ := json.Marshal(lockRecord{PID: 1 << 30, Timestamp: 1})
	if err := os.WriteFile(filepath.Join(dir, LockFileName), data, 0600); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	rec, err := readLock(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatal(err)
	}
	if rec.PID != os.Getpid() {
		t.Errorf("lock pid = %d, want %d", rec.PID, os.Getpid())
	}
	_ = lock.Release()
}

// TestGarbledLockFile tests that an unreadable lock is treated as absent
func TestGarbledLockFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte("junk"), 0600); err != nil {
		t.Fatal(err)
	}
	if IsLocked(dir) {
		t.Error("garbled lock reported as held")
	}
	if _, err := Acquire(dir); err != nil {
		t.Errorf("Acquire over garbled lock: %v", err)
	}
}
