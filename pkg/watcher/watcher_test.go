package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/poller"
	"github.com/drewcsillag/notecove/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// TestUpdateFileCreatesHandoffEntry tests the fast-path handoff producer
func TestUpdateFileCreatesHandoffEntry(t *testing.T) {
	root := t.TempDir()
	d := poller.New(poller.DefaultConfig())
	w, err := New(d, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Pre-existing note directory.
	noteDir := filepath.Join(root, "notes", "note-1", "updates")
	if err := os.MkdirAll(noteDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := w.WatchSD("sd-1", root); err != nil {
		t.Fatal(err)
	}
	w.Start()
	defer w.Stop()

	name := codec.GenerateUpdateFilename("inst-b", "note-1", types.NowMillis(), 42)
	if err := os.WriteFile(filepath.Join(noteDir, name), []byte("u"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, ok := d.Entry("sd-1", "note-1")
		return ok
	})
	entry, _ := d.Entry("sd-1", "note-1")
	if entry.Reason != types.PollReasonFastPathHandoff {
		t.Errorf("reason = %s", entry.Reason)
	}
	if entry.ExpectedSequences["inst-b"] != 42 {
		t.Errorf("expected = %v", entry.ExpectedSequences)
	}
}

// TestNewNoteDirectoryPickedUp tests dynamic note-directory watching
func TestNewNoteDirectoryPickedUp(t *testing.T) {
	root := t.TempDir()
	d := poller.New(poller.DefaultConfig())
	w, err := New(d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WatchSD("sd-1", root); err != nil {
		t.Fatal(err)
	}
	w.Start()
	defer w.Stop()

	// A note directory that appears after watching started.
	noteDir := filepath.Join(root, "notes", "note-2", "updates")
	if err := os.MkdirAll(noteDir, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a beat to pick up the new directory.
	time.Sleep(100 * time.Millisecond)

	name := codec.GenerateUpdateFilename("inst-b", "note-2", types.NowMillis(), 0)
	if err := os.WriteFile(filepath.Join(noteDir, name), []byte("u"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, ok := d.Entry("sd-1", "note-2")
		return ok
	})
}
