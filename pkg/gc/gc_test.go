package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/store"
	"github.com/drewcsillag/notecove/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	root := t.TempDir()
	s := store.NewStore("inst-a")
	s.RegisterSD("sd-1", root)
	return s, root
}

func plantSnapshot(t *testing.T, root, noteID string, clock types.VectorClock, timestamp int64) string {
	t.Helper()
	dir := filepath.Join(root, "notes", noteID, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	snap := &types.Snapshot{NoteID: noteID, InstanceID: "inst-a", Timestamp: timestamp, MaxSequences: clock, State: []byte("state")}
	data, err := codec.EncodeSnapshotFile(snap, false)
	if err != nil {
		t.Fatal(err)
	}
	name := codec.GenerateSnapshotFilename(clock.TotalChanges(), "inst-a")
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatal(err)
	}
	return name
}

func plantUpdate(t *testing.T, root, noteID string, seq, ts int64) {
	t.Helper()
	dir := filepath.Join(root, "notes", noteID, "updates")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	name := codec.GenerateUpdateFilename("inst-a", noteID, ts, seq)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("u"), 0644); err != nil {
		t.Fatal(err)
	}
}

// TestSnapshotRetention tests that only the newest-coverage snapshots
// survive
func TestSnapshotRetention(t *testing.T) {
	s, root := newTestStore(t)
	for _, total := range []int64{99, 199, 299, 399, 499} {
		plantSnapshot(t, root, "note-1", types.VectorClock{"inst-a": total}, 1000)
	}

	c := New(s, Config{SnapshotRetentionCount: 3, MinimumHistoryDuration: 24 * time.Hour}, nil)
	stats := c.RunGarbageCollection("sd-1", "note-1")

	if stats.SnapshotsDeleted != 2 {
		t.Errorf("SnapshotsDeleted = %d, want 2", stats.SnapshotsDeleted)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("Errors = %v", stats.Errors)
	}

	infos, err := s.ListSnapshotFiles("sd-1", "note-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("snapshots left = %d", len(infos))
	}
	for i, want := range []int64{500, 400, 300} {
		if infos[i].TotalChanges != want {
			t.Errorf("kept[%d] = %d, want %d", i, infos[i].TotalChanges, want)
		}
	}
	if stats.DiskSpaceFreed <= 0 {
		t.Error("DiskSpaceFreed not accounted")
	}
}

// TestUpdateSubsumption tests coverage + age gating of update deletion
func TestUpdateSubsumption(t *testing.T) {
	s, root := newTestStore(t)
	now := types.NowMillis()
	age48h := now - 48*time.Hour.Milliseconds()
	age12h := now - 12*time.Hour.Milliseconds()

	// Snapshot covering sequences 0..99, old enough to be the cover.
	plantSnapshot(t, root, "note-1", types.VectorClock{"inst-a": 99}, age48h)

	// 0..49 old and covered; 50..99 covered but recent; 100..109 old but
	// uncovered.
	for seq := int64(0); seq <= 49; seq++ {
		plantUpdate(t, root, "note-1", seq, age48h)
	}
	for seq := int64(50); seq <= 99; seq++ {
		plantUpdate(t, root, "note-1", seq, age12h)
	}
	for seq := int64(100); seq <= 109; seq++ {
		plantUpdate(t, root, "note-1", seq, age48h)
	}

	c := New(s, Config{SnapshotRetentionCount: 3, MinimumHistoryDuration: 24 * time.Hour}, nil)
	stats := c.RunGarbageCollection("sd-1", "note-1")

	if stats.UpdatesDeleted != 50 {
		t.Errorf("UpdatesDeleted = %d, want 50", stats.UpdatesDeleted)
	}

	remaining, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 60 {
		t.Fatalf("remaining = %d, want 60", len(remaining))
	}
	for _, info := range remaining {
		if info.Sequence < 50 {
			t.Errorf("covered aged update %d survived", info.Sequence)
		}
	}
}

// TestPackSubsumption tests pack deletion by end-sequence coverage and
// newest-entry age
func TestPackSubsumption(t *testing.T) {
	s, root := newTestStore(t)
	now := types.NowMillis()
	age48h := now - 48*time.Hour.Milliseconds()

	plantSnapshot(t, root, "note-1", types.VectorClock{"inst-a": 49}, age48h)

	dir := filepath.Join(root, "notes", "note-1", "packs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	plant := func(start, end, ts int64) {
		pack := &types.Pack{NoteID: "note-1", InstanceID: "inst-a", StartSeq: start, EndSeq: end}
		for seq := start; seq <= end; seq++ {
			pack.Entries = append(pack.Entries, types.PackEntry{Sequence: seq, Timestamp: ts})
		}
		data, err := codec.EncodePackFile(pack)
		if err != nil {
			t.Fatal(err)
		}
		name := codec.GeneratePackFilename("inst-a", start, end)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	plant(0, 24, age48h)  // covered, aged: deleted
	plant(25, 49, now)    // covered, recent: kept
	plant(50, 74, age48h) // aged, uncovered: kept

	c := New(s, Config{SnapshotRetentionCount: 3, MinimumHistoryDuration: 24 * time.Hour}, nil)
	stats := c.RunGarbageCollection("sd-1", "note-1")

	if stats.PacksDeleted != 1 {
		t.Errorf("PacksDeleted = %d, want 1", stats.PacksDeleted)
	}
	infos, err := s.ListPackFiles("sd-1", "note-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("packs left = %d", len(infos))
	}
	if infos[0].StartSeq != 25 || infos[1].StartSeq != 50 {
		t.Errorf("kept packs: %+v", infos)
	}
}

// TestGCWithoutSnapshots tests that nothing is deleted without a cover
func TestGCWithoutSnapshots(t *testing.T) {
	s, root := newTestStore(t)
	plantUpdate(t, root, "note-1", 0, types.NowMillis()-48*time.Hour.Milliseconds())

	c := New(s, DefaultConfig(), nil)
	stats := c.RunGarbageCollection("sd-1", "note-1")

	if stats.UpdatesDeleted != 0 || stats.SnapshotsDeleted != 0 || stats.PacksDeleted != 0 {
		t.Errorf("stats = %+v, want nothing deleted", stats)
	}
}
