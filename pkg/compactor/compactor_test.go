package compactor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/crdt"
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

func plantUpdates(t *testing.T, root, instanceID, noteID string, startSeq, endSeq, baseTS int64) {
	t.Helper()
	dir := filepath.Join(root, "notes", noteID, "updates")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	doc := crdt.NewDoc(instanceID)
	for seq := startSeq; seq <= endSeq; seq++ {
		doc.Set("k", seq)
		name := codec.GenerateUpdateFilename(instanceID, noteID, baseTS+seq, seq)
		if err := os.WriteFile(filepath.Join(dir, name), doc.EncodeStateAsUpdate(), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestSelectPackRun tests aged-run selection
func TestSelectPackRun(t *testing.T) {
	c := New(nil, Config{PackMinSize: 3, AgingWindow: time.Minute}, func(string, string) ([]byte, types.VectorClock, error) {
		return nil, nil, nil
	})
	now := int64(10_000_000)
	old := now - 2*time.Minute.Milliseconds()

	mk := func(instance string, seq, ts int64) types.UpdateFileInfo {
		return types.UpdateFileInfo{InstanceID: instance, Sequence: seq, Timestamp: ts}
	}

	tests := []struct {
		name  string
		infos []types.UpdateFileInfo
		want  int
	}{
		{
			name:  "no aged run",
			infos: []types.UpdateFileInfo{mk("a", 0, now), mk("a", 1, now), mk("a", 2, now)},
			want:  0,
		},
		{
			name:  "run below min size",
			infos: []types.UpdateFileInfo{mk("a", 0, old), mk("a", 1, old)},
			want:  0,
		},
		{
			name:  "aged contiguous run",
			infos: []types.UpdateFileInfo{mk("a", 0, old), mk("a", 1, old), mk("a", 2, old)},
			want:  3,
		},
		{
			name: "gap splits run",
			infos: []types.UpdateFileInfo{
				mk("a", 0, old), mk("a", 1, old), mk("a", 2, old),
				mk("a", 4, old), mk("a", 5, old),
			},
			want: 3,
		},
		{
			name: "longest run across instances wins",
			infos: []types.UpdateFileInfo{
				mk("a", 0, old), mk("a", 1, old), mk("a", 2, old),
				mk("b", 0, old), mk("b", 1, old), mk("b", 2, old), mk("b", 3, old),
			},
			want: 4,
		},
		{
			name: "recent tail excluded",
			infos: []types.UpdateFileInfo{
				mk("a", 0, old), mk("a", 1, old), mk("a", 2, old), mk("a", 3, now),
			},
			want: 3,
		},
		{
			name:  "legacy files never packed",
			infos: []types.UpdateFileInfo{mk("a", -1, old), mk("a", -1, old), mk("a", -1, old)},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := c.selectPackRun(tt.infos, now)
			if len(run) != tt.want {
				t.Errorf("run length = %d, want %d", len(run), tt.want)
			}
		})
	}
}

// TestCompactNoteSnapshots tests the snapshot trigger end to end
func TestCompactNoteSnapshots(t *testing.T) {
	s, root := newTestStore(t)
	plantUpdates(t, root, "inst-a", "note-1", 0, 9, 1000)

	c := New(s, Config{SnapshotThreshold: 10, PackMinSize: 50, AgingWindow: time.Hour}, nil)
	if err := c.CompactNote("sd-1", "note-1"); err != nil {
		t.Fatalf("CompactNote: %v", err)
	}

	snaps, err := s.ListSnapshotFiles("sd-1", "note-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	snap, err := s.ReadSnapshot("sd-1", "note-1", snaps[0].Filename)
	if err != nil {
		t.Fatal(err)
	}
	if snap.MaxSequences["inst-a"] != 9 {
		t.Errorf("snapshot clock = %v", snap.MaxSequences)
	}

	// Below threshold now: a second cycle does not snapshot again.
	if err := c.CompactNote("sd-1", "note-1"); err != nil {
		t.Fatal(err)
	}
	snaps, _ = s.ListSnapshotFiles("sd-1", "note-1")
	if len(snaps) != 1 {
		t.Errorf("snapshots after second cycle = %d", len(snaps))
	}
}

// TestCompactNotePacksAged tests the pack trigger end to end
func TestCompactNotePacksAged(t *testing.T) {
	s, root := newTestStore(t)
	old := types.NowMillis() - 2*time.Hour.Milliseconds()
	plantUpdates(t, root, "inst-a", "note-1", 0, 59, old)

	c := New(s, Config{SnapshotThreshold: 1000, PackMinSize: 50, AgingWindow: time.Hour}, nil)
	if err := c.CompactNote("sd-1", "note-1"); err != nil {
		t.Fatalf("CompactNote: %v", err)
	}

	packs, err := s.ListPackFiles("sd-1", "note-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(packs) != 1 {
		t.Fatalf("packs = %d, want 1", len(packs))
	}
	if packs[0].StartSeq != 0 || packs[0].EndSeq != 59 {
		t.Errorf("pack range = %d-%d", packs[0].StartSeq, packs[0].EndSeq)
	}

	remaining, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining updates = %d, want 0", len(remaining))
	}
}
