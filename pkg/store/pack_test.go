package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeUpdateFiles plants update files with explicit timestamps/sequences.
func writeUpdateFiles(t *testing.T, root, instanceID, noteID string, startSeq, endSeq, baseTS int64) {
	t.Helper()
	dir := filepath.Join(root, "notes", noteID, "updates")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for seq := startSeq; seq <= endSeq; seq++ {
		name := codec.GenerateUpdateFilename(instanceID, noteID, baseTS+seq, seq)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{byte(seq)}, 0644))
	}
}

// TestCreatePack tests the pack creation end-to-end scenario: 100 updates,
// pack the first 50, the rest stay
func TestCreatePack(t *testing.T) {
	s, root := newTestStore(t)
	writeUpdateFiles(t, root, "inst-a", "note-1", 0, 99, 1000)

	infos, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, infos, 100)

	filename, err := s.CreatePack("sd-1", "note-1", infos[:50])
	require.NoError(t, err)
	assert.Equal(t, "inst-a_pack_0-49.yjson", filename)

	pack, err := s.ReadPackFile("sd-1", "note-1", filename)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pack.StartSeq)
	assert.Equal(t, int64(49), pack.EndSeq)
	require.Len(t, pack.Entries, 50)
	for i, entry := range pack.Entries {
		assert.Equal(t, int64(i), entry.Sequence)
		assert.Equal(t, int64(1000+i), entry.Timestamp)
		assert.Equal(t, []byte{byte(i)}, entry.Data)
	}

	// Sources 0..49 consumed; 50..99 remain.
	remaining, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, remaining, 50)
	assert.Equal(t, int64(50), remaining[0].Sequence)
	assert.Equal(t, int64(99), remaining[49].Sequence)
}

// TestCreatePackRejectsBadInput tests precondition failures leave the SD
// untouched
func TestCreatePackRejectsBadInput(t *testing.T) {
	s, root := newTestStore(t)
	writeUpdateFiles(t, root, "inst-a", "note-1", 0, 4, 1000)
	writeUpdateFiles(t, root, "inst-b", "note-1", 0, 0, 2000)

	all, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, all, 6)

	// Mixed instances.
	_, err = s.CreatePack("sd-1", "note-1", all)
	assert.Error(t, err)

	// Gap in the run.
	var gapped []types.UpdateFileInfo
	for _, info := range all {
		if info.InstanceID == "inst-a" && info.Sequence != 2 {
			gapped = append(gapped, info)
		}
	}
	_, err = s.CreatePack("sd-1", "note-1", gapped)
	assert.ErrorIs(t, err, types.ErrNonContiguous)

	// Empty input.
	_, err = s.CreatePack("sd-1", "note-1", nil)
	assert.ErrorIs(t, err, types.ErrInvalidRange)

	// Nothing was deleted and no pack appeared.
	after, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	assert.Len(t, after, 6)
	packs, err := s.ListPackFiles("sd-1", "note-1")
	require.NoError(t, err)
	assert.Empty(t, packs)
}

// TestCreatePackMissingSource tests that an unreadable source aborts the
// operation before any write
func TestCreatePackMissingSource(t *testing.T) {
	s, root := newTestStore(t)
	writeUpdateFiles(t, root, "inst-a", "note-1", 0, 2, 1000)

	infos, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	require.NoError(t, os.Remove(infos[1].Path))

	_, err = s.CreatePack("sd-1", "note-1", infos)
	require.Error(t, err)

	packs, err := s.ListPackFiles("sd-1", "note-1")
	require.NoError(t, err)
	assert.Empty(t, packs)
}

// TestListPackFilesSorted tests start-sequence ordering
func TestListPackFilesSorted(t *testing.T) {
	s, root := newTestStore(t)
	dir := filepath.Join(root, "notes", "note-1", "packs")
	require.NoError(t, os.MkdirAll(dir, 0755))

	for _, pack := range []*types.Pack{
		{NoteID: "note-1", InstanceID: "inst-a", StartSeq: 50, EndSeq: 50, Entries: []types.PackEntry{{Sequence: 50}}},
		{NoteID: "note-1", InstanceID: "inst-a", StartSeq: 0, EndSeq: 0, Entries: []types.PackEntry{{Sequence: 0}}},
	} {
		data, err := codec.EncodePackFile(pack)
		require.NoError(t, err)
		name := codec.GeneratePackFilename(pack.InstanceID, pack.StartSeq, pack.EndSeq)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}

	infos, err := s.ListPackFiles("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, int64(0), infos[0].StartSeq)
	assert.Equal(t, int64(50), infos[1].StartSeq)
}

// TestCollectUpdatesFlattensPacks tests the pack+update merge with
// duplicate suppression
func TestCollectUpdatesFlattensPacks(t *testing.T) {
	s, root := newTestStore(t)
	writeUpdateFiles(t, root, "inst-a", "note-1", 0, 9, 1000)

	infos, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	_, err = s.CreatePack("sd-1", "note-1", infos[:5])
	require.NoError(t, err)

	// Re-plant an already-packed update, as a crashed compaction would.
	writeUpdateFiles(t, root, "inst-a", "note-1", 3, 3, 1000)

	records, err := s.CollectUpdates("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, records, 10)
	for i, rec := range records {
		assert.Equal(t, int64(i), rec.Sequence)
		assert.Equal(t, int64(1000+i), rec.Timestamp)
	}
}
