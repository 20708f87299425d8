package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s := NewStore("inst-a")
	s.RegisterSD("sd-1", root)
	return s, root
}

// TestWriteNoteUpdateSequences tests gap-free monotonic sequence allocation
func TestWriteNoteUpdateSequences(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.WriteNoteUpdate("sd-1", "note-1", []byte(fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
	}

	infos, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, infos, 5)
	for i, info := range infos {
		assert.Equal(t, int64(i), info.Sequence, "sequence of update %d", i)
		assert.Equal(t, "inst-a", info.InstanceID)
		assert.Equal(t, "note-1", info.DocumentID)
	}
}

// TestSequenceRescanAfterRestart tests that a fresh store continues the
// sequence run it finds on disk
func TestSequenceRescanAfterRestart(t *testing.T) {
	s, root := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.WriteNoteUpdate("sd-1", "note-1", []byte("u"))
		require.NoError(t, err)
	}

	// New store, same instance id, same SD.
	s2 := NewStore("inst-a")
	s2.RegisterSD("sd-1", root)
	name, err := s2.WriteNoteUpdate("sd-1", "note-1", []byte("u"))
	require.NoError(t, err)

	info, ok := codec.ParseUpdateFilename(name)
	require.True(t, ok)
	assert.Equal(t, int64(3), info.Sequence)
}

// TestSequenceRescanCoversPacksAndSnapshots tests that compacted history
// still advances the allocator
func TestSequenceRescanCoversPacksAndSnapshots(t *testing.T) {
	s, root := newTestStore(t)
	for i := 0; i < 4; i++ {
		_, err := s.WriteNoteUpdate("sd-1", "note-1", []byte("u"))
		require.NoError(t, err)
	}
	infos, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	_, err = s.CreatePack("sd-1", "note-1", infos)
	require.NoError(t, err)

	// All raw updates are gone; only the pack remains.
	s2 := NewStore("inst-a")
	s2.RegisterSD("sd-1", root)
	name, err := s2.WriteNoteUpdate("sd-1", "note-1", []byte("u"))
	require.NoError(t, err)
	info, _ := codec.ParseUpdateFilename(name)
	assert.Equal(t, int64(4), info.Sequence)

	// Snapshot coverage beyond any file also advances the scan.
	_, err = s2.WriteSnapshot("sd-1", "note-1", []byte("state"), types.VectorClock{"inst-a": 9})
	require.NoError(t, err)
	s3 := NewStore("inst-a")
	s3.RegisterSD("sd-1", root)
	name, err = s3.WriteNoteUpdate("sd-1", "note-1", []byte("u"))
	require.NoError(t, err)
	info, _ = codec.ParseUpdateFilename(name)
	assert.Equal(t, int64(10), info.Sequence)
}

// TestConcurrentFirstAllocation tests that racing first writes agree on
// the starting sequence and produce no duplicates
func TestConcurrentFirstAllocation(t *testing.T) {
	s, _ := newTestStore(t)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.WriteNoteUpdate("sd-1", "note-1", []byte("u"))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	infos, err := s.ListNoteUpdateFiles("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, infos, writers)

	seen := map[int64]bool{}
	for _, info := range infos {
		assert.False(t, seen[info.Sequence], "duplicate sequence %d", info.Sequence)
		seen[info.Sequence] = true
	}
	for i := int64(0); i < writers; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}

// TestWriteFolderUpdate tests the folder-tree stream
func TestWriteFolderUpdate(t *testing.T) {
	s, _ := newTestStore(t)

	name, err := s.WriteFolderUpdate("sd-1", []byte("folder-up"))
	require.NoError(t, err)
	assert.True(t, codec.IsFolderTreeUpdateFilename(name))

	infos, err := s.ListFolderUpdateFiles("sd-1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "sd-1", infos[0].DocumentID)
	assert.Equal(t, int64(0), infos[0].Sequence)
}

// TestReadNoteUpdates tests bulk blob reading
func TestReadNoteUpdates(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.WriteNoteUpdate("sd-1", "note-1", []byte("one"))
	require.NoError(t, err)
	_, err = s.WriteNoteUpdate("sd-1", "note-1", []byte("two"))
	require.NoError(t, err)

	blobs, err := s.ReadNoteUpdates("sd-1", "note-1")
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "one", string(blobs[0]))
	assert.Equal(t, "two", string(blobs[1]))
}

// TestBuildVectorClock tests per-instance maxima over filenames
func TestBuildVectorClock(t *testing.T) {
	s, root := newTestStore(t)
	dir := filepath.Join(root, "notes", "note-1", "updates")
	require.NoError(t, os.MkdirAll(dir, 0755))

	files := []string{
		codec.GenerateUpdateFilename("inst-a", "note-1", 1000, 0),
		codec.GenerateUpdateFilename("inst-a", "note-1", 1001, 1),
		codec.GenerateUpdateFilename("inst-b", "note-1", 1002, 7),
		"inst-c_note-1_1003.yjson", // legacy: no sequence, ignored
	}
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644))
	}

	clock, err := s.BuildVectorClock("sd-1", "note-1")
	require.NoError(t, err)
	assert.Equal(t, types.VectorClock{"inst-a": 1, "inst-b": 7}, clock)
}

// TestUnregisteredSD tests the NotFound path
func TestUnregisteredSD(t *testing.T) {
	s := NewStore("inst-a")
	_, err := s.WriteNoteUpdate("nope", "note-1", []byte("u"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}
