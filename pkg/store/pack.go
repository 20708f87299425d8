package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/events"
	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/metrics"
	"github.com/drewcsillag/notecove/pkg/types"
)

// ListPackFiles enumerates the parseable pack files of a note, sorted by
// start sequence ascending.
func (s *Store) ListPackFiles(sdID, noteID string) ([]types.PackFileInfo, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return nil, err
	}
	return listPackFiles(sd.NotePacksDir(noteID))
}

// ReadPackFile reads, decodes, and validates one pack by filename.
func (s *Store) ReadPackFile(sdID, noteID, filename string) (*types.Pack, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(sd.NotePacksDir(noteID), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: pack %s", types.ErrNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read pack %s: %w", filename, err)
	}
	return codec.DecodePackFile(data)
}

// CreatePack consumes a contiguous run of one instance's update files into
// a pack. The updates must all parse with a sequence, share an instance id,
// and form a gap-free run once sorted.
//
// The operation order is strict: read all sources, validate, write the pack
// atomically, then delete the sources. A failure before the pack is written
// leaves the SD unchanged; a failure while deleting sources leaves
// duplicates behind, which CRDT idempotence makes harmless.
func (s *Store) CreatePack(sdID, noteID string, updateFiles []types.UpdateFileInfo) (string, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return "", err
	}
	if len(updateFiles) == 0 {
		return "", fmt.Errorf("%w: no update files given", types.ErrInvalidRange)
	}

	sorted := make([]types.UpdateFileInfo, len(updateFiles))
	copy(sorted, updateFiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	instanceID := sorted[0].InstanceID
	for i, info := range sorted {
		if !info.HasSequence() {
			return "", fmt.Errorf("%w: %s has no sequence", types.ErrNonContiguous, info.Filename)
		}
		if info.InstanceID != instanceID {
			return "", fmt.Errorf("pack sources span instances %q and %q", instanceID, info.InstanceID)
		}
		if i > 0 && info.Sequence == sorted[i-1].Sequence {
			return "", fmt.Errorf("%w: sequence %d appears twice", types.ErrSequenceCollision, info.Sequence)
		}
	}

	pack := &types.Pack{
		NoteID:     noteID,
		InstanceID: instanceID,
		StartSeq:   sorted[0].Sequence,
		EndSeq:     sorted[len(sorted)-1].Sequence,
	}

	// (1) Read all source data before touching anything.
	for _, info := range sorted {
		data, err := os.ReadFile(info.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read pack source %s: %w", info.Filename, err)
		}
		pack.Entries = append(pack.Entries, types.PackEntry{
			Sequence:  info.Sequence,
			Timestamp: info.Timestamp,
			Data:      data,
		})
	}

	// (2) Validate; EncodePackFile re-checks but a broken run must not even
	// reach the filesystem.
	if err := codec.ValidatePackData(pack); err != nil {
		return "", err
	}
	encoded, err := codec.EncodePackFile(pack)
	if err != nil {
		return "", err
	}

	// (3) Write the pack durably.
	packsDir := sd.NotePacksDir(noteID)
	if err := layout.EnsureDir(packsDir); err != nil {
		return "", err
	}
	filename := codec.GeneratePackFilename(instanceID, pack.StartSeq, pack.EndSeq)
	if err := writeFileAtomic(filepath.Join(packsDir, filename), encoded); err != nil {
		return "", err
	}

	// (4) Delete the consumed sources. Leftovers are duplicates, not loss.
	for _, info := range sorted {
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", info.Filename).Msg("Failed to delete packed update")
		}
	}

	metrics.PacksCreatedTotal.Inc()
	s.publish(&events.Event{Type: events.EventPackCreated, SDID: sdID, NoteID: noteID})
	return filename, nil
}

func listPackFiles(dir string) ([]types.PackFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list packs: %w", err)
	}

	var infos []types.PackFileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, ok := codec.ParsePackFilename(e.Name())
		if !ok {
			continue
		}
		info.Path = filepath.Join(dir, e.Name())
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartSeq < infos[j].StartSeq })
	return infos, nil
}
