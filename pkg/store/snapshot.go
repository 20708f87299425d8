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

// DefaultSnapshotThreshold is the update count that triggers a snapshot.
const DefaultSnapshotThreshold = 100

// WriteSnapshot persists a full document state covering maxSequences.
// Returns the filename written.
func (s *Store) WriteSnapshot(sdID, noteID string, documentState []byte, maxSequences types.VectorClock) (string, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return "", err
	}
	dir := sd.NoteSnapshotsDir(noteID)
	if err := layout.EnsureDir(dir); err != nil {
		return "", err
	}

	snap := &types.Snapshot{
		NoteID:       noteID,
		InstanceID:   s.instanceID,
		Timestamp:    types.NowMillis(),
		MaxSequences: maxSequences.Clone(),
		State:        documentState,
	}
	encoded, err := codec.EncodeSnapshotFile(snap, true)
	if err != nil {
		return "", err
	}

	filename := codec.GenerateSnapshotFilename(maxSequences.TotalChanges(), s.instanceID)
	if err := writeFileAtomic(filepath.Join(dir, filename), encoded); err != nil {
		return "", err
	}

	metrics.SnapshotsCreatedTotal.Inc()
	s.publish(&events.Event{Type: events.EventSnapshotCreated, SDID: sdID, NoteID: noteID})
	return filename, nil
}

// ListSnapshotFiles enumerates the parseable snapshot files of a note,
// sorted by total changes descending (newest coverage first).
func (s *Store) ListSnapshotFiles(sdID, noteID string) ([]types.SnapshotFileInfo, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return nil, err
	}
	return listSnapshotFiles(sd.NoteSnapshotsDir(noteID))
}

// ReadSnapshot reads and decodes one snapshot by filename.
func (s *Store) ReadSnapshot(sdID, noteID, filename string) (*types.Snapshot, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(sd.NoteSnapshotsDir(noteID), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: snapshot %s", types.ErrNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", filename, err)
	}
	return codec.DecodeSnapshotFile(data)
}

// ShouldCreateSnapshot reports whether the note has accumulated at least
// threshold updates not covered by its newest readable snapshot. A corrupt
// newest snapshot degrades to the no-snapshot rule.
func (s *Store) ShouldCreateSnapshot(sdID, noteID string, threshold int) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultSnapshotThreshold
	}
	updates, err := s.ListNoteUpdateFiles(sdID, noteID)
	if err != nil {
		return false, err
	}
	snapshots, err := s.ListSnapshotFiles(sdID, noteID)
	if err != nil {
		return false, err
	}

	var cover types.VectorClock
	if len(snapshots) > 0 {
		snap, err := s.ReadSnapshot(sdID, noteID, snapshots[0].Filename)
		if err == nil {
			cover = snap.MaxSequences
		} else {
			s.logger.Warn().Err(err).Str("snapshot", snapshots[0].Filename).Msg("Ignoring unreadable snapshot")
		}
	}

	uncovered := 0
	for _, info := range updates {
		if !info.HasSequence() {
			continue
		}
		if cover == nil || !cover.Covers(info.InstanceID, info.Sequence) {
			uncovered++
		}
	}
	return uncovered >= threshold, nil
}

func listSnapshotFiles(dir string) ([]types.SnapshotFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var infos []types.SnapshotFileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, ok := codec.ParseSnapshotFilename(e.Name())
		if !ok {
			continue
		}
		info.Path = filepath.Join(dir, e.Name())
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TotalChanges > infos[j].TotalChanges })
	return infos, nil
}
