package store

import (
	"os"
	"sort"

	"github.com/drewcsillag/notecove/pkg/types"
)

// CollectUpdates flattens a note's packs and individual update files into
// one timestamp-ordered record list, the complete update universe the
// reconstructor and timeline builder operate on. Unreadable files are
// skipped; the rest of the note stays usable.
func (s *Store) CollectUpdates(sdID, noteID string) ([]types.UpdateRecord, error) {
	packs, err := s.ListPackFiles(sdID, noteID)
	if err != nil {
		return nil, err
	}

	var records []types.UpdateRecord
	seen := make(map[seqKey]bool)

	for _, info := range packs {
		pack, err := s.ReadPackFile(sdID, noteID, info.Filename)
		if err != nil {
			s.logger.Warn().Err(err).Str("pack", info.Filename).Msg("Skipping unreadable pack")
			continue
		}
		for _, entry := range pack.Entries {
			key := seqKey{instance: pack.InstanceID, seq: entry.Sequence}
			if seen[key] {
				continue
			}
			seen[key] = true
			records = append(records, types.UpdateRecord{
				InstanceID: pack.InstanceID,
				Timestamp:  entry.Timestamp,
				Sequence:   entry.Sequence,
				Data:       entry.Data,
			})
		}
	}

	updates, err := s.ListNoteUpdateFiles(sdID, noteID)
	if err != nil {
		return nil, err
	}
	for _, info := range updates {
		// A pack and its source updates can coexist briefly after a
		// crashed compaction; the pack copy wins.
		if info.HasSequence() && seen[seqKey{instance: info.InstanceID, seq: info.Sequence}] {
			continue
		}
		data, err := os.ReadFile(info.Path)
		if err != nil {
			s.logger.Warn().Err(err).Str("update", info.Filename).Msg("Skipping unreadable update")
			continue
		}
		if info.HasSequence() {
			seen[seqKey{instance: info.InstanceID, seq: info.Sequence}] = true
		}
		records = append(records, types.UpdateRecord{
			InstanceID: info.InstanceID,
			Timestamp:  info.Timestamp,
			Sequence:   info.Sequence,
			Data:       data,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		if records[i].InstanceID != records[j].InstanceID {
			return records[i].InstanceID < records[j].InstanceID
		}
		return records[i].Sequence < records[j].Sequence
	})
	return records, nil
}

type seqKey struct {
	instance string
	seq      int64
}
