package store

import (
	"os"
	"sync"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/types"
)

// sequenceAllocator hands out gap-free per-(sd, type, document) sequences
// for this instance. The first allocation for a key scans the document's
// directories for the highest sequence this instance has ever written;
// concurrent first allocations for the same key serialize on the per-key
// lock so both observe the same scan result.
type sequenceAllocator struct {
	mu     sync.Mutex
	states map[allocKey]*allocState
}

type allocKey struct {
	sdID string
	doc  types.DocKey
}

type allocState struct {
	mu          sync.Mutex
	initialized bool
	next        int64
}

func newSequenceAllocator() *sequenceAllocator {
	return &sequenceAllocator{states: make(map[allocKey]*allocState)}
}

// allocate returns the next sequence for key, running scan exactly once
// per key lifetime (retried on scan failure).
func (a *sequenceAllocator) allocate(key allocKey, scan func() (int64, error)) (int64, error) {
	a.mu.Lock()
	state, ok := a.states[key]
	if !ok {
		state = &allocState{}
		a.states[key] = state
	}
	a.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.initialized {
		max, err := scan()
		if err != nil {
			return 0, err
		}
		state.next = max + 1
		state.initialized = true
	}

	seq := state.next
	state.next++
	return seq, nil
}

// nextSequence allocates the next sequence for a document, scanning its
// update, pack, and snapshot directories on first use. Pack end sequences
// and snapshot clocks participate in the scan so sequences stay gap-free
// even after this instance's raw updates were compacted away.
func (s *Store) nextSequence(sdID string, doc types.DocKey, updatesDir, packsDir, snapshotsDir string) (int64, error) {
	key := allocKey{sdID: sdID, doc: doc}
	return s.alloc.allocate(key, func() (int64, error) {
		return s.scanMaxSequence(updatesDir, packsDir, snapshotsDir)
	})
}

func (s *Store) scanMaxSequence(updatesDir, packsDir, snapshotsDir string) (int64, error) {
	var max int64 = -1

	infos, err := listUpdateFiles(updatesDir, false)
	if err != nil {
		return 0, err
	}
	folderInfos, err := listUpdateFiles(updatesDir, true)
	if err != nil {
		return 0, err
	}
	for _, info := range append(infos, folderInfos...) {
		if info.InstanceID == s.instanceID && info.Sequence > max {
			max = info.Sequence
		}
	}

	if packsDir != "" {
		packs, err := listPackFiles(packsDir)
		if err != nil {
			return 0, err
		}
		for _, pack := range packs {
			if pack.InstanceID == s.instanceID && pack.EndSeq > max {
				max = pack.EndSeq
			}
		}
	}

	if snapshotsDir != "" {
		snaps, err := listSnapshotFiles(snapshotsDir)
		if err != nil {
			return 0, err
		}
		for _, info := range snaps {
			data, err := os.ReadFile(info.Path)
			if err != nil {
				continue
			}
			snap, err := codec.DecodeSnapshotFile(data)
			if err != nil {
				continue
			}
			if seq, ok := snap.MaxSequences[s.instanceID]; ok && seq > max {
				max = seq
			}
		}
	}

	return max, nil
}
