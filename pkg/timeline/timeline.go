package timeline

import (
	"fmt"
	"sort"

	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/store"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/drewcsillag/notecove/pkg/wal"
)

const (
	// DefaultIdleThresholdMs splits sessions at a five-minute idle gap.
	DefaultIdleThresholdMs = 5 * 60 * 1000

	// DefaultMaxUpdatesPerSession caps session size.
	DefaultMaxUpdatesPerSession = 100
)

// Options configures session grouping.
type Options struct {
	IdleThresholdMs      int64
	MaxUpdatesPerSession int
}

func (o Options) withDefaults() Options {
	if o.IdleThresholdMs <= 0 {
		o.IdleThresholdMs = DefaultIdleThresholdMs
	}
	if o.MaxUpdatesPerSession <= 0 {
		o.MaxUpdatesPerSession = DefaultMaxUpdatesPerSession
	}
	return o
}

// BuildTimeline reads every log file in logsDir and groups the records
// into activity sessions.
func BuildTimeline(logsDir string, opts Options) ([]types.Session, error) {
	infos, err := wal.ListLogFiles(logsDir)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("timeline")
	var records []types.UpdateRecord
	for _, info := range infos {
		logRecords, err := wal.ReadAll(info.Path)
		if err != nil {
			// One corrupt log never hides the others.
			logger.Warn().Err(err).Str("log", info.Filename).Msg("Skipping unreadable log")
			continue
		}
		for _, rec := range logRecords {
			records = append(records, types.UpdateRecord{
				InstanceID: info.InstanceID,
				Timestamp:  rec.Timestamp,
				Sequence:   rec.Sequence,
				Data:       rec.Data,
			})
		}
	}

	return GroupSessions(records, opts), nil
}

// BuildTimelineFromStore groups a note's packs and update files into
// activity sessions, for SDs using the update/pack layout instead of
// append-only logs.
func BuildTimelineFromStore(st *store.Store, sdID, noteID string, opts Options) ([]types.Session, error) {
	records, err := st.CollectUpdates(sdID, noteID)
	if err != nil {
		return nil, err
	}
	return GroupSessions(records, opts), nil
}

// GroupSessions walks records in timestamp order and splits them into
// maximal runs separated by the idle threshold and bounded by the session
// size cap. Session ids are deterministic functions of the first record,
// so rebuilds from the same inputs produce the same ids.
func GroupSessions(records []types.UpdateRecord, opts Options) []types.Session {
	opts = opts.withDefaults()

	sorted := make([]types.UpdateRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var sessions []types.Session
	var current *types.Session
	seenInstances := map[string]bool{}

	for _, rec := range sorted {
		startNew := current == nil ||
			rec.Timestamp-current.EndTime > opts.IdleThresholdMs ||
			len(current.Updates) == opts.MaxUpdatesPerSession
		if startNew {
			sessions = append(sessions, types.Session{
				ID:        fmt.Sprintf("%d-%s", rec.Timestamp, rec.InstanceID),
				StartTime: rec.Timestamp,
			})
			current = &sessions[len(sessions)-1]
			seenInstances = map[string]bool{}
		}

		current.Updates = append(current.Updates, rec)
		current.EndTime = rec.Timestamp
		current.UpdateCount = len(current.Updates)
		if !seenInstances[rec.InstanceID] {
			seenInstances[rec.InstanceID] = true
			current.InstanceIDs = append(current.InstanceIDs, rec.InstanceID)
		}
	}
	return sessions
}
