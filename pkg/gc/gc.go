package gc

import (
	"fmt"
	"os"
	"time"

	"github.com/drewcsillag/notecove/pkg/events"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/metrics"
	"github.com/drewcsillag/notecove/pkg/store"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds garbage-collection policy.
type Config struct {
	// SnapshotRetentionCount is how many snapshots to keep, newest
	// coverage first.
	SnapshotRetentionCount int

	// MinimumHistoryDuration protects recent files from deletion even when
	// a snapshot covers them, so history scrubbing stays cheap.
	MinimumHistoryDuration time.Duration

	// Interval is the tick period of the background loop.
	Interval time.Duration
}

// DefaultConfig returns the standard GC policy.
func DefaultConfig() Config {
	return Config{
		SnapshotRetentionCount: 3,
		MinimumHistoryDuration: 24 * time.Hour,
		Interval:               10 * time.Minute,
	}
}

// Collector prunes snapshots, packs, and updates subsumed by kept
// snapshots.
type Collector struct {
	store  *store.Store
	cfg    Config
	broker *events.Broker
	logger zerolog.Logger
	stopCh chan struct{}
}

// New creates a collector. The broker may be nil.
func New(st *store.Store, cfg Config, broker *events.Broker) *Collector {
	if cfg.SnapshotRetentionCount <= 0 {
		cfg.SnapshotRetentionCount = DefaultConfig().SnapshotRetentionCount
	}
	if cfg.MinimumHistoryDuration <= 0 {
		cfg.MinimumHistoryDuration = DefaultConfig().MinimumHistoryDuration
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Collector{
		store:  st,
		cfg:    cfg,
		broker: broker,
		logger: log.WithComponent("gc"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the background GC loop.
func (c *Collector) Start() {
	go c.run()
}

// Stop stops the background loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) run() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.logger.Info().Msg("Garbage collector started")
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stopCh:
			c.logger.Info().Msg("Garbage collector stopped")
			return
		}
	}
}

func (c *Collector) tick() {
	for _, sdID := range c.store.SDIDs() {
		noteIDs, err := c.store.ListNoteIDs(sdID)
		if err != nil {
			c.logger.Error().Err(err).Str("sd_id", sdID).Msg("Failed to list notes")
			continue
		}
		for _, noteID := range noteIDs {
			stats := c.RunGarbageCollection(sdID, noteID)
			if len(stats.Errors) > 0 {
				c.logger.Warn().Str("sd_id", sdID).Str("note_id", noteID).Int("errors", len(stats.Errors)).Msg("GC completed with errors")
			}
		}
	}
}

// RunGarbageCollection prunes one note: snapshots past the retention
// count, then packs and updates whose content the oldest kept snapshot
// covers and which are older than the minimum history window. Per-file
// failures are recorded and skipped.
func (c *Collector) RunGarbageCollection(sdID, noteID string) types.GCStats {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GCDuration)

	var stats types.GCStats
	now := types.NowMillis()
	historyCutoff := now - c.cfg.MinimumHistoryDuration.Milliseconds()

	snapshots, err := c.store.ListSnapshotFiles(sdID, noteID)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return stats
	}

	// 1. Drop snapshots beyond the retention count, smallest coverage
	// first (the listing is coverage-descending).
	for _, info := range snapshots[min(c.cfg.SnapshotRetentionCount, len(snapshots)):] {
		if err := c.deleteFile(info.Path, &stats.DiskSpaceFreed); err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.SnapshotsDeleted++
		metrics.GCFilesDeletedTotal.WithLabelValues("snapshot").Inc()
	}

	// 2. The oldest kept snapshot is the cover clock: anything it does not
	// cover must survive so the snapshot stays replayable to any point.
	kept := snapshots[:min(c.cfg.SnapshotRetentionCount, len(snapshots))]
	if len(kept) == 0 {
		return stats
	}
	oldest, err := c.store.ReadSnapshot(sdID, noteID, kept[len(kept)-1].Filename)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("failed to read oldest kept snapshot: %w", err))
		return stats
	}
	cover := oldest.MaxSequences

	// 3. Packs fully covered and fully aged.
	packs, err := c.store.ListPackFiles(sdID, noteID)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
	}
	for _, info := range packs {
		if !cover.Covers(info.InstanceID, info.EndSeq) {
			continue
		}
		pack, err := c.store.ReadPackFile(sdID, noteID, info.Filename)
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		var newest int64
		for _, entry := range pack.Entries {
			if entry.Timestamp > newest {
				newest = entry.Timestamp
			}
		}
		if newest >= historyCutoff {
			continue
		}
		if err := c.deleteFile(info.Path, &stats.DiskSpaceFreed); err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.PacksDeleted++
		metrics.GCFilesDeletedTotal.WithLabelValues("pack").Inc()
	}

	// 4. Individual updates: covered sequence, aged timestamp. Legacy
	// files without a sequence are never provably covered.
	updates, err := c.store.ListNoteUpdateFiles(sdID, noteID)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
	}
	for _, info := range updates {
		if !info.HasSequence() || !cover.Covers(info.InstanceID, info.Sequence) {
			continue
		}
		if info.Timestamp >= historyCutoff {
			continue
		}
		if err := c.deleteFile(info.Path, &stats.DiskSpaceFreed); err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.UpdatesDeleted++
		metrics.GCFilesDeletedTotal.WithLabelValues("update").Inc()
	}

	metrics.GCBytesFreedTotal.Add(float64(stats.DiskSpaceFreed))
	if c.broker != nil {
		c.broker.Publish(&events.Event{Type: events.EventGCCompleted, SDID: sdID, NoteID: noteID})
	}
	return stats
}

func (c *Collector) deleteFile(path string, freed *int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	*freed += info.Size()
	return nil
}
