package compactor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drewcsillag/notecove/pkg/crdt"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/metrics"
	"github.com/drewcsillag/notecove/pkg/store"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds compaction policy.
type Config struct {
	// SnapshotThreshold is the uncovered-update count that triggers a
	// snapshot.
	SnapshotThreshold int

	// PackMinSize is the smallest contiguous run worth packing.
	PackMinSize int

	// AgingWindow is how old an update must be before packing may consume
	// it; recent updates stay as individual files for cheap history views.
	AgingWindow time.Duration

	// Interval is the tick period of the background loop.
	Interval time.Duration
}

// DefaultConfig returns the standard compaction policy.
func DefaultConfig() Config {
	return Config{
		SnapshotThreshold: 100,
		PackMinSize:       50,
		AgingWindow:       time.Hour,
		Interval:          time.Minute,
	}
}

// DocumentProvider returns the full encoded state and covering clock for a
// note, for snapshotting. The engine backs this with live documents;
// RebuildProvider replays stored updates instead.
type DocumentProvider func(sdID, noteID string) (state []byte, clock types.VectorClock, err error)

// Compactor decides when to snapshot or pack and runs the operations.
type Compactor struct {
	store    *store.Store
	cfg      Config
	provider DocumentProvider
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a compactor. A nil provider falls back to RebuildProvider.
func New(st *store.Store, cfg Config, provider DocumentProvider) *Compactor {
	if cfg.SnapshotThreshold <= 0 {
		cfg.SnapshotThreshold = DefaultConfig().SnapshotThreshold
	}
	if cfg.PackMinSize <= 0 {
		cfg.PackMinSize = DefaultConfig().PackMinSize
	}
	if cfg.AgingWindow <= 0 {
		cfg.AgingWindow = DefaultConfig().AgingWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	c := &Compactor{
		store:    st,
		cfg:      cfg,
		provider: provider,
		logger:   log.WithComponent("compactor"),
		stopCh:   make(chan struct{}),
	}
	if c.provider == nil {
		c.provider = RebuildProvider(st)
	}
	return c
}

// RebuildProvider derives a note's state by replaying every stored update
// into a fresh replica. The clock is taken from the same record set, so the
// snapshot claims exactly what was replayed.
func RebuildProvider(st *store.Store) DocumentProvider {
	return func(sdID, noteID string) ([]byte, types.VectorClock, error) {
		records, err := st.CollectUpdates(sdID, noteID)
		if err != nil {
			return nil, nil, err
		}
		doc := crdt.NewDoc(st.InstanceID())
		clock := types.VectorClock{}
		for _, rec := range records {
			if err := doc.ApplyUpdate(rec.Data, crdt.OriginRemote); err != nil {
				// One bad blob must not block compaction of the rest.
				continue
			}
			if rec.Sequence >= 0 {
				clock.Observe(rec.InstanceID, rec.Sequence)
			}
		}
		return doc.EncodeStateAsUpdate(), clock, nil
	}
}

// Start begins the background compaction loop.
func (c *Compactor) Start() {
	go c.run()
}

// Stop stops the background loop.
func (c *Compactor) Stop() {
	close(c.stopCh)
}

func (c *Compactor) run() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.logger.Info().Msg("Compactor started")
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stopCh:
			c.logger.Info().Msg("Compactor stopped")
			return
		}
	}
}

// tick runs one compaction cycle over every note of every registered SD,
// tolerating per-note failures.
func (c *Compactor) tick() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CompactionDuration)
		metrics.CompactionCyclesTotal.Inc()
	}()

	for _, sdID := range c.store.SDIDs() {
		noteIDs, err := c.store.ListNoteIDs(sdID)
		if err != nil {
			c.logger.Error().Err(err).Str("sd_id", sdID).Msg("Failed to list notes")
			continue
		}
		for _, noteID := range noteIDs {
			if err := c.CompactNote(sdID, noteID); err != nil {
				c.logger.Error().Err(err).Str("sd_id", sdID).Str("note_id", noteID).Msg("Compaction failed")
			}
		}
	}
}

// CompactNote applies both triggers to one note: snapshot if enough
// uncovered updates accumulated, then pack if an aged contiguous run is
// reachable.
func (c *Compactor) CompactNote(sdID, noteID string) error {
	shouldSnapshot, err := c.store.ShouldCreateSnapshot(sdID, noteID, c.cfg.SnapshotThreshold)
	if err != nil {
		return err
	}
	if shouldSnapshot {
		if err := c.Snapshot(sdID, noteID); err != nil {
			return err
		}
	}
	return c.PackAged(sdID, noteID)
}

// Snapshot materializes the note's current state as a snapshot file.
func (c *Compactor) Snapshot(sdID, noteID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, clock, err := c.provider(sdID, noteID)
	if err != nil {
		return fmt.Errorf("failed to build document state: %w", err)
	}
	filename, err := c.store.WriteSnapshot(sdID, noteID, state, clock)
	if err != nil {
		return err
	}
	c.logger.Info().Str("sd_id", sdID).Str("note_id", noteID).Str("snapshot", filename).Msg("Snapshot created")
	return nil
}

// OnRotate returns a wal.Writer rotation hook that snapshots the note at
// rotation boundaries.
func (c *Compactor) OnRotate(sdID, noteID string) func(string) {
	return func(closedPath string) {
		if err := c.Snapshot(sdID, noteID); err != nil {
			c.logger.Error().Err(err).Str("log", closedPath).Msg("Snapshot at rotation failed")
		}
	}
}

// PackAged packs the longest contiguous run of same-instance updates whose
// newest entry is older than the aging window, if the run reaches the
// minimum size. Legacy files without a sequence are never packed.
func (c *Compactor) PackAged(sdID, noteID string) error {
	infos, err := c.store.ListNoteUpdateFiles(sdID, noteID)
	if err != nil {
		return err
	}

	run := c.selectPackRun(infos, types.NowMillis())
	if run == nil {
		return nil
	}
	filename, err := c.store.CreatePack(sdID, noteID, run)
	if err != nil {
		return err
	}
	c.logger.Info().Str("sd_id", sdID).Str("note_id", noteID).Str("pack", filename).Int("updates", len(run)).Msg("Pack created")
	return nil
}

// selectPackRun finds the longest contiguous aged run across instances.
func (c *Compactor) selectPackRun(infos []types.UpdateFileInfo, now int64) []types.UpdateFileInfo {
	cutoff := now - c.cfg.AgingWindow.Milliseconds()

	byInstance := map[string][]types.UpdateFileInfo{}
	for _, info := range infos {
		if !info.HasSequence() || info.Timestamp > cutoff {
			continue
		}
		byInstance[info.InstanceID] = append(byInstance[info.InstanceID], info)
	}

	var best []types.UpdateFileInfo
	for _, candidates := range byInstance {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Sequence < candidates[j].Sequence })
		start := 0
		for i := 1; i <= len(candidates); i++ {
			if i < len(candidates) && candidates[i].Sequence == candidates[i-1].Sequence+1 {
				continue
			}
			run := candidates[start:i]
			if len(run) >= c.cfg.PackMinSize && len(run) > len(best) {
				best = run
			}
			start = i
		}
	}
	return best
}
