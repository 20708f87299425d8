package engine

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/compactor"
	"github.com/drewcsillag/notecove/pkg/config"
	"github.com/drewcsillag/notecove/pkg/crdt"
	"github.com/drewcsillag/notecove/pkg/events"
	"github.com/drewcsillag/notecove/pkg/gc"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/metrics"
	"github.com/drewcsillag/notecove/pkg/poller"
	"github.com/drewcsillag/notecove/pkg/profile"
	"github.com/drewcsillag/notecove/pkg/proflock"
	"github.com/drewcsillag/notecove/pkg/store"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/drewcsillag/notecove/pkg/wal"
	"github.com/drewcsillag/notecove/pkg/watcher"
	"github.com/rs/zerolog"
)

// Engine is the per-profile assembly: the store, the maintenance loops,
// the polling dispatcher, and the live documents of open notes.
type Engine struct {
	cfg        config.Config
	logger     zerolog.Logger
	profileDB  *profile.DB
	lock       *proflock.Lock
	broker     *events.Broker
	store      *store.Store
	compactor  *compactor.Compactor
	gc         *gc.Collector
	dispatcher *poller.Dispatcher
	watcher    *watcher.Watcher

	mu         sync.Mutex
	openNotes  map[noteKey]*crdt.Note
	folders    map[string]*crdt.FolderTree
	lastClocks map[noteKey]types.VectorClock
	journals   map[noteKey]*wal.Writer

	metricsSrv *http.Server
	eventsSub  events.Subscriber
	eventsDone chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
}

type noteKey struct {
	sdID   string
	noteID string
}

// Open acquires the profile lock, opens the profile database, and builds
// the engine. No background loops run until Start.
func Open(profileDir string, cfg config.Config) (*Engine, error) {
	lock, err := proflock.Acquire(profileDir)
	if err != nil {
		return nil, err
	}
	db, err := profile.Open(profileDir)
	if err != nil {
		lock.Release()
		return nil, err
	}
	instanceID, err := db.InstanceID()
	if err != nil {
		db.Close()
		lock.Release()
		return nil, err
	}

	broker := events.NewBroker()
	st := store.NewStore(instanceID, store.WithBroker(broker))

	e := &Engine{
		cfg:        cfg,
		logger:     log.WithComponent("engine"),
		profileDB:  db,
		lock:       lock,
		broker:     broker,
		store:      st,
		dispatcher: poller.New(cfg.Polling),
		openNotes:  make(map[noteKey]*crdt.Note),
		folders:    make(map[string]*crdt.FolderTree),
		lastClocks: make(map[noteKey]types.VectorClock),
		journals:   make(map[noteKey]*wal.Writer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	e.compactor = compactor.New(st, cfg.Compaction, e.provideDocument)
	e.gc = gc.New(st, cfg.GC, broker)

	w, err := watcher.New(e.dispatcher, broker)
	if err != nil {
		// Polling alone still converges; the watcher only shortens the
		// fast path.
		e.logger.Warn().Err(err).Msg("Filesystem watcher unavailable")
	} else {
		e.watcher = w
	}
	return e, nil
}

// Store exposes the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Dispatcher exposes the polling dispatcher.
func (e *Engine) Dispatcher() *poller.Dispatcher { return e.dispatcher }

// Broker exposes the event broker.
func (e *Engine) Broker() *events.Broker { return e.broker }

// ProfileDB exposes the profile database.
func (e *Engine) ProfileDB() *profile.DB { return e.profileDB }

// AddSD registers a storage directory and publishes this profile's
// presence into it.
func (e *Engine) AddSD(sdID, path string) error {
	e.store.RegisterSD(sdID, path)
	sd, err := e.store.SD(sdID)
	if err != nil {
		return err
	}
	if err := e.profileDB.WritePresence(sd, e.cfg.AppVersion); err != nil {
		return fmt.Errorf("failed to publish presence: %w", err)
	}
	if e.watcher != nil {
		if err := e.watcher.WatchSD(sdID, path); err != nil {
			logger := log.WithSD(sdID)
			logger.Warn().Err(err).Msg("Failed to watch SD")
		}
	}
	return nil
}

// Start launches the broker, the maintenance loops, and the polling loop.
func (e *Engine) Start() {
	e.broker.Start()
	e.subscribeEvents()
	e.compactor.Start()
	e.gc.Start()
	if e.watcher != nil {
		e.watcher.Start()
	}
	go e.pollLoop()

	if e.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		e.metricsSrv = &http.Server{Addr: e.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := e.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.logger.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}
	e.logger.Info().Msg("Engine started")
}

// Stop shuts down the loops, releases the profile lock, and closes the
// profile database.
func (e *Engine) Stop() error {
	close(e.stopCh)
	<-e.doneCh
	e.compactor.Stop()
	e.gc.Stop()
	if e.watcher != nil {
		e.watcher.Stop()
	}
	if e.eventsSub != nil {
		e.broker.Unsubscribe(e.eventsSub)
		<-e.eventsDone
	}
	e.broker.Stop()
	if e.metricsSrv != nil {
		e.metricsSrv.Close()
	}

	e.mu.Lock()
	journals := e.journals
	e.journals = make(map[noteKey]*wal.Writer)
	e.mu.Unlock()
	for _, journal := range journals {
		if err := journal.Finalize(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to finalize journal")
		}
	}

	var firstErr error
	if err := e.profileDB.Close(); err != nil {
		firstErr = err
	}
	if err := e.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info().Msg("Engine stopped")
	return firstErr
}

// CreateNote creates a live note document, persisting every local
// mutation as an update file.
func (e *Engine) CreateNote(sdID, noteID string) (*crdt.Note, error) {
	if _, err := e.store.SD(sdID); err != nil {
		return nil, err
	}

	note := crdt.NewNote(e.store.InstanceID())
	e.attachPersistence(sdID, noteID, note)
	note.Initialize(crdt.NoteMetadata{ID: noteID, SDID: sdID})

	e.mu.Lock()
	e.openNotes[noteKey{sdID: sdID, noteID: noteID}] = note
	e.mu.Unlock()
	return note, nil
}

// OpenNote loads a note into a live document by replaying its stored
// history, then persists every further local mutation.
func (e *Engine) OpenNote(sdID, noteID string) (*crdt.Note, error) {
	e.mu.Lock()
	if note, ok := e.openNotes[noteKey{sdID: sdID, noteID: noteID}]; ok {
		e.mu.Unlock()
		return note, nil
	}
	e.mu.Unlock()

	records, err := e.store.CollectUpdates(sdID, noteID)
	if err != nil {
		return nil, err
	}

	note := crdt.NewNote(e.store.InstanceID())
	logger := log.WithNote(sdID, noteID)
	for _, rec := range records {
		if err := note.ApplyUpdate(rec.Data, crdt.OriginRemote); err != nil {
			logger.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("Skipping undecodable update")
		}
	}
	e.attachPersistence(sdID, noteID, note)

	e.mu.Lock()
	e.openNotes[noteKey{sdID: sdID, noteID: noteID}] = note
	e.mu.Unlock()

	e.dispatcher.Upsert(sdID, noteID, types.PollReasonOpenNote, nil)
	return note, nil
}

// CloseNote drops the live document and finalizes its journal; the note's
// state stays fully on disk.
func (e *Engine) CloseNote(sdID, noteID string) {
	key := noteKey{sdID: sdID, noteID: noteID}
	e.mu.Lock()
	journal := e.journals[key]
	delete(e.openNotes, key)
	delete(e.journals, key)
	e.mu.Unlock()

	if journal != nil {
		if err := journal.Finalize(); err != nil {
			logger := log.WithNote(sdID, noteID)
			logger.Warn().Err(err).Msg("Failed to finalize journal")
		}
	}
}

// FolderTree loads (or returns) the SD's live folder tree.
func (e *Engine) FolderTree(sdID string) (*crdt.FolderTree, error) {
	e.mu.Lock()
	if tree, ok := e.folders[sdID]; ok {
		e.mu.Unlock()
		return tree, nil
	}
	e.mu.Unlock()

	infos, err := e.store.ListFolderUpdateFiles(sdID)
	if err != nil {
		return nil, err
	}
	tree := crdt.NewFolderTree(e.store.InstanceID())
	for _, info := range infos {
		data, err := os.ReadFile(info.Path)
		if err != nil {
			continue
		}
		if err := tree.ApplyUpdate(data, crdt.OriginRemote); err != nil {
			e.logger.Warn().Err(err).Str("file", info.Filename).Msg("Skipping undecodable folder update")
		}
	}
	tree.ObserveUpdates(func(ev crdt.UpdateEvent) {
		if ev.Origin != crdt.OriginLocal {
			return
		}
		if _, err := e.store.WriteFolderUpdate(sdID, ev.Bytes); err != nil {
			logger := log.WithSD(sdID)
			logger.Error().Err(err).Msg("Failed to persist folder update")
		}
	})

	e.mu.Lock()
	e.folders[sdID] = tree
	e.mu.Unlock()
	return tree, nil
}

// subscribeEvents attaches the engine's own consumer to the broker and
// starts draining.
func (e *Engine) subscribeEvents() {
	e.eventsSub = e.broker.Subscribe()
	e.eventsDone = make(chan struct{})
	go e.drainEvents()
}

// drainEvents reacts to broker traffic: locally persisted note updates
// enter the recent-edit polling window so follow-up edits from other
// instances are picked up quickly, and remote folder changes refresh the
// live folder tree.
func (e *Engine) drainEvents() {
	defer close(e.eventsDone)
	for ev := range e.eventsSub {
		switch ev.Type {
		case events.EventUpdatePersisted:
			if ev.Origin != events.OriginLocal || ev.NoteID == "" {
				continue
			}
			// Entries already queued (an open note, a pending handoff)
			// keep their reason; recent-edit only covers notes nothing
			// else is tracking.
			if _, queued := e.dispatcher.Entry(ev.SDID, ev.NoteID); !queued {
				e.dispatcher.Upsert(ev.SDID, ev.NoteID, types.PollReasonRecentEdit, nil)
			}
		case events.EventFolderChanged:
			e.refreshFolderTree(ev.SDID)
		}
	}
}

// refreshFolderTree merges the SD's folder updates into the live tree, if
// one is open. Re-applying known updates is a no-op under CRDT merge.
func (e *Engine) refreshFolderTree(sdID string) {
	e.mu.Lock()
	tree, open := e.folders[sdID]
	e.mu.Unlock()
	if !open {
		return
	}

	infos, err := e.store.ListFolderUpdateFiles(sdID)
	if err != nil {
		logger := log.WithSD(sdID)
		logger.Warn().Err(err).Msg("Failed to list folder updates")
		return
	}
	for _, info := range infos {
		data, err := os.ReadFile(info.Path)
		if err != nil {
			continue
		}
		if err := tree.ApplyUpdate(data, crdt.OriginRemote); err != nil {
			e.logger.Warn().Err(err).Str("file", info.Filename).Msg("Skipping undecodable folder update")
		}
	}
}

// attachPersistence persists local-origin updates of a live note: each
// update becomes a file in the SD and a record in the note's append-only
// journal, whose rotation triggers a snapshot.
func (e *Engine) attachPersistence(sdID, noteID string, note *crdt.Note) {
	logger := log.WithNote(sdID, noteID)
	note.ObserveUpdates(func(ev crdt.UpdateEvent) {
		if ev.Origin != crdt.OriginLocal {
			return
		}
		filename, err := e.store.WriteNoteUpdate(sdID, noteID, ev.Bytes)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to persist update")
			return
		}
		e.journalUpdate(sdID, noteID, filename, ev.Bytes)
	})
}

// journalUpdate mirrors a persisted update into the note's .crdtlog
// stream.
func (e *Engine) journalUpdate(sdID, noteID, filename string, data []byte) {
	info, ok := codec.ParseUpdateFilename(filename)
	if !ok {
		return
	}

	key := noteKey{sdID: sdID, noteID: noteID}
	e.mu.Lock()
	journal, exists := e.journals[key]
	if !exists {
		sd, err := e.store.SD(sdID)
		if err != nil {
			e.mu.Unlock()
			return
		}
		journal = wal.NewWriter(sd.NoteLogsDir(noteID), e.store.InstanceID(), wal.WriterOptions{
			RotationSize: e.cfg.LogRotationSizeBytes,
			OnRotate:     e.compactor.OnRotate(sdID, noteID),
		})
		e.journals[key] = journal
	}
	e.mu.Unlock()

	if _, err := journal.AppendRecord(info.Timestamp, info.Sequence, data); err != nil {
		logger := log.WithNote(sdID, noteID)
		logger.Warn().Err(err).Msg("Failed to journal update")
	}
}

// provideDocument backs the compactor: live documents snapshot their own
// state; closed notes are rebuilt from storage.
func (e *Engine) provideDocument(sdID, noteID string) ([]byte, types.VectorClock, error) {
	e.mu.Lock()
	note, open := e.openNotes[noteKey{sdID: sdID, noteID: noteID}]
	e.mu.Unlock()

	if !open {
		return compactor.RebuildProvider(e.store)(sdID, noteID)
	}

	records, err := e.store.CollectUpdates(sdID, noteID)
	if err != nil {
		return nil, nil, err
	}
	clock := types.VectorClock{}
	for _, rec := range records {
		if rec.Sequence >= 0 {
			clock.Observe(rec.InstanceID, rec.Sequence)
		}
	}
	return note.EncodeStateAsUpdate(), clock, nil
}

// pollLoop drains the dispatcher on a steady tick.
func (e *Engine) pollLoop() {
	defer close(e.doneCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.PollOnce()
		case <-e.stopCh:
			return
		}
	}
}

// PollOnce dispatches one batch and scans each entry's note directory,
// feeding observed sequences and new updates back into the system.
// Per-entry failures never abort the batch.
func (e *Engine) PollOnce() {
	batch := e.dispatcher.GetNextBatch(e.cfg.Polling.MaxBurstPerSecond)
	for _, entry := range batch {
		hit, err := e.pollNote(entry.SDID, entry.NoteID)
		if err != nil {
			e.logger.Warn().Err(err).Str("sd_id", entry.SDID).Str("note_id", entry.NoteID).Msg("Poll failed")
		}
		e.dispatcher.MarkPolled(entry.SDID, entry.NoteID, hit)
		if err := e.profileDB.AddPollStats(entry.SDID, 1, boolToInt(hit)); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to record poll stats")
		}
	}
}

// pollNote re-scans one note from disk. A hit means the vector clock
// advanced since the last scan; new remote updates are applied to the live
// document if the note is open.
func (e *Engine) pollNote(sdID, noteID string) (bool, error) {
	clock, err := e.store.BuildVectorClock(sdID, noteID)
	if err != nil {
		return false, err
	}
	for instance, seq := range clock {
		e.dispatcher.UpdateSequence(sdID, noteID, instance, seq)
	}

	key := noteKey{sdID: sdID, noteID: noteID}
	e.mu.Lock()
	last := e.lastClocks[key]
	note, open := e.openNotes[key]
	e.mu.Unlock()

	hit := false
	for instance, seq := range clock {
		if !last.Covers(instance, seq) {
			hit = true
		}
	}

	if hit && open {
		records, err := e.store.CollectUpdates(sdID, noteID)
		if err != nil {
			return hit, err
		}
		logger := log.WithNote(sdID, noteID)
		for _, rec := range records {
			if rec.InstanceID == e.store.InstanceID() {
				continue
			}
			if rec.Sequence >= 0 && last.Covers(rec.InstanceID, rec.Sequence) {
				continue
			}
			if err := note.ApplyUpdate(rec.Data, crdt.OriginRemote); err != nil {
				logger.Warn().Err(err).Msg("Skipping undecodable remote update")
			}
		}
	}
	if hit {
		e.broker.Publish(&events.Event{Type: events.EventNoteChanged, SDID: sdID, NoteID: noteID, Origin: events.OriginRemote})
	}

	e.mu.Lock()
	e.lastClocks[key] = clock
	e.mu.Unlock()
	return hit, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
