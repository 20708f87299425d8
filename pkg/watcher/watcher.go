package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/events"
	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/poller"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher turns filesystem events inside storage directories into
// fast-path handoff polling entries: when another instance's sync service
// materializes an update file, the dispatcher is told which sequence to
// expect instead of waiting for the next scheduled scan.
type Watcher struct {
	dispatcher *poller.Dispatcher
	broker     *events.Broker
	logger     zerolog.Logger

	fsw    *fsnotify.Watcher
	sds    map[string]layout.SD // sdID -> layout
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher feeding the given dispatcher. The broker may be
// nil.
func New(dispatcher *poller.Dispatcher, broker *events.Broker) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		dispatcher: dispatcher,
		broker:     broker,
		logger:     log.WithComponent("watcher"),
		fsw:        fsw,
		sds:        make(map[string]layout.SD),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// WatchSD registers an SD's update directories. Note update directories
// that appear later are picked up from their parent's create events.
func (w *Watcher) WatchSD(sdID, root string) error {
	sd := layout.New(root)
	w.sds[sdID] = sd

	for _, dir := range []string{sd.NotesDir(), sd.FolderUpdatesDir()} {
		if err := layout.EnsureDir(dir); err != nil {
			return err
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	// Existing note update directories.
	noteDirs, err := os.ReadDir(sd.NotesDir())
	if err != nil {
		return fmt.Errorf("failed to list notes: %w", err)
	}
	for _, e := range noteDirs {
		if e.IsDir() {
			w.watchNoteDir(sd, e.Name())
		}
	}
	return nil
}

func (w *Watcher) watchNoteDir(sd layout.SD, noteID string) {
	dir := sd.NoteUpdatesDir(noteID)
	if err := layout.EnsureDir(dir); err != nil {
		w.logger.Warn().Err(err).Str("note_id", noteID).Msg("Failed to prepare updates dir")
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str("note_id", noteID).Msg("Failed to watch updates dir")
	}
}

// Start begins draining filesystem events.
func (w *Watcher) Start() {
	go w.run()
}

// Stop stops the watcher and waits for the drain loop to exit.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	err := w.fsw.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	w.logger.Info().Msg("SD watcher started")
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.handleCreate(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		case <-w.stopCh:
			return
		}
	}
}

// handleCreate classifies a created path against every registered SD.
func (w *Watcher) handleCreate(path string) {
	for sdID, sd := range w.sds {
		rel, err := filepath.Rel(sd.Root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}

		// A new note directory: start watching its updates.
		if dir, statErr := os.Stat(path); statErr == nil && dir.IsDir() {
			if filepath.Dir(path) == sd.NotesDir() {
				w.watchNoteDir(sd, filepath.Base(path))
			}
			return
		}

		name := filepath.Base(path)
		info, ok := codec.ParseUpdateFilename(name)
		if !ok {
			return
		}

		if codec.IsFolderTreeUpdateFilename(name) {
			if w.broker != nil {
				w.broker.Publish(&events.Event{Type: events.EventFolderChanged, SDID: sdID, Origin: events.OriginRemote})
			}
			return
		}

		expected := types.VectorClock{}
		if info.HasSequence() {
			expected[info.InstanceID] = info.Sequence
		}
		w.dispatcher.Upsert(sdID, info.DocumentID, types.PollReasonFastPathHandoff, expected)
		if w.broker != nil {
			w.broker.Publish(&events.Event{Type: events.EventNoteChanged, SDID: sdID, NoteID: info.DocumentID, Origin: events.OriginRemote})
		}
		return
	}
}
