package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/events"
	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/metrics"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/rs/zerolog"
)

// Store is the update/pack/snapshot façade for one instance over a set of
// registered storage directories.
type Store struct {
	instanceID string
	logger     zerolog.Logger
	broker     *events.Broker

	mu  sync.RWMutex
	sds map[string]layout.SD

	alloc *sequenceAllocator
}

// Option configures a Store.
type Option func(*Store)

// WithBroker publishes store events (updates persisted, packs and
// snapshots created) to the given broker.
func WithBroker(b *events.Broker) Option {
	return func(s *Store) { s.broker = b }
}

// NewStore creates a store writing as instanceID.
func NewStore(instanceID string, opts ...Option) *Store {
	s := &Store{
		instanceID: instanceID,
		logger:     log.WithComponent("store"),
		sds:        make(map[string]layout.SD),
		alloc:      newSequenceAllocator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstanceID returns the writing instance id.
func (s *Store) InstanceID() string { return s.instanceID }

// RegisterSD makes a storage directory known under sdID.
func (s *Store) RegisterSD(sdID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sds[sdID] = layout.New(path)
}

// SD returns the layout of a registered storage directory.
func (s *Store) SD(sdID string) (layout.SD, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sd, ok := s.sds[sdID]
	if !ok {
		return layout.SD{}, fmt.Errorf("%w: sd %q not registered", types.ErrNotFound, sdID)
	}
	return sd, nil
}

// SDIDs returns the registered storage directory ids, sorted.
func (s *Store) SDIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sds))
	for id := range s.sds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListNoteIDs enumerates the note directories present in an SD.
func (s *Store) ListNoteIDs(sdID string) ([]string, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(sd.NotesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteNoteUpdate persists one update for a note: it allocates the next
// sequence for (note, noteId), stamps the current time, and writes the
// update file. Returns the filename written.
func (s *Store) WriteNoteUpdate(sdID, noteID string, data []byte) (string, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return "", err
	}
	dir := sd.NoteUpdatesDir(noteID)
	if err := layout.EnsureDir(dir); err != nil {
		return "", err
	}

	seq, err := s.nextSequence(sdID, types.DocKey{Type: types.DocTypeNote, ID: noteID}, dir, sd.NotePacksDir(noteID), sd.NoteSnapshotsDir(noteID))
	if err != nil {
		return "", err
	}

	timestamp := types.NowMillis()
	filename := codec.GenerateUpdateFilename(s.instanceID, noteID, timestamp, seq)
	if err := writeFileAtomic(filepath.Join(dir, filename), data); err != nil {
		return "", err
	}

	metrics.UpdatesWrittenTotal.WithLabelValues(string(types.DocTypeNote)).Inc()
	s.publish(&events.Event{Type: events.EventUpdatePersisted, SDID: sdID, NoteID: noteID, Origin: events.OriginLocal, Bytes: data})
	return filename, nil
}

// WriteFolderUpdate persists one update for the SD's folder tree.
func (s *Store) WriteFolderUpdate(sdID string, data []byte) (string, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return "", err
	}
	dir := sd.FolderUpdatesDir()
	if err := layout.EnsureDir(dir); err != nil {
		return "", err
	}

	seq, err := s.nextSequence(sdID, types.DocKey{Type: types.DocTypeFolderTree, ID: sdID}, dir, "", "")
	if err != nil {
		return "", err
	}

	timestamp := types.NowMillis()
	filename := codec.GenerateFolderUpdateFilename(s.instanceID, sdID, timestamp, seq)
	if err := writeFileAtomic(filepath.Join(dir, filename), data); err != nil {
		return "", err
	}

	metrics.UpdatesWrittenTotal.WithLabelValues(string(types.DocTypeFolderTree)).Inc()
	s.publish(&events.Event{Type: events.EventUpdatePersisted, SDID: sdID, Origin: events.OriginLocal, Bytes: data})
	return filename, nil
}

// ListNoteUpdateFiles enumerates the parseable update files of a note,
// sorted by timestamp ascending.
func (s *Store) ListNoteUpdateFiles(sdID, noteID string) ([]types.UpdateFileInfo, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return nil, err
	}
	return listUpdateFiles(sd.NoteUpdatesDir(noteID), false)
}

// ListFolderUpdateFiles enumerates the parseable folder-tree update files
// of the SD, sorted by timestamp ascending.
func (s *Store) ListFolderUpdateFiles(sdID string) ([]types.UpdateFileInfo, error) {
	sd, err := s.SD(sdID)
	if err != nil {
		return nil, err
	}
	return listUpdateFiles(sd.FolderUpdatesDir(), true)
}

// ReadNoteUpdates reads every update blob for a note, in timestamp order.
func (s *Store) ReadNoteUpdates(sdID, noteID string) ([][]byte, error) {
	infos, err := s.ListNoteUpdateFiles(sdID, noteID)
	if err != nil {
		return nil, err
	}
	blobs := make([][]byte, 0, len(infos))
	for _, info := range infos {
		data, err := os.ReadFile(info.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read update %s: %w", info.Filename, err)
		}
		blobs = append(blobs, data)
	}
	return blobs, nil
}

// BuildVectorClock scans update filenames and returns the per-instance
// maximum sequence. Legacy files without a sequence are ignored.
func (s *Store) BuildVectorClock(sdID, noteID string) (types.VectorClock, error) {
	infos, err := s.ListNoteUpdateFiles(sdID, noteID)
	if err != nil {
		return nil, err
	}
	clock := types.VectorClock{}
	for _, info := range infos {
		if info.HasSequence() {
			clock.Observe(info.InstanceID, info.Sequence)
		}
	}
	return clock, nil
}

func (s *Store) publish(ev *events.Event) {
	if s.broker != nil {
		s.broker.Publish(ev)
	}
}

func listUpdateFiles(dir string, folderTree bool) ([]types.UpdateFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}

	var infos []types.UpdateFileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if folderTree != codec.IsFolderTreeUpdateFilename(e.Name()) {
			continue
		}
		info, ok := codec.ParseUpdateFilename(e.Name())
		if !ok {
			continue
		}
		info.Path = filepath.Join(dir, e.Name())
		infos = append(infos, info)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Timestamp != infos[j].Timestamp {
			return infos[i].Timestamp < infos[j].Timestamp
		}
		return infos[i].Sequence < infos[j].Sequence
	})
	return infos, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so concurrent readers and pollers never observe a
// partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
