package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/metrics"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultRotationSize is the log size threshold that triggers rotation.
const DefaultRotationSize = 10 << 20

// WriterOptions configures a Writer.
type WriterOptions struct {
	// RotationSize is the byte threshold at which the current file is
	// terminated and a fresh one started. Defaults to DefaultRotationSize.
	RotationSize int64

	// OnRotate runs after a rotation completes, with the path of the file
	// that was just terminated. The compactor hooks snapshot creation here.
	OnRotate func(closedPath string)
}

// Writer appends records for one (instance, document) stream to .crdtlog
// files under a single directory, rotating at the size threshold. Appends
// are serialized internally.
type Writer struct {
	dir        string
	instanceID string
	opts       WriterOptions
	logger     zerolog.Logger

	mu        sync.Mutex
	file      *os.File
	path      string
	offset    int64
	finalized bool
}

// AppendResult reports where a record landed.
type AppendResult struct {
	File   string
	Offset int64
}

// NewWriter creates a writer for the given log directory and instance. No
// file is created until the first append.
func NewWriter(dir, instanceID string, opts WriterOptions) *Writer {
	if opts.RotationSize <= 0 {
		opts.RotationSize = DefaultRotationSize
	}
	return &Writer{
		dir:        dir,
		instanceID: instanceID,
		opts:       opts,
		logger:     log.WithInstance(instanceID),
	}
}

// AppendRecord appends one record, rotating first if it would push the
// current file past the rotation threshold. Fails with ErrFinalized after
// Finalize.
func (w *Writer) AppendRecord(timestamp, sequence int64, data []byte) (AppendResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return AppendResult{}, types.ErrFinalized
	}

	recordSize := codec.EncodedRecordSize(len(data))
	if w.file != nil && w.offset+recordSize > w.opts.RotationSize {
		if err := w.rotateLocked(); err != nil {
			return AppendResult{}, err
		}
	}
	if w.file == nil {
		if err := w.openFreshLocked(); err != nil {
			return AppendResult{}, err
		}
	}

	offset := w.offset
	if err := codec.WriteLogRecord(w.file, timestamp, sequence, data); err != nil {
		return AppendResult{}, err
	}
	w.offset += recordSize
	return AppendResult{File: w.path, Offset: offset}, nil
}

// Finalize writes the termination sentinel and closes the current file.
// Idempotent; later appends fail with ErrFinalized.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return nil
	}
	w.finalized = true
	if w.file == nil {
		return nil
	}
	return w.closeCurrentLocked()
}

// CurrentPath returns the path of the open log file, or "" before the first
// append.
func (w *Writer) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *Writer) rotateLocked() error {
	closed := w.path
	if err := w.closeCurrentLocked(); err != nil {
		return err
	}
	if err := w.openFreshLocked(); err != nil {
		return err
	}
	metrics.LogRotationsTotal.Inc()
	w.logger.Debug().Str("closed", closed).Str("opened", w.path).Msg("Log rotated")
	if w.opts.OnRotate != nil {
		w.opts.OnRotate(closed)
	}
	return nil
}

func (w *Writer) closeCurrentLocked() error {
	if err := codec.WriteTerminationSentinel(w.file); err != nil {
		w.file.Close()
		w.file = nil
		return err
	}
	if err := w.file.Close(); err != nil {
		w.file = nil
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil
	return nil
}

// openFreshLocked creates a new log file whose filename timestamp is
// strictly greater than any existing log of this instance, so names never
// collide even when the wall clock stalls.
func (w *Writer) openFreshLocked() error {
	if err := layout.EnsureDir(w.dir); err != nil {
		return err
	}

	ts := types.NowMillis()
	if max, ok := w.maxExistingTimestamp(); ok && ts <= max {
		ts = max + 1
	}

	path := filepath.Join(w.dir, codec.GenerateLogFilename(w.instanceID, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	if err := codec.WriteLogHeader(f); err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.path = path
	w.offset = codec.LogHeaderSize
	return nil
}

func (w *Writer) maxExistingTimestamp() (int64, bool) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, false
	}
	var max int64 = -1
	for _, e := range entries {
		info, ok := codec.ParseLogFilename(e.Name())
		if !ok || info.InstanceID != w.instanceID {
			continue
		}
		if info.Timestamp > max {
			max = info.Timestamp
		}
	}
	return max, max >= 0
}
