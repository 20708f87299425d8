package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/drewcsillag/notecove/pkg/codec"
	"github.com/drewcsillag/notecove/pkg/types"
)

// Record is one entry read back from a log file.
type Record struct {
	Timestamp int64
	Sequence  int64
	Data      []byte
}

// ReadAll streams every complete record from one log file. A partial record
// at the tail (crash mid-append) is dropped silently; an unreadable header
// fails with ErrCorruptHeader.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, codec.LogHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrCorruptHeader, path)
	}
	if _, err := codec.ParseLogHeader(header); err != nil {
		return nil, err
	}

	var records []Record
	for {
		ts, seq, data, err := codec.ReadLogRecord(r)
		if err == io.EOF {
			return records, nil
		}
		if errors.Is(err, types.ErrCorruptRecord) {
			// Trailing partial record from an interrupted append.
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, Record{Timestamp: ts, Sequence: seq, Data: data})
	}
}

// ListLogFiles returns every well-named .crdtlog file in dir. A missing
// directory is an empty listing, not an error.
func ListLogFiles(dir string) ([]types.LogFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	var infos []types.LogFileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, ok := codec.ParseLogFilename(e.Name())
		if !ok {
			continue
		}
		info.Path = filepath.Join(dir, e.Name())
		infos = append(infos, info)
	}
	return infos, nil
}
