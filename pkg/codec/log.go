package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/drewcsillag/notecove/pkg/types"
)

// Append-only log file format. The file starts with a fixed 16-byte header:
//
//	offset 0: magic "NCCRDTLG" (8 bytes)
//	offset 8: format version, uint32 little-endian
//	offset 12: reserved, uint32 zero
//
// Records follow back to back:
//
//	uint32 payload length | int64 timestamp ms | int64 sequence | payload
//
// A payload length of 0xFFFFFFFF is the termination sentinel; nothing
// follows it. A file may end mid-record after a crash; readers drop the
// trailing partial record.

var logMagic = [8]byte{'N', 'C', 'C', 'R', 'D', 'T', 'L', 'G'}

const (
	// LogHeaderSize is the fixed size of the log file header.
	LogHeaderSize = 16

	// LogRecordHeaderSize is the fixed per-record prefix before the payload.
	LogRecordHeaderSize = 20

	// LogFormatVersion is the current log format version.
	LogFormatVersion = 1

	terminationMarker = 0xFFFFFFFF

	// maxRecordPayload bounds a single record; longer declared lengths are
	// treated as corruption.
	maxRecordPayload = 64 << 20
)

// LogHeader is the decoded log file header.
type LogHeader struct {
	Version uint32
}

// WriteLogHeader writes the 16-byte header to w.
func WriteLogHeader(w io.Writer) error {
	var buf [LogHeaderSize]byte
	copy(buf[:8], logMagic[:])
	binary.LittleEndian.PutUint32(buf[8:12], LogFormatVersion)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write log header: %w", err)
	}
	return nil
}

// ParseLogHeader decodes the header bytes. It fails with ErrCorruptHeader
// on a short buffer, bad magic, or unknown version.
func ParseLogHeader(buf []byte) (LogHeader, error) {
	if len(buf) < LogHeaderSize {
		return LogHeader{}, fmt.Errorf("%w: %d bytes", types.ErrCorruptHeader, len(buf))
	}
	for i := range logMagic {
		if buf[i] != logMagic[i] {
			return LogHeader{}, fmt.Errorf("%w: bad magic", types.ErrCorruptHeader)
		}
	}
	version := binary.LittleEndian.Uint32(buf[8:12])
	if version != LogFormatVersion {
		return LogHeader{}, fmt.Errorf("%w: version %d", types.ErrCorruptHeader, version)
	}
	return LogHeader{Version: version}, nil
}

// EncodedRecordSize returns the on-disk size of a record with the given
// payload length.
func EncodedRecordSize(payloadLen int) int64 {
	return int64(LogRecordHeaderSize + payloadLen)
}

// WriteLogRecord appends one record to w as a single write.
func WriteLogRecord(w io.Writer, timestamp, sequence int64, data []byte) error {
	buf := make([]byte, LogRecordHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(timestamp))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(sequence))
	copy(buf[LogRecordHeaderSize:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write log record: %w", err)
	}
	return nil
}

// WriteTerminationSentinel appends the end-of-log marker to w.
func WriteTerminationSentinel(w io.Writer) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], terminationMarker)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write termination sentinel: %w", err)
	}
	return nil
}

// ReadLogRecord reads the next record from r. It returns io.EOF at the
// sentinel or clean end of file, and ErrCorruptRecord for a truncated or
// implausible record.
func ReadLogRecord(r io.Reader) (timestamp, sequence int64, data []byte, err error) {
	var hdr [LogRecordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		if err == io.EOF {
			return 0, 0, nil, io.EOF
		}
		return 0, 0, nil, fmt.Errorf("%w: truncated length", types.ErrCorruptRecord)
	}
	payloadLen := binary.LittleEndian.Uint32(hdr[:4])
	if payloadLen == terminationMarker {
		return 0, 0, nil, io.EOF
	}
	if payloadLen > maxRecordPayload {
		return 0, 0, nil, fmt.Errorf("%w: implausible length %d", types.ErrCorruptRecord, payloadLen)
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: truncated header", types.ErrCorruptRecord)
	}
	timestamp = int64(binary.LittleEndian.Uint64(hdr[4:12]))
	sequence = int64(binary.LittleEndian.Uint64(hdr[12:20]))
	data = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: truncated payload", types.ErrCorruptRecord)
	}
	return timestamp, sequence, data, nil
}
