package types

import "errors"

// Engine error taxonomy. Callers classify failures with errors.Is; concrete
// sites wrap these with fmt.Errorf("...: %w", ...) for context.
var (
	// ErrNotFound indicates a required file or directory is missing.
	ErrNotFound = errors.New("not found")

	// ErrCorruptHeader indicates a log file header could not be decoded.
	ErrCorruptHeader = errors.New("corrupt log header")

	// ErrCorruptRecord indicates a log record body could not be decoded.
	// A trailing partial record is dropped by the reader instead.
	ErrCorruptRecord = errors.New("corrupt log record")

	// ErrFormatVersion indicates a pack or snapshot container carries an
	// unsupported format version.
	ErrFormatVersion = errors.New("unsupported format version")

	// ErrInvalidRange indicates a pack sequence range with endSeq < startSeq
	// or a negative bound.
	ErrInvalidRange = errors.New("invalid pack sequence range")

	// ErrCountMismatch indicates a pack whose entry count disagrees with its
	// declared sequence range.
	ErrCountMismatch = errors.New("pack entry count mismatch")

	// ErrNonContiguous indicates a pack whose entries do not form the
	// contiguous run startSeq..endSeq.
	ErrNonContiguous = errors.New("pack entries not contiguous")

	// ErrSequenceCollision indicates two writes claimed the same
	// (instance, document, sequence) slot.
	ErrSequenceCollision = errors.New("sequence collision")

	// ErrLockHeld indicates another live process holds the profile lock.
	ErrLockHeld = errors.New("profile lock held by another process")

	// ErrFinalized indicates an append on a log writer that has already
	// written its termination sentinel.
	ErrFinalized = errors.New("log writer finalized")

	// ErrCancelled is reserved for future cancellation support.
	ErrCancelled = errors.New("operation cancelled")
)
