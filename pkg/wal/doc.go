/*
Package wal persists per-document update streams as append-only .crdtlog
files with size-based rotation.

A Writer owns one (instance, document) stream. Each append is a single
write, so a crash can only lose the record being appended; the reader
recovers by dropping the partial tail. Rotation terminates the current file
with a sentinel and opens a fresh one whose filename timestamp is strictly
greater than any existing log of the instance; the OnRotate hook lets the
compactor snapshot at rotation boundaries.

	w := wal.NewWriter(dir, instanceID, wal.WriterOptions{})
	res, err := w.AppendRecord(ts, seq, update)
	...
	w.Finalize()

Readers are stateless: ReadAll streams one file, ListLogFiles enumerates a
directory.
*/
package wal
