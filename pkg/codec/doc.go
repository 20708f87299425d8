/*
Package codec implements the on-disk formats of the storage engine: the
filename grammars shared by every instance, the append-only log binary
format, and the pack and snapshot container bodies.

# Filename grammars

All names are case-sensitive ASCII. Underscores are allowed inside document
and SD ids; the fixed tokens keep the grammars disjoint.

	update    <instanceId>_<docId>_<timestamp>-<seq>.yjson
	folder    <instanceId>_folder-tree_<sdId>_<timestamp>-<seq>.yjson
	pack      <instanceId>_pack_<startSeq>-<endSeq>.yjson
	snapshot  snapshot_<totalChanges>_<instanceId>.yjson
	log       <instanceId>_<timestamp>.crdtlog

The legacy update form without the -<seq> suffix is parsed (Sequence == -1)
but never written.

# Log format

A 16-byte header (magic, version) followed by length-prefixed records and an
optional termination sentinel. A file truncated mid-record after a crash is
readable up to the last complete record; the reader drops the partial tail.

# Containers

Pack and snapshot bodies are version-1 self-describing JSON with base64
payload bytes. Snapshot state above 4 KiB is lz4 block-compressed and
flagged in the container; decoders accept raw and compressed forms. Any
other version fails decoding with ErrFormatVersion.
*/
package codec
