/*
Package store implements the update/pack/snapshot façade: the stateful
operations one instance uses to persist and enumerate CRDT state inside its
registered storage directories.

# Sequence discipline

Every update this instance writes carries a gap-free per-document sequence.
The first write for a document scans its updates, packs, and snapshots for
the highest sequence the instance has ever produced and continues from
there; concurrent first writes serialize on a per-document lock so they
agree. Sequences and filenames are the entire cross-instance protocol;
there is no other coordination.

# Compaction primitives

CreatePack turns a contiguous run of one instance's update files into a
single pack file, reading everything first, validating, writing the pack
atomically, and only then deleting the sources. WriteSnapshot persists the
full document state with the vector clock it covers. Both leave duplicates
rather than losing data when interrupted; CRDT merge idempotence absorbs
the duplicates.

# Reading

List* methods enumerate parseable files (updates by timestamp, packs by
start sequence, snapshots by coverage descending). CollectUpdates flattens
packs plus loose updates into the single ordered record list that replay
and timeline building consume.

All writes go through a temp-file rename so other processes polling the
same directory never see partial files.
*/
package store
