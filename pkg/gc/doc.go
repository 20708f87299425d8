/*
Package gc prunes note storage once content is subsumed by a kept snapshot.

The safety rule: a file may only be deleted when the oldest kept snapshot's
vector clock covers its sequence AND the file is older than the minimum
history window. Files outside both conditions are what make the newest
snapshots replayable from any historical point, so GC never touches them.

Per-file failures are collected into the run's statistics and never abort
the sweep.
*/
package gc
