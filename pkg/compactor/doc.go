/*
Package compactor turns aged per-update files into packs and accumulated
history into full-state snapshots.

Three triggers feed it: log rotation (via the OnRotate hook), the
uncovered-update threshold, and a reachable aged pack window. Failures are
logged and retried on the next tick; source files are never deleted before
the replacement file is durably written.
*/
package compactor
