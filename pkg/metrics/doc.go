/*
Package metrics exposes Prometheus collectors for the storage engine.

All collectors are package variables registered in init; components update
them directly. Handler returns the promhttp handler for mounting on an
operator-facing listener (see the serve subcommand).

Key series:

  - notecove_updates_written_total: update files written, by doc_type
  - notecove_packs_created_total / notecove_snapshots_created_total
  - notecove_gc_files_deleted_total / notecove_gc_bytes_freed_total
  - notecove_polls_dispatched_total: dispatched polls, by priority
  - notecove_poll_queue_depth: current polling queue size
*/
package metrics
