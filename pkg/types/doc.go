/*
Package types defines the shared value types of the storage engine: document
keys, vector clocks, on-disk file descriptors, timeline sessions, polling
enums, and the error taxonomy.

Everything here is a plain value. Vector clocks are ordinary maps and are not
safe for concurrent mutation; components that share one copy it first with
Clone.

# See Also

  - pkg/codec for the on-disk encodings of these types
  - pkg/store for the operations that produce and consume them
*/
package types
