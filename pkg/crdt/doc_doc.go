/*
Package crdt implements the convergent document runtime and its two
schemas: the per-note document (metadata, body text, comment threads) and
the per-SD folder tree.

A Doc is one replica. State is a join semilattice of last-write-wins
registers (lamport stamp, actor tie-break) plus ordered text runs with
monotone tombstones, so applying updates is commutative and idempotent:
replicas that exchange encoded updates converge regardless of delivery
order or duplication.

Every mutator commits a single transaction and emits one atomic update.
Observers registered with ObserveUpdates see each committed update
synchronously, tagged local or remote, which is how the store learns what
to persist.
*/
package crdt
