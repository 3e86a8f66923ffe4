// Package logdb provides directory-backed, append-only JSON stores that are
// safe for many uncoordinated writers on a shared network filesystem.
//
// # Concurrency: private fragments, no locks
//
// The core type is [Log], an append-only sequence of JSON-like records owned
// by a directory. Each writer appends only to its own uniquely-named fragment
// file, so concurrent processes can never corrupt each other's data; there
// are no locks, leases, or coordination services. The logical content of a
// log is the union of the compacted archive, all loose fragments, and the
// writer's unflushed buffer, in no particular order.
//
// [Log.Compact] folds loose fragments into a single compressed archive. It is
// the one mutating operation that touches shared state and must be run by a
// single coordinating process; other writers' fragments appearing mid-
// compaction stay loose and get picked up next time.
//
// # Derived structures
//
// [Set] is a deduplicated string set layered on a Log, and [Dict] is a
// last-write-wins dictionary. Both cache their content in memory after a
// one-time load and append deltas through the underlying log.
//
// # Partial-write tolerance
//
// An interrupted writer can leave a truncated line or a zero-size fragment
// behind. Readers skip malformed lines with a warning and keep going;
// compaction skips empty fragments rather than folding them. This is the
// designed tolerance for NFS synchronization artifacts.
package logdb
