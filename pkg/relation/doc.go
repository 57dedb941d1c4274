// Package relation implements the relationship synchronization engine.
//
// A relationship ("edge") between two users is never stored as its own
// row: it is denormalized across the two users' records as membership in
// three set-valued fields (sent_requests, incoming_requests, matched).
// The store offers no cross-record transaction, so every operation here
// is a sequence of single-record reads and idempotent writes with
// preconditions re-validated immediately before each write.
//
// The package is organized as:
//
//   - state.go: pure derivation of an edge state from two records,
//     with deterministic precedence when the records disagree
//   - engine.go: the five protocol operations (send, cancel, accept,
//     reject, remove) and their dual-write orchestration
//   - reads.go: read API with read-time reconciliation of asymmetric
//     edges
//   - reconcile.go: offline sweep repairing asymmetric edges in bulk
//   - errors.go: classified error type for retry and recovery logic
//
// Failures never corrupt state. A partial dual write is reported as a
// distinguishable result, is safe to retry (every mutation is a set
// add/remove), and self-heals on the next read through pruning.
package relation
