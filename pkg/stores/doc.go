// Package stores provides the per-user record store for knot.
//
// Each user owns exactly one UserRecord holding the relationship sets
// (sent requests, incoming requests, matched connections) and the
// onboarding-completion flag. The Store interface deliberately exposes
// only single-record reads and single-record mutations: the relation
// engine is written against a store with no cross-record atomicity, so
// no transaction spanning two user records is ever offered here, even
// though the SQLite backend could provide one.
//
// Two implementations are included: SQLiteStore (WAL mode, embedded
// migrations) and MemoryStore (tests and fault injection).
package stores
