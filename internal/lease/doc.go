// Package lease grants time-bounded exclusive leases over resource ids so
// that only one observer at a time runs an expensive confirmation probe.
//
// Observers may live in separate processes with no shared memory. The only
// shared resource is a Store: an asynchronous key/value namespace offering
// get, set, remove and get-all, and nothing stronger. Each Coordinator
// keeps an in-memory mirror of lease records and treats the store as the
// durable source of truth.
//
// # Protocol
//
// Claim hydrates the mirror once from the whole namespace (concurrent first
// callers share one read), prunes expired leases, and denies the claim if a
// live lease belongs to someone else. When the mirror holds no lease for the
// key, a single Get re-reads it so that leases written by other processes
// after hydration are still honoured. A grant is written to the store, and
// a failed write rolls the mirror back and denies: a lease the store does not
// hold is never handed out.
//
// Release is owner-scoped and idempotent. A non-owner release is a no-op.
//
// # Accepted Races
//
// The store has no compare-and-swap. Two processes that both read "free"
// and both write will each believe they won until the next read; the store's
// last write wins. Leases are short-lived and re-claimable, so this is
// tolerated rather than papered over.
//
// # Wire Format
//
// Records are stored under Prefix+resourceID as JSON:
//
//	{"attemptId":"attempt-a","expiresAtMs":6000,"updatedAtMs":1000}
//
// Unknown fields are ignored. A record missing a required field, or one
// that does not parse, is treated as absent.
package lease
