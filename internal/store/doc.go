// Package store provides a SQLite-backed lease.Store.
//
// Leases live in a single key/value table so that several processes on
// one host can coordinate probes through one database file:
//
//	kv(key TEXT PRIMARY KEY, value TEXT, updated_at_ms INTEGER)
//
// The store has no compare-and-swap. Concurrent writers to the same key
// resolve by last write wins, which the lease coordinator accepts.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Errors returned by the store are *StoreError values carrying the failed
// operation and key; redisstore and filestore use the same type.
package store
