// Package boundedcache provides a fixed-capacity, recency-ordered key/value
// store.
//
// Every table in capgate that could otherwise grow without bound (attempts,
// stability records, frozen resolutions) sits behind a Cache. Ordering is
// true recency: Set and Touch move a key to the most-recently-used end, Get
// does not. When an insert pushes the size past capacity, exactly one entry
// (the least recently used) is evicted.
package boundedcache
