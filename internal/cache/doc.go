// Package cache implements a single-process, in-memory key/value store with
// LRU eviction, per-entry TTL, short-term lease locks and periodic durable
// snapshots.
//
// Goals for this package:
//   - Make the core data structure explicit (arena-backed list + map index)
//   - Provide O(1) Set/Get/Delete and O(1) eviction of the least recently used entry
//   - Be concurrency-safe behind a single mutex per store
//   - Expire entries both lazily (on read) and actively (background sweep)
//   - Survive restarts through atomically written snapshots
//   - Own and cleanly stop long-lived goroutines (no leaks on shutdown)
//
// Leases are released lazily: an expired lease is only observed by the next
// access to the entry. Only TTL sweeping has a timer.
package cache
