// Package cache implements the last-value hot cache.
//
// The cache keeps the most recent tick and depth snapshot per instrument for
// a short TTL so readers get the live value without touching storage. An
// expired or missing entry falls through to the durable store, never to the
// live feed. Writes are not transactional with persistence: the cache may be
// ahead of what the writer has flushed.
package cache
