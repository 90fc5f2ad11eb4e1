// Package store persists market data to PostgreSQL via pgx.
//
// The write side serves the batch writer and the candle aggregator: bulk
// conflict-safe inserts keyed by (instrument_token, ts) and candle upserts.
// The read side serves the hot cache's fallback path and the external query
// layer: latest values plus tick and candle range queries. Range reads are
// ordered by (ts, seq) so aggregation stays deterministic.
package store
