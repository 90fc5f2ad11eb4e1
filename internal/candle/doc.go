// Package candle rolls persisted ticks into fixed-interval OHLCV candles.
//
// The aggregator keeps a watermark per interval. Each check, every bucket
// the wall clock has closed since the watermark is aggregated for every
// instrument with live interest, and one candle per (instrument, interval,
// bucket) is upserted. Aggregation is deterministic: ticks are folded in
// (timestamp, arrival sequence) order, so re-running a closed bucket yields
// an identical candle.
package candle
