// Package writer implements the batch persistence writer.
//
// Events accumulate in memory and flush to the durable store when the batch
// reaches a record-count threshold or its oldest record exceeds an age
// threshold, whichever fires first. Inserts are conflict-safe on
// (instrument, timestamp) so upstream redelivery is harmless. A failed flush
// retains the batch and retries on the next trigger; sustained failure is
// surfaced through Stats, never by crashing the pipeline. Unflushed records
// are lost on process termination: an accepted tradeoff for low-latency
// ingestion.
package writer
