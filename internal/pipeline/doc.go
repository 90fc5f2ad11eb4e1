// Package pipeline connects the feed connector to its consumers.
//
// The connector's read loop pushes decoded events into a Queue, an unbounded
// but monitored buffer, so it never blocks on downstream work. A single
// Dispatcher goroutine drains the queue and applies each event, in arrival
// order, to the hot cache, the persistence writer and the broadcaster. One
// consumer goroutine is what preserves per-instrument ordering across all
// three sinks.
package pipeline
