// Package subs implements the subscription registry.
//
// The registry tracks, per subscriber and in aggregate, which instruments are
// wanted and at which richness mode. Per-instrument reference counts and
// per-mode counts make delta computation O(1) per touched instrument, so the
// feed connector only issues the minimal upstream subscribe/unsubscribe/mode
// calls. All mutations happen under one lock; readers never observe a
// half-applied update.
package subs
