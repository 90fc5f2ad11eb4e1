// Package feed maintains the upstream WebSocket connection to the market
// data vendor: dialing, subscription control messages, binary frame decode,
// and reconnection with exponential backoff.
package feed
