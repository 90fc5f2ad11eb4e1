// Package server exposes the client-facing WebSocket endpoint. Each
// connection gets a hub subscription and a registry identity; subscribe and
// unsubscribe requests turn into registry deltas forwarded upstream.
package server
