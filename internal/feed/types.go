package feed

import (
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned when sending on a disconnected client.
	ErrNotConnected = errors.New("not connected")

	// ErrStaleConnection signals that no traffic arrived within the read timeout.
	ErrStaleConnection = errors.New("stale connection: no traffic received")

	// ErrAlreadyClosed is returned when connecting a closed client.
	ErrAlreadyClosed = errors.New("client already closed")

	// ErrReconnectExhausted signals that the reconnect attempt cap was hit.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Message is a single raw WebSocket message with its local arrival time.
type Message struct {
	Data       []byte
	Binary     bool
	ReceivedAt time.Time
}

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL          string
	APIKey       string
	AccessToken  string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// State is the connector lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
