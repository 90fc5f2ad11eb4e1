package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentToken identifies a tradable instrument. Tokens are opaque and
// assigned by the upstream provider; they never change for a live instrument.
type InstrumentToken int64

// DayOHLC holds the running open/high/low/close for the current trading day,
// as reported by the upstream feed on quote and full mode packets.
type DayOHLC struct {
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// Tick is one price/volume update for one instrument at one instant.
// Immutable once constructed. Seq is a process-local arrival counter used to
// break timestamp ties deterministically downstream.
type Tick struct {
	Token        InstrumentToken `json:"instrument_token"`
	Mode         Mode            `json:"mode"`
	LastPrice    decimal.Decimal `json:"last_price"`
	LastQuantity int64           `json:"last_quantity,omitempty"`
	AveragePrice decimal.Decimal `json:"average_price,omitempty"`
	Volume       int64           `json:"volume,omitempty"`
	BuyQuantity  int64           `json:"buy_quantity,omitempty"`
	SellQuantity int64           `json:"sell_quantity,omitempty"`
	OHLC         *DayOHLC        `json:"ohlc,omitempty"`
	NetChange    decimal.Decimal `json:"change,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Seq          int64           `json:"-"`
}

// DepthLevel is one resting order-book level.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int64           `json:"orders"`
}

// DepthSnapshot is the resting buy/sell book for an instrument at one
// instant. Levels are ordered best-first. Immutable once constructed.
type DepthSnapshot struct {
	Token     InstrumentToken `json:"instrument_token"`
	Timestamp time.Time       `json:"timestamp"`
	Buy       []DepthLevel    `json:"buy"`
	Sell      []DepthLevel    `json:"sell"`
	Seq       int64           `json:"-"`
}

// Interval is a candle bucket width.
type Interval string

// Supported aggregation intervals.
const (
	Interval1Min  Interval = "1min"
	Interval5Min  Interval = "5min"
	Interval15Min Interval = "15min"
	Interval60Min Interval = "60min"
	Interval1Day  Interval = "1day"
)

// Duration returns the bucket width. Unknown intervals return 0.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1Min:
		return time.Minute
	case Interval5Min:
		return 5 * time.Minute
	case Interval15Min:
		return 15 * time.Minute
	case Interval60Min:
		return time.Hour
	case Interval1Day:
		return 24 * time.Hour
	}
	return 0
}

// AllIntervals lists every supported interval.
func AllIntervals() []Interval {
	return []Interval{Interval1Min, Interval5Min, Interval15Min, Interval60Min, Interval1Day}
}

// Candle is one OHLCV aggregate over a fixed time bucket. At most one candle
// exists per (token, interval, bucket start). A candle may be rewritten only
// while its bucket is still the current open one.
type Candle struct {
	Token       InstrumentToken `json:"instrument_token"`
	Interval    Interval        `json:"interval"`
	BucketStart time.Time       `json:"bucket_start"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"`
}

// EventType discriminates fan-out payloads.
type EventType string

const (
	EventTick   EventType = "tick"
	EventDepth  EventType = "depth"
	EventCandle EventType = "candle"
)

// Event is the normalized envelope flowing from the connector to the hot
// cache, the persistence writer and the broadcaster. Exactly one of Tick,
// Depth and Candle is set, matching Type.
type Event struct {
	Type   EventType
	Token  InstrumentToken
	Tick   *Tick
	Depth  *DepthSnapshot
	Candle *Candle
}

// TickEvent wraps a tick for dispatch.
func TickEvent(t *Tick) Event {
	return Event{Type: EventTick, Token: t.Token, Tick: t}
}

// DepthEvent wraps a depth snapshot for dispatch.
func DepthEvent(d *DepthSnapshot) Event {
	return Event{Type: EventDepth, Token: d.Token, Depth: d}
}

// CandleEvent wraps a closed candle for dispatch.
func CandleEvent(c *Candle) Event {
	return Event{Type: EventCandle, Token: c.Token, Candle: c}
}
