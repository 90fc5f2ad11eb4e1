package codec

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kavascapital/marketfeed/internal/model"
)

// Packet sizes by subscription mode.
const (
	ltpPacketSize   = 8
	quotePacketSize = 44
	fullPacketSize  = 184

	depthEntrySize = 12
	depthLevels    = 5

	// priceScale converts int32 wire prices to currency units.
	priceScale = int32(2)
)

var (
	ErrShortFrame = errors.New("frame shorter than packet header")
	ErrEmptyFrame = errors.New("empty frame")
)

// Batch is the result of decoding one binary frame. Full-mode packets
// produce both a tick and a depth snapshot.
type Batch struct {
	Ticks  []model.Tick
	Depths []model.DepthSnapshot

	// Skipped counts malformed packets dropped from the frame.
	Skipped int
}

// Decode parses one binary frame. receivedAt supplies the timestamp for
// packets that do not carry an exchange timestamp; it is normalized to UTC.
// A malformed packet is skipped, not fatal: Decode only errors when the
// frame itself is unusable.
func Decode(data []byte, receivedAt time.Time) (Batch, error) {
	var b Batch

	if len(data) < 2 {
		return b, ErrShortFrame
	}

	count := int(binary.BigEndian.Uint16(data[0:2]))
	if count == 0 {
		return b, ErrEmptyFrame
	}

	receivedAt = receivedAt.UTC()
	offset := 2

	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			// Frame truncated mid-header. Everything already decoded stands.
			b.Skipped += count - i
			break
		}
		size := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2

		if offset+size > len(data) {
			b.Skipped += count - i
			break
		}
		packet := data[offset : offset+size]
		offset += size

		switch size {
		case ltpPacketSize:
			b.Ticks = append(b.Ticks, decodeLTP(packet, receivedAt))
		case quotePacketSize:
			b.Ticks = append(b.Ticks, decodeQuote(packet, receivedAt))
		case fullPacketSize:
			tick, depth := decodeFull(packet, receivedAt)
			b.Ticks = append(b.Ticks, tick)
			b.Depths = append(b.Depths, depth)
		default:
			b.Skipped++
		}
	}

	return b, nil
}

func decodeLTP(p []byte, ts time.Time) model.Tick {
	return model.Tick{
		Token:     model.InstrumentToken(binary.BigEndian.Uint32(p[0:4])),
		Mode:      model.ModeLTP,
		LastPrice: wirePrice(p[4:8]),
		Timestamp: ts,
	}
}

func decodeQuote(p []byte, ts time.Time) model.Tick {
	t := model.Tick{
		Token:        model.InstrumentToken(binary.BigEndian.Uint32(p[0:4])),
		Mode:         model.ModeQuote,
		LastPrice:    wirePrice(p[4:8]),
		LastQuantity: int64(binary.BigEndian.Uint32(p[8:12])),
		AveragePrice: wirePrice(p[12:16]),
		Volume:       int64(binary.BigEndian.Uint32(p[16:20])),
		BuyQuantity:  int64(binary.BigEndian.Uint32(p[20:24])),
		SellQuantity: int64(binary.BigEndian.Uint32(p[24:28])),
		OHLC: &model.DayOHLC{
			Open:  wirePrice(p[28:32]),
			High:  wirePrice(p[32:36]),
			Low:   wirePrice(p[36:40]),
			Close: wirePrice(p[40:44]),
		},
		Timestamp: ts,
	}
	if !t.OHLC.Close.IsZero() {
		t.NetChange = t.LastPrice.Sub(t.OHLC.Close)
	}
	return t
}

func decodeFull(p []byte, receivedAt time.Time) (model.Tick, model.DepthSnapshot) {
	t := decodeQuote(p[:quotePacketSize], receivedAt)
	t.Mode = model.ModeFull

	// Offset 60 carries the exchange timestamp in epoch seconds; prefer it
	// over local receive time when present.
	if exchangeTS := binary.BigEndian.Uint32(p[60:64]); exchangeTS != 0 {
		t.Timestamp = time.Unix(int64(exchangeTS), 0).UTC()
	}

	depth := model.DepthSnapshot{
		Token:     t.Token,
		Timestamp: t.Timestamp,
		Buy:       make([]model.DepthLevel, 0, depthLevels),
		Sell:      make([]model.DepthLevel, 0, depthLevels),
	}

	offset := 64
	for i := 0; i < depthLevels*2; i++ {
		level := model.DepthLevel{
			Quantity: int64(binary.BigEndian.Uint32(p[offset : offset+4])),
			Price:    wirePrice(p[offset+4 : offset+8]),
			Orders:   int64(binary.BigEndian.Uint16(p[offset+8 : offset+10])),
		}
		if i < depthLevels {
			depth.Buy = append(depth.Buy, level)
		} else {
			depth.Sell = append(depth.Sell, level)
		}
		offset += depthEntrySize
	}

	return t, depth
}

// wirePrice converts a big-endian int32 scaled price to a decimal with two
// fractional digits.
func wirePrice(p []byte) decimal.Decimal {
	raw := int32(binary.BigEndian.Uint32(p))
	return decimal.New(int64(raw), -priceScale)
}
