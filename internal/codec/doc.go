// Package codec decodes upstream binary market-data frames and encodes the
// JSON control messages the provider expects.
//
// A binary frame carries a 2-byte big-endian packet count followed by
// length-prefixed packets. Packet length determines richness: 8 bytes for
// LTP, 44 for quote, 184 for full (which appends timestamps and five
// order-book levels per side). Prices arrive as int32 values scaled by 100.
//
// Decoding is lenient: a malformed packet is skipped and counted, the rest of
// the frame is still decoded.
package codec
