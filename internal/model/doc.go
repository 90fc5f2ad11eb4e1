// Package model defines shared data types used across the market-data feed core.
//
// Conventions:
//   - Prices: decimal.Decimal with at least 2 decimal places
//   - Timestamps: time.Time, always normalized to UTC
//   - Instrument identity: int64 instrument token, stable for the life of
//     the instrument
package model
