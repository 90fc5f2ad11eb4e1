package model

import "fmt"

// Mode is the richness level of a subscription. Full includes everything in
// Quote, which includes everything in LTP.
type Mode int

const (
	ModeLTP Mode = iota + 1
	ModeQuote
	ModeFull
)

// ParseMode maps the wire names used by subscriber requests and the upstream
// control protocol.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "ltp":
		return ModeLTP, nil
	case "quote":
		return ModeQuote, nil
	case "full":
		return ModeFull, nil
	}
	return 0, fmt.Errorf("unknown subscription mode %q", s)
}

// String returns the wire name.
func (m Mode) String() string {
	switch m {
	case ModeLTP:
		return "ltp"
	case ModeQuote:
		return "quote"
	case ModeFull:
		return "full"
	}
	return "unknown"
}

// Includes reports whether a subscription at mode m is entitled to data of
// richness other.
func (m Mode) Includes(other Mode) bool {
	return m >= other
}

// MaxMode returns the richer of two modes.
func MaxMode(a, b Mode) Mode {
	if a > b {
		return a
	}
	return b
}
