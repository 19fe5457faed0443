package asset

import (
	"bytes"
	"fmt"
)

// TickerLen is the fixed width of a ticker symbol in bytes.
const TickerLen = 32

// Ticker is a fixed-width, zero-padded ASCII symbol (e.g. "DAI", "REP").
type Ticker [TickerLen]byte

// ParseTicker converts a symbol string into a Ticker
// Rejects empty symbols, symbols longer than 32 bytes and non-printable ASCII
func ParseTicker(s string) (Ticker, error) {
	var t Ticker
	if s == "" {
		return t, fmt.Errorf("ticker cannot be empty")
	}
	if len(s) > TickerLen {
		return t, fmt.Errorf("ticker %q exceeds %d bytes", s, TickerLen)
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= 0x20 || s[i] >= 0x7f {
			return t, fmt.Errorf("ticker %q contains invalid byte 0x%02x", s, s[i])
		}
	}
	copy(t[:], s)
	return t, nil
}

// MustTicker is like ParseTicker but panics on error. Intended for constants and tests.
func MustTicker(s string) Ticker {
	t, err := ParseTicker(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the symbol without zero padding
func (t Ticker) String() string {
	return string(bytes.TrimRight(t[:], "\x00"))
}

// IsZero reports whether the ticker is unset
func (t Ticker) IsZero() bool {
	return t == Ticker{}
}

func (t Ticker) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Ticker) UnmarshalText(b []byte) error {
	parsed, err := ParseTicker(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
