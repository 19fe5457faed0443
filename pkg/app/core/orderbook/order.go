package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

// Opposite returns the side a taker on s matches against
func (s Side) Opposite() Side {
	return -s
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q", s)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// Order is a resting limit order
// ID doubles as the time-priority key: lower ids were created earlier.
type Order struct {
	ID     uint64
	Trader common.Address
	Side   Side
	Ticker asset.Ticker
	Price  *uint256.Int // quote units per unit of Ticker
	Amount *uint256.Int
	Filled *uint256.Int // 0 <= Filled <= Amount
}

// Remaining returns the unfilled amount
func (o *Order) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(o.Amount, o.Filled)
}

// IsFilled reports whether the order has been matched in full
func (o *Order) IsFilled() bool {
	return o.Filled.Eq(o.Amount)
}

// Clone returns a deep copy safe to hand out of the book
func (o *Order) Clone() Order {
	return Order{
		ID:     o.ID,
		Trader: o.Trader,
		Side:   o.Side,
		Ticker: o.Ticker,
		Price:  o.Price.Clone(),
		Amount: o.Amount.Clone(),
		Filled: o.Filled.Clone(),
	}
}

// before reports whether a has priority over b on side
func before(side Side, a, b *Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		if side == Buy {
			return c > 0
		}
		return c < 0
	}
	return a.ID < b.ID
}
