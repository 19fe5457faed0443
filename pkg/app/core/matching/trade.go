package matching

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
)

// Trade is one match between a market order and a resting order
type Trade struct {
	ID        uint64
	OrderID   uint64 // resting order that was hit
	Ticker    asset.Ticker
	Maker     common.Address // owner of the resting order
	Taker     common.Address // sender of the market order
	TakerSide orderbook.Side
	Amount    *uint256.Int
	Price     *uint256.Int // resting order's price
	Date      time.Time
}

// Notional returns Price * Amount in quote units
func (t Trade) Notional() *uint256.Int {
	return new(uint256.Int).Mul(t.Price, t.Amount)
}
