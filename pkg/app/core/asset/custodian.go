package asset

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Custodian moves the underlying asset between an account and the exchange.
// Both calls are all-or-nothing: a nil error means the full amount moved.
// Implementations are untrusted and may call back into the exchange.
type Custodian interface {
	// Pull transfers amount from the account into exchange custody
	Pull(ctx context.Context, from common.Address, amount *uint256.Int) error
	// Push releases amount from exchange custody to the account
	Push(ctx context.Context, to common.Address, amount *uint256.Int) error
}
