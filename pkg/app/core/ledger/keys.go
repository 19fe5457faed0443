package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
)

// Pebble key schema
//   bal:<hex ticker>:<address> → 32-byte big-endian amount
//
// The ticker comes first so a prefix scan yields every holder of one asset.
// Tickers are hex encoded (fixed 64 chars) so the ':' separator is unambiguous.
const prefixBalance = "bal:"

// balanceKey returns the key for one (account, ticker) balance
// Format: "bal:{hex ticker}:{address}"
func balanceKey(ticker asset.Ticker, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x:%s", prefixBalance, ticker[:], account.Hex()))
}

// balancePrefix returns the prefix of all balances of a ticker
// Format: "bal:{hex ticker}:"
func balancePrefix(ticker asset.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%x:", prefixBalance, ticker[:]))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func encodeAmount(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func decodeAmount(b []byte) (*uint256.Int, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid balance encoding: %d bytes", len(b))
	}
	return new(uint256.Int).SetBytes32(b), nil
}
