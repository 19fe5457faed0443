package dex

import (
	"encoding/binary"
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// StateHash returns a Keccak-256 digest of every balance and resting order
// Two apps that applied the same transactions produce the same hash.
func (a *App) StateHash() (common.Hash, error) {
	snap, err := a.engine.Snapshot()
	if err != nil {
		return common.Hash{}, err
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(snap.Quote[:])
	writeUint64(h, snap.NextOrderID)
	writeUint64(h, snap.NextTradeID)

	writeUint64(h, uint64(len(snap.Assets)))
	for _, as := range snap.Assets {
		h.Write(as.Ticker[:])
		writeUint64(h, uint64(len(as.Balances)))
		for _, e := range as.Balances {
			h.Write(e.Account.Bytes())
			writeAmount(h, e.Amount)
		}
	}

	writeUint64(h, uint64(len(snap.Books)))
	for _, b := range snap.Books {
		h.Write(b.Key.Ticker[:])
		h.Write([]byte{byte(b.Key.Side)})
		writeUint64(h, uint64(len(b.Orders)))
		for _, o := range b.Orders {
			writeUint64(h, o.ID)
			h.Write(o.Trader.Bytes())
			writeAmount(h, o.Price)
			writeAmount(h, o.Amount)
			writeAmount(h, o.Filled)
		}
	}

	var out common.Hash
	h.Sum(out[:0])
	return out, nil
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeAmount(h hash.Hash, v *uint256.Int) {
	buf := v.Bytes32()
	h.Write(buf[:])
}
