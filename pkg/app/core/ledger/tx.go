package ledger

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
)

// Tx stages balance mutations in an indexed batch
// Reads through a Tx see its own staged writes on top of committed state.
// A Tx holds the ledger's writer lock until Commit or Discard.
type Tx struct {
	l     *Ledger
	batch *pebble.Batch
	done  bool
}

// Begin opens a transaction, blocking until no other transaction is open
func (l *Ledger) Begin() *Tx {
	l.mu.Lock()
	return &Tx{l: l, batch: l.db.NewIndexedBatch()}
}

// Get returns the balance including writes staged in this transaction
func (tx *Tx) Get(account common.Address, ticker asset.Ticker) (*uint256.Int, error) {
	return readAmount(tx.batch, balanceKey(ticker, account))
}

// Credit adds amount to the staged balance
func (tx *Tx) Credit(account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	bal, err := tx.Get(account, ticker)
	if err != nil {
		return err
	}
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		return fmt.Errorf("credit %s to %s: %w", amount.Dec(), account.Hex(), ErrBalanceOverflow)
	}
	return tx.put(account, ticker, bal)
}

// Debit subtracts amount from the staged balance
// Returns ErrInsufficientBalance instead of going negative
func (tx *Tx) Debit(account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	bal, err := tx.Get(account, ticker)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("debit %s %s from %s (have %s): %w",
			amount.Dec(), ticker, account.Hex(), bal.Dec(), ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	return tx.put(account, ticker, bal)
}

func (tx *Tx) put(account common.Address, ticker asset.Ticker, bal *uint256.Int) error {
	key := balanceKey(ticker, account)
	if bal.IsZero() {
		return tx.batch.Delete(key, nil)
	}
	return tx.batch.Set(key, encodeAmount(bal), nil)
}

// Commit applies all staged writes atomically and releases the writer lock
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	defer tx.release()
	if err := tx.batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// Discard drops all staged writes. Safe to call after Commit.
func (tx *Tx) Discard() {
	if tx.done {
		return
	}
	tx.release()
}

func (tx *Tx) release() {
	tx.done = true
	_ = tx.batch.Close()
	tx.l.mu.Unlock()
}
