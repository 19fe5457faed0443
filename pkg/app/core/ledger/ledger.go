package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
)

var (
	ErrInsufficientBalance = errors.New("balance too low")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// Balance is one (ticker, amount) entry of an account
type Balance struct {
	Ticker asset.Ticker
	Amount *uint256.Int
}

// Entry is one non-zero committed balance
type Entry struct {
	Account common.Address
	Amount  *uint256.Int
}

// Ledger holds per-(account, ticker) balances
//
// Balances live in a Pebble instance on an in-memory filesystem. Every
// mutation goes through a Tx backed by an indexed batch, so a caller can
// stage several credits/debits, read them back, and either commit all of
// them atomically or discard them. Only one Tx is open at a time.
type Ledger struct {
	mu       sync.Mutex // held by the open Tx
	db       *pebble.DB
	registry *asset.Registry
	logger   *zap.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the ledger logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Open creates an empty ledger for the assets of registry
func Open(registry *asset.Registry, opts ...Option) (*Ledger, error) {
	db, err := pebble.Open("", &pebble.Options{
		FS:           vfs.NewMem(),
		MemTableSize: 16 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open balance store: %w", err)
	}

	l := &Ledger{
		db:       db,
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the underlying store
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Get returns the committed balance of account in ticker (zero if none)
func (l *Ledger) Get(account common.Address, ticker asset.Ticker) (*uint256.Int, error) {
	return readAmount(l.db, balanceKey(ticker, account))
}

// Balances returns the committed balance of account for every registered asset
func (l *Ledger) Balances(account common.Address) ([]Balance, error) {
	assets := l.registry.List()
	out := make([]Balance, 0, len(assets))
	for _, a := range assets {
		amt, err := l.Get(account, a.Ticker)
		if err != nil {
			return nil, err
		}
		out = append(out, Balance{Ticker: a.Ticker, Amount: amt})
	}
	return out, nil
}

// Supply returns the sum of all committed balances of ticker
func (l *Ledger) Supply(ticker asset.Ticker) (*uint256.Int, error) {
	prefix := balancePrefix(ticker)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	total := new(uint256.Int)
	for iter.First(); iter.Valid(); iter.Next() {
		amt, err := decodeAmount(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("supply %s: %w", ticker, err)
		}
		if _, overflow := total.AddOverflow(total, amt); overflow {
			return nil, fmt.Errorf("supply %s: %w", ticker, ErrBalanceOverflow)
		}
	}
	return total, iter.Error()
}

// Entries returns every non-zero committed balance of ticker in key order
func (l *Ledger) Entries(ticker asset.Ticker) ([]Entry, error) {
	return readEntries(l.db, ticker)
}

// View is a point-in-time read of committed balances
// Commits made after the view was opened are invisible to it.
type View struct {
	snap *pebble.Snapshot
}

// View opens a view of the balances committed so far; Close releases it
func (l *Ledger) View() *View {
	return &View{snap: l.db.NewSnapshot()}
}

func (v *View) Get(account common.Address, ticker asset.Ticker) (*uint256.Int, error) {
	return readAmount(v.snap, balanceKey(ticker, account))
}

func (v *View) Entries(ticker asset.Ticker) ([]Entry, error) {
	return readEntries(v.snap, ticker)
}

func (v *View) Close() error {
	return v.snap.Close()
}

// Deposit pulls amount from account through the asset's custodian and credits it
// No balance changes unless the custodian reports the full transfer
func (l *Ledger) Deposit(ctx context.Context, account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	custodian, err := l.registry.Resolve(ticker)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	if err := custodian.Pull(ctx, account, amount); err != nil {
		return fmt.Errorf("deposit %s: custodian pull: %w", ticker, err)
	}

	if err := l.apply(func(tx *Tx) error { return tx.Credit(account, ticker, amount) }); err != nil {
		// Hand the pulled funds back so the call has no net effect.
		if perr := custodian.Push(ctx, account, amount); perr != nil {
			l.logger.Error("deposit_refund_failed",
				zap.Stringer("account", account),
				zap.Stringer("ticker", ticker),
				zap.String("amount", amount.Dec()),
				zap.Error(perr))
		}
		return fmt.Errorf("deposit %s: %w", ticker, err)
	}

	l.logger.Debug("deposit",
		zap.Stringer("account", account),
		zap.Stringer("ticker", ticker),
		zap.String("amount", amount.Dec()))
	return nil
}

// Withdraw debits amount from account and then releases it through the custodian
//
// The debit is committed before the custodian is called, so a custodian that
// calls back into the ledger already sees the reduced balance. If the release
// fails the debit is credited back.
func (l *Ledger) Withdraw(ctx context.Context, account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	custodian, err := l.registry.Resolve(ticker)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}

	if err := l.apply(func(tx *Tx) error { return tx.Debit(account, ticker, amount) }); err != nil {
		return fmt.Errorf("withdraw %s: %w", ticker, err)
	}

	if err := custodian.Push(ctx, account, amount); err != nil {
		if rerr := l.apply(func(tx *Tx) error { return tx.Credit(account, ticker, amount) }); rerr != nil {
			l.logger.Error("withdraw_revert_failed",
				zap.Stringer("account", account),
				zap.Stringer("ticker", ticker),
				zap.String("amount", amount.Dec()),
				zap.Error(rerr))
			return fmt.Errorf("withdraw %s: revert after push failure: %w", ticker, errors.Join(err, rerr))
		}
		return fmt.Errorf("withdraw %s: custodian push: %w", ticker, err)
	}

	l.logger.Debug("withdraw",
		zap.Stringer("account", account),
		zap.Stringer("ticker", ticker),
		zap.String("amount", amount.Dec()))
	return nil
}

// apply runs fn in its own transaction and commits it if fn succeeds
func (l *Ledger) apply(fn func(tx *Tx) error) error {
	tx := l.Begin()
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func readAmount(r pebble.Reader, key []byte) (*uint256.Int, error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	defer closer.Close()
	return decodeAmount(val)
}

func readEntries(r pebble.Reader, ticker asset.Ticker) ([]Entry, error) {
	prefix := balancePrefix(ticker)
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		amt, err := decodeAmount(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("entries %s: %w", ticker, err)
		}
		account := common.HexToAddress(string(iter.Key()[len(prefix):]))
		entries = append(entries, Entry{Account: account, Amount: amt})
	}
	return entries, iter.Error()
}
