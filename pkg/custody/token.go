// Package custody provides an in-memory fungible token that can act as the
// custodian of a listed asset. The node uses it for devnet assets; tests use
// it wherever a real transfer mechanism is needed.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds     = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("transfer amount exceeds allowance")
	ErrSupplyOverflow        = errors.New("token supply overflow")
)

// Token tracks wallet balances plus the amount the exchange holds in custody
// Pull moves wallet funds into custody, Push moves them back out.
type Token struct {
	mu         sync.Mutex
	symbol     string
	wallets    map[common.Address]*uint256.Int
	allowances map[common.Address]*uint256.Int // owner -> amount the exchange may pull
	held       *uint256.Int
	supply     *uint256.Int

	requireApproval bool
}

type Option func(*Token)

// WithApproval makes Pull spend an allowance set through Approve
func WithApproval() Option {
	return func(t *Token) { t.requireApproval = true }
}

func NewToken(symbol string, opts ...Option) *Token {
	t := &Token{
		symbol:     symbol,
		wallets:    make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]*uint256.Int),
		held:       new(uint256.Int),
		supply:     new(uint256.Int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Token) Symbol() string { return t.symbol }

// Faucet mints amount into to's wallet
func (t *Token) Faucet(to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, overflow := new(uint256.Int).AddOverflow(t.supply, amount); overflow {
		return fmt.Errorf("%s faucet: %w", t.symbol, ErrSupplyOverflow)
	}
	t.supply.Add(t.supply, amount)
	t.walletOf(to).Add(t.walletOf(to), amount)
	return nil
}

// Approve sets how much the exchange may pull from owner
func (t *Token) Approve(owner common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[owner] = amount.Clone()
}

func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.walletOf(owner).Clone()
}

func (t *Token) Allowance(owner common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allowances[owner]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Held returns the amount in exchange custody
func (t *Token) Held() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held.Clone()
}

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply.Clone()
}

// Pull moves amount from from's wallet into custody
func (t *Token) Pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.requireApproval {
		allowance, ok := t.allowances[from]
		if !ok || allowance.Lt(amount) {
			return fmt.Errorf("%s pull from %s: %w", t.symbol, from.Hex(), ErrInsufficientAllowance)
		}
	}
	wallet := t.walletOf(from)
	if wallet.Lt(amount) {
		return fmt.Errorf("%s pull %s from %s (have %s): %w",
			t.symbol, amount.Dec(), from.Hex(), wallet.Dec(), ErrInsufficientFunds)
	}

	if t.requireApproval {
		t.allowances[from].Sub(t.allowances[from], amount)
	}
	wallet.Sub(wallet, amount)
	t.held.Add(t.held, amount)
	return nil
}

// Push releases amount from custody into to's wallet
func (t *Token) Push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.held.Lt(amount) {
		return fmt.Errorf("%s push %s (held %s): %w", t.symbol, amount.Dec(), t.held.Dec(), ErrInsufficientFunds)
	}
	t.held.Sub(t.held, amount)
	t.walletOf(to).Add(t.walletOf(to), amount)
	return nil
}

func (t *Token) walletOf(addr common.Address) *uint256.Int {
	w, ok := t.wallets[addr]
	if !ok {
		w = new(uint256.Int)
		t.wallets[addr] = w
	}
	return w
}
