package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/matching"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokendex/pkg/crypto"
	"github.com/uhyunpark/tokendex/pkg/custody"
	"github.com/uhyunpark/tokendex/pkg/util"
)

var (
	ErrStaleNonce     = errors.New("nonce too low")
	ErrFaucetDisabled = errors.New("faucet disabled")
)

const defaultRecentTrades = 100

// Config fixes the exchange identity at construction
type Config struct {
	Admin        common.Address
	Quote        asset.Ticker
	Domain       crypto.EIP712Domain
	RecentTrades int          // per ticker; 0 = default
	FaucetAmount *uint256.Int // nil disables Faucet
}

// Receipt describes the effect of one applied transaction
type Receipt struct {
	Type   transaction.TxType
	Sender common.Address
	Nonce  uint64
	Ticker asset.Ticker
	Order  *orderbook.Order // resting order of a limit order
	Trades []matching.Trade // fills of a market order
}

// App is the exchange node's state machine
// Every mutating request arrives as a signed transaction; the recovered signer
// is the caller identity handed to the engine.
type App struct {
	cfg      Config
	registry *asset.Registry
	ledger   *ledger.Ledger
	engine   *matching.Engine
	verifier *transaction.Verifier

	nonceMu sync.Mutex
	nonces  map[common.Address]uint64

	tokenMu sync.RWMutex
	tokens  map[asset.Ticker]*custody.Token

	tradeMu sync.RWMutex
	trades  map[asset.Ticker][]matching.Trade
	hooks   []func(matching.Trade)

	clock  util.Clock
	logger *zap.Logger
}

type Option func(*App)

func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

func WithClock(clock util.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// New creates an app with an empty registry; the quote asset still has to be listed
func New(cfg Config, opts ...Option) (*App, error) {
	if cfg.RecentTrades <= 0 {
		cfg.RecentTrades = defaultRecentTrades
	}
	if cfg.Domain.ChainID == nil {
		cfg.Domain = crypto.DefaultDomain()
	}

	a := &App{
		cfg:      cfg,
		verifier: transaction.NewVerifier(cfg.Domain),
		nonces:   make(map[common.Address]uint64),
		tokens:   make(map[asset.Ticker]*custody.Token),
		trades:   make(map[asset.Ticker][]matching.Trade),
		clock:    util.RealClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	registry, err := asset.NewRegistry(cfg.Admin, cfg.Quote)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(registry, ledger.WithLogger(a.logger.Named("ledger")))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	a.registry = registry
	a.ledger = l
	a.engine = matching.New(registry, l,
		matching.WithClock(a.clock),
		matching.WithLogger(a.logger.Named("engine")))
	return a, nil
}

func (a *App) Close() error { return a.ledger.Close() }

func (a *App) Engine() *matching.Engine { return a.engine }

func (a *App) Registry() *asset.Registry { return a.registry }

func (a *App) Domain() crypto.EIP712Domain { return a.cfg.Domain }

func (a *App) FaucetEnabled() bool { return a.cfg.FaucetAmount != nil }

// ListAsset registers ticker backed by a fresh in-memory token
// caller must be the admin. Used for bootstrap and by signed listings.
func (a *App) ListAsset(caller common.Address, ticker asset.Ticker) error {
	token := custody.NewToken(ticker.String())
	if err := a.engine.Register(caller, ticker, token); err != nil {
		return err
	}
	a.tokenMu.Lock()
	a.tokens[ticker] = token
	a.tokenMu.Unlock()
	return nil
}

// Token returns the custodian token of a listed asset
func (a *App) Token(ticker asset.Ticker) (*custody.Token, error) {
	a.tokenMu.RLock()
	defer a.tokenMu.RUnlock()
	token, ok := a.tokens[ticker]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, asset.ErrUnknownAsset)
	}
	return token, nil
}

// Faucet mints the configured amount into to's wallet
// The funds still have to be deposited before they can be traded.
func (a *App) Faucet(to common.Address, ticker asset.Ticker) (*uint256.Int, error) {
	if a.cfg.FaucetAmount == nil {
		return nil, ErrFaucetDisabled
	}
	token, err := a.Token(ticker)
	if err != nil {
		return nil, err
	}
	if err := token.Faucet(to, a.cfg.FaucetAmount); err != nil {
		return nil, err
	}
	a.logger.Debug("faucet_dispensed",
		zap.Stringer("to", to),
		zap.Stringer("ticker", ticker),
		zap.String("amount", a.cfg.FaucetAmount.Dec()))
	return token.BalanceOf(to), nil
}

// Nonce returns the last nonce accepted from account
func (a *App) Nonce(account common.Address) uint64 {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	return a.nonces[account]
}

// consumeNonce accepts nonce only if it is above the last one seen
func (a *App) consumeNonce(account common.Address, nonce *big.Int) (uint64, error) {
	if !nonce.IsUint64() {
		return 0, fmt.Errorf("%w: nonce %s out of range", transaction.ErrMalformed, nonce)
	}
	n := nonce.Uint64()

	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	if last := a.nonces[account]; n <= last {
		return 0, fmt.Errorf("%w: got %d, last %d", ErrStaleNonce, n, last)
	}
	a.nonces[account] = n
	return n, nil
}

// ApplyTx verifies and executes a signed transaction
//
// The nonce is consumed as soon as the signature checks out, so a transaction
// that fails in the engine cannot be replayed either.
func (a *App) ApplyTx(ctx context.Context, tx *transaction.SignedTransaction) (*Receipt, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	sender, msg, err := a.verifier.Verify(tx)
	if err != nil {
		return nil, err
	}

	var nonce *big.Int
	switch m := msg.(type) {
	case *crypto.OrderMessage:
		nonce = m.Nonce
	case *crypto.TransferMessage:
		nonce = m.Nonce
	case *crypto.ListingMessage:
		nonce = m.Nonce
	default:
		return nil, fmt.Errorf("%w: unsupported message %s", transaction.ErrMalformed, msg.PrimaryType())
	}
	n, err := a.consumeNonce(sender, nonce)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{Type: tx.Type, Sender: sender, Nonce: n}
	switch m := msg.(type) {
	case *crypto.OrderMessage:
		err = a.applyOrder(sender, m, receipt)
	case *crypto.TransferMessage:
		err = a.applyTransfer(ctx, sender, m, receipt)
	case *crypto.ListingMessage:
		err = a.applyListing(sender, m, receipt)
	}
	if err != nil {
		a.logger.Debug("tx_rejected",
			zap.String("type", string(tx.Type)),
			zap.Stringer("sender", sender),
			zap.Uint64("nonce", n),
			zap.Error(err))
		return nil, err
	}
	return receipt, nil
}

func (a *App) applyOrder(sender common.Address, m *crypto.OrderMessage, r *Receipt) error {
	ticker, err := parseTicker(m.Ticker)
	if err != nil {
		return err
	}
	amount, err := toUint256("amount", m.Amount)
	if err != nil {
		return err
	}
	side := orderbook.Buy
	if m.Side == crypto.SideSell {
		side = orderbook.Sell
	}
	r.Ticker = ticker

	if m.Kind == crypto.KindMarket {
		trades, err := a.engine.CreateMarketOrder(ticker, amount, side, sender)
		if err != nil {
			return err
		}
		r.Trades = trades
		a.record(trades)
		return nil
	}

	price, err := toUint256("price", m.Price)
	if err != nil {
		return err
	}
	order, err := a.engine.CreateLimitOrder(ticker, amount, price, side, sender)
	if err != nil {
		return err
	}
	r.Order = &order
	return nil
}

func (a *App) applyTransfer(ctx context.Context, sender common.Address, m *crypto.TransferMessage, r *Receipt) error {
	ticker, err := parseTicker(m.Ticker)
	if err != nil {
		return err
	}
	amount, err := toUint256("amount", m.Amount)
	if err != nil {
		return err
	}
	r.Ticker = ticker

	if m.Action == crypto.ActionWithdraw {
		return a.engine.Withdraw(ctx, sender, ticker, amount)
	}
	return a.engine.Deposit(ctx, sender, ticker, amount)
}

func (a *App) applyListing(sender common.Address, m *crypto.ListingMessage, r *Receipt) error {
	ticker, err := parseTicker(m.Ticker)
	if err != nil {
		return err
	}
	r.Ticker = ticker
	return a.ListAsset(sender, ticker)
}

// OnTrade registers fn to be called for every executed trade, in order
func (a *App) OnTrade(fn func(matching.Trade)) {
	a.tradeMu.Lock()
	defer a.tradeMu.Unlock()
	a.hooks = append(a.hooks, fn)
}

func (a *App) record(trades []matching.Trade) {
	if len(trades) == 0 {
		return
	}

	a.tradeMu.Lock()
	for _, t := range trades {
		recent := append(a.trades[t.Ticker], t)
		if over := len(recent) - a.cfg.RecentTrades; over > 0 {
			recent = recent[over:]
		}
		a.trades[t.Ticker] = recent
	}
	hooks := make([]func(matching.Trade), len(a.hooks))
	copy(hooks, a.hooks)
	a.tradeMu.Unlock()

	for _, t := range trades {
		for _, fn := range hooks {
			fn(t)
		}
	}
}

// RecentTrades returns the latest trades of ticker, oldest first
func (a *App) RecentTrades(ticker asset.Ticker) []matching.Trade {
	a.tradeMu.RLock()
	defer a.tradeMu.RUnlock()
	recent := a.trades[ticker]
	out := make([]matching.Trade, len(recent))
	copy(out, recent)
	return out
}

func (a *App) Assets() []asset.Asset { return a.registry.List() }

func (a *App) Balance(account common.Address, ticker asset.Ticker) (*uint256.Int, error) {
	if !a.registry.Exists(ticker) {
		return nil, fmt.Errorf("%s: %w", ticker, asset.ErrUnknownAsset)
	}
	return a.engine.Balance(account, ticker)
}

func (a *App) Balances(account common.Address) ([]ledger.Balance, error) {
	return a.engine.Balances(account)
}

func (a *App) Orders(ticker asset.Ticker, side orderbook.Side) ([]orderbook.Order, error) {
	if !a.registry.Exists(ticker) {
		return nil, fmt.Errorf("%s: %w", ticker, asset.ErrUnknownAsset)
	}
	return a.engine.Orders(ticker, side), nil
}

func parseTicker(s string) (asset.Ticker, error) {
	t, err := asset.ParseTicker(s)
	if err != nil {
		return asset.Ticker{}, fmt.Errorf("%w: %v", transaction.ErrMalformed, err)
	}
	return t, nil
}

func toUint256(field string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", transaction.ErrMalformed, field)
	}
	return out, nil
}
