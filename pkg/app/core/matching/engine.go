package matching

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/util"
)

// Engine places limit orders into the book and executes market orders against it
//
// Order placement is serialized by the engine lock. A market order is first
// settled inside one ledger transaction while walking a read-only view of the
// book; the book is only touched after that transaction commits, so any
// failure leaves both balances and book exactly as they were.
//
// Deposits and withdrawals go straight to the ledger, which serializes them
// on its own. They never take the engine lock, so a custodian that calls
// back into the engine cannot deadlock it.
//
// Balances are checked, never escrowed, when a limit order is placed. A
// trader may rest orders whose combined notional exceeds what they hold;
// the shortfall surfaces when one of those orders is matched.
type Engine struct {
	mu       sync.RWMutex
	registry *asset.Registry
	ledger   *ledger.Ledger
	book     *orderbook.OrderBook

	nextOrderID uint64
	nextTradeID uint64

	clock  util.Clock
	logger *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

func WithClock(clock util.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine with an empty book over registry and l
func New(registry *asset.Registry, l *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		ledger:   l,
		book:     orderbook.NewOrderBook(),
		clock:    util.RealClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *asset.Registry { return e.registry }

// Register lists a new asset on behalf of caller
func (e *Engine) Register(caller common.Address, ticker asset.Ticker, custodian asset.Custodian) error {
	if err := e.registry.Register(caller, ticker, custodian); err != nil {
		return err
	}
	e.logger.Info("asset_registered", zap.Stringer("ticker", ticker))
	return nil
}

func (e *Engine) Deposit(ctx context.Context, account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	return e.ledger.Deposit(ctx, account, ticker, amount)
}

func (e *Engine) Withdraw(ctx context.Context, account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	return e.ledger.Withdraw(ctx, account, ticker, amount)
}

// Balance returns the settled balance of account in ticker
func (e *Engine) Balance(account common.Address, ticker asset.Ticker) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Get(account, ticker)
}

// Balances returns account's settled balance for every listed asset
func (e *Engine) Balances(account common.Address) ([]ledger.Balance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Balances(account)
}

// Orders lists (ticker, side) in book order
func (e *Engine) Orders(ticker asset.Ticker, side orderbook.Side) []orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.List(ticker, side)
}

// Order looks up an order by id, including filled ones
func (e *Engine) Order(id uint64) (orderbook.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Get(id)
}

// CreateLimitOrder rests a new order on the book without crossing it
// A zero amount is rejected: it would rest already filled.
func (e *Engine) CreateLimitOrder(ticker asset.Ticker, amount, price *uint256.Int, side orderbook.Side, trader common.Address) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(ticker, side); err != nil {
		return orderbook.Order{}, fmt.Errorf("limit order: %w", err)
	}
	if amount.IsZero() {
		return orderbook.Order{}, fmt.Errorf("limit order: %w", ErrZeroAmount)
	}

	if side == orderbook.Sell {
		bal, err := e.ledger.Get(trader, ticker)
		if err != nil {
			return orderbook.Order{}, err
		}
		if bal.Lt(amount) {
			return orderbook.Order{}, fmt.Errorf("limit order: sell %s %s (have %s): %w",
				amount.Dec(), ticker, bal.Dec(), ErrInsufficientTokenBalance)
		}
	} else {
		quote := e.registry.Quote()
		notional, overflow := new(uint256.Int).MulOverflow(amount, price)
		if overflow {
			return orderbook.Order{}, fmt.Errorf("limit order: notional overflows: %w", ErrInsufficientQuoteBalance)
		}
		bal, err := e.ledger.Get(trader, quote)
		if err != nil {
			return orderbook.Order{}, err
		}
		if bal.Lt(notional) {
			return orderbook.Order{}, fmt.Errorf("limit order: buy costs %s %s (have %s): %w",
				notional.Dec(), quote, bal.Dec(), ErrInsufficientQuoteBalance)
		}
	}

	o := orderbook.Order{
		ID:     e.nextOrderID,
		Trader: trader,
		Side:   side,
		Ticker: ticker,
		Price:  price.Clone(),
		Amount: amount.Clone(),
		Filled: new(uint256.Int),
	}
	if err := e.book.Insert(o); err != nil {
		return orderbook.Order{}, fmt.Errorf("limit order: %w", err)
	}
	e.nextOrderID++

	e.logger.Debug("limit_order_created",
		zap.Uint64("id", o.ID),
		zap.Stringer("trader", trader),
		zap.Stringer("side", side),
		zap.Stringer("ticker", ticker),
		zap.String("price", price.Dec()),
		zap.String("amount", amount.Dec()))
	return o.Clone(), nil
}

// fill is a match validated and settled in the ledger but not yet applied to the book
type fill struct {
	maker  orderbook.Order
	amount *uint256.Int
}

// CreateMarketOrder matches amount against the opposite side, best price first
//
// Every match settles at the resting order's price. The walk stops when the
// amount is used up or the book runs out; any remainder is dropped. Before each
// match the taker's balance, as left by the previous matches, must cover it.
func (e *Engine) CreateMarketOrder(ticker asset.Ticker, amount *uint256.Int, side orderbook.Side, trader common.Address) ([]Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(ticker, side); err != nil {
		return nil, fmt.Errorf("market order: %w", err)
	}

	if side == orderbook.Sell {
		bal, err := e.ledger.Get(trader, ticker)
		if err != nil {
			return nil, err
		}
		if bal.Lt(amount) {
			return nil, fmt.Errorf("market order: sell %s %s (have %s): %w",
				amount.Dec(), ticker, bal.Dec(), ErrInsufficientTokenBalance)
		}
	}

	quote := e.registry.Quote()
	tx := e.ledger.Begin()
	defer tx.Discard()

	remaining := amount.Clone()
	var (
		fills   []fill
		stepErr error
	)
	e.book.Range(ticker, side.Opposite(), func(maker orderbook.Order) bool {
		if remaining.IsZero() {
			return false
		}
		traded := maker.Remaining()
		if remaining.Lt(traded) {
			traded = remaining.Clone()
		}
		if err := settle(tx, quote, side, trader, maker, traded); err != nil {
			stepErr = err
			return false
		}
		remaining.Sub(remaining, traded)
		fills = append(fills, fill{maker: maker, amount: traded})
		return true
	})
	if stepErr != nil {
		return nil, fmt.Errorf("market order: %w", stepErr)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("market order: %w", err)
	}

	now := e.clock.Now()
	trades := make([]Trade, 0, len(fills))
	for _, f := range fills {
		updated, err := e.book.Fill(f.maker.ID, f.amount)
		if err != nil {
			e.logger.Error("book_fill_failed", zap.Uint64("order", f.maker.ID), zap.Error(err))
			return trades, fmt.Errorf("market order: apply fill: %w", err)
		}
		if updated.IsFilled() {
			if err := e.book.RemoveHead(ticker, side.Opposite()); err != nil {
				e.logger.Error("book_remove_failed", zap.Uint64("order", f.maker.ID), zap.Error(err))
				return trades, fmt.Errorf("market order: remove filled order: %w", err)
			}
		}
		trades = append(trades, Trade{
			ID:        e.nextTradeID,
			OrderID:   f.maker.ID,
			Ticker:    ticker,
			Maker:     f.maker.Trader,
			Taker:     trader,
			TakerSide: side,
			Amount:    f.amount,
			Price:     f.maker.Price,
			Date:      now,
		})
		e.nextTradeID++
	}

	e.logger.Debug("market_order_executed",
		zap.Stringer("trader", trader),
		zap.Stringer("side", side),
		zap.Stringer("ticker", ticker),
		zap.String("amount", amount.Dec()),
		zap.String("unfilled", remaining.Dec()),
		zap.Int("trades", len(trades)))
	return trades, nil
}

func (e *Engine) validate(ticker asset.Ticker, side orderbook.Side) error {
	if !side.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSide, side)
	}
	if e.registry.IsQuoteAsset(ticker) {
		return fmt.Errorf("%s: %w", ticker, ErrCannotTradeQuoteAsset)
	}
	if !e.registry.Exists(ticker) {
		return fmt.Errorf("%s: %w", ticker, asset.ErrUnknownAsset)
	}
	return nil
}

// settle stages one match of traded units against maker at maker's price
// The taker's side-specific balance is checked first. A failing maker debit
// means the maker over-committed; it surfaces as ledger.ErrInsufficientBalance.
func settle(tx *ledger.Tx, quote asset.Ticker, side orderbook.Side, taker common.Address, maker orderbook.Order, traded *uint256.Int) error {
	ticker := maker.Ticker
	cost, overflow := new(uint256.Int).MulOverflow(maker.Price, traded)

	if side == orderbook.Buy {
		if overflow {
			return fmt.Errorf("match order %d: cost overflows: %w", maker.ID, ErrInsufficientQuoteBalance)
		}
		bal, err := tx.Get(taker, quote)
		if err != nil {
			return err
		}
		if bal.Lt(cost) {
			return fmt.Errorf("match order %d: costs %s (have %s): %w",
				maker.ID, cost.Dec(), bal.Dec(), ErrInsufficientQuoteBalance)
		}
		return transfer(tx, maker.ID,
			leg{from: taker, to: maker.Trader, ticker: quote, amount: cost},
			leg{from: maker.Trader, to: taker, ticker: ticker, amount: traded})
	}

	bal, err := tx.Get(taker, ticker)
	if err != nil {
		return err
	}
	if bal.Lt(traded) {
		return fmt.Errorf("match order %d: sell %s (have %s): %w",
			maker.ID, traded.Dec(), bal.Dec(), ErrInsufficientTokenBalance)
	}
	if overflow {
		return fmt.Errorf("match order %d: cost overflows: %w", maker.ID, ledger.ErrBalanceOverflow)
	}
	return transfer(tx, maker.ID,
		leg{from: maker.Trader, to: taker, ticker: quote, amount: cost},
		leg{from: taker, to: maker.Trader, ticker: ticker, amount: traded})
}

type leg struct {
	from, to common.Address
	ticker   asset.Ticker
	amount   *uint256.Int
}

func transfer(tx *ledger.Tx, orderID uint64, legs ...leg) error {
	for _, l := range legs {
		if err := tx.Debit(l.from, l.ticker, l.amount); err != nil {
			return fmt.Errorf("settle order %d: %w", orderID, err)
		}
		if err := tx.Credit(l.to, l.ticker, l.amount); err != nil {
			return fmt.Errorf("settle order %d: %w", orderID, err)
		}
	}
	return nil
}
