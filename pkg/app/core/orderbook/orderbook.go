package orderbook

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
)

var (
	ErrDuplicateOrder = errors.New("order id already used")
	ErrUnknownOrder   = errors.New("order not found")
	ErrEmptySide      = errors.New("book side is empty")
	ErrHeadNotFilled  = errors.New("head order is not fully filled")
	ErrOverfill       = errors.New("fill exceeds remaining amount")
)

// Key identifies one side of one ticker's book
type Key struct {
	Ticker asset.Ticker
	Side   Side
}

// OrderBook keeps resting orders for every (ticker, side)
//
// Orders live in an arena addressed by id. Each side holds an index of ids
// sorted by price priority then id, so the head of the index is the next
// order a taker on the opposite side matches. Removing an order splices the
// index only; the arena entry stays so ids remain resolvable.
type OrderBook struct {
	mu    sync.RWMutex
	arena map[uint64]*Order
	sides map[Key][]uint64
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		arena: make(map[uint64]*Order),
		sides: make(map[Key][]uint64),
	}
}

// Insert places o at its priority position on its side
func (ob *OrderBook) Insert(o Order) error {
	if !o.Side.Valid() {
		return fmt.Errorf("insert order %d: invalid side %d", o.ID, o.Side)
	}
	if o.Price == nil || o.Amount == nil {
		return fmt.Errorf("insert order %d: price and amount are required", o.ID)
	}
	if o.Filled == nil {
		o.Filled = new(uint256.Int)
	}
	if o.Amount.Lt(o.Filled) {
		return fmt.Errorf("insert order %d: %w", o.ID, ErrOverfill)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, exists := ob.arena[o.ID]; exists {
		return fmt.Errorf("insert order %d: %w", o.ID, ErrDuplicateOrder)
	}

	stored := o.Clone()
	key := Key{Ticker: o.Ticker, Side: o.Side}
	ids := ob.sides[key]
	pos := sort.Search(len(ids), func(i int) bool {
		return before(o.Side, &stored, ob.arena[ids[i]])
	})
	ob.sides[key] = slices.Insert(ids, pos, stored.ID)
	ob.arena[stored.ID] = &stored
	return nil
}

// BestOpposite returns the head of the side a taker on side would match
func (ob *OrderBook) BestOpposite(ticker asset.Ticker, side Side) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	ids := ob.sides[Key{Ticker: ticker, Side: side.Opposite()}]
	if len(ids) == 0 {
		return Order{}, false
	}
	return ob.arena[ids[0]].Clone(), true
}

// RemoveHead drops the front order of (ticker, side) once it is fully filled
func (ob *OrderBook) RemoveHead(ticker asset.Ticker, side Side) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	key := Key{Ticker: ticker, Side: side}
	ids := ob.sides[key]
	if len(ids) == 0 {
		return fmt.Errorf("remove head %s %s: %w", ticker, side, ErrEmptySide)
	}
	head := ob.arena[ids[0]]
	if !head.IsFilled() {
		return fmt.Errorf("remove head %s %s (order %d): %w", ticker, side, head.ID, ErrHeadNotFilled)
	}

	if len(ids) == 1 {
		delete(ob.sides, key)
	} else {
		ob.sides[key] = ids[1:]
	}
	return nil
}

// Fill adds amount to the filled size of a resting order and returns its new state
func (ob *OrderBook) Fill(id uint64, amount *uint256.Int) (Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.arena[id]
	if !ok {
		return Order{}, fmt.Errorf("fill order %d: %w", id, ErrUnknownOrder)
	}
	if o.Remaining().Lt(amount) {
		return Order{}, fmt.Errorf("fill order %d with %s (remaining %s): %w",
			id, amount.Dec(), o.Remaining().Dec(), ErrOverfill)
	}
	o.Filled = new(uint256.Int).Add(o.Filled, amount)
	return o.Clone(), nil
}

// List returns a snapshot of (ticker, side) in book order
func (ob *OrderBook) List(ticker asset.Ticker, side Side) []Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	ids := ob.sides[Key{Ticker: ticker, Side: side}]
	orders := make([]Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, ob.arena[id].Clone())
	}
	return orders
}

// Range calls fn for each order of (ticker, side) in book order until fn returns false
// fn receives copies and must not call back into the book.
func (ob *OrderBook) Range(ticker asset.Ticker, side Side, fn func(Order) bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	for _, id := range ob.sides[Key{Ticker: ticker, Side: side}] {
		if !fn(ob.arena[id].Clone()) {
			return
		}
	}
}

// Get looks up an order by id, including orders already filled and removed
func (ob *OrderBook) Get(id uint64) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	o, ok := ob.arena[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// Len returns the number of resting orders on (ticker, side)
func (ob *OrderBook) Len(ticker asset.Ticker, side Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.sides[Key{Ticker: ticker, Side: side}])
}

// Keys returns every non-empty side, ordered by ticker then BUY before SELL
// Used for state hashing.
func (ob *OrderBook) Keys() []Key {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	keys := make([]Key, 0, len(ob.sides))
	for k := range ob.sides {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := bytes.Compare(keys[i].Ticker[:], keys[j].Ticker[:]); c != 0 {
			return c < 0
		}
		return keys[i].Side > keys[j].Side
	})
	return keys
}
