package matching

import (
	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
)

// AssetState is one listed asset with every non-zero holder
type AssetState struct {
	Ticker   asset.Ticker
	Balances []ledger.Entry
}

// BookState is one non-empty side of a book in book order
type BookState struct {
	Key    orderbook.Key
	Orders []orderbook.Order
}

// Snapshot is a point-in-time copy of all exchange state
type Snapshot struct {
	Quote       asset.Ticker
	Assets      []AssetState // registration order
	Books       []BookState  // ticker then BUY before SELL
	NextOrderID uint64
	NextTradeID uint64
}

// Snapshot captures registry, balances and books between order operations
// Balances of every asset come from one ledger view, so a deposit or
// withdrawal racing the snapshot is either wholly in it or wholly out.
func (e *Engine) Snapshot() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	view := e.ledger.View()
	defer view.Close()

	s := Snapshot{
		Quote:       e.registry.Quote(),
		NextOrderID: e.nextOrderID,
		NextTradeID: e.nextTradeID,
	}
	for _, a := range e.registry.List() {
		entries, err := view.Entries(a.Ticker)
		if err != nil {
			return Snapshot{}, err
		}
		s.Assets = append(s.Assets, AssetState{Ticker: a.Ticker, Balances: entries})
	}
	for _, k := range e.book.Keys() {
		s.Books = append(s.Books, BookState{Key: k, Orders: e.book.List(k.Ticker, k.Side)})
	}
	return s, nil
}
