package api

import (
	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/matching"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/dex"
)

// API response types for REST endpoints and WebSocket messages
// Amounts and prices are decimal strings in base units.

// ==============================
// REST Response Types
// ==============================

// AssetInfo is one listed asset
type AssetInfo struct {
	Ticker string `json:"ticker"`
	Quote  bool   `json:"quote"` // true for the asset prices are denominated in
}

// OrderInfo represents a resting (or filled) order
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
}

// BookSnapshot lists one side of a ticker's book in priority order
type BookSnapshot struct {
	Ticker string      `json:"ticker"`
	Side   string      `json:"side"`
	Orders []OrderInfo `json:"orders"`
}

type BalanceInfo struct {
	Ticker string `json:"ticker"`
	Amount string `json:"amount"`
}

// AccountBalances is an account's settled balance in every listed asset
type AccountBalances struct {
	Address  string        `json:"address"`
	Nonce    uint64        `json:"nonce"` // last accepted; the next tx must use a higher one
	Balances []BalanceInfo `json:"balances"`
}

// TradeInfo represents an executed match
type TradeInfo struct {
	ID        uint64 `json:"id"`
	OrderID   uint64 `json:"orderId"` // resting order that was hit
	Ticker    string `json:"ticker"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	Side      string `json:"side"` // taker side
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

type StateHashResponse struct {
	Hash string `json:"hash"`
}

// TxResponse is the result of POST /api/v1/tx
type TxResponse struct {
	Status string      `json:"status"` // "applied"
	Type   string      `json:"type"`
	Sender string      `json:"sender"`
	Nonce  uint64      `json:"nonce"`
	Ticker string      `json:"ticker,omitempty"`
	Order  *OrderInfo  `json:"order,omitempty"`
	Trades []TradeInfo `json:"trades,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// Mutating requests use signed JSON transactions (EIP-712 format).
// See pkg/app/core/transaction/types.go for SignedTransaction structure.

// FaucetRequest is the payload for POST /api/v1/faucet (devnet only)
type FaucetRequest struct {
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
}

type FaucetResponse struct {
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
	Wallet  string `json:"wallet"` // wallet balance after minting; deposit to trade
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:REP", "book:*"]
}

// WSAck answers every request with the client's channels after applying it
// Type is "subscriptions", or "error" when the request was rejected whole.
type WSAck struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Error    string   `json:"error,omitempty"`
}

// TradeUpdate is broadcast on "trades:<ticker>" when a trade executes
type TradeUpdate struct {
	Type  string    `json:"type"` // "trade"
	Trade TradeInfo `json:"trade"`
}

// BookUpdate is broadcast on "book:<ticker>" after the book changes
type BookUpdate struct {
	Type      string      `json:"type"` // "book"
	Ticker    string      `json:"ticker"`
	Buys      []OrderInfo `json:"buys"`
	Sells     []OrderInfo `json:"sells"`
	Timestamp int64       `json:"timestamp"`
}

// ==============================
// Conversions
// ==============================

func toAssetInfo(a asset.Asset, quote asset.Ticker) AssetInfo {
	return AssetInfo{Ticker: a.Ticker.String(), Quote: a.Ticker == quote}
}

func toOrderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Ticker:    o.Ticker.String(),
		Side:      o.Side.String(),
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Filled:    o.Filled.Dec(),
		Remaining: o.Remaining().Dec(),
	}
}

func toOrderInfos(orders []orderbook.Order) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = toOrderInfo(o)
	}
	return out
}

func toTradeInfo(t matching.Trade) TradeInfo {
	return TradeInfo{
		ID:        t.ID,
		OrderID:   t.OrderID,
		Ticker:    t.Ticker.String(),
		Maker:     t.Maker.Hex(),
		Taker:     t.Taker.Hex(),
		Side:      t.TakerSide.String(),
		Amount:    t.Amount.Dec(),
		Price:     t.Price.Dec(),
		Timestamp: t.Date.UnixMilli(),
	}
}

func toTradeInfos(trades []matching.Trade) []TradeInfo {
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = toTradeInfo(t)
	}
	return out
}

func toBalanceInfos(balances []ledger.Balance) []BalanceInfo {
	out := make([]BalanceInfo, len(balances))
	for i, b := range balances {
		out[i] = BalanceInfo{Ticker: b.Ticker.String(), Amount: b.Amount.Dec()}
	}
	return out
}

func toTxResponse(r *dex.Receipt) TxResponse {
	resp := TxResponse{
		Status: "applied",
		Type:   string(r.Type),
		Sender: r.Sender.Hex(),
		Nonce:  r.Nonce,
	}
	if !r.Ticker.IsZero() {
		resp.Ticker = r.Ticker.String()
	}
	if r.Order != nil {
		info := toOrderInfo(*r.Order)
		resp.Order = &info
	}
	if len(r.Trades) > 0 {
		resp.Trades = toTradeInfos(r.Trades)
	}
	return resp
}
