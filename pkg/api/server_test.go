package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokendex/pkg/app/dex"
	"github.com/uhyunpark/tokendex/pkg/crypto"
)

const (
	adminKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	trader1Key = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	trader2Key = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

type testServer struct {
	t        *testing.T
	srv      *Server
	http     *httptest.Server
	verifier *transaction.Verifier
	nonces   map[string]uint64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	admin, err := crypto.FromPrivateKeyHex(adminKey)
	if err != nil {
		t.Fatalf("admin key: %v", err)
	}
	app, err := dex.New(dex.Config{
		Admin:        admin.Address(),
		Quote:        asset.MustTicker("DAI"),
		Domain:       crypto.DefaultDomain(),
		FaucetAmount: uint256.NewInt(1000),
	}, dex.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	for _, symbol := range []string{"DAI", "REP"} {
		if err := app.ListAsset(admin.Address(), asset.MustTicker(symbol)); err != nil {
			t.Fatalf("list %s: %v", symbol, err)
		}
	}

	srv := NewServer(app, WithLogger(zaptest.NewLogger(t)))
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-srv.hub.done
	})

	return &testServer{
		t:        t,
		srv:      srv,
		http:     ts,
		verifier: transaction.NewVerifier(crypto.DefaultDomain()),
		nonces:   make(map[string]uint64),
	}
}

func signer(t *testing.T, key string) *crypto.Signer {
	t.Helper()
	s, err := crypto.FromPrivateKeyHex(key)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	return s
}

func (ts *testServer) get(path string, out any) int {
	ts.t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	if err != nil {
		ts.t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ts.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) post(path string, body any, out any) int {
	ts.t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		ts.t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.http.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		ts.t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ts.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) nonce(s *crypto.Signer) string {
	ts.nonces[s.Address().Hex()]++
	return fmt.Sprintf("%d", ts.nonces[s.Address().Hex()])
}

func (ts *testServer) signed(s *crypto.Signer, tx *transaction.SignedTransaction) *transaction.SignedTransaction {
	ts.t.Helper()
	if err := ts.verifier.Sign(s, tx); err != nil {
		ts.t.Fatalf("sign: %v", err)
	}
	return tx
}

func (ts *testServer) deposit(s *crypto.Signer, ticker string, amount uint64) {
	ts.t.Helper()
	if code := ts.post("/api/v1/faucet", FaucetRequest{Address: s.Address().Hex(), Ticker: ticker}, nil); code != http.StatusOK {
		ts.t.Fatalf("faucet status = %d", code)
	}
	tx := ts.signed(s, &transaction.SignedTransaction{
		Type: transaction.TxTypeDeposit,
		Transfer: &transaction.TransferPayload{
			Ticker: ticker, Amount: fmt.Sprintf("%d", amount), Nonce: ts.nonce(s), Owner: s.Address().Hex(),
		},
	})
	var resp TxResponse
	if code := ts.post("/api/v1/tx", tx, &resp); code != http.StatusOK {
		ts.t.Fatalf("deposit status = %d", code)
	}
}

func (ts *testServer) order(s *crypto.Signer, kind, side uint8, amount, price string) *transaction.SignedTransaction {
	return ts.signed(s, &transaction.SignedTransaction{
		Type: transaction.TxTypeOrder,
		Order: &transaction.OrderPayload{
			Ticker: "REP", Side: side, Kind: kind, Price: price, Amount: amount,
			Nonce: ts.nonce(s), Owner: s.Address().Hex(),
		},
	})
}

func TestHealthAndAssets(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]string
	if code := ts.get("/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health = %d %v", code, health)
	}

	var assets []AssetInfo
	if code := ts.get("/api/v1/assets", &assets); code != http.StatusOK {
		t.Fatalf("assets status = %d", code)
	}
	want := []AssetInfo{{Ticker: "DAI", Quote: true}, {Ticker: "REP"}}
	if len(assets) != len(want) || assets[0] != want[0] || assets[1] != want[1] {
		t.Errorf("assets = %+v, want %+v", assets, want)
	}
}

func TestOrderFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	trader1 := signer(t, trader1Key)
	trader2 := signer(t, trader2Key)
	ts.deposit(trader1, "DAI", 1000)
	ts.deposit(trader2, "REP", 1000)

	var placed TxResponse
	if code := ts.post("/api/v1/tx", ts.order(trader1, crypto.KindLimit, crypto.SideBuy, "100", "10"), &placed); code != http.StatusOK {
		t.Fatalf("limit status = %d", code)
	}
	if placed.Order == nil || placed.Order.ID != 0 || placed.Order.Price != "10" {
		t.Fatalf("placed = %+v", placed)
	}

	var book BookSnapshot
	if code := ts.get("/api/v1/books/REP/buy", &book); code != http.StatusOK {
		t.Fatalf("book status = %d", code)
	}
	if len(book.Orders) != 1 || book.Side != "BUY" || book.Orders[0].Remaining != "100" {
		t.Errorf("book = %+v", book)
	}

	var filled TxResponse
	if code := ts.post("/api/v1/tx", ts.order(trader2, crypto.KindMarket, crypto.SideSell, "100", ""), &filled); code != http.StatusOK {
		t.Fatalf("market status = %d", code)
	}
	if len(filled.Trades) != 1 || filled.Trades[0].Amount != "100" || filled.Trades[0].Maker != trader1.Address().Hex() {
		t.Fatalf("trades = %+v", filled.Trades)
	}

	ts.get("/api/v1/books/REP/BUY", &book)
	if len(book.Orders) != 0 {
		t.Errorf("filled order still resting: %+v", book.Orders)
	}

	var trades []TradeInfo
	ts.get("/api/v1/markets/REP/trades", &trades)
	if len(trades) != 1 || trades[0].Side != "SELL" {
		t.Errorf("recent trades = %+v", trades)
	}

	var bal BalanceInfo
	ts.get("/api/v1/accounts/"+trader1.Address().Hex()+"/balances/REP", &bal)
	if bal.Amount != "100" {
		t.Errorf("trader1 REP = %s, want 100", bal.Amount)
	}

	var all AccountBalances
	ts.get("/api/v1/accounts/"+trader2.Address().Hex()+"/balances", &all)
	got := map[string]string{}
	for _, b := range all.Balances {
		got[b.Ticker] = b.Amount
	}
	if got["DAI"] != "1000" || got["REP"] != "900" || all.Nonce != 2 {
		t.Errorf("trader2 = %+v", all)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	trader := signer(t, trader1Key)
	ts.deposit(trader, "DAI", 100)

	replay := ts.signed(trader, &transaction.SignedTransaction{
		Type: transaction.TxTypeDeposit,
		Transfer: &transaction.TransferPayload{
			Ticker: "DAI", Amount: "1", Nonce: "1", Owner: trader.Address().Hex(),
		},
	})
	tampered := ts.order(trader, crypto.KindLimit, crypto.SideBuy, "1", "1")
	tampered.Order.Price = "2"

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "garbage", body: "not a tx", want: http.StatusBadRequest},
		{name: "stale nonce", body: replay, want: http.StatusConflict},
		{name: "bad signature", body: tampered, want: http.StatusUnauthorized},
		{name: "insufficient quote", body: ts.order(trader, crypto.KindLimit, crypto.SideBuy, "100", "2"), want: http.StatusUnprocessableEntity},
		{name: "quote asset", body: ts.signed(trader, &transaction.SignedTransaction{
			Type: transaction.TxTypeOrder,
			Order: &transaction.OrderPayload{
				Ticker: "DAI", Side: crypto.SideSell, Kind: crypto.KindMarket, Amount: "1",
				Nonce: ts.nonce(trader), Owner: trader.Address().Hex(),
			},
		}), want: http.StatusBadRequest},
		{name: "listing by non-admin", body: ts.signed(trader, &transaction.SignedTransaction{
			Type:    transaction.TxTypeListing,
			Listing: &transaction.ListingPayload{Ticker: "BAT", Nonce: ts.nonce(trader), Owner: trader.Address().Hex()},
		}), want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			if code := ts.post("/api/v1/tx", tt.body, &resp); code != tt.want {
				t.Errorf("status = %d (%s: %s), want %d", code, resp.Error, resp.Message, tt.want)
			}
		})
	}

	gets := []struct {
		path string
		want int
	}{
		{"/api/v1/books/ZRX/buy", http.StatusNotFound},
		{"/api/v1/books/REP/long", http.StatusBadRequest},
		{"/api/v1/accounts/alice/balances", http.StatusBadRequest},
		{"/api/v1/markets/ZRX/trades", http.StatusNotFound},
	}
	for _, g := range gets {
		if code := ts.get(g.path, &ErrorResponse{}); code != g.want {
			t.Errorf("GET %s = %d, want %d", g.path, code, g.want)
		}
	}
}

func TestStateHashEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var before StateHashResponse
	ts.get("/api/v1/state/hash", &before)
	ts.deposit(signer(t, trader1Key), "DAI", 5)
	var after StateHashResponse
	ts.get("/api/v1/state/hash", &after)

	if !strings.HasPrefix(before.Hash, "0x") || len(before.Hash) != 66 {
		t.Fatalf("hash = %q", before.Hash)
	}
	if before.Hash == after.Hash {
		t.Error("state hash unchanged after deposit")
	}
}

func TestTradesAreBroadcast(t *testing.T) {
	ts := newTestServer(t)
	trader1 := signer(t, trader1Key)
	trader2 := signer(t, trader2Key)
	ts.deposit(trader1, "DAI", 1000)
	ts.deposit(trader2, "REP", 1000)

	conn := ts.dial()
	if ack := subscribe(t, conn, "trades:REP"); ack.Type != "subscriptions" {
		t.Fatalf("ack = %+v", ack)
	}

	ts.post("/api/v1/tx", ts.order(trader1, crypto.KindLimit, crypto.SideBuy, "10", "3"), nil)
	ts.post("/api/v1/tx", ts.order(trader2, crypto.KindMarket, crypto.SideSell, "4", ""), nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update TradeUpdate
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read: %v", err)
	}
	if update.Type != "trade" || update.Trade.Amount != "4" || update.Trade.Price != "3" {
		t.Errorf("update = %+v", update)
	}
}

func (ts *testServer) dial() *websocket.Conn {
	ts.t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.t.Fatalf("dial: %v", err)
	}
	ts.t.Cleanup(func() { conn.Close() })
	return conn
}

// subscribe sends a subscribe request and returns its acknowledgement
func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) WSAck {
	t.Helper()
	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: channels}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSAck
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	return ack
}
