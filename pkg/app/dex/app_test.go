package dex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/matching"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokendex/pkg/crypto"
)

const (
	adminKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	trader1Key = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	trader2Key = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var (
	DAI = asset.MustTicker("DAI")
	REP = asset.MustTicker("REP")
)

type harness struct {
	t        *testing.T
	app      *App
	verifier *transaction.Verifier
	admin    *crypto.Signer
	nonces   map[*crypto.Signer]uint64
}

func mustSigner(t *testing.T, key string) *crypto.Signer {
	t.Helper()
	s, err := crypto.FromPrivateKeyHex(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	admin := mustSigner(t, adminKey)
	cfg := Config{
		Admin:        admin.Address(),
		Quote:        DAI,
		Domain:       crypto.DefaultDomain(),
		FaucetAmount: uint256.NewInt(1000),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	app, err := New(cfg, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { app.Close() })

	for _, ticker := range []asset.Ticker{DAI, REP} {
		if err := app.ListAsset(admin.Address(), ticker); err != nil {
			t.Fatalf("list %s: %v", ticker, err)
		}
	}
	return &harness{
		t:        t,
		app:      app,
		verifier: transaction.NewVerifier(cfg.Domain),
		admin:    admin,
		nonces:   make(map[*crypto.Signer]uint64),
	}
}

func (h *harness) nonce(s *crypto.Signer) string {
	h.nonces[s]++
	return fmt.Sprintf("%d", h.nonces[s])
}

func (h *harness) sign(s *crypto.Signer, tx *transaction.SignedTransaction) *transaction.SignedTransaction {
	h.t.Helper()
	if err := h.verifier.Sign(s, tx); err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return tx
}

func (h *harness) transferTx(s *crypto.Signer, typ transaction.TxType, ticker string, amount uint64) *transaction.SignedTransaction {
	return h.sign(s, &transaction.SignedTransaction{
		Type: typ,
		Transfer: &transaction.TransferPayload{
			Ticker: ticker,
			Amount: fmt.Sprintf("%d", amount),
			Nonce:  h.nonce(s),
			Owner:  s.Address().Hex(),
		},
	})
}

func (h *harness) orderTx(s *crypto.Signer, kind, side uint8, amount, price uint64) *transaction.SignedTransaction {
	o := &transaction.OrderPayload{
		Ticker: "REP",
		Side:   side,
		Kind:   kind,
		Amount: fmt.Sprintf("%d", amount),
		Nonce:  h.nonce(s),
		Owner:  s.Address().Hex(),
	}
	if kind == crypto.KindLimit {
		o.Price = fmt.Sprintf("%d", price)
	}
	return h.sign(s, &transaction.SignedTransaction{Type: transaction.TxTypeOrder, Order: o})
}

func (h *harness) apply(tx *transaction.SignedTransaction) *Receipt {
	h.t.Helper()
	r, err := h.app.ApplyTx(context.Background(), tx)
	if err != nil {
		h.t.Fatalf("apply %s: %v", tx.Type, err)
	}
	return r
}

// fund faucets and deposits amount of ticker for s
func (h *harness) fund(s *crypto.Signer, ticker asset.Ticker, amount uint64) {
	h.t.Helper()
	if _, err := h.app.Faucet(s.Address(), ticker); err != nil {
		h.t.Fatalf("faucet: %v", err)
	}
	h.apply(h.transferTx(s, transaction.TxTypeDeposit, ticker.String(), amount))
}

func (h *harness) balance(s *crypto.Signer, ticker asset.Ticker) uint64 {
	h.t.Helper()
	bal, err := h.app.Balance(s.Address(), ticker)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal.Uint64()
}

func TestSignedOrderFlow(t *testing.T) {
	h := newHarness(t, nil)
	trader1 := mustSigner(t, trader1Key)
	trader2 := mustSigner(t, trader2Key)

	h.fund(trader1, DAI, 1000)
	h.fund(trader2, REP, 1000)

	var hooked []matching.Trade
	h.app.OnTrade(func(tr matching.Trade) { hooked = append(hooked, tr) })

	r := h.apply(h.orderTx(trader1, crypto.KindLimit, crypto.SideBuy, 100, 10))
	if r.Order == nil || r.Order.ID != 0 || r.Order.Side != orderbook.Buy {
		t.Fatalf("receipt order = %+v", r.Order)
	}
	if r.Sender != trader1.Address() || r.Ticker != REP {
		t.Errorf("receipt = %+v", r)
	}

	r = h.apply(h.orderTx(trader2, crypto.KindMarket, crypto.SideSell, 50, 0))
	if len(r.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(r.Trades))
	}

	if got := h.balance(trader1, REP); got != 50 {
		t.Errorf("trader1 REP = %d, want 50", got)
	}
	if got := h.balance(trader1, DAI); got != 500 {
		t.Errorf("trader1 DAI = %d, want 500", got)
	}
	if got := h.balance(trader2, DAI); got != 500 {
		t.Errorf("trader2 DAI = %d, want 500", got)
	}
	if got := h.balance(trader2, REP); got != 950 {
		t.Errorf("trader2 REP = %d, want 950", got)
	}

	if len(hooked) != 1 || hooked[0].Maker != trader1.Address() {
		t.Errorf("hook saw %+v", hooked)
	}
	if recent := h.app.RecentTrades(REP); len(recent) != 1 || recent[0].Amount.Uint64() != 50 {
		t.Errorf("recent trades = %+v", recent)
	}

	orders, err := h.app.Orders(REP, orderbook.Buy)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Filled.Uint64() != 50 {
		t.Errorf("book = %+v", orders)
	}
}

func TestWithdrawReturnsFundsToWallet(t *testing.T) {
	h := newHarness(t, nil)
	trader := mustSigner(t, trader1Key)
	h.fund(trader, DAI, 600)

	h.apply(h.transferTx(trader, transaction.TxTypeWithdraw, "DAI", 100))

	if got := h.balance(trader, DAI); got != 500 {
		t.Errorf("exchange DAI = %d, want 500", got)
	}
	token, err := h.app.Token(DAI)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := token.BalanceOf(trader.Address()).Uint64(); got != 500 {
		t.Errorf("wallet DAI = %d, want 500", got)
	}
}

func TestReplayIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	trader := mustSigner(t, trader1Key)
	if _, err := h.app.Faucet(trader.Address(), DAI); err != nil {
		t.Fatalf("faucet: %v", err)
	}

	tx := h.transferTx(trader, transaction.TxTypeDeposit, "DAI", 10)
	h.apply(tx)
	if _, err := h.app.ApplyTx(context.Background(), tx); !errors.Is(err, ErrStaleNonce) {
		t.Fatalf("replay err = %v, want ErrStaleNonce", err)
	}
	if got := h.balance(trader, DAI); got != 10 {
		t.Errorf("DAI = %d, want 10 after replay", got)
	}
}

func TestFailedTxConsumesNonce(t *testing.T) {
	h := newHarness(t, nil)
	trader := mustSigner(t, trader1Key)

	tx := h.transferTx(trader, transaction.TxTypeWithdraw, "DAI", 10)
	if _, err := h.app.ApplyTx(context.Background(), tx); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := h.app.Nonce(trader.Address()); got != 1 {
		t.Errorf("nonce = %d, want 1", got)
	}
	if _, err := h.app.ApplyTx(context.Background(), tx); !errors.Is(err, ErrStaleNonce) {
		t.Fatalf("retry err = %v, want ErrStaleNonce", err)
	}
}

func TestBadSignatureDoesNotConsumeNonce(t *testing.T) {
	h := newHarness(t, nil)
	trader := mustSigner(t, trader1Key)

	tx := h.transferTx(trader, transaction.TxTypeDeposit, "DAI", 10)
	tx.Transfer.Amount = "11"
	if _, err := h.app.ApplyTx(context.Background(), tx); !errors.Is(err, transaction.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
	if got := h.app.Nonce(trader.Address()); got != 0 {
		t.Errorf("nonce = %d, want 0", got)
	}
}

func TestSignedListing(t *testing.T) {
	h := newHarness(t, nil)
	trader := mustSigner(t, trader1Key)

	listing := func(s *crypto.Signer, ticker string) *transaction.SignedTransaction {
		return h.sign(s, &transaction.SignedTransaction{
			Type:    transaction.TxTypeListing,
			Listing: &transaction.ListingPayload{Ticker: ticker, Nonce: h.nonce(s), Owner: s.Address().Hex()},
		})
	}

	if _, err := h.app.ApplyTx(context.Background(), listing(trader, "BAT")); !errors.Is(err, asset.ErrUnauthorized) {
		t.Fatalf("non-admin err = %v, want ErrUnauthorized", err)
	}

	h.apply(listing(h.admin, "BAT"))
	if _, err := h.app.Token(asset.MustTicker("BAT")); err != nil {
		t.Errorf("BAT token missing: %v", err)
	}
	if _, err := h.app.ApplyTx(context.Background(), listing(h.admin, "BAT")); !errors.Is(err, asset.ErrAlreadyRegistered) {
		t.Errorf("duplicate err = %v, want ErrAlreadyRegistered", err)
	}
}

func TestQuoteAssetOrderRejected(t *testing.T) {
	h := newHarness(t, nil)
	trader := mustSigner(t, trader1Key)
	h.fund(trader, DAI, 100)

	tx := h.sign(trader, &transaction.SignedTransaction{
		Type: transaction.TxTypeOrder,
		Order: &transaction.OrderPayload{
			Ticker: "DAI", Side: crypto.SideBuy, Kind: crypto.KindLimit,
			Price: "1", Amount: "1", Nonce: h.nonce(trader), Owner: trader.Address().Hex(),
		},
	})
	if _, err := h.app.ApplyTx(context.Background(), tx); !errors.Is(err, matching.ErrCannotTradeQuoteAsset) {
		t.Fatalf("err = %v, want ErrCannotTradeQuoteAsset", err)
	}
}

func TestRecentTradesAreBounded(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RecentTrades = 2 })
	trader1 := mustSigner(t, trader1Key)
	trader2 := mustSigner(t, trader2Key)
	h.fund(trader1, DAI, 1000)
	h.fund(trader2, REP, 1000)

	h.apply(h.orderTx(trader1, crypto.KindLimit, crypto.SideBuy, 30, 1))
	for i := 0; i < 3; i++ {
		h.apply(h.orderTx(trader2, crypto.KindMarket, crypto.SideSell, 10, 0))
	}

	recent := h.app.RecentTrades(REP)
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	if recent[0].ID != 1 || recent[1].ID != 2 {
		t.Errorf("kept ids %d,%d, want 1,2", recent[0].ID, recent[1].ID)
	}
}

func TestFaucetDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FaucetAmount = nil })
	if _, err := h.app.Faucet(h.admin.Address(), DAI); !errors.Is(err, ErrFaucetDisabled) {
		t.Fatalf("err = %v, want ErrFaucetDisabled", err)
	}
}

func TestStateHash(t *testing.T) {
	run := func() *harness {
		h := newHarness(t, nil)
		trader1 := mustSigner(t, trader1Key)
		trader2 := mustSigner(t, trader2Key)
		h.fund(trader1, DAI, 1000)
		h.fund(trader2, REP, 1000)
		h.apply(h.orderTx(trader1, crypto.KindLimit, crypto.SideBuy, 100, 2))
		h.apply(h.orderTx(trader2, crypto.KindMarket, crypto.SideSell, 40, 0))
		return h
	}

	a, b := run(), run()
	ha, err := a.app.StateHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, err := b.app.StateHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ha != hb {
		t.Fatalf("same history, different hashes: %s vs %s", ha.Hex(), hb.Hex())
	}

	trader2 := mustSigner(t, trader2Key)
	b.nonces[trader2] = b.app.Nonce(trader2.Address())
	b.apply(b.transferTx(trader2, transaction.TxTypeWithdraw, "DAI", 1))
	hb, err = b.app.StateHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ha == hb {
		t.Error("hash did not change after a withdrawal")
	}
}
