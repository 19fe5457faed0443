package dex

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokendex/pkg/crypto"
)

// unit is one whole token in base units (18 decimals)
var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// TxGenerator creates signed transactions for simulated traders
type TxGenerator struct {
	signers  []*crypto.Signer // keypairs for simulated traders
	tickers  []string         // tradable (non-quote) assets
	rng      *rand.Rand
	nonces   map[common.Address]uint64
	verifier *transaction.Verifier
}

// NewTxGenerator creates numAccounts fresh traders over tickers
func NewTxGenerator(numAccounts int, tickers []string, domain crypto.EIP712Domain, seed int64) (*TxGenerator, error) {
	if numAccounts <= 0 || len(tickers) == 0 {
		return nil, fmt.Errorf("txgen: need at least one account and one ticker")
	}
	signers := make([]*crypto.Signer, numAccounts)
	for i := range signers {
		signer, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		signers[i] = signer
	}
	return &TxGenerator{
		signers:  signers,
		tickers:  tickers,
		rng:      rand.New(rand.NewSource(seed)),
		nonces:   make(map[common.Address]uint64),
		verifier: transaction.NewVerifier(domain),
	}, nil
}

func (g *TxGenerator) Signers() []*crypto.Signer { return g.signers }

func (g *TxGenerator) nextNonce(addr common.Address) string {
	g.nonces[addr]++
	return fmt.Sprintf("%d", g.nonces[addr])
}

// Fund gives every trader faucet funds in quote and all tickers and deposits them
func (g *TxGenerator) Fund(ctx context.Context, app *App) error {
	all := append([]string{app.Registry().Quote().String()}, g.tickers...)
	for _, signer := range g.signers {
		for _, symbol := range all {
			ticker, err := asset.ParseTicker(symbol)
			if err != nil {
				return err
			}
			wallet, err := app.Faucet(signer.Address(), ticker)
			if err != nil {
				return fmt.Errorf("fund %s: %w", signer.Address().Hex(), err)
			}
			tx := &transaction.SignedTransaction{
				Type: transaction.TxTypeDeposit,
				Transfer: &transaction.TransferPayload{
					Ticker: symbol,
					Amount: wallet.Dec(),
					Nonce:  g.nextNonce(signer.Address()),
					Owner:  signer.Address().Hex(),
				},
			}
			if err := g.verifier.Sign(signer, tx); err != nil {
				return err
			}
			if _, err := app.ApplyTx(ctx, tx); err != nil {
				return fmt.Errorf("fund %s: %w", signer.Address().Hex(), err)
			}
		}
	}
	return nil
}

// GenerateOrder creates a signed random order
// 70% limit, 30% market; prices cluster around 10 quote units per token.
func (g *TxGenerator) GenerateOrder() (*transaction.SignedTransaction, error) {
	signer := g.signers[g.rng.Intn(len(g.signers))]
	ticker := g.tickers[g.rng.Intn(len(g.tickers))]

	side := crypto.SideBuy
	if g.rng.Intn(2) == 1 {
		side = crypto.SideSell
	}

	// 1 to 5 whole tokens
	amount := new(big.Int).Mul(big.NewInt(int64(g.rng.Intn(5)+1)), unit)

	order := &transaction.OrderPayload{
		Ticker: ticker,
		Side:   side,
		Kind:   crypto.KindMarket,
		Amount: amount.String(),
		Nonce:  g.nextNonce(signer.Address()),
		Owner:  signer.Address().Hex(),
	}
	if g.rng.Intn(100) < 70 {
		order.Kind = crypto.KindLimit
		order.Price = fmt.Sprintf("%d", 8+g.rng.Intn(5)) // 8..12
	}

	tx := &transaction.SignedTransaction{Type: transaction.TxTypeOrder, Order: order}
	if err := g.verifier.Sign(signer, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// GenerateBatch creates n signed orders
func (g *TxGenerator) GenerateBatch(n int) ([]*transaction.SignedTransaction, error) {
	batch := make([]*transaction.SignedTransaction, 0, n)
	for i := 0; i < n; i++ {
		tx, err := g.GenerateOrder()
		if err != nil {
			return batch, err
		}
		batch = append(batch, tx)
	}
	return batch, nil
}

// Stats summarizes generator output over elapsed
type Stats struct {
	Accounts int
	Tickers  int
	TotalTxs uint64
	Rate     float64
}

func (g *TxGenerator) Stats(elapsed time.Duration) Stats {
	var total uint64
	for _, n := range g.nonces {
		total += n
	}
	s := Stats{Accounts: len(g.signers), Tickers: len(g.tickers), TotalTxs: total}
	if secs := elapsed.Seconds(); secs > 0 {
		s.Rate = float64(total) / secs
	}
	return s
}
