package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/uhyunpark/tokendex/params"
	"github.com/uhyunpark/tokendex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokendex/pkg/crypto"
)

func main() {
	var (
		keyHex  = flag.String("key", "", "hex private key, \"devnet-admin\", or empty to generate one")
		txType  = flag.String("type", "order", "deposit | withdraw | order | add_token")
		ticker  = flag.String("ticker", "REP", "asset ticker")
		side    = flag.String("side", "buy", "buy | sell (orders)")
		kind    = flag.String("kind", "limit", "limit | market (orders)")
		price   = flag.String("price", "10", "limit price in quote base units")
		amount  = flag.String("amount", "1000000000000000000", "amount in base units")
		nonce   = flag.Uint64("nonce", 1, "must exceed the last nonce the node accepted")
		chainID = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
		api     = flag.String("api", "http://localhost:8080", "node API base URL")
	)
	flag.Parse()

	// Step 1: Generate or load key
	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}

	// Step 2: Build the transaction
	owner := signer.Address().Hex()
	n := fmt.Sprintf("%d", *nonce)
	tx := &transaction.SignedTransaction{Type: transaction.TxType(*txType)}
	switch tx.Type {
	case transaction.TxTypeOrder:
		o := &transaction.OrderPayload{Ticker: *ticker, Amount: *amount, Nonce: n, Owner: owner}
		switch strings.ToLower(*side) {
		case "buy":
			o.Side = crypto.SideBuy
		case "sell":
			o.Side = crypto.SideSell
		default:
			fail("side", fmt.Errorf("unknown side %q", *side))
		}
		switch strings.ToLower(*kind) {
		case "limit":
			o.Kind = crypto.KindLimit
			o.Price = *price
		case "market":
			o.Kind = crypto.KindMarket
		default:
			fail("kind", fmt.Errorf("unknown kind %q", *kind))
		}
		tx.Order = o
	case transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		tx.Transfer = &transaction.TransferPayload{Ticker: *ticker, Amount: *amount, Nonce: n, Owner: owner}
	case transaction.TxTypeListing:
		tx.Listing = &transaction.ListingPayload{Ticker: *ticker, Nonce: n, Owner: owner}
	default:
		fail("type", fmt.Errorf("unknown transaction type %q", *txType))
	}

	// Step 3: Sign with EIP-712
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	verifier := transaction.NewVerifier(domain)
	if err := verifier.Sign(signer, tx); err != nil {
		fail("sign", err)
	}
	if err := tx.Validate(); err != nil {
		fail("validate", err)
	}

	// Step 4: Verify signature
	recovered, _, err := verifier.Verify(tx)
	if err != nil {
		fail("verify", err)
	}
	fmt.Fprintf(os.Stderr, "Signature valid, signer %s\n\n", recovered.Hex())

	// Step 5: Print the body for POST /api/v1/tx
	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Fprintf(os.Stderr, "Submit with:\n  curl -X POST %s/api/v1/tx -H 'Content-Type: application/json' -d @-\n\n", *api)
	fmt.Println(string(txJSON))
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	switch keyHex {
	case "":
		return crypto.GenerateKey()
	case "devnet-admin":
		return crypto.FromPrivateKeyHex(params.DevnetAdminKey)
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
