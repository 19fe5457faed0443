package crypto

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"
)

func TestTypedMessagesSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())

	tests := []struct {
		name string
		msg  TypedMessage
	}{
		{
			name: "limit order",
			msg: &OrderMessage{
				Ticker: "REP", Side: SideBuy, Kind: KindLimit,
				Price: big.NewInt(10), Amount: big.NewInt(1_000), Nonce: big.NewInt(1),
				Owner: signer.Address(),
			},
		},
		{
			name: "market order without price",
			msg: &OrderMessage{
				Ticker: "REP", Side: SideSell, Kind: KindMarket,
				Amount: big.NewInt(5), Nonce: big.NewInt(2), Owner: signer.Address(),
			},
		},
		{
			name: "deposit",
			msg: &TransferMessage{
				Action: ActionDeposit, Ticker: "DAI",
				Amount: big.NewInt(100), Nonce: big.NewInt(3), Owner: signer.Address(),
			},
		},
		{
			name: "listing",
			msg:  &ListingMessage{Ticker: "ZRX", Nonce: big.NewInt(4), Owner: signer.Address()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := e.Sign(signer, tt.msg)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			ok, err := e.Verify(tt.msg, sig)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if !ok {
				t.Error("signature should verify")
			}
		})
	}
}

func TestTamperedOrderDoesNotVerify(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())

	order := &OrderMessage{
		Ticker: "REP", Side: SideBuy, Kind: KindLimit,
		Price: big.NewInt(10), Amount: big.NewInt(10), Nonce: big.NewInt(1),
		Owner: signer.Address(),
	}
	sig, err := e.Sign(signer, order)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	order.Price = big.NewInt(1)
	ok, err := e.Verify(order, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("signature must not cover a different price")
	}
}

func TestDomainSeparatesChains(t *testing.T) {
	msg := &ListingMessage{Ticker: "BAT", Nonce: big.NewInt(1)}

	devnet := NewEIP712Signer(DefaultDomain())
	other := DefaultDomain()
	other.ChainID = big.NewInt(1)

	h1, err := devnet.Hash(msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := NewEIP712Signer(other).Hash(msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if bytes.Equal(h1, h2) {
		t.Error("digests must differ across chain ids")
	}
}

func TestTypedDataJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	out, err := e.TypedDataJSON(&TransferMessage{Action: ActionWithdraw, Ticker: "DAI", Amount: big.NewInt(7), Nonce: big.NewInt(9)})
	if err != nil {
		t.Fatalf("json: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["primaryType"] != "Transfer" {
		t.Errorf("primaryType = %v, want Transfer", decoded["primaryType"])
	}
}
