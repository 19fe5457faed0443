package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/crypto"
)

var (
	ErrMalformed        = errors.New("malformed transaction")
	ErrInvalidSignature = errors.New("invalid signature")
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeDeposit  TxType = "deposit"
	TxTypeWithdraw TxType = "withdraw"
	TxTypeOrder    TxType = "order"
	TxTypeListing  TxType = "add_token" // admin only
)

// SignedTransaction is the JSON body of POST /api/v1/tx
// Exactly one payload matching Type is set.
type SignedTransaction struct {
	Type      TxType           `json:"type"`
	Order     *OrderPayload    `json:"order,omitempty"`
	Transfer  *TransferPayload `json:"transfer,omitempty"`
	Listing   *ListingPayload  `json:"listing,omitempty"`
	Signature string           `json:"signature"` // hex, 0x optional
}

// OrderPayload contains order data for EIP-712 signing
type OrderPayload struct {
	Ticker string `json:"ticker"`
	Side   uint8  `json:"side"`            // 1=Buy, 2=Sell
	Kind   uint8  `json:"kind"`            // 1=Limit, 2=Market
	Price  string `json:"price,omitempty"` // decimal, limit only
	Amount string `json:"amount"`          // decimal base units
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

// TransferPayload is a deposit or withdrawal; the action comes from the tx type
type TransferPayload struct {
	Ticker string `json:"ticker"`
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

// ListingPayload asks to list a new asset
type ListingPayload struct {
	Ticker string `json:"ticker"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, field, s)
	}
	return v, nil
}

func parseOwner(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid owner %q", ErrMalformed, s)
	}
	return common.HexToAddress(s), nil
}

// ToMessage converts the payload into the typed message that was signed
func (o *OrderPayload) ToMessage() (*crypto.OrderMessage, error) {
	price := big.NewInt(0)
	if o.Price != "" {
		var err error
		if price, err = parseBig("price", o.Price); err != nil {
			return nil, err
		}
	}
	amount, err := parseBig("amount", o.Amount)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", o.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseOwner(o.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.OrderMessage{
		Ticker: o.Ticker,
		Side:   o.Side,
		Kind:   o.Kind,
		Price:  price,
		Amount: amount,
		Nonce:  nonce,
		Owner:  owner,
	}, nil
}

// FromOrderMessage converts a typed order back into its payload
func FromOrderMessage(m *crypto.OrderMessage) *OrderPayload {
	p := &OrderPayload{
		Ticker: m.Ticker,
		Side:   m.Side,
		Kind:   m.Kind,
		Amount: m.Amount.String(),
		Nonce:  m.Nonce.String(),
		Owner:  m.Owner.Hex(),
	}
	if m.Kind == crypto.KindLimit && m.Price != nil {
		p.Price = m.Price.String()
	}
	return p
}

// ToMessage converts the payload into the typed message that was signed
func (p *TransferPayload) ToMessage(action uint8) (*crypto.TransferMessage, error) {
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseOwner(p.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.TransferMessage{Action: action, Ticker: p.Ticker, Amount: amount, Nonce: nonce, Owner: owner}, nil
}

func FromTransferMessage(m *crypto.TransferMessage) *TransferPayload {
	return &TransferPayload{
		Ticker: m.Ticker,
		Amount: m.Amount.String(),
		Nonce:  m.Nonce.String(),
		Owner:  m.Owner.Hex(),
	}
}

// ToMessage converts the payload into the typed message that was signed
func (p *ListingPayload) ToMessage() (*crypto.ListingMessage, error) {
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseOwner(p.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.ListingMessage{Ticker: p.Ticker, Nonce: nonce, Owner: owner}, nil
}

func FromListingMessage(m *crypto.ListingMessage) *ListingPayload {
	return &ListingPayload{Ticker: m.Ticker, Nonce: m.Nonce.String(), Owner: m.Owner.Hex()}
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses and validates a JSON transaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Validate performs structural checks that need no exchange state
// Amounts must be positive; limit orders also need a positive price.
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	switch tx.Type {
	case TxTypeOrder:
		o := tx.Order
		if o == nil {
			return fmt.Errorf("%w: order type requires order payload", ErrMalformed)
		}
		if o.Ticker == "" {
			return fmt.Errorf("%w: missing ticker", ErrMalformed)
		}
		if o.Side != crypto.SideBuy && o.Side != crypto.SideSell {
			return fmt.Errorf("%w: invalid side %d", ErrMalformed, o.Side)
		}
		msg, err := o.ToMessage()
		if err != nil {
			return err
		}
		switch o.Kind {
		case crypto.KindLimit:
			if msg.Price.Sign() == 0 {
				return fmt.Errorf("%w: limit order needs a positive price", ErrMalformed)
			}
		case crypto.KindMarket:
		default:
			return fmt.Errorf("%w: invalid order kind %d", ErrMalformed, o.Kind)
		}
		if msg.Amount.Sign() == 0 {
			return fmt.Errorf("%w: amount must be positive", ErrMalformed)
		}

	case TxTypeDeposit, TxTypeWithdraw:
		p := tx.Transfer
		if p == nil {
			return fmt.Errorf("%w: %s requires transfer payload", ErrMalformed, tx.Type)
		}
		if p.Ticker == "" {
			return fmt.Errorf("%w: missing ticker", ErrMalformed)
		}
		msg, err := p.ToMessage(0)
		if err != nil {
			return err
		}
		if msg.Amount.Sign() == 0 {
			return fmt.Errorf("%w: amount must be positive", ErrMalformed)
		}

	case TxTypeListing:
		if tx.Listing == nil {
			return fmt.Errorf("%w: add_token requires listing payload", ErrMalformed)
		}
		if tx.Listing.Ticker == "" {
			return fmt.Errorf("%w: missing ticker", ErrMalformed)
		}
		if _, err := tx.Listing.ToMessage(); err != nil {
			return err
		}

	case "":
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
	}
	return nil
}

// Example:
//   {
//     "type": "order",
//     "order": {
//       "ticker": "REP",
//       "side": 1,
//       "kind": 1,
//       "price": "10",
//       "amount": "10000000000000000000",
//       "nonce": "1",
//       "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
