package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/deployments
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

// DefaultDomain returns the devnet domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "TokenDex",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedMessage is a request a trader signs with eth_signTypedData_v4
type TypedMessage interface {
	PrimaryType() string
	Signer() common.Address
	types() []apitypes.Type
	message() apitypes.TypedDataMessage
}

// Order side and kind as signed (uint8 for wallet compatibility)
const (
	SideBuy  uint8 = 1
	SideSell uint8 = 2

	KindLimit  uint8 = 1
	KindMarket uint8 = 2
)

// OrderMessage places a limit or market order. Price is ignored for market orders.
type OrderMessage struct {
	Ticker string
	Side   uint8
	Kind   uint8
	Price  *big.Int
	Amount *big.Int
	Nonce  *big.Int
	Owner  common.Address
}

func (m *OrderMessage) PrimaryType() string    { return "Order" }
func (m *OrderMessage) Signer() common.Address { return m.Owner }

func (m *OrderMessage) types() []apitypes.Type {
	return []apitypes.Type{
		{Name: "ticker", Type: "string"},
		{Name: "side", Type: "uint8"},
		{Name: "kind", Type: "uint8"},
		{Name: "price", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (m *OrderMessage) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"ticker": m.Ticker,
		"side":   fmt.Sprintf("%d", m.Side),
		"kind":   fmt.Sprintf("%d", m.Kind),
		"price":  bigString(m.Price),
		"amount": bigString(m.Amount),
		"nonce":  bigString(m.Nonce),
		"owner":  m.Owner.Hex(),
	}
}

// Transfer actions
const (
	ActionDeposit  uint8 = 1
	ActionWithdraw uint8 = 2
)

// TransferMessage moves funds between a wallet and the exchange
type TransferMessage struct {
	Action uint8
	Ticker string
	Amount *big.Int
	Nonce  *big.Int
	Owner  common.Address
}

func (m *TransferMessage) PrimaryType() string    { return "Transfer" }
func (m *TransferMessage) Signer() common.Address { return m.Owner }

func (m *TransferMessage) types() []apitypes.Type {
	return []apitypes.Type{
		{Name: "action", Type: "uint8"},
		{Name: "ticker", Type: "string"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (m *TransferMessage) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"action": fmt.Sprintf("%d", m.Action),
		"ticker": m.Ticker,
		"amount": bigString(m.Amount),
		"nonce":  bigString(m.Nonce),
		"owner":  m.Owner.Hex(),
	}
}

// ListingMessage asks to list a new asset. Only the admin's signature is accepted.
type ListingMessage struct {
	Ticker string
	Nonce  *big.Int
	Owner  common.Address
}

func (m *ListingMessage) PrimaryType() string    { return "Listing" }
func (m *ListingMessage) Signer() common.Address { return m.Owner }

func (m *ListingMessage) types() []apitypes.Type {
	return []apitypes.Type{
		{Name: "ticker", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (m *ListingMessage) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"ticker": m.Ticker,
		"nonce":  bigString(m.Nonce),
		"owner":  m.Owner.Hex(),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// EIP712Signer hashes, signs and recovers typed messages under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(msg TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    domainFields,
			msg.PrimaryType(): msg.types(),
		},
		PrimaryType: msg.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg.message(),
	}
}

// Hash returns the EIP-712 digest of msg
func (e *EIP712Signer) Hash(msg TypedMessage) ([]byte, error) {
	typedData := e.typedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", typedData.PrimaryType, err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// Sign signs msg with signer's key
func (e *EIP712Signer) Sign(signer *Signer, msg TypedMessage) ([]byte, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// Recover returns the address that produced signature over msg
func (e *EIP712Signer) Recover(msg TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify reports whether signature over msg was made by msg's claimed signer
func (e *EIP712Signer) Verify(msg TypedMessage, signature []byte) (bool, error) {
	addr, err := e.Recover(msg, signature)
	if err != nil {
		return false, err
	}
	return addr == msg.Signer(), nil
}

// TypedDataJSON renders msg in the eth_signTypedData_v4 format wallets expect
func (e *EIP712Signer) TypedDataJSON(msg TypedMessage) (string, error) {
	b, err := json.MarshalIndent(e.typedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(b), nil
}
