package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/crypto"
)

// Verifier checks transaction signatures against the claimed owner
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Message returns the typed message tx carries
func Message(tx *SignedTransaction) (crypto.TypedMessage, error) {
	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return nil, fmt.Errorf("%w: missing order payload", ErrMalformed)
		}
		return tx.Order.ToMessage()
	case TxTypeDeposit, TxTypeWithdraw:
		if tx.Transfer == nil {
			return nil, fmt.Errorf("%w: missing transfer payload", ErrMalformed)
		}
		action := crypto.ActionDeposit
		if tx.Type == TxTypeWithdraw {
			action = crypto.ActionWithdraw
		}
		return tx.Transfer.ToMessage(action)
	case TxTypeListing:
		if tx.Listing == nil {
			return nil, fmt.Errorf("%w: missing listing payload", ErrMalformed)
		}
		return tx.Listing.ToMessage()
	default:
		return nil, fmt.Errorf("%w: unsupported transaction type %q", ErrMalformed, tx.Type)
	}
}

// Verify recovers the signer of tx and checks it is the payload's owner
// The returned message is the decoded payload, ready to execute.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, crypto.TypedMessage, error) {
	msg, err := Message(tx)
	if err != nil {
		return common.Address{}, nil, err
	}

	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, nil, err
	}

	recovered, err := v.eip712Signer.Recover(msg, sig)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != msg.Signer() {
		return common.Address{}, nil, fmt.Errorf("%w: signed by %s, owner is %s",
			ErrInvalidSignature, recovered.Hex(), msg.Signer().Hex())
	}
	return recovered, msg, nil
}

// Sign fills in tx's signature for msg. Used by the CLI and tests.
func (v *Verifier) Sign(signer *crypto.Signer, tx *SignedTransaction) error {
	msg, err := Message(tx)
	if err != nil {
		return err
	}
	sig, err := v.eip712Signer.Sign(signer, msg)
	if err != nil {
		return err
	}
	tx.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", ErrInvalidSignature, err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: must be 65 bytes, got %d", ErrInvalidSignature, len(sigBytes))
	}
	return sigBytes, nil
}
