package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/zklite/pkg/crypto"
)

var (
	ErrNonceUsed        = errors.New("Nonce is used")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Verifier authenticates relayed requests against the engine's EIP-712 domain.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.eip712Signer }

// VerifyAndConsumeOrder checks that owner signed f with a fresh nonce and
// records the nonce in nonces. A used nonce is rejected before any
// signature recovery is attempted.
func (v *Verifier) VerifyAndConsumeOrder(nonces NonceSet, owner common.Address, f OrderFields, signature []byte) error {
	if nonces.NonceUsed(owner, f.Nonce) {
		return fmt.Errorf("%w: %s for %s", ErrNonceUsed, f.Nonce.Dec(), owner.Hex())
	}
	typed, err := f.EIP712()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer, err := v.eip712Signer.RecoverSubmitOrderSigner(typed, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != owner {
		return fmt.Errorf("%w: signed by %s, not %s", ErrInvalidSignature, signer.Hex(), owner.Hex())
	}
	nonces.ConsumeNonce(owner, f.Nonce)
	return nil
}

// VerifyAndConsumeCancel is the CancelOrders counterpart of VerifyAndConsumeOrder.
func (v *Verifier) VerifyAndConsumeCancel(nonces NonceSet, owner common.Address, c CancelFields, signature []byte) error {
	if nonces.NonceUsed(owner, c.Nonce) {
		return fmt.Errorf("%w: %s for %s", ErrNonceUsed, c.Nonce.Dec(), owner.Hex())
	}
	signer, err := v.eip712Signer.RecoverCancelOrdersSigner(c.EIP712(), signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != owner {
		return fmt.Errorf("%w: signed by %s, not %s", ErrInvalidSignature, signer.Hex(), owner.Hex())
	}
	nonces.ConsumeNonce(owner, c.Nonce)
	return nil
}

// DecodeSignature decodes hex-encoded signature (with or without 0x prefix)
func DecodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}

// EncodeSignature is the inverse of DecodeSignature.
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
