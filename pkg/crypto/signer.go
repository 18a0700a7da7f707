package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	digestLen    = 32
	signatureLen = 65
)

// Signer holds an owner's secp256k1 key. Owners sign EIP-712 order and
// cancel digests with it; the engine only ever sees the address.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func GenerateKey() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(key), nil
}

// FromPrivateKeyHex loads a 64 hex char key, without 0x.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(key), nil
}

// Address is the order owner this key signs for.
func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex is for the signing CLI only. Never log it.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.key))
}

// Sign returns R || S || V over a typed-data digest, V in {0, 1}.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != digestLen {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", digestLen, len(digest))
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// RecoverAddress returns the owner that produced signature over digest.
// Wallet recovery ids 27/28 are accepted as well as 0/1.
func RecoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != signatureLen {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(digest) != digestLen {
		return common.Address{}, fmt.Errorf("invalid digest length: %d", len(digest))
	}
	pub, err := crypto.SigToPub(digest, normalizeV(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// normalizeV copies signature with V mapped to 0/1 when it is 27/28.
func normalizeV(signature []byte) []byte {
	if signature[64] < 27 {
		return signature
	}
	out := make([]byte, signatureLen)
	copy(out, signature)
	out[64] -= 27
	return out
}

// GenerateNonce returns a random order/cancel nonce. Nonces are only
// unique per owner, so clients need no counter.
func GenerateNonce() (uint256.Int, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint256.Int{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	var n uint256.Int
	n.SetBytes32(b[:])
	return n, nil
}
