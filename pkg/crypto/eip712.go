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

const (
	DefaultDomainName    = "zkLite Order Book"
	DefaultDomainVersion = "v1"

	submitOrderPrimary  = "SubmitOrder"
	cancelOrdersPrimary = "CancelOrders"
)

// EIP712Domain binds signatures to one deployment of the engine.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // the engine's spender address
}

func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              DefaultDomainName,
		Version:           DefaultDomainVersion,
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// SubmitOrderEIP712 is what an owner signs to let a relayer submit on
// their behalf. The owner is not part of the struct; it is recovered.
type SubmitOrderEIP712 struct {
	Side             uint8
	Price            *big.Int
	Amount           *big.Int
	PairID           uint16
	ValidUntil       uint32
	TIF              uint8
	NetworkFee       *big.Int
	Nonce            *big.Int
	OrderIDsToCancel []*big.Int
	OrderIDsToFill   []*big.Int
}

// CancelOrdersEIP712 authorizes cancellation of a batch of orders.
type CancelOrdersEIP712 struct {
	OrderIDs []*big.Int
	Nonce    *big.Int
}

var (
	domainFields = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
	submitOrderFields = []apitypes.Type{
		{Name: "side", Type: "uint8"},
		{Name: "price", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "pairId", Type: "uint16"},
		{Name: "validUntil", Type: "uint32"},
		{Name: "tif", Type: "uint8"},
		{Name: "networkFee", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "orderIdsToCancel", Type: "uint256[]"},
		{Name: "orderIdsToFill", Type: "uint256[]"},
	}
	cancelOrdersFields = []apitypes.Type{
		{Name: "orderIds", Type: "uint256[]"},
		{Name: "nonce", Type: "uint256"},
	}
)

// EIP712Signer hashes, signs and recovers the engine's typed messages.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	if domain.ChainID == nil {
		domain.ChainID = big.NewInt(0)
	}
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

// digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func idList(ids []*big.Int) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = bigOrZero(id).String()
	}
	return out
}

func (o *SubmitOrderEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"side":             fmt.Sprintf("%d", o.Side),
		"price":            bigOrZero(o.Price).String(),
		"amount":           bigOrZero(o.Amount).String(),
		"pairId":           fmt.Sprintf("%d", o.PairID),
		"validUntil":       fmt.Sprintf("%d", o.ValidUntil),
		"tif":              fmt.Sprintf("%d", o.TIF),
		"networkFee":       bigOrZero(o.NetworkFee).String(),
		"nonce":            bigOrZero(o.Nonce).String(),
		"orderIdsToCancel": idList(o.OrderIDsToCancel),
		"orderIdsToFill":   idList(o.OrderIDsToFill),
	}
}

func (c *CancelOrdersEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"orderIds": idList(c.OrderIDs),
		"nonce":    bigOrZero(c.Nonce).String(),
	}
}

// HashSubmitOrder returns the digest an owner signs for a relayed order.
func (e *EIP712Signer) HashSubmitOrder(order *SubmitOrderEIP712) ([]byte, error) {
	return digest(e.typedData(submitOrderPrimary, submitOrderFields, order.message()))
}

func (e *EIP712Signer) SignSubmitOrder(signer *Signer, order *SubmitOrderEIP712) ([]byte, error) {
	hash, err := e.HashSubmitOrder(order)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return signature, nil
}

// RecoverSubmitOrderSigner returns the address that signed order.
func (e *EIP712Signer) RecoverSubmitOrderSigner(order *SubmitOrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashSubmitOrder(order)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return RecoverAddress(hash, signature)
}

func (e *EIP712Signer) HashCancelOrders(cancel *CancelOrdersEIP712) ([]byte, error) {
	return digest(e.typedData(cancelOrdersPrimary, cancelOrdersFields, cancel.message()))
}

func (e *EIP712Signer) SignCancelOrders(signer *Signer, cancel *CancelOrdersEIP712) ([]byte, error) {
	hash, err := e.HashCancelOrders(cancel)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign cancel: %w", err)
	}
	return signature, nil
}

func (e *EIP712Signer) RecoverCancelOrdersSigner(cancel *CancelOrdersEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashCancelOrders(cancel)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// SubmitOrderJSON renders the typed data in the eth_signTypedData_v4 format
// wallets expect.
func (e *EIP712Signer) SubmitOrderJSON(order *SubmitOrderEIP712) (string, error) {
	return typedDataJSON(e.typedData(submitOrderPrimary, submitOrderFields, order.message()))
}

func (e *EIP712Signer) CancelOrdersJSON(cancel *CancelOrdersEIP712) (string, error) {
	return typedDataJSON(e.typedData(cancelOrdersPrimary, cancelOrdersFields, cancel.message()))
}

func typedDataJSON(td apitypes.TypedData) (string, error) {
	out := map[string]interface{}{
		"types":       td.Types,
		"primaryType": td.PrimaryType,
		"domain": map[string]interface{}{
			"name":              td.Domain.Name,
			"version":           td.Domain.Version,
			"chainId":           (*big.Int)(td.Domain.ChainId).String(),
			"verifyingContract": td.Domain.VerifyingContract,
		},
		"message": td.Message,
	}
	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
