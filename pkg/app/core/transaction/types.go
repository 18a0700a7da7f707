package transaction

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/crypto"
)

// TxType represents the type of a signed request.
type TxType string

const (
	TxTypeOrder  TxType = "order"
	TxTypeCancel TxType = "cancel"
)

// SignedTransaction is the JSON envelope clients post to a relaying node.
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Owner     string         `json:"owner"`            // claimed signer (0x...)
	Order     *OrderPayload  `json:"order,omitempty"`  // if type=order
	Cancel    *CancelPayload `json:"cancel,omitempty"` // if type=cancel
	Signature string         `json:"signature"`        // 65 bytes, hex
}

// OrderPayload mirrors the SubmitOrder typed struct. Big numbers travel as
// decimal strings.
type OrderPayload struct {
	Side             uint8    `json:"side"` // 0=BUY, 1=SELL
	Price            string   `json:"price"`
	Amount           string   `json:"amount"`
	PairID           uint16   `json:"pairId"`
	ValidUntil       uint32   `json:"validUntil"` // unix seconds
	TIF              uint8    `json:"tif"`        // 0=GTC, 1=IOK, 2=FOK
	NetworkFee       string   `json:"networkFee"`
	Nonce            string   `json:"nonce"`
	OrderIDsToCancel []string `json:"orderIdsToCancel"`
	OrderIDsToFill   []string `json:"orderIdsToFill"`
}

type CancelPayload struct {
	OrderIDs []string `json:"orderIds"`
	Nonce    string   `json:"nonce"`
}

// OrderFields is a decoded SubmitOrder. It is what the owner signs and what
// the engine executes.
type OrderFields struct {
	Side        core.Side
	Price       uint256.Int
	Amount      uint256.Int
	PairID      uint16
	ValidUntil  uint64
	TimeInForce core.TimeInForce
	NetworkFee  uint256.Int
	Nonce       uint256.Int
	IDsToCancel []uint64
	IDsToFill   []uint64
}

type CancelFields struct {
	IDs   []uint64
	Nonce uint256.Int
}

func parseAmount(name, s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return *v, nil
}

func parseIDs(name string, in []string) ([]uint64, error) {
	out := make([]uint64, 0, len(in))
	for _, s := range in {
		v, err := uint256.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", name, s, err)
		}
		if !v.IsUint64() {
			return nil, fmt.Errorf("%s entry %s out of range", name, s)
		}
		out = append(out, v.Uint64())
	}
	return out, nil
}

func formatIDs(ids []uint64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("%d", id)
	}
	return out
}

// Decode validates the payload encoding and converts it to OrderFields.
// Semantic checks (pair, price, expiry) belong to the engine.
func (o *OrderPayload) Decode() (OrderFields, error) {
	side := core.Side(o.Side)
	if !side.Valid() {
		return OrderFields{}, fmt.Errorf("invalid side %d", o.Side)
	}
	tif := core.TimeInForce(o.TIF)
	if !tif.Valid() {
		return OrderFields{}, fmt.Errorf("invalid tif %d", o.TIF)
	}

	f := OrderFields{
		Side:        side,
		PairID:      o.PairID,
		ValidUntil:  uint64(o.ValidUntil),
		TimeInForce: tif,
	}
	var err error
	if f.Price, err = parseAmount("price", o.Price); err != nil {
		return OrderFields{}, err
	}
	if f.Amount, err = parseAmount("amount", o.Amount); err != nil {
		return OrderFields{}, err
	}
	if f.NetworkFee, err = parseAmount("networkFee", o.NetworkFee); err != nil {
		return OrderFields{}, err
	}
	if f.Nonce, err = parseAmount("nonce", o.Nonce); err != nil {
		return OrderFields{}, err
	}
	if f.IDsToCancel, err = parseIDs("orderIdsToCancel", o.OrderIDsToCancel); err != nil {
		return OrderFields{}, err
	}
	if f.IDsToFill, err = parseIDs("orderIdsToFill", o.OrderIDsToFill); err != nil {
		return OrderFields{}, err
	}
	return f, nil
}

// Payload is the inverse of Decode.
func (f OrderFields) Payload() (*OrderPayload, error) {
	if f.ValidUntil > math.MaxUint32 {
		return nil, fmt.Errorf("validUntil %d does not fit the signed uint32 field", f.ValidUntil)
	}
	return &OrderPayload{
		Side:             uint8(f.Side),
		Price:            f.Price.Dec(),
		Amount:           f.Amount.Dec(),
		PairID:           f.PairID,
		ValidUntil:       uint32(f.ValidUntil),
		TIF:              uint8(f.TimeInForce),
		NetworkFee:       f.NetworkFee.Dec(),
		Nonce:            f.Nonce.Dec(),
		OrderIDsToCancel: formatIDs(f.IDsToCancel),
		OrderIDsToFill:   formatIDs(f.IDsToFill),
	}, nil
}

func bigIDs(ids []uint64) []*big.Int {
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = new(big.Int).SetUint64(id)
	}
	return out
}

// EIP712 builds the typed struct the owner signs.
func (f OrderFields) EIP712() (*crypto.SubmitOrderEIP712, error) {
	if f.ValidUntil > math.MaxUint32 {
		return nil, fmt.Errorf("validUntil %d does not fit the signed uint32 field", f.ValidUntil)
	}
	return &crypto.SubmitOrderEIP712{
		Side:             uint8(f.Side),
		Price:            f.Price.ToBig(),
		Amount:           f.Amount.ToBig(),
		PairID:           f.PairID,
		ValidUntil:       uint32(f.ValidUntil),
		TIF:              uint8(f.TimeInForce),
		NetworkFee:       f.NetworkFee.ToBig(),
		Nonce:            f.Nonce.ToBig(),
		OrderIDsToCancel: bigIDs(f.IDsToCancel),
		OrderIDsToFill:   bigIDs(f.IDsToFill),
	}, nil
}

func (c *CancelPayload) Decode() (CancelFields, error) {
	ids, err := parseIDs("orderIds", c.OrderIDs)
	if err != nil {
		return CancelFields{}, err
	}
	nonce, err := parseAmount("nonce", c.Nonce)
	if err != nil {
		return CancelFields{}, err
	}
	return CancelFields{IDs: ids, Nonce: nonce}, nil
}

func (c CancelFields) Payload() *CancelPayload {
	return &CancelPayload{OrderIDs: formatIDs(c.IDs), Nonce: c.Nonce.Dec()}
}

func (c CancelFields) EIP712() *crypto.CancelOrdersEIP712 {
	return &crypto.CancelOrdersEIP712{OrderIDs: bigIDs(c.IDs), Nonce: c.Nonce.ToBig()}
}

// OwnerAddress parses the claimed owner.
func (tx *SignedTransaction) OwnerAddress() (common.Address, error) {
	if !common.IsHexAddress(tx.Owner) {
		return common.Address{}, fmt.Errorf("invalid owner address %q", tx.Owner)
	}
	return common.HexToAddress(tx.Owner), nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if _, err := tx.OwnerAddress(); err != nil {
		return err
	}

	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return fmt.Errorf("order type requires order payload")
		}
	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("cancel type requires cancel payload")
		}
		if len(tx.Cancel.OrderIDs) == 0 {
			return fmt.Errorf("cancel requires at least one order id")
		}
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	return nil
}

// ParseTransaction decodes and structurally validates an envelope.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example envelope:
//   {
//     "type": "order",
//     "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//     "order": {
//       "side": 0, "price": "3000", "amount": "3000000000000000000000",
//       "pairId": 1, "validUntil": 1900000000, "tif": 0,
//       "networkFee": "0", "nonce": "42",
//       "orderIdsToCancel": [], "orderIdsToFill": ["7"]
//     },
//     "signature": "0x1234..."
//   }
