package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
)

// Order is a limit order record. Amounts are in the sold asset: quote for
// BUY orders, base for SELL orders. ReceivedAmt is gross of fees.
type Order struct {
	ID             uint64
	Owner          common.Address
	PairID         uint16
	Side           core.Side
	Price          uint256.Int
	OriginalAmount uint256.Int
	UnfilledAmt    uint256.Int
	ReceivedAmt    uint256.Int
	FeeAmt         uint256.Int
	ValidUntil     uint64 // unix seconds
	TimeInForce    core.TimeInForce
}

// ExecutedAmt is the part of OriginalAmount that has been matched.
func (o Order) ExecutedAmt() uint256.Int {
	return core.Sub(o.OriginalAmount, o.UnfilledAmt)
}

// ExpiredAt reports whether the order may no longer execute at unix time now.
func (o Order) ExpiredAt(now uint64) bool { return now >= o.ValidUntil }

func (o Order) Exhausted() bool { return o.UnfilledAmt.IsZero() }

// Slot is what the store holds for an order id: either an order or nothing.
// Erased and never-assigned ids both yield an empty slot.
type Slot struct {
	order    Order
	occupied bool
}

func Occupied(o Order) Slot { return Slot{order: o, occupied: true} }

// Empty is the slot of an id with no live order.
var Empty = Slot{}

func (s Slot) Occupied() bool { return s.occupied }

func (s Slot) Get() (Order, bool) { return s.order, s.occupied }

// Order returns the held order, or the zero record for an empty slot.
func (s Slot) Order() Order {
	if !s.occupied {
		return Order{}
	}
	return s.order
}
