package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
)

// Queries read committed state only; they never observe a call in flight.

// GetOrder returns the slot for id. Erased and unknown ids give an empty
// slot whose Order() is the zero record.
func (e *Engine) GetOrder(id uint64) orderbook.Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Get(id)
}

func (e *Engine) GetPair(id uint16) (market.Pair, bool) {
	return e.registry.Get(id)
}

func (e *Engine) ListPairs() []market.Pair {
	return e.registry.List()
}

// ActiveOrderIDs lists ids with an occupied slot, including expired orders
// nobody has touched yet.
func (e *Engine) ActiveOrderIDs() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.ActiveIDs()
}

func (e *Engine) ActiveOrderIDsOf(owner common.Address) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.ActiveIDsOf(owner)
}

func (e *Engine) Admin() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.admin
}

// SpendingAmount sums what owner's resting orders could still take out
// of asset. Clients use it to size allowances. Expired orders count until
// something closes them, since they still occupy their slot.
func (e *Engine) SpendingAmount(owner, asset common.Address) uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total uint256.Int
	for _, o := range e.orders.OrdersOf(owner) {
		pair, ok := e.registry.Get(o.PairID)
		if !ok || pair.SoldAsset(o.Side) != asset {
			continue
		}
		total = core.Add(total, o.UnfilledAmt)
	}
	return total
}
