// Package ledger is the boundary to the custodian of fungible assets.
// The engine never holds funds; it only moves them with transferFrom
// against allowances granted by order owners.
package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Transfer is one settlement leg: Owner pays Recipient Amount of Asset.
type Transfer struct {
	Asset     common.Address
	Owner     common.Address
	Recipient common.Address
	Amount    uint256.Int
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s %s->%s %s", t.Asset.Hex(), t.Owner.Hex(), t.Recipient.Hex(), t.Amount.Dec())
}

// Ledger is a multi-asset view of the custodian. TransferFrom moves funds
// on behalf of spender, consuming the owner's allowance to spender.
type Ledger interface {
	BalanceOf(asset, account common.Address) uint256.Int
	Allowance(asset, owner, spender common.Address) uint256.Int
	TransferFrom(spender common.Address, t Transfer) error
}

// BatchLedger can settle several legs as one unit: all or none.
type BatchLedger interface {
	Ledger
	TransferBatch(spender common.Address, legs []Transfer) error
}

// RowLedger is a ledger persisted alongside engine state. Its settlements
// write nothing themselves; the caller reads the touched rows with Rows
// and stores them in the same batch as the rest of the call.
type RowLedger interface {
	BatchLedger
	Rows(spender common.Address, legs []Transfer) ([]BalanceEntry, []AllowanceEntry)
}

// Settle executes legs against l, atomically when l supports it.
func Settle(l Ledger, spender common.Address, legs []Transfer) error {
	if len(legs) == 0 {
		return nil
	}
	if b, ok := l.(BatchLedger); ok {
		return b.TransferBatch(spender, legs)
	}
	for i, leg := range legs {
		if err := l.TransferFrom(spender, leg); err != nil {
			return fmt.Errorf("leg %d (%s): %w", i, leg, err)
		}
	}
	return nil
}

// unlimited reports the conventional "infinite approval" value, which
// transfers do not decrement.
func unlimited(v uint256.Int) bool {
	var max uint256.Int
	max.SetAllOne()
	return v.Eq(&max)
}
