package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
)

type holding struct {
	asset   common.Address
	account common.Address
}

// View stages transfers on top of a Ledger without touching it. Reads see
// the staged legs, so a later solvency check in the same call accounts for
// earlier fills. Commit settles the staged legs; dropping the View discards
// them.
type View struct {
	base    Ledger
	spender common.Address
	credits map[holding]uint256.Int
	debits  map[holding]uint256.Int
	spent   map[holding]uint256.Int // allowance used, keyed by owner
	legs    []Transfer
}

func NewView(base Ledger, spender common.Address) *View {
	return &View{
		base:    base,
		spender: spender,
		credits: make(map[holding]uint256.Int),
		debits:  make(map[holding]uint256.Int),
		spent:   make(map[holding]uint256.Int),
	}
}

func (v *View) BalanceOf(asset, account common.Address) uint256.Int {
	h := holding{asset, account}
	bal := core.Add(v.base.BalanceOf(asset, account), v.credits[h])
	return core.Sub(bal, v.debits[h])
}

// Allowance is the owner's remaining allowance to the view's spender.
func (v *View) Allowance(asset, owner common.Address) uint256.Int {
	base := v.base.Allowance(asset, owner, v.spender)
	if unlimited(base) {
		return base
	}
	return core.Sub(base, v.spent[holding{asset, owner}])
}

// Transfer stages one leg. Zero legs are ignored.
func (v *View) Transfer(t Transfer) error {
	if t.Amount.IsZero() {
		return nil
	}
	bal := v.BalanceOf(t.Asset, t.Owner)
	if bal.Lt(&t.Amount) {
		return fmt.Errorf("%w: %s has %s", ErrInsufficientBalance, t, bal.Dec())
	}
	allowance := v.Allowance(t.Asset, t.Owner)
	if allowance.Lt(&t.Amount) {
		return fmt.Errorf("%w: %s allowed %s", ErrInsufficientAllowance, t, allowance.Dec())
	}

	from := holding{t.Asset, t.Owner}
	to := holding{t.Asset, t.Recipient}
	v.debits[from] = core.Add(v.debits[from], t.Amount)
	v.credits[to] = core.Add(v.credits[to], t.Amount)
	if !unlimited(v.base.Allowance(t.Asset, t.Owner, v.spender)) {
		v.spent[from] = core.Add(v.spent[from], t.Amount)
	}
	v.legs = append(v.legs, t)
	return nil
}

// Legs returns the staged transfers in the order they were made.
func (v *View) Legs() []Transfer { return v.legs }

// Commit settles every staged leg against the underlying ledger.
func (v *View) Commit() error {
	return Settle(v.base, v.spender, v.legs)
}
