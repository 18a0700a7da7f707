package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"go.uber.org/zap"
)

// BalanceEntry and AllowanceEntry are the persisted rows of a Memory ledger.
type BalanceEntry struct {
	Asset   common.Address
	Account common.Address
	Amount  uint256.Int
}

type AllowanceEntry struct {
	Asset   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  uint256.Int
}

// Persister durably records ledger rows. Each call is one atomic write.
type Persister interface {
	SaveLedger(balances []BalanceEntry, allowances []AllowanceEntry) error
}

type approval struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Memory is an in-process token ledger used by the dev node and tests.
// It behaves like a set of ERC-20 tokens: balances, allowances, and
// transferFrom that consumes allowance unless it is unlimited.
type Memory struct {
	mu         sync.RWMutex
	balances   map[holding]uint256.Int
	allowances map[approval]uint256.Int
	persister  Persister
	log        *zap.SugaredLogger
}

type MemoryOption func(*Memory)

// WithPersister writes mints, approvals and owner transfers through to p.
// Settled transfers are left to the caller; see Rows.
func WithPersister(p Persister) MemoryOption {
	return func(m *Memory) { m.persister = p }
}

func WithLogger(log *zap.SugaredLogger) MemoryOption {
	return func(m *Memory) { m.log = log }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		balances:   make(map[holding]uint256.Int),
		allowances: make(map[approval]uint256.Int),
		log:        zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) BalanceOf(asset, account common.Address) uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[holding{asset, account}]
}

func (m *Memory) Allowance(asset, owner, spender common.Address) uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowances[approval{asset, owner, spender}]
}

// Mint credits new units to account.
func (m *Memory) Mint(asset, account common.Address, amount uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := holding{asset, account}
	sum, overflow := new(uint256.Int).AddOverflow(ptr(m.balances[h]), &amount)
	if overflow {
		return fmt.Errorf("mint overflows balance of %s", account.Hex())
	}
	m.balances[h] = *sum
	return m.persist([]holding{h}, nil)
}

// Approve sets owner's allowance to spender, replacing any previous value.
func (m *Memory) Approve(asset, owner, spender common.Address, amount uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := approval{asset, owner, spender}
	m.allowances[a] = amount
	return m.persist(nil, []approval{a})
}

// Transfer is an owner-initiated move that needs no allowance.
func (m *Memory) Transfer(asset, from, to common.Address, amount uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.move(asset, from, to, amount); err != nil {
		return err
	}
	return m.persist([]holding{{asset, from}, {asset, to}}, nil)
}

func (m *Memory) TransferFrom(spender common.Address, t Transfer) error {
	return m.TransferBatch(spender, []Transfer{t})
}

// TransferBatch validates every leg against the running balances and
// allowances before applying any of them. Nothing is persisted.
func (m *Memory) TransferBatch(spender common.Address, legs []Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	balances := make(map[holding]uint256.Int)
	allowances := make(map[approval]uint256.Int)
	balance := func(h holding) uint256.Int {
		if v, ok := balances[h]; ok {
			return v
		}
		return m.balances[h]
	}

	for i, t := range legs {
		if t.Amount.IsZero() {
			continue
		}
		from := holding{t.Asset, t.Owner}
		to := holding{t.Asset, t.Recipient}
		a := approval{t.Asset, t.Owner, spender}

		allowed, ok := allowances[a]
		if !ok {
			allowed = m.allowances[a]
		}
		if allowed.Lt(&t.Amount) {
			return fmt.Errorf("leg %d (%s): %w", i, t, ErrInsufficientAllowance)
		}
		bal := balance(from)
		if bal.Lt(&t.Amount) {
			return fmt.Errorf("leg %d (%s): %w", i, t, ErrInsufficientBalance)
		}

		if !unlimited(allowed) {
			allowances[a] = core.Sub(allowed, t.Amount)
		}
		balances[from] = core.Sub(bal, t.Amount)
		balances[to] = core.Add(balance(to), t.Amount)
	}

	for h, v := range balances {
		m.balances[h] = v
	}
	for a, v := range allowances {
		m.allowances[a] = v
	}
	return nil
}

// Rows returns the current balances and allowances to spender that legs
// touch, each row once, in leg order.
func (m *Memory) Rows(spender common.Address, legs []Transfer) ([]BalanceEntry, []AllowanceEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hs []holding
	var as []approval
	seenH := make(map[holding]bool)
	seenA := make(map[approval]bool)
	for _, t := range legs {
		for _, h := range []holding{{t.Asset, t.Owner}, {t.Asset, t.Recipient}} {
			if !seenH[h] {
				seenH[h] = true
				hs = append(hs, h)
			}
		}
		if a := (approval{t.Asset, t.Owner, spender}); !seenA[a] {
			seenA[a] = true
			as = append(as, a)
		}
	}
	return m.rows(hs, as)
}

func (m *Memory) rows(hs []holding, as []approval) ([]BalanceEntry, []AllowanceEntry) {
	balances := make([]BalanceEntry, 0, len(hs))
	for _, h := range hs {
		balances = append(balances, BalanceEntry{Asset: h.asset, Account: h.account, Amount: m.balances[h]})
	}
	allowances := make([]AllowanceEntry, 0, len(as))
	for _, a := range as {
		allowances = append(allowances, AllowanceEntry{Asset: a.asset, Owner: a.owner, Spender: a.spender, Amount: m.allowances[a]})
	}
	return balances, allowances
}

func (m *Memory) move(asset, from, to common.Address, amount uint256.Int) error {
	src := holding{asset, from}
	bal := m.balances[src]
	if bal.Lt(&amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
	}
	m.balances[src] = core.Sub(bal, amount)
	dst := holding{asset, to}
	m.balances[dst] = core.Add(m.balances[dst], amount)
	return nil
}

// persist writes the given rows; the caller holds m.mu. In-memory state is
// authoritative, so a failed write is logged and returned but not undone.
func (m *Memory) persist(hs []holding, as []approval) error {
	if m.persister == nil {
		return nil
	}
	balances, allowances := m.rows(hs, as)
	if err := m.persister.SaveLedger(balances, allowances); err != nil {
		m.log.Errorw("ledger_persist_failed", "err", err)
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	return nil
}

// Restore loads persisted rows, replacing any existing values for them.
func (m *Memory) Restore(balances []BalanceEntry, allowances []AllowanceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range balances {
		m.balances[holding{b.Asset, b.Account}] = b.Amount
	}
	for _, a := range allowances {
		m.allowances[approval{a.Asset, a.Owner, a.Spender}] = a.Amount
	}
}

// Supply sums every balance of asset. Used to check conservation.
func (m *Memory) Supply(asset common.Address) uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint256.Int
	for h, v := range m.balances {
		if h.asset == asset {
			total = core.Add(total, v)
		}
	}
	return total
}

func ptr(v uint256.Int) *uint256.Int { return &v }

var _ RowLedger = (*Memory)(nil)
