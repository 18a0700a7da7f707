package transaction

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NonceSet answers and records nonce consumption. The engine supplies a
// staged implementation so consumption only sticks when a call commits.
type NonceSet interface {
	NonceUsed(owner common.Address, nonce uint256.Int) bool
	ConsumeNonce(owner common.Address, nonce uint256.Int)
}

// NonceEntry is one consumed (owner, nonce) pair.
type NonceEntry struct {
	Owner common.Address
	Nonce uint256.Int
}

// NonceRegistry is the permanent record of consumed nonces per owner.
// Nonces are a set, not a counter: any unused value is accepted.
type NonceRegistry struct {
	mu   sync.RWMutex
	used map[common.Address]map[uint256.Int]struct{}
}

func NewNonceRegistry() *NonceRegistry {
	return &NonceRegistry{used: make(map[common.Address]map[uint256.Int]struct{})}
}

func (r *NonceRegistry) NonceUsed(owner common.Address, nonce uint256.Int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.used[owner][nonce]
	return ok
}

func (r *NonceRegistry) ConsumeNonce(owner common.Address, nonce uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.used[owner]
	if !ok {
		set = make(map[uint256.Int]struct{})
		r.used[owner] = set
	}
	set[nonce] = struct{}{}
}

// Entries lists every consumed nonce, for snapshots.
func (r *NonceRegistry) Entries() []NonceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []NonceEntry
	for owner, set := range r.used {
		for n := range set {
			out = append(out, NonceEntry{Owner: owner, Nonce: n})
		}
	}
	return out
}

func (r *NonceRegistry) Restore(entries []NonceEntry) {
	for _, e := range entries {
		r.ConsumeNonce(e.Owner, e.Nonce)
	}
}

var _ NonceSet = (*NonceRegistry)(nil)
