package market

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

// Registry holds every pair ever created, keyed by sequential id.
// Pairs are never removed; deactivation is done through PlanActive.
//
// Plan methods compute a change without making it visible. The engine
// stages the result in its changeset and calls Apply on commit.
type Registry struct {
	mu     sync.RWMutex
	pairs  map[uint16]*Pair
	nextID uint32 // > MaxUint16 once the id space is used up
}

func NewRegistry() *Registry {
	return &Registry{
		pairs:  make(map[uint16]*Pair),
		nextID: 1,
	}
}

// PlanCreate returns the pair that would take the next id, active.
func (r *Registry) PlanCreate(p Params) (Pair, error) {
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.nextID > math.MaxUint16 {
		return Pair{}, fmt.Errorf("%w: pair id space exhausted", ErrInvalidParams)
	}
	return Pair{
		ID:                   uint16(r.nextID),
		BaseAsset:            p.BaseAsset,
		QuoteAsset:           p.QuoteAsset,
		PriceDecimals:        p.PriceDecimals,
		MinExecutableQuote:   p.MinExecutableQuote,
		MinQuoteFeeThreshold: p.MinQuoteFeeThreshold,
		TakerFeeBps:          p.TakerFeeBps,
		MakerFeeBps:          p.MakerFeeBps,
		Active:               true,
	}, nil
}

// Apply stores p, replacing any pair with the same id.
func (r *Registry) Apply(p Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pairs[p.ID] = &p
	if uint32(p.ID) >= r.nextID {
		r.nextID = uint32(p.ID) + 1
	}
}

func (r *Registry) Get(id uint16) (Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pairs[id]
	if !ok {
		return Pair{}, false
	}
	return *p, true
}

// List returns all pairs ordered by id.
func (r *Registry) List() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) PlanFee(id uint16, takerBps, makerBps uint16) (Pair, error) {
	if err := validateFees(takerBps, makerBps); err != nil {
		return Pair{}, err
	}
	return r.plan(id, func(p *Pair) {
		p.TakerFeeBps = takerBps
		p.MakerFeeBps = makerBps
	})
}

func (r *Registry) PlanMinQuote(id uint16, minExecutable, minFeeThreshold uint256.Int) (Pair, error) {
	return r.plan(id, func(p *Pair) {
		p.MinExecutableQuote = minExecutable
		p.MinQuoteFeeThreshold = minFeeThreshold
	})
}

func (r *Registry) PlanActive(id uint16, active bool) (Pair, error) {
	return r.plan(id, func(p *Pair) { p.Active = active })
}

// plan edits a copy of pair id.
func (r *Registry) plan(id uint16, fn func(*Pair)) (Pair, error) {
	p, ok := r.Get(id)
	if !ok {
		return Pair{}, fmt.Errorf("%w: %d", ErrPairNotFound, id)
	}
	fn(&p)
	return p, nil
}

// Restore loads previously persisted pairs. The next id continues after
// the highest restored one.
func (r *Registry) Restore(pairs []Pair) {
	for _, p := range pairs {
		r.Apply(p)
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}
