package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
)

func pairConfigEvent(p market.Pair) events.NewPairConfig {
	return events.NewPairConfig{
		BaseAsset:            p.BaseAsset,
		QuoteAsset:           p.QuoteAsset,
		MinExecutableQuote:   p.MinExecutableQuote,
		MinQuoteFeeThreshold: p.MinQuoteFeeThreshold,
		PairID:               p.ID,
		TakerFeeBps:          p.TakerFeeBps,
		MakerFeeBps:          p.MakerFeeBps,
		PriceDecimals:        p.PriceDecimals,
		Active:               p.Active,
	}
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not admin", ErrUnauthorizedAdmin, caller.Hex())
	}
	return nil
}

// updatePair plans one admin change and commits the resulting config.
// The registry only sees the pair once the commit succeeds.
func (e *Engine) updatePair(ctx context.Context, caller common.Address, op string, fn func() (market.Pair, error)) (market.Pair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return market.Pair{}, err
	}
	p, err := fn()
	if err != nil {
		return market.Pair{}, err
	}

	tx := e.begin()
	tx.pairs = append(tx.pairs, p)
	tx.emit(pairConfigEvent(p))
	if _, err := tx.commit(ctx); err != nil {
		return market.Pair{}, err
	}

	e.log.Infow("pair_config_changed",
		"op", op,
		"pair_id", p.ID,
		"active", p.Active,
		"taker_fee_bps", p.TakerFeeBps,
		"maker_fee_bps", p.MakerFeeBps,
		"min_quote", p.MinExecutableQuote.Dec(),
	)
	return p, nil
}

// CreatePair registers a new active pair. Admin only.
func (e *Engine) CreatePair(ctx context.Context, caller common.Address, params market.Params) (market.Pair, error) {
	return e.updatePair(ctx, caller, "create", func() (market.Pair, error) {
		return e.registry.PlanCreate(params)
	})
}

func (e *Engine) SetFee(ctx context.Context, caller common.Address, pairID uint16, takerFeeBps, makerFeeBps uint16) (market.Pair, error) {
	return e.updatePair(ctx, caller, "set_fee", func() (market.Pair, error) {
		return e.registry.PlanFee(pairID, takerFeeBps, makerFeeBps)
	})
}

// SetMinQuote changes the dust floor and the fee-free threshold. Resting
// orders that fall below a raised floor stay fillable only in full.
func (e *Engine) SetMinQuote(ctx context.Context, caller common.Address, pairID uint16, minExecutableQuote, minQuoteFeeThreshold uint256.Int) (market.Pair, error) {
	return e.updatePair(ctx, caller, "set_min_quote", func() (market.Pair, error) {
		return e.registry.PlanMinQuote(pairID, minExecutableQuote, minQuoteFeeThreshold)
	})
}

// SetPairActive pauses or resumes submissions on a pair. Resting orders
// are untouched.
func (e *Engine) SetPairActive(ctx context.Context, caller common.Address, pairID uint16, active bool) (market.Pair, error) {
	return e.updatePair(ctx, caller, "set_active", func() (market.Pair, error) {
		return e.registry.PlanActive(pairID, active)
	})
}

// SetAdmin hands the admin role, and with it the fee sink, to newAdmin.
func (e *Engine) SetAdmin(ctx context.Context, caller, newAdmin common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if newAdmin == (common.Address{}) {
		return fmt.Errorf("%w: zero admin address", ErrInvalidParams)
	}

	tx := e.begin()
	tx.admin = &newAdmin
	if _, err := tx.commit(ctx); err != nil {
		return err
	}
	e.log.Infow("admin_changed", "old", caller.Hex(), "new", newAdmin.Hex())
	return nil
}
