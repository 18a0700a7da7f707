package engine

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
)

// fillPlan is the size of one maker/taker execution.
type fillPlan struct {
	Quote uint256.Int // paid by the buyer
	Base  uint256.Int // paid by the seller
}

// planFill sizes a fill between a buyer with buyerQuote left to spend and
// a seller with sellerBase left to sell, at price/scale. The size f, in
// quote, is the largest value not above either side's remaining that
// leaves each side with nothing or at least minQuote, and is itself at
// least minQuote unless it exhausts a side. ok is false when no such f
// exists.
func planFill(buyerQuote, sellerBase, price, scale, minQuote uint256.Int) (fillPlan, bool) {
	sellerQuote := core.QuoteFor(sellerBase, price, scale)
	if buyerQuote.IsZero() || sellerQuote.IsZero() {
		return fillPlan{}, false
	}

	f := core.Min(buyerQuote, sellerQuote)

	// Shrinking f for one side can only grow the other side's remainder, so
	// alternating converges within a few rounds; the checks below decide.
	leaveEnough := func(total, f uint256.Int) (uint256.Int, bool) {
		rem := core.Sub(total, f)
		if rem.IsZero() || !rem.Lt(&minQuote) {
			return f, true
		}
		if total.Lt(&minQuote) {
			return f, false
		}
		return core.Sub(total, minQuote), true
	}
	for round := 0; round < 3; round++ {
		var ok bool
		if f, ok = leaveEnough(buyerQuote, f); !ok {
			return fillPlan{}, false
		}
		if f, ok = leaveEnough(sellerQuote, f); !ok {
			return fillPlan{}, false
		}
	}

	if f.IsZero() || !remainderOK(buyerQuote, f, minQuote) || !remainderOK(sellerQuote, f, minQuote) {
		return fillPlan{}, false
	}
	exhaustsBuyer := f.Eq(&buyerQuote)
	exhaustsSeller := f.Eq(&sellerQuote)
	if f.Lt(&minQuote) && !exhaustsBuyer && !exhaustsSeller {
		return fillPlan{}, false
	}

	plan := fillPlan{Quote: f}
	if exhaustsSeller {
		plan.Base = sellerBase
	} else {
		plan.Base = core.BaseFor(f, price, scale)
	}
	if plan.Base.IsZero() {
		return fillPlan{}, false
	}
	return plan, true
}

func remainderOK(total, f, minQuote uint256.Int) bool {
	rem := core.Sub(total, f)
	return rem.IsZero() || !rem.Lt(&minQuote)
}

// priceCrosses reports whether the maker's price is acceptable to taker.
func priceCrosses(taker, maker orderbook.Order) bool {
	if taker.Side == core.Buy {
		return !maker.Price.Gt(&taker.Price)
	}
	return !maker.Price.Lt(&taker.Price)
}

// match walks ids in caller order until the taker is exhausted.
func (e *Engine) match(tx *pendingTx, pair market.Pair, taker orderbook.Order, ids []uint64) (orderbook.Order, error) {
	for _, id := range ids {
		if taker.Exhausted() {
			break
		}
		var err error
		if taker, err = e.tryFill(tx, pair, taker, id); err != nil {
			return taker, err
		}
	}
	return taker, nil
}

// tryFill evaluates one maker candidate. Every outcome other than a
// settlement failure is a normal result: the maker is skipped, closed, or
// filled, and the updated taker is returned.
func (e *Engine) tryFill(tx *pendingTx, pair market.Pair, taker orderbook.Order, makerID uint64) (orderbook.Order, error) {
	maker, ok := tx.get(makerID)
	if !ok {
		return taker, nil
	}

	if maker.ExpiredAt(tx.now) {
		tx.close(maker, core.Expired)
		return taker, nil
	}
	if maker.PairID != taker.PairID || maker.Side == taker.Side || maker.Owner == taker.Owner {
		e.log.Debugw("maker_skipped", "maker_id", maker.ID, "taker_id", taker.ID, "why", "incompatible")
		return taker, nil
	}
	if !priceCrosses(taker, maker) {
		e.log.Debugw("maker_skipped", "maker_id", maker.ID, "taker_id", taker.ID, "why", "price")
		return taker, nil
	}

	sold := pair.SoldAsset(maker.Side)
	if bal := tx.ledger.BalanceOf(sold, maker.Owner); bal.Lt(&maker.UnfilledAmt) {
		tx.close(maker, core.OutOfBalance)
		return taker, nil
	}
	if allowed := tx.ledger.Allowance(sold, maker.Owner); allowed.Lt(&maker.UnfilledAmt) {
		tx.close(maker, core.OutOfAllowance)
		return taker, nil
	}

	buyer, seller := &taker, &maker
	if taker.Side == core.Sell {
		buyer, seller = &maker, &taker
	}

	plan, ok := planFill(buyer.UnfilledAmt, seller.UnfilledAmt, maker.Price, pair.Scale(), pair.MinExecutableQuote)
	if !ok {
		e.log.Debugw("maker_skipped", "maker_id", maker.ID, "taker_id", taker.ID, "why", "dust")
		return taker, nil
	}

	// fees come out of what each side receives
	var takerFee, makerFee uint256.Int
	if pair.FeesApply(plan.Quote) {
		if taker.Side == core.Buy {
			takerFee = core.ApplyBps(plan.Base, pair.TakerFeeBps)
			makerFee = core.ApplyBps(plan.Quote, pair.MakerFeeBps)
		} else {
			takerFee = core.ApplyBps(plan.Quote, pair.TakerFeeBps)
			makerFee = core.ApplyBps(plan.Base, pair.MakerFeeBps)
		}
	}
	buyerFee, sellerFee := takerFee, makerFee
	if taker.Side == core.Sell {
		buyerFee, sellerFee = makerFee, takerFee
	}

	admin := e.admin
	legs := []ledger.Transfer{
		{Asset: pair.QuoteAsset, Owner: buyer.Owner, Recipient: seller.Owner, Amount: core.Sub(plan.Quote, sellerFee)},
		{Asset: pair.QuoteAsset, Owner: buyer.Owner, Recipient: admin, Amount: sellerFee},
		{Asset: pair.BaseAsset, Owner: seller.Owner, Recipient: buyer.Owner, Amount: core.Sub(plan.Base, buyerFee)},
		{Asset: pair.BaseAsset, Owner: seller.Owner, Recipient: admin, Amount: buyerFee},
	}
	for _, leg := range legs {
		if err := tx.ledger.Transfer(leg); err != nil {
			return taker, fmt.Errorf("%w: fill %d/%d: %v", ErrSettlement, maker.ID, taker.ID, err)
		}
	}

	buyer.UnfilledAmt = core.Sub(buyer.UnfilledAmt, plan.Quote)
	buyer.ReceivedAmt = core.Add(buyer.ReceivedAmt, plan.Base)
	buyer.FeeAmt = core.Add(buyer.FeeAmt, buyerFee)
	seller.UnfilledAmt = core.Sub(seller.UnfilledAmt, plan.Base)
	seller.ReceivedAmt = core.Add(seller.ReceivedAmt, plan.Quote)
	seller.FeeAmt = core.Add(seller.FeeAmt, sellerFee)

	tx.emit(events.Fill{
		MakerOrderID:  maker.ID,
		TakerOrderID:  taker.ID,
		Maker:         maker.Owner,
		Taker:         taker.Owner,
		ExecutedQuote: plan.Quote,
		ExecutedBase:  plan.Base,
		TakerFee:      takerFee,
		MakerFee:      makerFee,
		PairID:        pair.ID,
		TakerSide:     taker.Side,
	})
	e.log.Infow("fill_executed",
		"pair_id", pair.ID,
		"maker_id", maker.ID,
		"taker_id", taker.ID,
		"price", maker.Price.Dec(),
		"quote", plan.Quote.Dec(),
		"base", plan.Base.Dec(),
		"taker_fee", takerFee.Dec(),
		"maker_fee", makerFee.Dec(),
	)

	for _, o := range []orderbook.Order{maker, taker} {
		if o.Exhausted() {
			tx.close(o, core.Filled)
		} else {
			tx.put(o)
		}
	}
	return taker, nil
}
