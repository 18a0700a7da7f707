package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
)

// SubmitRequest describes a new order plus the caller's instructions for
// it: orders of the same owner to cancel first, and resting orders to try
// to fill against, in order.
type SubmitRequest struct {
	Side        core.Side
	Price       uint256.Int
	Amount      uint256.Int
	PairID      uint16
	ValidUntil  uint64
	TimeInForce core.TimeInForce
	IDsToCancel []uint64
	IDsToFill   []uint64
}

// RequestFromFields drops the relay-only fields of a signed order.
func RequestFromFields(f transaction.OrderFields) SubmitRequest {
	return SubmitRequest{
		Side:        f.Side,
		Price:       f.Price,
		Amount:      f.Amount,
		PairID:      f.PairID,
		ValidUntil:  f.ValidUntil,
		TimeInForce: f.TimeInForce,
		IDsToCancel: f.IDsToCancel,
		IDsToFill:   f.IDsToFill,
	}
}

type SubmitResult struct {
	OrderID uint64
	// Order is the final state of the new order; empty if it was closed
	// within the call.
	Order  orderbook.Slot
	Events []events.Record
}

type relay struct {
	relayer   common.Address
	fields    transaction.OrderFields
	signature []byte
}

// SubmitOrder places an order owned by the caller.
func (e *Engine) SubmitOrder(ctx context.Context, owner common.Address, req SubmitRequest) (SubmitResult, error) {
	return e.submit(ctx, owner, req, nil)
}

// SubmitOrderOnBehalfOf places an order signed by owner and delivered by
// relayer. The owner pays fields.NetworkFee to the relayer in the asset
// the order sells.
func (e *Engine) SubmitOrderOnBehalfOf(ctx context.Context, relayer, owner common.Address, fields transaction.OrderFields, signature []byte) (SubmitResult, error) {
	return e.submit(ctx, owner, RequestFromFields(fields), &relay{
		relayer:   relayer,
		fields:    fields,
		signature: signature,
	})
}

func (e *Engine) submit(ctx context.Context, owner common.Address, req SubmitRequest, r *relay) (SubmitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.begin()
	pair, err := e.validateSubmission(tx, owner, req, r)
	if err != nil {
		e.log.Infow("order_rejected", "owner", owner.Hex(), "pair_id", req.PairID, "err", err)
		return SubmitResult{}, err
	}

	if r != nil {
		if err := e.verifier.VerifyAndConsumeOrder(tx, owner, r.fields, r.signature); err != nil {
			e.log.Infow("order_rejected", "owner", owner.Hex(), "pair_id", req.PairID, "err", err)
			return SubmitResult{}, err
		}
		if !r.fields.NetworkFee.IsZero() {
			leg := ledger.Transfer{
				Asset:     pair.SoldAsset(req.Side),
				Owner:     owner,
				Recipient: r.relayer,
				Amount:    r.fields.NetworkFee,
			}
			if err := tx.ledger.Transfer(leg); err != nil {
				return SubmitResult{}, fmt.Errorf("%w: network fee: %v", ErrSettlement, err)
			}
		}
	}

	id := tx.allocateOrderID()

	for _, cancelID := range req.IDsToCancel {
		o, ok := tx.get(cancelID)
		if !ok || o.Owner != owner {
			e.log.Debugw("cancel_skipped", "order_id", cancelID, "owner", owner.Hex())
			continue
		}
		tx.close(o, cancelReason(o, tx.now))
	}

	taker := orderbook.Order{
		ID:             id,
		Owner:          owner,
		PairID:         pair.ID,
		Side:           req.Side,
		Price:          req.Price,
		OriginalAmount: req.Amount,
		UnfilledAmt:    req.Amount,
		ValidUntil:     req.ValidUntil,
		TimeInForce:    req.TimeInForce,
	}
	tx.put(taker)
	tx.emit(events.NewOrder{
		OrderID:    id,
		Owner:      owner,
		Price:      req.Price,
		Amount:     req.Amount,
		PairID:     pair.ID,
		Side:       req.Side,
		ValidUntil: req.ValidUntil,
	})

	taker, err = e.match(tx, pair, taker, req.IDsToFill)
	if err != nil {
		return SubmitResult{}, err
	}

	if !taker.Exhausted() {
		switch taker.TimeInForce {
		case core.IOK:
			tx.close(taker, core.ExpiredIOK)
		case core.FOK:
			e.log.Infow("order_not_filled", "owner", owner.Hex(), "pair_id", pair.ID, "unfilled", taker.UnfilledAmt.Dec())
			return SubmitResult{}, fmt.Errorf("%w: %s of %s unfilled", ErrNotFilled, taker.UnfilledAmt.Dec(), taker.OriginalAmount.Dec())
		}
	}

	records, err := tx.commit(ctx)
	if err != nil {
		return SubmitResult{}, err
	}

	final := e.orders.Get(id)
	placed := final.Order()
	e.log.Infow("order_submitted",
		"order_id", id,
		"owner", owner.Hex(),
		"pair_id", pair.ID,
		"side", req.Side.String(),
		"tif", req.TimeInForce.String(),
		"price", req.Price.Dec(),
		"amount", req.Amount.Dec(),
		"unfilled", placed.UnfilledAmt.Dec(),
		"relayed", r != nil,
	)
	return SubmitResult{OrderID: id, Order: final, Events: records}, nil
}

// validateSubmission applies the admission checks in their fixed order.
func (e *Engine) validateSubmission(tx *pendingTx, owner common.Address, req SubmitRequest, r *relay) (market.Pair, error) {
	pair, ok := e.registry.Get(req.PairID)
	if !ok {
		return market.Pair{}, fmt.Errorf("%w: %d", ErrInvalidPair, req.PairID)
	}
	if !pair.Active {
		return market.Pair{}, fmt.Errorf("%w: %d", ErrPairInactive, req.PairID)
	}
	if !req.Side.Valid() || !req.TimeInForce.Valid() {
		return market.Pair{}, fmt.Errorf("%w: side %d tif %d", ErrInvalidRequest, req.Side, req.TimeInForce)
	}
	if owner == (common.Address{}) {
		return market.Pair{}, fmt.Errorf("%w: zero owner", ErrInvalidRequest)
	}
	if req.Price.IsZero() {
		return market.Pair{}, ErrInvalidPrice
	}
	if req.Amount.IsZero() {
		return market.Pair{}, ErrInvalidAmount
	}
	if req.ValidUntil <= tx.now {
		return market.Pair{}, fmt.Errorf("%w: %d is not after %d", ErrInvalidValidUntil, req.ValidUntil, tx.now)
	}

	scale := pair.Scale()
	if req.Side == core.Sell && !core.FitsMulDiv(req.Amount, req.Price, scale) {
		return market.Pair{}, fmt.Errorf("%w: quote value overflows", ErrInvalidAmount)
	}
	quote := pair.QuoteEquivalent(req.Side, req.Amount, req.Price)
	if quote.Lt(&pair.MinExecutableQuote) {
		return market.Pair{}, fmt.Errorf("%w: %s below %s", ErrAmountTooSmall, quote.Dec(), pair.MinExecutableQuote.Dec())
	}

	need := req.Amount
	if r != nil {
		sum, overflow := new(uint256.Int).AddOverflow(&need, &r.fields.NetworkFee)
		if overflow {
			return market.Pair{}, fmt.Errorf("%w: amount plus network fee overflows", ErrInvalidAmount)
		}
		need = *sum
	}
	asset := pair.SoldAsset(req.Side)
	if bal := tx.ledger.BalanceOf(asset, owner); bal.Lt(&need) {
		return market.Pair{}, fmt.Errorf("%w: has %s, needs %s", ErrNotEnoughBalance, bal.Dec(), need.Dec())
	}
	if allowed := tx.ledger.Allowance(asset, owner); allowed.Lt(&need) {
		return market.Pair{}, fmt.Errorf("%w: allowed %s, needs %s", ErrExceedAllowance, allowed.Dec(), need.Dec())
	}
	return pair, nil
}

func cancelReason(o orderbook.Order, now uint64) core.CloseReason {
	if o.ExpiredAt(now) {
		return core.Expired
	}
	return core.Cancelled
}
