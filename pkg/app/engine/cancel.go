package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
)

// CancelOrders closes every listed order of the caller. If any id is not a
// live order owned by the caller, nothing is cancelled.
func (e *Engine) CancelOrders(ctx context.Context, caller common.Address, ids []uint64) ([]events.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.begin()
	if err := e.cancel(tx, caller, ids); err != nil {
		return nil, err
	}
	return tx.commit(ctx)
}

// CancelOrdersSigned is CancelOrders authenticated by an owner signature
// over the id list and a fresh nonce, so any relayer may deliver it.
func (e *Engine) CancelOrdersSigned(ctx context.Context, owner common.Address, c transaction.CancelFields, signature []byte) ([]events.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.begin()
	if err := e.verifier.VerifyAndConsumeCancel(tx, owner, c, signature); err != nil {
		return nil, err
	}
	if err := e.cancel(tx, owner, c.IDs); err != nil {
		return nil, err
	}
	return tx.commit(ctx)
}

func (e *Engine) cancel(tx *pendingTx, caller common.Address, ids []uint64) error {
	for _, id := range ids {
		o, ok := tx.get(id)
		if !ok || o.Owner != caller {
			e.log.Infow("cancel_rejected", "order_id", id, "caller", caller.Hex())
			return fmt.Errorf("%w: order %d", ErrUnauthorized, id)
		}
		tx.close(o, cancelReason(o, tx.now))
	}
	if len(ids) > 0 {
		e.log.Infow("orders_cancelled", "owner", caller.Hex(), "count", len(ids))
	}
	return nil
}
