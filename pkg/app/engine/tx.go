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
	"github.com/uhyunpark/zklite/pkg/storage"
)

// pendingTx is the changeset of one engine call. Reads fall through to
// committed state; writes stay here until commit. Dropping a pendingTx
// leaves no trace: no order writes, nonces, transfers or events.
type pendingTx struct {
	e           *Engine
	now         uint64
	nextOrderID uint64
	slots       map[uint64]orderbook.Slot
	writes      []uint64 // slot ids in first-write order
	nonces      []transaction.NonceEntry
	nonceSet    map[transaction.NonceEntry]struct{}
	ledger      *ledger.View
	pairs       []market.Pair
	admin       *common.Address
	events      []events.Event
}

// begin opens a changeset. The caller holds e.mu.
func (e *Engine) begin() *pendingTx {
	return &pendingTx{
		e:           e,
		now:         uint64(e.clock.Now().Unix()),
		nextOrderID: e.nextOrderID,
		slots:       make(map[uint64]orderbook.Slot),
		nonceSet:    make(map[transaction.NonceEntry]struct{}),
		ledger:      ledger.NewView(e.ledger, e.address),
	}
}

func (tx *pendingTx) get(id uint64) (orderbook.Order, bool) {
	if s, ok := tx.slots[id]; ok {
		return s.Get()
	}
	return tx.e.orders.Get(id).Get()
}

func (tx *pendingTx) write(id uint64, s orderbook.Slot) {
	if _, seen := tx.slots[id]; !seen {
		tx.writes = append(tx.writes, id)
	}
	tx.slots[id] = s
}

// put stores o, or erases it when nothing is left to fill.
func (tx *pendingTx) put(o orderbook.Order) {
	if o.Exhausted() {
		tx.write(o.ID, orderbook.Empty)
		return
	}
	tx.write(o.ID, orderbook.Occupied(o))
}

// close erases o and reports why.
func (tx *pendingTx) close(o orderbook.Order, reason core.CloseReason) {
	tx.write(o.ID, orderbook.Empty)
	tx.emit(events.OrderClosed{
		OrderID:     o.ID,
		Owner:       o.Owner,
		ReceivedAmt: o.ReceivedAmt,
		ExecutedAmt: o.ExecutedAmt(),
		FeeAmt:      o.FeeAmt,
		PairID:      o.PairID,
		Side:        o.Side,
		Reason:      reason,
	})
}

func (tx *pendingTx) emit(ev events.Event) { tx.events = append(tx.events, ev) }

func (tx *pendingTx) allocateOrderID() uint64 {
	id := tx.nextOrderID
	tx.nextOrderID++
	return id
}

func (tx *pendingTx) NonceUsed(owner common.Address, nonce uint256.Int) bool {
	if _, ok := tx.nonceSet[transaction.NonceEntry{Owner: owner, Nonce: nonce}]; ok {
		return true
	}
	return tx.e.nonces.NonceUsed(owner, nonce)
}

func (tx *pendingTx) ConsumeNonce(owner common.Address, nonce uint256.Int) {
	entry := transaction.NonceEntry{Owner: owner, Nonce: nonce}
	if _, ok := tx.nonceSet[entry]; ok {
		return
	}
	tx.nonceSet[entry] = struct{}{}
	tx.nonces = append(tx.nonces, entry)
}

var _ transaction.NonceSet = (*pendingTx)(nil)

// commit makes the changeset visible. Ledger settlement is the only step
// that can still reject the call; once it succeeds, the rest is applied
// unconditionally. Rows of a RowLedger go into the same store batch as
// the orders they paid for. In-memory state is authoritative, so a failed
// durable write is logged rather than unwinding settled transfers.
func (tx *pendingTx) commit(ctx context.Context) ([]events.Record, error) {
	e := tx.e

	if err := tx.ledger.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlement, err)
	}

	records := make([]events.Record, len(tx.events))
	for i, ev := range tx.events {
		records[i] = events.Record{Seq: e.nextEventSeq + uint64(i), Event: ev}
	}

	if e.store != nil {
		cs := tx.changeSet(records)
		if rl, ok := e.ledger.(ledger.RowLedger); ok {
			cs.Balances, cs.Allowances = rl.Rows(e.address, tx.ledger.Legs())
		}
		if err := e.store.CommitState(cs); err != nil {
			e.log.Errorw("state_persist_failed", "err", err, "events", len(records))
		}
	}

	for _, id := range tx.writes {
		if o, ok := tx.slots[id].Get(); ok {
			e.orders.Put(o)
		} else {
			e.orders.Erase(id)
		}
	}
	for _, n := range tx.nonces {
		e.nonces.ConsumeNonce(n.Owner, n.Nonce)
	}
	for _, p := range tx.pairs {
		e.registry.Apply(p)
	}
	if tx.admin != nil {
		e.admin = *tx.admin
	}
	e.nextOrderID = tx.nextOrderID
	e.nextEventSeq += uint64(len(records))

	if e.sink != nil && len(records) > 0 {
		if err := e.sink.Publish(ctx, records); err != nil {
			e.log.Warnw("event_publish_failed", "err", err, "first_seq", records[0].Seq)
		}
	}
	return records, nil
}

func (tx *pendingTx) changeSet(records []events.Record) *storage.ChangeSet {
	cs := &storage.ChangeSet{
		Pairs:        tx.pairs,
		Nonces:       tx.nonces,
		Admin:        tx.admin,
		NextOrderID:  tx.nextOrderID,
		NextEventSeq: tx.e.nextEventSeq + uint64(len(records)),
		Events:       records,
	}
	for _, id := range tx.writes {
		if o, ok := tx.slots[id].Get(); ok {
			cs.Orders = append(cs.Orders, o)
		} else {
			cs.Erased = append(cs.Erased, id)
		}
	}
	return cs
}
