package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
	"github.com/uhyunpark/zklite/pkg/crypto"
	"github.com/uhyunpark/zklite/pkg/storage"
)

func TestSubmitThenCancel(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(quoteAsset, alice, core.U(100))

	res := h.submit(alice, h.req(core.Buy, core.U(5), core.U(100)))
	require.Equal(t, uint64(1), res.OrderID)
	require.True(t, res.Order.Occupied())
	assert.Contains(t, h.eng.ActiveOrderIDs(), uint64(1))
	assert.Equal(t, []uint64{1}, h.eng.ActiveOrderIDsOf(alice))

	recs, err := h.eng.CancelOrders(h.ctx, alice, []uint64{1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	closed, ok := recs[0].Event.(events.OrderClosed)
	require.True(t, ok)
	assert.Equal(t, core.Cancelled, closed.Reason)
	assert.True(t, closed.ExecutedAmt.IsZero())

	h.requireErased(1)
	assert.Empty(t, h.eng.ActiveOrderIDsOf(alice))
	// resting orders never hold funds
	assert.Equal(t, core.U(100), h.balance(quoteAsset, alice))
}

func TestFullFillChargesFeesOnReceivedLegs(t *testing.T) {
	params := defaultParams()
	params.PriceDecimals = 18
	params.TakerFeeBps = 30
	params.MakerFeeBps = 10
	h := newHarness(t, params)

	oneBase := core.MustDec("1000000000000000000")
	price := core.MustDec("3000000000000000000000")
	quote := core.MustDec("3000000000000000000000")
	h.fund(baseAsset, alice, oneBase)
	h.fund(quoteAsset, bob, quote)

	maker := h.submit(alice, h.req(core.Sell, price, oneBase))
	h.rec.Reset()

	taker := h.submit(bob, h.req(core.Buy, price, quote, maker.OrderID))
	assert.False(t, taker.Order.Occupied())

	kinds := make([]events.Kind, 0, len(taker.Events))
	for _, r := range taker.Events {
		kinds = append(kinds, r.Event.Kind())
	}
	assert.Equal(t, []events.Kind{events.KindNewOrder, events.KindFill, events.KindOrderClosed, events.KindOrderClosed}, kinds)

	fills := h.rec.Fills()
	require.Len(t, fills, 1)
	fill := fills[0]
	assert.Equal(t, quote, fill.ExecutedQuote)
	assert.Equal(t, oneBase, fill.ExecutedBase)
	assert.Equal(t, core.MustDec("3000000000000000"), fill.TakerFee)
	assert.Equal(t, core.MustDec("3000000000000000000"), fill.MakerFee)
	assert.Equal(t, core.Buy, fill.TakerSide)

	closed := h.rec.Closed()
	require.Len(t, closed, 2)
	assert.Equal(t, maker.OrderID, closed[0].OrderID)
	assert.Equal(t, taker.OrderID, closed[1].OrderID)
	for _, c := range closed {
		assert.Equal(t, core.Filled, c.Reason)
	}
	assert.Equal(t, quote, closed[0].ReceivedAmt)
	assert.Equal(t, fill.MakerFee, closed[0].FeeAmt)
	assert.Equal(t, oneBase, closed[1].ReceivedAmt)

	assert.Equal(t, core.MustDec("2997000000000000000000"), h.balance(quoteAsset, alice))
	assert.Equal(t, core.Zero(), h.balance(baseAsset, alice))
	assert.Equal(t, core.MustDec("997000000000000000"), h.balance(baseAsset, bob))
	assert.Equal(t, core.Zero(), h.balance(quoteAsset, bob))
	assert.Equal(t, fill.MakerFee, h.balance(quoteAsset, adminAddr))
	assert.Equal(t, fill.TakerFee, h.balance(baseAsset, adminAddr))

	h.requireErased(maker.OrderID)
	h.requireErased(taker.OrderID)
}

func TestMakerFilledAcrossSeveralTakers(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(3))
	h.fund(quoteAsset, bob, core.U(3000))

	maker := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(3)))
	for i, left := range []uint64{2, 1} {
		h.submit(bob, h.req(core.Buy, core.U(1000), core.U(1000), maker.OrderID))
		slot := h.eng.GetOrder(maker.OrderID)
		require.True(t, slot.Occupied(), "after fill %d", i+1)
		assert.Equal(t, core.U(left), slot.Order().UnfilledAmt)
	}
	last := h.submit(bob, h.req(core.Buy, core.U(1000), core.U(1000), maker.OrderID))
	assert.False(t, last.Order.Occupied())

	h.requireErased(maker.OrderID)
	assert.Len(t, h.rec.Fills(), 3)
	assert.Equal(t, core.U(3), h.balance(baseAsset, bob))
	assert.Equal(t, core.U(3000), h.balance(quoteAsset, alice))
	assert.Empty(t, h.eng.ActiveOrderIDs())
}

func TestRevokedAllowanceClosesMaker(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(3))
	h.fund(quoteAsset, bob, core.U(1000))

	maker := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(3)))
	require.NoError(t, h.led.Approve(baseAsset, alice, engineAddr, core.Zero()))
	h.rec.Reset()

	taker := h.submit(bob, h.req(core.Buy, core.U(1000), core.U(1000), maker.OrderID))

	assert.Empty(t, h.rec.Fills())
	assert.Equal(t, map[uint64]core.CloseReason{maker.OrderID: core.OutOfAllowance}, reasons(h.rec.Closed()))
	h.requireErased(maker.OrderID)

	require.True(t, taker.Order.Occupied())
	assert.Equal(t, core.U(1000), taker.Order.Order().UnfilledAmt)
	assert.Equal(t, core.U(1000), h.balance(quoteAsset, bob))
}

func TestMissingBalanceClosesMaker(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(3))
	h.fund(quoteAsset, bob, core.U(1000))

	maker := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(3)))
	require.NoError(t, h.led.Transfer(baseAsset, alice, carol, core.U(1)))
	h.rec.Reset()

	h.submit(bob, h.req(core.Buy, core.U(1000), core.U(1000), maker.OrderID))

	assert.Empty(t, h.rec.Fills())
	assert.Equal(t, map[uint64]core.CloseReason{maker.OrderID: core.OutOfBalance}, reasons(h.rec.Closed()))
}

func TestExpiredOrdersCloseWhenTouched(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(6))
	h.fund(quoteAsset, bob, core.U(1000))

	short := h.req(core.Sell, core.U(1000), core.U(3))
	short.ValidUntil = uint64(h.clock.Now().Unix()) + 100
	first := h.submit(alice, short)
	second := h.submit(alice, short)

	h.clock.Advance(100 * time.Second)
	// untouched expired orders stay listed
	assert.Equal(t, []uint64{first.OrderID, second.OrderID}, h.eng.ActiveOrderIDs())
	assert.Equal(t, core.U(6), h.eng.SpendingAmount(alice, baseAsset))
	h.rec.Reset()

	taker := h.submit(bob, h.req(core.Buy, core.U(1000), core.U(1000), first.OrderID))
	assert.True(t, taker.Order.Occupied())
	assert.Empty(t, h.rec.Fills())
	assert.Equal(t, map[uint64]core.CloseReason{first.OrderID: core.Expired}, reasons(h.rec.Closed()))
	assert.Equal(t, core.U(3), h.eng.SpendingAmount(alice, baseAsset))

	h.rec.Reset()
	_, err := h.eng.CancelOrders(h.ctx, alice, []uint64{second.OrderID})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]core.CloseReason{second.OrderID: core.Expired}, reasons(h.rec.Closed()))
	assert.Equal(t, core.Zero(), h.eng.SpendingAmount(alice, baseAsset))
}

func TestSkippedCandidates(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(10))
	h.fund(quoteAsset, alice, core.U(5000))
	h.fund(quoteAsset, bob, core.U(5000))

	ask := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(3)))
	bid := h.submit(bob, h.req(core.Buy, core.U(900), core.U(900)))
	h.rec.Reset()

	// own order, price above limit, same side, unknown id
	h.submit(alice, h.req(core.Buy, core.U(1000), core.U(1000), ask.OrderID))
	h.submit(bob, h.req(core.Buy, core.U(999), core.U(999), ask.OrderID, bid.OrderID, 404))

	assert.Empty(t, h.rec.Fills())
	assert.Empty(t, h.rec.Closed())
	assert.True(t, h.eng.GetOrder(ask.OrderID).Occupied())
	assert.True(t, h.eng.GetOrder(bid.OrderID).Occupied())
}

func TestFillsFollowCallerOrder(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(2))
	h.fund(baseAsset, carol, core.U(2))
	h.fund(quoteAsset, bob, core.U(3000))

	cheap := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(2)))
	dear := h.submit(carol, h.req(core.Sell, core.U(1200), core.U(2)))
	h.rec.Reset()

	// the worse price first: callers choose priority
	h.submit(bob, h.req(core.Buy, core.U(1200), core.U(2400), dear.OrderID, cheap.OrderID))

	fills := h.rec.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, dear.OrderID, fills[0].MakerOrderID)
	assert.Equal(t, core.U(2400), fills[0].ExecutedQuote)
	assert.True(t, h.eng.GetOrder(cheap.OrderID).Occupied())
}

func TestImmediateOrKillExpiresRemainder(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(3))
	h.fund(quoteAsset, bob, core.U(5000))

	maker := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(3)))
	h.rec.Reset()

	req := h.req(core.Buy, core.U(1000), core.U(5000), maker.OrderID)
	req.TimeInForce = core.IOK
	taker := h.submit(bob, req)

	assert.False(t, taker.Order.Occupied())
	closed := h.rec.Closed()
	assert.Equal(t, map[uint64]core.CloseReason{maker.OrderID: core.Filled, taker.OrderID: core.ExpiredIOK}, reasons(closed))
	assert.Equal(t, core.U(3000), closed[len(closed)-1].ExecutedAmt)
	assert.Equal(t, core.U(2000), h.balance(quoteAsset, bob))
	assert.Empty(t, h.eng.ActiveOrderIDs())
}

func TestFillOrKillLeavesNoTrace(t *testing.T) {
	h := newHarness(t, defaultParams())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := key.Address()

	h.fund(baseAsset, alice, core.U(3))
	h.fund(quoteAsset, owner, core.U(5000))
	maker := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(3)))
	resting := h.submit(owner, h.req(core.Buy, core.U(500), core.U(1000)))
	h.rec.Reset()

	fields := transaction.OrderFields{
		Side:        core.Buy,
		Price:       core.U(1000),
		Amount:      core.U(5000),
		PairID:      h.pair.ID,
		ValidUntil:  h.validUntil(),
		TimeInForce: core.FOK,
		Nonce:       core.U(7),
		IDsToCancel: []uint64{resting.OrderID},
		IDsToFill:   []uint64{maker.OrderID},
	}
	_, err = h.eng.SubmitOrderOnBehalfOf(h.ctx, carol, owner, fields, h.sign(key, fields))
	require.ErrorIs(t, err, ErrNotFilled)
	assert.Equal(t, KindNotFilled, KindOf(err))

	assert.Empty(t, h.rec.Records())
	assert.True(t, h.eng.GetOrder(resting.OrderID).Occupied())
	assert.Equal(t, core.U(3), h.eng.GetOrder(maker.OrderID).Order().UnfilledAmt)
	assert.Equal(t, core.U(5000), h.balance(quoteAsset, owner))
	assert.Equal(t, core.U(3), h.balance(baseAsset, alice))

	// the nonce and the order id were not consumed
	fields.TimeInForce = core.GTC
	fields.Amount = core.U(3000)
	res, err := h.eng.SubmitOrderOnBehalfOf(h.ctx, carol, owner, fields, h.sign(key, fields))
	require.NoError(t, err)
	assert.Equal(t, resting.OrderID+1, res.OrderID)
	assert.False(t, res.Order.Occupied())
}

func TestFillOrKillCompletes(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(baseAsset, alice, core.U(3))
	h.fund(quoteAsset, bob, core.U(3000))
	maker := h.submit(alice, h.req(core.Sell, core.U(1000), core.U(3)))

	req := h.req(core.Buy, core.U(1000), core.U(3000), maker.OrderID)
	req.TimeInForce = core.FOK
	res := h.submit(bob, req)
	assert.False(t, res.Order.Occupied())
	assert.Len(t, h.rec.Fills(), 1)
}

func TestCancelBatchIsAllOrNothing(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(quoteAsset, alice, core.U(1000))
	h.fund(quoteAsset, bob, core.U(1000))

	a1 := h.submit(alice, h.req(core.Buy, core.U(5), core.U(100)))
	a2 := h.submit(alice, h.req(core.Buy, core.U(6), core.U(100)))
	b1 := h.submit(bob, h.req(core.Buy, core.U(5), core.U(100)))
	h.rec.Reset()

	for _, ids := range [][]uint64{
		{a1.OrderID, b1.OrderID},
		{a1.OrderID, a1.OrderID},
		{a2.OrderID, 99},
	} {
		_, err := h.eng.CancelOrders(h.ctx, alice, ids)
		require.ErrorIs(t, err, ErrUnauthorized, "ids %v", ids)
	}
	assert.Empty(t, h.rec.Records())
	assert.Equal(t, []uint64{a1.OrderID, a2.OrderID, b1.OrderID}, h.eng.ActiveOrderIDs())

	recs, err := h.eng.CancelOrders(h.ctx, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = h.eng.CancelOrders(h.ctx, alice, []uint64{a2.OrderID, a1.OrderID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, a2.OrderID, recs[0].Event.(events.OrderClosed).OrderID)
	assert.Equal(t, []uint64{b1.OrderID}, h.eng.ActiveOrderIDs())
}

func TestSubmitCancelsOwnOrdersBeforePlacing(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(quoteAsset, alice, core.U(1000))
	h.fund(quoteAsset, bob, core.U(1000))

	old := h.submit(alice, h.req(core.Buy, core.U(5), core.U(100)))
	other := h.submit(bob, h.req(core.Buy, core.U(5), core.U(100)))
	h.rec.Reset()

	req := h.req(core.Buy, core.U(6), core.U(100))
	req.IDsToCancel = []uint64{old.OrderID, other.OrderID, 77}
	res := h.submit(alice, req)

	require.Len(t, res.Events, 2)
	assert.Equal(t, events.KindOrderClosed, res.Events[0].Event.Kind())
	assert.Equal(t, events.KindNewOrder, res.Events[1].Event.Kind())
	h.requireErased(old.OrderID)
	assert.True(t, h.eng.GetOrder(other.OrderID).Occupied())
	assert.Equal(t, []uint64{res.OrderID}, h.eng.ActiveOrderIDsOf(alice))
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, defaultParams())
	paused, err := h.eng.CreatePair(h.ctx, adminAddr, defaultParams())
	require.NoError(t, err)
	_, err = h.eng.SetPairActive(h.ctx, adminAddr, paused.ID, false)
	require.NoError(t, err)

	h.fund(baseAsset, alice, core.U(100))
	require.NoError(t, h.led.Mint(baseAsset, carol, core.U(100)))
	h.rec.Reset()

	tests := []struct {
		name  string
		owner common.Address
		edit  func(*SubmitRequest)
		err   error
	}{
		{"unknown pair", alice, func(r *SubmitRequest) { r.PairID = 9 }, ErrInvalidPair},
		{"paused pair", alice, func(r *SubmitRequest) { r.PairID = paused.ID }, ErrPairInactive},
		{"bad side", alice, func(r *SubmitRequest) { r.Side = core.Side(7) }, ErrInvalidRequest},
		{"zero owner", common.Address{}, func(r *SubmitRequest) {}, ErrInvalidRequest},
		{"price before amount", alice, func(r *SubmitRequest) { r.Price = core.Zero(); r.Amount = core.Zero() }, ErrInvalidPrice},
		{"zero amount", alice, func(r *SubmitRequest) { r.Amount = core.Zero() }, ErrInvalidAmount},
		{"already expired", alice, func(r *SubmitRequest) { r.ValidUntil = startTime }, ErrInvalidValidUntil},
		{"below dust floor", alice, func(r *SubmitRequest) { r.Amount = core.U(9) }, ErrAmountTooSmall},
		{"not enough balance", alice, func(r *SubmitRequest) { r.Amount = core.U(101) }, ErrNotEnoughBalance},
		{"no allowance", carol, func(r *SubmitRequest) {}, ErrExceedAllowance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.req(core.Sell, core.U(1), core.U(100))
			tt.edit(&req)
			_, err := h.eng.SubmitOrder(h.ctx, tt.owner, req)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, KindInput, KindOf(err))
		})
	}

	assert.Empty(t, h.rec.Records())
	assert.Equal(t, uint64(1), h.submit(alice, h.req(core.Sell, core.U(1), core.U(100))).OrderID)
}

func TestRelayedOrders(t *testing.T) {
	h := newHarness(t, defaultParams())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := key.Address()
	relayer := carol
	h.fund(baseAsset, owner, core.U(220))

	fields := transaction.OrderFields{
		Side:        core.Sell,
		Price:       core.U(1),
		Amount:      core.U(100),
		PairID:      h.pair.ID,
		ValidUntil:  h.validUntil(),
		TimeInForce: core.GTC,
		NetworkFee:  core.U(10),
		Nonce:       core.U(1),
	}
	sig := h.sign(key, fields)
	res, err := h.eng.SubmitOrderOnBehalfOf(h.ctx, relayer, owner, fields, sig)
	require.NoError(t, err)
	assert.Equal(t, owner, res.Order.Order().Owner)
	assert.Equal(t, core.U(10), h.balance(baseAsset, relayer))
	assert.Equal(t, core.U(210), h.balance(baseAsset, owner))

	_, err = h.eng.SubmitOrderOnBehalfOf(h.ctx, relayer, owner, fields, sig)
	require.ErrorIs(t, err, ErrNonceUsed)

	// amount plus network fee must be covered
	next := fields
	next.Nonce = core.U(2)
	next.NetworkFee = core.U(200)
	_, err = h.eng.SubmitOrderOnBehalfOf(h.ctx, relayer, owner, next, h.sign(key, next))
	require.ErrorIs(t, err, ErrNotEnoughBalance)

	// signature must come from owner and cover every field
	next.NetworkFee = core.Zero()
	forger, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = h.eng.SubmitOrderOnBehalfOf(h.ctx, relayer, owner, next, h.sign(forger, next))
	require.ErrorIs(t, err, ErrInvalidSignature)
	tampered := next
	tampered.Price = core.U(2)
	_, err = h.eng.SubmitOrderOnBehalfOf(h.ctx, relayer, owner, tampered, h.sign(key, next))
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = h.eng.SubmitOrderOnBehalfOf(h.ctx, relayer, owner, next, h.sign(key, next))
	require.NoError(t, err)

	// order and cancel nonces share one namespace
	cancel := transaction.CancelFields{IDs: []uint64{res.OrderID}, Nonce: core.U(2)}
	_, err = h.eng.CancelOrdersSigned(h.ctx, owner, cancel, h.signCancel(key, cancel))
	require.ErrorIs(t, err, ErrNonceUsed)

	cancel.Nonce = core.U(3)
	recs, err := h.eng.CancelOrdersSigned(h.ctx, owner, cancel, h.signCancel(key, cancel))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	h.requireErased(res.OrderID)
}

func TestAdminOperations(t *testing.T) {
	h := newHarness(t, defaultParams())

	_, err := h.eng.CreatePair(h.ctx, alice, defaultParams())
	require.ErrorIs(t, err, ErrUnauthorizedAdmin)
	_, err = h.eng.SetFee(h.ctx, alice, h.pair.ID, 1, 1)
	require.ErrorIs(t, err, ErrUnauthorizedAdmin)
	_, err = h.eng.SetFee(h.ctx, adminAddr, h.pair.ID, 10_001, 0)
	require.ErrorIs(t, err, ErrInvalidParams)
	_, err = h.eng.SetFee(h.ctx, adminAddr, 42, 1, 1)
	require.ErrorIs(t, err, ErrInvalidPair)
	assert.Empty(t, h.rec.Records())
	assert.Equal(t, []market.Pair{h.pair}, h.eng.ListPairs())

	p, err := h.eng.SetFee(h.ctx, adminAddr, h.pair.ID, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), p.TakerFeeBps)
	evs := h.rec.Events()
	require.Len(t, evs, 1)
	cfg := evs[0].(events.NewPairConfig)
	assert.Equal(t, uint16(50), cfg.MakerFeeBps)
	assert.True(t, cfg.Active)

	require.ErrorIs(t, h.eng.SetAdmin(h.ctx, alice, alice), ErrUnauthorizedAdmin)
	require.NoError(t, h.eng.SetAdmin(h.ctx, adminAddr, carol))
	assert.Equal(t, carol, h.eng.Admin())
	_, err = h.eng.SetFee(h.ctx, adminAddr, h.pair.ID, 0, 0)
	require.ErrorIs(t, err, ErrUnauthorizedAdmin)

	// fees now go to the new admin
	h.fund(baseAsset, alice, core.U(100))
	h.fund(quoteAsset, bob, core.U(100))
	maker := h.submit(alice, h.req(core.Sell, core.U(1), core.U(100)))
	h.submit(bob, h.req(core.Buy, core.U(1), core.U(100), maker.OrderID))
	assert.Equal(t, core.U(1), h.balance(baseAsset, carol))
	assert.Equal(t, core.U(0), h.balance(quoteAsset, carol))
	assert.Equal(t, core.Zero(), h.balance(baseAsset, adminAddr))
}

func TestSmallFillsAreFeeFree(t *testing.T) {
	params := defaultParams()
	params.TakerFeeBps = 100
	params.MakerFeeBps = 100
	params.MinQuoteFeeThreshold = core.U(1000)
	h := newHarness(t, params)
	h.fund(baseAsset, alice, core.U(3000))
	h.fund(quoteAsset, bob, core.U(2000))

	maker := h.submit(alice, h.req(core.Sell, core.U(1), core.U(3000)))
	h.submit(bob, h.req(core.Buy, core.U(1), core.U(999), maker.OrderID))
	h.submit(bob, h.req(core.Buy, core.U(1), core.U(1000), maker.OrderID))

	fills := h.rec.Fills()
	require.Len(t, fills, 2)
	assert.True(t, fills[0].TakerFee.IsZero())
	assert.True(t, fills[0].MakerFee.IsZero())
	assert.Equal(t, core.U(10), fills[1].TakerFee)
	assert.Equal(t, core.U(10), fills[1].MakerFee)
}

func TestSellTakerAgainstResting(t *testing.T) {
	params := defaultParams()
	params.TakerFeeBps = 100
	h := newHarness(t, params)
	h.fund(quoteAsset, alice, core.U(5000))
	h.fund(baseAsset, bob, core.U(3))

	bid := h.submit(alice, h.req(core.Buy, core.U(1000), core.U(5000)))
	ask := h.submit(bob, h.req(core.Sell, core.U(900), core.U(3), bid.OrderID))

	// executes at the maker's price
	fills := h.rec.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, core.U(3000), fills[0].ExecutedQuote)
	assert.Equal(t, core.U(30), fills[0].TakerFee)
	assert.Equal(t, core.Sell, fills[0].TakerSide)
	assert.False(t, ask.Order.Occupied())
	assert.Equal(t, core.U(2970), h.balance(quoteAsset, bob))
	assert.Equal(t, core.U(3), h.balance(baseAsset, alice))
	assert.Equal(t, core.U(2000), h.eng.GetOrder(bid.OrderID).Order().UnfilledAmt)
}

func TestOrderIDsAndEventSeqsIncrease(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.fund(quoteAsset, alice, core.U(1000))

	var last uint64
	for i := 0; i < 5; i++ {
		res := h.submit(alice, h.req(core.Buy, core.U(5), core.U(100)))
		require.Greater(t, res.OrderID, last)
		last = res.OrderID
		if i%2 == 0 {
			_, err := h.eng.CancelOrders(h.ctx, alice, []uint64{res.OrderID})
			require.NoError(t, err)
		}
	}

	recs := h.rec.Records()
	// pair creation consumed seq 1
	require.Equal(t, uint64(2), recs[0].Seq)
	for i := 1; i < len(recs); i++ {
		require.Equal(t, recs[i-1].Seq+1, recs[i].Seq)
	}
}

func TestFillsConserveAssets(t *testing.T) {
	params := defaultParams()
	params.TakerFeeBps = 25
	params.MakerFeeBps = 5
	h := newHarness(t, params)

	traders := []common.Address{alice, bob, carol}
	for _, who := range traders {
		h.fund(baseAsset, who, core.U(50_000))
		h.fund(quoteAsset, who, core.U(500_000))
	}
	baseSupply := h.led.Supply(baseAsset)
	quoteSupply := h.led.Supply(quoteAsset)

	var resting []uint64
	for i := 0; i < 12; i++ {
		who := traders[i%len(traders)]
		price := core.U(uint64(90 + i%5*5))
		var res SubmitResult
		if i%2 == 0 {
			res = h.submit(who, h.req(core.Sell, price, core.U(uint64(100+i*37)), resting...))
		} else {
			res = h.submit(who, h.req(core.Buy, price, core.U(uint64(9_000+i*1_111)), resting...))
		}
		if res.Order.Occupied() {
			resting = append(resting, res.OrderID)
		}
	}
	require.NotEmpty(t, h.rec.Fills())

	assert.Equal(t, baseSupply, h.led.Supply(baseAsset))
	assert.Equal(t, quoteSupply, h.led.Supply(quoteAsset))
	assert.Equal(t, core.Zero(), h.balance(baseAsset, engineAddr))
	assert.Equal(t, core.Zero(), h.balance(quoteAsset, engineAddr))
}

type failingStore struct{ err error }

func (s failingStore) LoadState() (*storage.Snapshot, error)   { return nil, nil }
func (s failingStore) CommitState(cs *storage.ChangeSet) error { return s.err }

func TestPersistFailureDoesNotUnwind(t *testing.T) {
	h := newHarness(t, defaultParams(), WithStore(failingStore{err: errors.New("disk full")}))
	h.fund(quoteAsset, alice, core.U(100))

	res := h.submit(alice, h.req(core.Buy, core.U(5), core.U(100)))
	assert.True(t, h.eng.GetOrder(res.OrderID).Occupied())
	assert.Len(t, h.rec.Records(), 1)
}

func TestRestartRestoresState(t *testing.T) {
	store, err := storage.NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := newHarness(t, defaultParams(), WithStore(store))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := key.Address()
	h.fund(baseAsset, owner, core.U(600))
	h.fund(quoteAsset, bob, core.U(1000))

	fields := transaction.OrderFields{
		Side:        core.Sell,
		Price:       core.U(10),
		Amount:      core.U(300),
		PairID:      h.pair.ID,
		ValidUntil:  h.validUntil(),
		TimeInForce: core.GTC,
		Nonce:       core.U(5),
	}
	maker, err := h.eng.SubmitOrderOnBehalfOf(h.ctx, carol, owner, fields, h.sign(key, fields))
	require.NoError(t, err)
	h.submit(bob, h.req(core.Buy, core.U(10), core.U(1000), maker.OrderID))
	require.NoError(t, h.eng.SetAdmin(h.ctx, adminAddr, carol))
	before := h.eng.GetOrder(maker.OrderID)

	restarted, err := New(Config{
		Address: engineAddr,
		Admin:   adminAddr,
		Domain:  crypto.DefaultDomain(),
	}, h.led, WithClock(h.clock))
	require.NoError(t, err)
	assert.Empty(t, restarted.ListPairs(), "no store, no state")

	restarted, err = New(Config{
		Address: engineAddr,
		Admin:   adminAddr,
		Domain:  crypto.DefaultDomain(),
	}, h.led, WithClock(h.clock), WithStore(store))
	require.NoError(t, err)

	assert.Equal(t, h.eng.ListPairs(), restarted.ListPairs())
	assert.Equal(t, before, restarted.GetOrder(maker.OrderID))
	assert.Equal(t, core.U(200), restarted.GetOrder(maker.OrderID).Order().UnfilledAmt)
	assert.Equal(t, []uint64{maker.OrderID}, restarted.ActiveOrderIDs())
	assert.Equal(t, carol, restarted.Admin())

	// settled balances were written with the fill that moved them
	balances, allowances, err := store.LoadLedger()
	require.NoError(t, err)
	persisted := ledger.NewMemory()
	persisted.Restore(balances, allowances)
	for _, row := range []struct{ asset, account common.Address }{
		{baseAsset, owner}, {baseAsset, bob}, {quoteAsset, owner}, {quoteAsset, bob},
	} {
		assert.Equal(t, h.balance(row.asset, row.account), persisted.BalanceOf(row.asset, row.account))
	}
	assert.Equal(t, h.led.Allowance(quoteAsset, bob, engineAddr), persisted.Allowance(quoteAsset, bob, engineAddr))

	_, err = restarted.SubmitOrderOnBehalfOf(context.Background(), carol, owner, fields, h.sign(key, fields))
	require.ErrorIs(t, err, ErrNonceUsed)

	rec := events.NewRecorder()
	restarted.sink = rec
	res, err := restarted.SubmitOrder(context.Background(), bob, h.req(core.Buy, core.U(5), core.U(10)))
	require.ErrorIs(t, err, ErrNotEnoughBalance)
	h.fund(quoteAsset, bob, core.U(10))
	res, err = restarted.SubmitOrder(context.Background(), bob, h.req(core.Buy, core.U(5), core.U(10)))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.OrderID)

	head := h.rec.Records()
	assert.Equal(t, head[len(head)-1].Seq+1, rec.Records()[0].Seq)
}
