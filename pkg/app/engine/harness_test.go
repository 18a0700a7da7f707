package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
	"github.com/uhyunpark/zklite/pkg/crypto"
	"github.com/uhyunpark/zklite/pkg/util"
)

var (
	engineAddr = common.HexToAddress("0x000000000000000000000000000000000000e712")
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	baseAsset  = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	quoteAsset = common.HexToAddress("0x0000000000000000000000000000000000000c0c")
)

const startTime = 1_700_000_000

type harness struct {
	t     *testing.T
	ctx   context.Context
	eng   *Engine
	led   *ledger.Memory
	rec   *events.Recorder
	clock *util.ManualClock
	pair  market.Pair
}

// defaultParams is a unit-priced pair: scale 1, dust floor 10, no fees.
func defaultParams() market.Params {
	return market.Params{
		BaseAsset:          baseAsset,
		QuoteAsset:         quoteAsset,
		MinExecutableQuote: core.U(10),
	}
}

func newHarness(t *testing.T, params market.Params, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		led:   ledger.NewMemory(),
		rec:   events.NewRecorder(),
		clock: util.NewManualClock(time.Unix(startTime, 0)),
	}
	base := []Option{WithSink(h.rec), WithClock(h.clock)}
	eng, err := New(Config{
		Address: engineAddr,
		Admin:   adminAddr,
		Domain:  crypto.DefaultDomain(),
	}, h.led, append(base, opts...)...)
	require.NoError(t, err)
	h.eng = eng

	if len(eng.ListPairs()) == 0 {
		h.pair, err = eng.CreatePair(h.ctx, adminAddr, params)
		require.NoError(t, err)
	} else {
		h.pair = eng.ListPairs()[0]
	}
	h.rec.Reset()
	return h
}

// fund mints amount of asset to owner and approves the engine for it.
func (h *harness) fund(asset, owner common.Address, amount uint256.Int) {
	h.t.Helper()
	require.NoError(h.t, h.led.Mint(asset, owner, amount))
	require.NoError(h.t, h.led.Approve(asset, owner, engineAddr, core.Add(h.led.Allowance(asset, owner, engineAddr), amount)))
}

func (h *harness) validUntil() uint64 {
	return uint64(h.clock.Now().Unix()) + 3600
}

func (h *harness) req(side core.Side, price, amount uint256.Int, fill ...uint64) SubmitRequest {
	return SubmitRequest{
		Side:        side,
		Price:       price,
		Amount:      amount,
		PairID:      h.pair.ID,
		ValidUntil:  h.validUntil(),
		TimeInForce: core.GTC,
		IDsToFill:   fill,
	}
}

func (h *harness) submit(owner common.Address, req SubmitRequest) SubmitResult {
	h.t.Helper()
	res, err := h.eng.SubmitOrder(h.ctx, owner, req)
	require.NoError(h.t, err)
	return res
}

func (h *harness) sign(key *crypto.Signer, f transaction.OrderFields) []byte {
	h.t.Helper()
	typed, err := f.EIP712()
	require.NoError(h.t, err)
	sig, err := h.eng.Verifier().Signer().SignSubmitOrder(key, typed)
	require.NoError(h.t, err)
	return sig
}

func (h *harness) signCancel(key *crypto.Signer, c transaction.CancelFields) []byte {
	h.t.Helper()
	sig, err := h.eng.Verifier().Signer().SignCancelOrders(key, c.EIP712())
	require.NoError(h.t, err)
	return sig
}

func (h *harness) balance(asset, owner common.Address) uint256.Int {
	return h.led.BalanceOf(asset, owner)
}

func (h *harness) requireErased(id uint64) {
	h.t.Helper()
	slot := h.eng.GetOrder(id)
	require.False(h.t, slot.Occupied(), "order %d still occupied", id)
	require.Equal(h.t, uint64(0), slot.Order().ID)
	require.NotContains(h.t, h.eng.ActiveOrderIDs(), id)
}

func reasons(closed []events.OrderClosed) map[uint64]core.CloseReason {
	out := make(map[uint64]core.CloseReason, len(closed))
	for _, c := range closed {
		out[c.OrderID] = c.Reason
	}
	return out
}
