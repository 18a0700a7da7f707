package engine

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
)

func TestPlanFill(t *testing.T) {
	tests := []struct {
		name       string
		buyerQuote uint64
		sellerBase uint64
		price      uint64
		minQuote   uint64
		ok         bool
		quote      uint64
		base       uint64
	}{
		{"exact match", 30, 30, 1, 10, true, 30, 30},
		{"buyer leaves dust, seller too small to split", 15, 10, 1, 10, false, 0, 0},
		{"both sides would leave dust", 15, 20, 1, 10, false, 0, 0},
		{"shrink to keep seller floor", 20, 25, 1, 10, true, 10, 10},
		{"shrink on both sides", 22, 21, 1, 10, true, 11, 11},
		{"taker larger than maker", 21, 20, 1, 10, true, 10, 10},
		{"sub-floor orders may exhaust each other", 5, 5, 1, 10, true, 5, 5},
		{"seller exhausted takes all base", 100, 3, 3, 1, true, 9, 3},
		{"partial base rounds down", 10, 5, 3, 1, true, 10, 3},
		{"empty buyer", 0, 5, 1, 1, false, 0, 0},
		{"base rounds to zero", 2, 5, 3, 1, false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, ok := planFill(core.U(tt.buyerQuote), core.U(tt.sellerBase), core.U(tt.price), core.U(1), core.U(tt.minQuote))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (plan %s/%s)", ok, tt.ok, plan.Quote.Dec(), plan.Base.Dec())
			}
			if !ok {
				return
			}
			if !plan.Quote.Eq(uint256.NewInt(tt.quote)) || !plan.Base.Eq(uint256.NewInt(tt.base)) {
				t.Fatalf("plan = %s quote / %s base, want %d / %d", plan.Quote.Dec(), plan.Base.Dec(), tt.quote, tt.base)
			}
		})
	}
}

func TestPlanFillNeverLeavesDust(t *testing.T) {
	floor := uint64(10)
	for buyer := uint64(1); buyer <= 40; buyer++ {
		for seller := uint64(1); seller <= 40; seller++ {
			plan, ok := planFill(core.U(buyer), core.U(seller), core.U(1), core.U(1), core.U(floor))
			if !ok {
				continue
			}
			q := plan.Quote.Uint64()
			for _, rem := range []uint64{buyer - q, seller - plan.Base.Uint64()} {
				if rem != 0 && rem < floor {
					t.Fatalf("buyer %d seller %d: fill %d leaves %d", buyer, seller, q, rem)
				}
			}
			if q < floor && q != buyer && q != seller {
				t.Fatalf("buyer %d seller %d: fill %d below floor without exhausting", buyer, seller, q)
			}
		}
	}
}

func orderAt(side core.Side, price uint64) orderbook.Order {
	return orderbook.Order{Side: side, Price: core.U(price)}
}

func TestPriceCrosses(t *testing.T) {
	if !priceCrosses(orderAt(core.Buy, 10), orderAt(core.Sell, 10)) || !priceCrosses(orderAt(core.Buy, 10), orderAt(core.Sell, 9)) {
		t.Fatal("buy taker should accept asks at or below its limit")
	}
	if priceCrosses(orderAt(core.Buy, 10), orderAt(core.Sell, 11)) {
		t.Fatal("buy taker accepted ask above its limit")
	}
	if !priceCrosses(orderAt(core.Sell, 10), orderAt(core.Buy, 10)) || !priceCrosses(orderAt(core.Sell, 10), orderAt(core.Buy, 11)) {
		t.Fatal("sell taker should accept bids at or above its limit")
	}
	if priceCrosses(orderAt(core.Sell, 10), orderAt(core.Buy, 9)) {
		t.Fatal("sell taker accepted bid below its limit")
	}
}
