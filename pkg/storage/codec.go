package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
)

// Stored records spell amounts as decimal strings so the database stays
// readable with generic JSON tooling.

type pairRecord struct {
	ID                   uint16 `json:"id"`
	BaseAsset            string `json:"base_asset"`
	QuoteAsset           string `json:"quote_asset"`
	PriceDecimals        uint8  `json:"price_decimals"`
	MinExecutableQuote   string `json:"min_executable_quote"`
	MinQuoteFeeThreshold string `json:"min_quote_fee_threshold"`
	TakerFeeBps          uint16 `json:"taker_fee_bps"`
	MakerFeeBps          uint16 `json:"maker_fee_bps"`
	Active               bool   `json:"active"`
}

type orderRecord struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner"`
	PairID         uint16 `json:"pair_id"`
	Side           uint8  `json:"side"`
	Price          string `json:"price"`
	OriginalAmount string `json:"original_amount"`
	UnfilledAmt    string `json:"unfilled_amt"`
	ReceivedAmt    string `json:"received_amt"`
	FeeAmt         string `json:"fee_amt"`
	ValidUntil     uint64 `json:"valid_until"`
	TimeInForce    uint8  `json:"tif"`
}

func encodePair(p market.Pair) pairRecord {
	return pairRecord{
		ID:                   p.ID,
		BaseAsset:            p.BaseAsset.Hex(),
		QuoteAsset:           p.QuoteAsset.Hex(),
		PriceDecimals:        p.PriceDecimals,
		MinExecutableQuote:   p.MinExecutableQuote.Dec(),
		MinQuoteFeeThreshold: p.MinQuoteFeeThreshold.Dec(),
		TakerFeeBps:          p.TakerFeeBps,
		MakerFeeBps:          p.MakerFeeBps,
		Active:               p.Active,
	}
}

func (r pairRecord) decode() (market.Pair, error) {
	minQuote, err := decodeAmount(r.MinExecutableQuote)
	if err != nil {
		return market.Pair{}, fmt.Errorf("pair %d min quote: %w", r.ID, err)
	}
	threshold, err := decodeAmount(r.MinQuoteFeeThreshold)
	if err != nil {
		return market.Pair{}, fmt.Errorf("pair %d fee threshold: %w", r.ID, err)
	}
	return market.Pair{
		ID:                   r.ID,
		BaseAsset:            common.HexToAddress(r.BaseAsset),
		QuoteAsset:           common.HexToAddress(r.QuoteAsset),
		PriceDecimals:        r.PriceDecimals,
		MinExecutableQuote:   minQuote,
		MinQuoteFeeThreshold: threshold,
		TakerFeeBps:          r.TakerFeeBps,
		MakerFeeBps:          r.MakerFeeBps,
		Active:               r.Active,
	}, nil
}

func encodeOrder(o orderbook.Order) orderRecord {
	return orderRecord{
		ID:             o.ID,
		Owner:          o.Owner.Hex(),
		PairID:         o.PairID,
		Side:           uint8(o.Side),
		Price:          o.Price.Dec(),
		OriginalAmount: o.OriginalAmount.Dec(),
		UnfilledAmt:    o.UnfilledAmt.Dec(),
		ReceivedAmt:    o.ReceivedAmt.Dec(),
		FeeAmt:         o.FeeAmt.Dec(),
		ValidUntil:     o.ValidUntil,
		TimeInForce:    uint8(o.TimeInForce),
	}
}

func (r orderRecord) decode() (orderbook.Order, error) {
	o := orderbook.Order{
		ID:          r.ID,
		Owner:       common.HexToAddress(r.Owner),
		PairID:      r.PairID,
		Side:        core.Side(r.Side),
		ValidUntil:  r.ValidUntil,
		TimeInForce: core.TimeInForce(r.TimeInForce),
	}
	fields := []struct {
		dst *uint256.Int
		src string
	}{
		{&o.Price, r.Price},
		{&o.OriginalAmount, r.OriginalAmount},
		{&o.UnfilledAmt, r.UnfilledAmt},
		{&o.ReceivedAmt, r.ReceivedAmt},
		{&o.FeeAmt, r.FeeAmt},
	}
	for _, f := range fields {
		v, err := decodeAmount(f.src)
		if err != nil {
			return orderbook.Order{}, fmt.Errorf("order %d: %w", r.ID, err)
		}
		*f.dst = v
	}
	return o, nil
}

func decodeAmount(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return *v, nil
}
