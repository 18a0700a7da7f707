package market

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
)

var (
	ErrPairNotFound  = errors.New("Invalid pairId")
	ErrInvalidParams = errors.New("invalid pair parameters")
)

// Pair is the configuration of one tradable base/quote market.
// Prices are quote units per base unit multiplied by 10^PriceDecimals.
type Pair struct {
	ID                   uint16
	BaseAsset            common.Address
	QuoteAsset           common.Address
	PriceDecimals        uint8
	MinExecutableQuote   uint256.Int
	MinQuoteFeeThreshold uint256.Int
	TakerFeeBps          uint16
	MakerFeeBps          uint16
	Active               bool
}

// Params are the admin-supplied fields of a new pair.
type Params struct {
	BaseAsset            common.Address
	QuoteAsset           common.Address
	PriceDecimals        uint8
	MinExecutableQuote   uint256.Int
	MinQuoteFeeThreshold uint256.Int
	TakerFeeBps          uint16
	MakerFeeBps          uint16
}

func (p Params) Validate() error {
	if p.BaseAsset == (common.Address{}) || p.QuoteAsset == (common.Address{}) {
		return fmt.Errorf("%w: zero asset address", ErrInvalidParams)
	}
	if p.BaseAsset == p.QuoteAsset {
		return fmt.Errorf("%w: base and quote assets must differ", ErrInvalidParams)
	}
	if p.PriceDecimals > core.MaxPriceDecimals {
		return fmt.Errorf("%w: price decimals %d exceeds %d", ErrInvalidParams, p.PriceDecimals, core.MaxPriceDecimals)
	}
	return validateFees(p.TakerFeeBps, p.MakerFeeBps)
}

func validateFees(taker, maker uint16) error {
	if taker > core.BpsDenominator || maker > core.BpsDenominator {
		return fmt.Errorf("%w: fee bps must be <= %d", ErrInvalidParams, core.BpsDenominator)
	}
	return nil
}

// Scale is the price divisor, 10^PriceDecimals.
func (p Pair) Scale() uint256.Int { return core.Pow10(p.PriceDecimals) }

// SoldAsset is what an order on the given side pays with.
func (p Pair) SoldAsset(side core.Side) common.Address {
	if side == core.Buy {
		return p.QuoteAsset
	}
	return p.BaseAsset
}

// ReceivedAsset is what an order on the given side acquires.
func (p Pair) ReceivedAsset(side core.Side) common.Address {
	if side == core.Buy {
		return p.BaseAsset
	}
	return p.QuoteAsset
}

// QuoteEquivalent expresses an order amount in quote units at price.
// BUY amounts are already quote.
func (p Pair) QuoteEquivalent(side core.Side, amount, price uint256.Int) uint256.Int {
	if side == core.Buy {
		return amount
	}
	return core.QuoteFor(amount, price, p.Scale())
}

// FeesApply reports whether a fill of executedQuote is large enough to be charged.
func (p Pair) FeesApply(executedQuote uint256.Int) bool {
	return !executedQuote.Lt(&p.MinQuoteFeeThreshold)
}
