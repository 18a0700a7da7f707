package core

import "github.com/holiman/uint256"

// BpsDenominator is the basis-point scale used for fees.
const BpsDenominator = 10_000

// MaxPriceDecimals keeps 10^decimals inside 256 bits.
const MaxPriceDecimals = 77

// Amounts are carried as uint256 values; these helpers take and return
// values so callers never alias each other's storage.

func Zero() uint256.Int { return uint256.Int{} }

func U(v uint64) uint256.Int { return *uint256.NewInt(v) }

// Pow10 returns 10^n. n must not exceed MaxPriceDecimals.
func Pow10(n uint8) uint256.Int {
	var z uint256.Int
	z.Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
	return z
}

func Add(x, y uint256.Int) uint256.Int {
	var z uint256.Int
	z.Add(&x, &y)
	return z
}

// Sub returns x-y, clamped at zero.
func Sub(x, y uint256.Int) uint256.Int {
	var z uint256.Int
	if x.Lt(&y) {
		return z
	}
	z.Sub(&x, &y)
	return z
}

func Min(x, y uint256.Int) uint256.Int {
	if x.Lt(&y) {
		return x
	}
	return y
}

func Lt(x, y uint256.Int) bool { return x.Lt(&y) }
func Gt(x, y uint256.Int) bool { return x.Gt(&y) }
func Eq(x, y uint256.Int) bool { return x.Eq(&y) }

// MulDiv returns floor(x*y/d) using a 512-bit intermediate. The result
// saturates at 2^256-1 when it does not fit. d must be non-zero.
func MulDiv(x, y, d uint256.Int) uint256.Int {
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(&x, &y, &d); overflow {
		z.SetAllOne()
	}
	return z
}

// FitsMulDiv reports whether floor(x*y/d) fits in 256 bits.
func FitsMulDiv(x, y, d uint256.Int) bool {
	var z uint256.Int
	_, overflow := z.MulDivOverflow(&x, &y, &d)
	return !overflow
}

// ApplyBps returns floor(amount*bps/10000).
func ApplyBps(amount uint256.Int, bps uint16) uint256.Int {
	if bps == 0 {
		return Zero()
	}
	return MulDiv(amount, U(uint64(bps)), U(BpsDenominator))
}

// QuoteFor converts a base amount to quote at price/scale, rounding down.
func QuoteFor(base, price, scale uint256.Int) uint256.Int {
	return MulDiv(base, price, scale)
}

// BaseFor converts a quote amount to base at price/scale, rounding down.
func BaseFor(quote, price, scale uint256.Int) uint256.Int {
	return MulDiv(quote, scale, price)
}

func MustDec(s string) uint256.Int {
	return *uint256.MustFromDecimal(s)
}
