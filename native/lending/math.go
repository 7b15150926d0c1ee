package lending

import "math/big"

const (
	// SecondsPerYear is the compounding period count for annualised rates.
	SecondsPerYear = 31_536_000

	rateDecimals    = 12
	percentDecimals = 8
)

var (
	// RateScale is the fixed-point unit for rates, utilization and growth
	// factors (1.0 = 1e12).
	RateScale = big.NewInt(1_000_000_000_000)
	// PercentScale is the fixed-point unit for LTVs, discounts, health and
	// prices (1.0 = 1e8).
	PercentScale = big.NewInt(100_000_000)
	basisPoints  = big.NewInt(10_000)
)

func zero() *big.Int { return new(big.Int) }

func clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func isPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func minBig(values ...*big.Int) *big.Int {
	var out *big.Int
	for _, v := range values {
		if v == nil {
			continue
		}
		if out == nil || v.Cmp(out) < 0 {
			out = v
		}
	}
	return clone(out)
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return clone(a)
	}
	return clone(b)
}

// subFloor returns a-b clamped at zero.
func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(clone(a), clone(b))
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}

// mulDiv computes a*b/d rounding toward zero. A zero divisor yields zero.
func mulDiv(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, d)
}

// mulDivUp computes a*b/d rounding away from zero for positive operands.
func mulDivUp(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	rem := new(big.Int)
	out.QuoRem(out, d, rem)
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// rescale converts an amount expressed with `from` decimals into `to`
// decimals. Scaling down floors.
func rescale(amount *big.Int, from, to uint8) *big.Int {
	switch {
	case amount == nil:
		return new(big.Int)
	case from == to:
		return clone(amount)
	case from > to:
		return new(big.Int).Quo(amount, pow10(from-to))
	default:
		return new(big.Int).Mul(amount, pow10(to-from))
	}
}

// sharesForAmount converts an asset amount to shares at supply/total. An empty
// supply mints 1:1. Outstanding shares with nothing behind them cannot be
// priced and yield zero.
func sharesForAmount(amount, supply, total *big.Int, roundUp bool) *big.Int {
	if supply.Sign() == 0 {
		return clone(amount)
	}
	if total.Sign() == 0 {
		return new(big.Int)
	}
	if roundUp {
		return mulDivUp(amount, supply, total)
	}
	return mulDiv(amount, supply, total)
}

// amountForShares converts shares back to assets at total/supply.
func amountForShares(shares, supply, total *big.Int, roundUp bool) *big.Int {
	if supply.Sign() == 0 {
		return new(big.Int)
	}
	if roundUp {
		return mulDivUp(shares, total, supply)
	}
	return mulDiv(shares, total, supply)
}
