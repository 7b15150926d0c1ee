package lending

import "math/big"

// StakingRewardParams describes how much of the LP interest is routed to
// stakers as a function of the staked ratio. Values use the 1e8 scale; the
// slopes are normally negative so rewards shrink as more liquidity stakes.
type StakingRewardParams struct {
	Slope1 int64
	Slope2 int64
	Kink   int64
	Base   int64
}

// Validate enforces a kink below 100% and a second slope that is at least as
// steep (as negative) as the first.
func (p StakingRewardParams) Validate() error {
	if p.Kink < 0 || p.Kink >= PercentScale.Int64() {
		return ErrRewardInvalidKink
	}
	if p.Slope2 > p.Slope1 {
		return ErrRewardInvalidSlopes
	}
	if p.Base < 0 || p.Base > PercentScale.Int64() {
		return ErrInvalidParams
	}
	return nil
}

// StakingRewardModel maps the staked ratio to the staker share of LP
// interest.
type StakingRewardModel interface {
	Percentage(stakedLP, totalLP *big.Int) *big.Int
}

// Percentage evaluates base + slope1·min(r, kink) + slope2·max(r − kink, 0),
// clamped to [0, 1e8]. No stake means no reward.
func (p StakingRewardParams) Percentage(stakedLP, totalLP *big.Int) *big.Int {
	if !isPositive(stakedLP) || !isPositive(totalLP) {
		return new(big.Int)
	}
	ratio := mulDiv(stakedLP, PercentScale, totalLP)
	kink := big.NewInt(p.Kink)
	low := minBig(ratio, kink)
	high := subFloor(ratio, kink)

	out := big.NewInt(p.Base)
	out.Add(out, new(big.Int).Quo(new(big.Int).Mul(big.NewInt(p.Slope1), low), PercentScale))
	out.Add(out, new(big.Int).Quo(new(big.Int).Mul(big.NewInt(p.Slope2), high), PercentScale))
	if out.Sign() < 0 {
		return new(big.Int)
	}
	if out.Cmp(PercentScale) > 0 {
		return clone(PercentScale)
	}
	return out
}
