package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

// InterestRateParams shapes the linear kinked borrow curve. All fields use
// the 1e12 fixed-point scale.
type InterestRateParams struct {
	// Slope1 is the rate added per unit of utilization below the kink.
	Slope1 *big.Int
	// Slope2 is the rate added per unit of utilization above the kink.
	Slope2 *big.Int
	// Kink is the utilization breakpoint; it must stay below 1e12.
	Kink *big.Int
	// BaseRate applies whenever the market has open interest.
	BaseRate *big.Int
}

// Clone returns a deep copy of the parameters.
func (p *InterestRateParams) Clone() *InterestRateParams {
	if p == nil {
		return nil
	}
	return &InterestRateParams{
		Slope1:   clone(p.Slope1),
		Slope2:   clone(p.Slope2),
		Kink:     clone(p.Kink),
		BaseRate: clone(p.BaseRate),
	}
}

// Validate rejects negative values and a kink at or above 100%.
func (p *InterestRateParams) Validate() error {
	if p == nil {
		return ErrInvalidParams
	}
	for _, v := range []*big.Int{p.Slope1, p.Slope2, p.Kink, p.BaseRate} {
		if v == nil || v.Sign() < 0 {
			return ErrInvalidParams
		}
	}
	if p.Kink.Cmp(RateScale) >= 0 {
		return ErrInvalidKink
	}
	return nil
}

// InterestRateModel maps utilization to an annualised borrow rate.
type InterestRateModel interface {
	Rate(utilization *big.Int) *big.Int
}

// LinearKinkedModel is the default InterestRateModel.
type LinearKinkedModel struct {
	params *InterestRateParams
}

// NewLinearKinkedModel binds a model to validated parameters.
func NewLinearKinkedModel(params *InterestRateParams) (*LinearKinkedModel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &LinearKinkedModel{params: params.Clone()}, nil
}

// Rate returns base + slope1·min(u, kink) + slope2·max(u − kink, 0). A market
// with zero utilization has no open interest and the rate is zero.
func (m *LinearKinkedModel) Rate(utilization *big.Int) *big.Int {
	if m == nil || m.params == nil || utilization == nil || utilization.Sign() <= 0 {
		return new(big.Int)
	}
	p := m.params
	low := minBig(utilization, p.Kink)
	high := subFloor(utilization, p.Kink)

	rate := clone(p.BaseRate)
	rate.Add(rate, mulDiv(p.Slope1, low, RateScale))
	rate.Add(rate, mulDiv(p.Slope2, high, RateScale))
	return rate
}

// Utilization is debt × 1e12 / assets. It is not clamped; debt above assets
// yields more than 100%.
func Utilization(totalDebt, totalAssets *big.Int) *big.Int {
	if !isPositive(totalAssets) || !isPositive(totalDebt) {
		return new(big.Int)
	}
	return mulDiv(totalDebt, RateScale, totalAssets)
}

var (
	rayU          = uint256.MustFromDecimal("1000000000000000000000000000")
	halfRayU      = new(uint256.Int).Rsh(rayU, 1)
	rayToRateU    = uint256.NewInt(1_000_000_000_000_000) // 1e27 / 1e12
	secondsYearU  = uint256.NewInt(SecondsPerYear)
	maxUint256Big = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// CompoundFactor returns (1 + rate/SecondsPerYear)^elapsed at the 1e12 scale,
// compounding per second. Intermediate values carry 1e27 precision in 256-bit
// integers; a factor that cannot be represented returns ErrCompoundOverflow.
func CompoundFactor(rate *big.Int, elapsed uint64) (*big.Int, error) {
	if rate == nil || rate.Sign() <= 0 || elapsed == 0 {
		return clone(RateScale), nil
	}
	r, overflow := uint256.FromBig(rate)
	if overflow {
		return nil, ErrCompoundOverflow
	}
	perSecond, overflow := new(uint256.Int).MulOverflow(r, rayToRateU)
	if overflow {
		return nil, ErrCompoundOverflow
	}
	perSecond.Div(perSecond, secondsYearU)

	base, overflow := new(uint256.Int).AddOverflow(rayU, perSecond)
	if overflow {
		return nil, ErrCompoundOverflow
	}
	result := new(uint256.Int).Set(rayU)
	for exp := elapsed; exp > 0; exp >>= 1 {
		if exp&1 == 1 {
			if result, overflow = rayMulU(result, base); overflow {
				return nil, ErrCompoundOverflow
			}
		}
		if exp > 1 {
			if base, overflow = rayMulU(base, base); overflow {
				return nil, ErrCompoundOverflow
			}
		}
	}
	result.Div(result, rayToRateU)
	return result.ToBig(), nil
}

func rayMulU(a, b *uint256.Int) (*uint256.Int, bool) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, true
	}
	product, overflow = new(uint256.Int).AddOverflow(product, halfRayU)
	if overflow {
		return nil, true
	}
	return product.Div(product, rayU), false
}

// TotalInterest is the interest owed on openDebt for a growth factor, rounded
// up so rounding never favours borrowers.
func TotalInterest(openDebt, factor *big.Int) (*big.Int, error) {
	if !isPositive(openDebt) || factor == nil || factor.Cmp(RateScale) <= 0 {
		return new(big.Int), nil
	}
	growth := new(big.Int).Sub(factor, RateScale)
	product := new(big.Int).Mul(openDebt, growth)
	if product.Cmp(maxUint256Big) > 0 {
		return nil, ErrCompoundOverflow
	}
	return mulDivUp(openDebt, growth, RateScale), nil
}

// AccrueInterest combines the rate curve and compounding for a market
// snapshot and returns the interest accrued over elapsed seconds.
func AccrueInterest(model InterestRateModel, totalDebt, totalAssets *big.Int, elapsed uint64) (*big.Int, error) {
	if model == nil || elapsed == 0 || !isPositive(totalDebt) {
		return new(big.Int), nil
	}
	rate := model.Rate(Utilization(totalDebt, totalAssets))
	factor, err := CompoundFactor(rate, elapsed)
	if err != nil {
		return nil, err
	}
	return TotalInterest(totalDebt, factor)
}
