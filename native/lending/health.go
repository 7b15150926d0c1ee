package lending

import (
	"math/big"

	"lendmarket/crypto"
)

// collateralValue converts an amount of collateral into base units:
// rescale(amount, collateral → base decimals) × price / basePrice.
func collateralValue(amount *big.Int, cfg *CollateralConfig, baseDecimals uint8, price, basePrice *Price) *big.Int {
	normalized := rescale(amount, cfg.Decimals, baseDecimals)
	return mulDiv(normalized, price.Value, basePrice.Value)
}

// valuePosition prices every live collateral slot.
func (e *Engine) valuePosition(market *Market, position *Position) ([]CollateralValue, error) {
	assets := position.Assets()
	if len(assets) == 0 {
		return nil, nil
	}
	basePrice, err := e.price(market, market.BaseAsset)
	if err != nil {
		return nil, err
	}
	out := make([]CollateralValue, 0, len(assets))
	for _, asset := range assets {
		cfg, err := e.state.Collateral(asset)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, ErrCollateralNotSupported
		}
		price, err := e.price(market, asset)
		if err != nil {
			return nil, err
		}
		amount := position.Collateral(asset)
		out = append(out, CollateralValue{
			Asset:  asset,
			Amount: amount,
			Value:  collateralValue(amount, cfg, market.BaseDecimals, price, basePrice),
			Config: cfg,
			Price:  *price,
		})
	}
	return out, nil
}

// weighted returns Σ value × ltv, still carrying the 1e8 scale.
func weighted(values []CollateralValue, ltv func(*CollateralConfig) uint64) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, new(big.Int).Mul(v.Value, new(big.Int).SetUint64(ltv(v.Config))))
	}
	return total
}

func maxLTVOf(c *CollateralConfig) uint64         { return c.MaxLTV }
func liquidationLTVOf(c *CollateralConfig) uint64 { return c.LiquidationLTV }

// HealthFactor is Σ value × liquidationLTV / debt at the 1e8 scale. It is nil
// when there is no debt.
func HealthFactor(values []CollateralValue, debt *big.Int) *big.Int {
	if !isPositive(debt) {
		return nil
	}
	return new(big.Int).Quo(weighted(values, liquidationLTVOf), debt)
}

// withinMaxLTV reports Σ value × maxLTV ≥ debt × 1e8, i.e. a max-LTV health of
// at least one.
func withinMaxLTV(values []CollateralValue, debt *big.Int) bool {
	if !isPositive(debt) {
		return true
	}
	return weighted(values, maxLTVOf).Cmp(new(big.Int).Mul(debt, PercentScale)) >= 0
}

func (e *Engine) requireMaxLTV(market *Market, position *Position) error {
	debt := debtOf(market, position.DebtShares)
	if debt.Sign() == 0 {
		return nil
	}
	if !position.HasCollateral() {
		return ErrMaxLTV
	}
	values, err := e.valuePosition(market, position)
	if err != nil {
		return err
	}
	if !withinMaxLTV(values, debt) {
		return ErrMaxLTV
	}
	return nil
}

// Market returns the market accrued to the current block.
func (e *Engine) Market() (*Market, error) {
	return e.begin("")
}

// Position returns a valued view of owner's position, accrued to the
// current block.
func (e *Engine) Position(owner crypto.Address) (*PositionView, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	position, err := e.state.Position(owner)
	if err != nil {
		return nil, err
	}
	return e.positionView(market, owner, position)
}

func (e *Engine) positionView(market *Market, owner crypto.Address, position *Position) (*PositionView, error) {
	values, err := e.valuePosition(market, position)
	if err != nil {
		return nil, err
	}
	debt := debtOf(market, position.DebtShares)
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, v.Value)
	}
	power := new(big.Int).Quo(weighted(values, maxLTVOf), PercentScale)
	health := HealthFactor(values, debt)
	return &PositionView{
		Owner:           owner,
		DebtShares:      clone(position.DebtShares),
		Debt:            debt,
		Collateral:      values,
		HealthFactor:    health,
		BorrowingPower:  power,
		LastRiskHeight:  position.LastRiskHeight,
		Liquidatable:    health != nil && health.Cmp(PercentScale) < 0,
		CollateralValue: total,
	}, nil
}

// MaxBorrow is the additional amount owner can draw: remaining borrowing
// power capped by free liquidity.
func (e *Engine) MaxBorrow(owner crypto.Address) (*big.Int, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	position, err := e.state.Position(owner)
	if err != nil {
		return nil, err
	}
	view, err := e.positionView(market, owner, position)
	if err != nil {
		return nil, err
	}
	headroom := subFloor(view.BorrowingPower, view.Debt)
	return minBig(headroom, market.FreeLiquidity()), nil
}

// Liquidatable lists positions whose health is below one. Positions whose
// collateral cannot be priced are skipped.
func (e *Engine) Liquidatable(limit int) ([]*PositionView, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	var out []*PositionView
	err = e.state.Positions(func(owner crypto.Address, position *Position) error {
		if limit > 0 && len(out) >= limit {
			return nil
		}
		if !isPositive(position.DebtShares) {
			return nil
		}
		view, err := e.positionView(market, owner, position)
		if err != nil {
			return nil
		}
		if view.Liquidatable {
			out = append(out, view)
		}
		return nil
	})
	return out, err
}
