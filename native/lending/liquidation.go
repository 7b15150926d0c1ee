package lending

import (
	"math/big"
	"strconv"

	"lendmarket/crypto"
)

// MaxBatchLiquidations bounds the entries accepted by BatchLiquidate.
const MaxBatchLiquidations = 50

// LiquidationInput carries everything the pricing function needs. Amounts
// other than CollateralDeposited are in base units.
type LiquidationInput struct {
	// Debt is the borrower's outstanding debt D.
	Debt *big.Int
	// LiquidationValue is L = Σ value × liquidationLTV / 1e8 over all
	// collateral.
	LiquidationValue *big.Int
	// LiquidationLTV and Discount belong to the seized collateral (1e8).
	LiquidationLTV uint64
	Discount       uint64
	Offered        *big.Int
	// Price is one unit of the seized collateral quoted in base units (1e8).
	Price               *big.Int
	CollateralDeposited *big.Int
	CollateralDecimals  uint8
	BaseDecimals        uint8
	// MinCollateral is the liquidator's slippage floor; zero disables it.
	MinCollateral *big.Int
}

// LiquidationResult is the priced outcome.
type LiquidationResult struct {
	MaxRepay   *big.Int
	Repay      *big.Int
	Collateral *big.Int
	Full       bool
}

// MaxRepay is the repayment that restores health to exactly one:
// (D − L) × 1e8 / (1e8 − liqLTV × (1e8 + discount) / 1e8). A non-positive
// denominator leaves the repayment bounded by D alone; D ≤ L yields zero.
func MaxRepay(debt, liquidationValue *big.Int, liquidationLTV, discount uint64) *big.Int {
	if !isPositive(debt) || debt.Cmp(clone(liquidationValue)) <= 0 {
		return new(big.Int)
	}
	bonus := new(big.Int).Add(PercentScale, new(big.Int).SetUint64(discount))
	denom := new(big.Int).Sub(PercentScale, mulDiv(new(big.Int).SetUint64(liquidationLTV), bonus, PercentScale))
	if denom.Sign() <= 0 {
		return clone(debt)
	}
	gap := new(big.Int).Sub(debt, clone(liquidationValue))
	return mulDiv(gap, PercentScale, denom)
}

// CalculateLiquidation prices a liquidation without touching state.
func CalculateLiquidation(in LiquidationInput) (*LiquidationResult, error) {
	if !isPositive(in.Offered) {
		return nil, ErrZeroRepay
	}
	if !isPositive(in.Price) {
		return nil, ErrPriceUnavailable
	}
	maxRepay := MaxRepay(in.Debt, in.LiquidationValue, in.LiquidationLTV, in.Discount)
	if maxRepay.Sign() == 0 {
		return nil, ErrPositionHealthy
	}
	repay := minBig(in.Offered, maxRepay, in.Debt)
	bonus := new(big.Int).Add(PercentScale, new(big.Int).SetUint64(in.Discount))

	seized := rescale(mulDiv(repay, bonus, in.Price), in.BaseDecimals, in.CollateralDecimals)
	full := false
	deposited := clone(in.CollateralDeposited)
	if seized.Cmp(deposited) > 0 {
		seized = deposited
		value := rescale(deposited, in.CollateralDecimals, in.BaseDecimals)
		repay = mulDiv(value, in.Price, bonus)
		full = true
	}
	if seized.Sign() == 0 || repay.Sign() == 0 {
		return nil, ErrZeroRepay
	}
	if isPositive(in.MinCollateral) && seized.Cmp(in.MinCollateral) < 0 {
		return nil, ErrSlippage
	}
	return &LiquidationResult{MaxRepay: maxRepay, Repay: repay, Collateral: seized, Full: full}, nil
}

// LiquidationOutcome reports an applied liquidation.
type LiquidationOutcome struct {
	Borrower   crypto.Address
	Asset      string
	Repaid     *big.Int
	Seized     *big.Int
	Full       bool
	Socialized *Socialization
}

// Liquidate repays part of an unhealthy borrower's debt from the liquidator
// in exchange for discounted collateral. A seizure that strips the last
// collateral from a position with residual debt socializes the shortfall.
func (e *Engine) Liquidate(liquidator, borrower crypto.Address, asset string, offered, minCollateral *big.Int) (*LiquidationOutcome, error) {
	if !isPositive(offered) {
		return nil, ErrZeroRepay
	}
	market, err := e.begin(FeatureLiquidation)
	if err != nil {
		return nil, err
	}
	position, err := e.state.Position(borrower)
	if err != nil {
		return nil, err
	}
	cfg, err := e.state.Collateral(asset)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrCollateralNotSupported
	}
	deposited := position.Collateral(asset)
	if deposited.Sign() == 0 {
		return nil, ErrInsufficientCollateral
	}
	if position.LastRiskHeight == e.height || cfg.UpdatedHeight == e.height {
		return nil, ErrLiquidationNotAllowed
	}
	values, err := e.valuePosition(market, position)
	if err != nil {
		return nil, err
	}
	basePrice, err := e.price(market, market.BaseAsset)
	if err != nil {
		return nil, err
	}
	var seizedPrice *Price
	for i := range values {
		if values[i].Asset == asset {
			seizedPrice = &values[i].Price
		}
	}
	if seizedPrice == nil {
		return nil, ErrPriceUnavailable
	}
	if seizedPrice.PublishHeight == e.height || basePrice.PublishHeight == e.height {
		return nil, ErrLiquidationNotAllowed
	}

	debt := debtOf(market, position.DebtShares)
	result, err := CalculateLiquidation(LiquidationInput{
		Debt:                debt,
		LiquidationValue:    new(big.Int).Quo(weighted(values, liquidationLTVOf), PercentScale),
		LiquidationLTV:      cfg.LiquidationLTV,
		Discount:            cfg.LiquidationDiscount,
		Offered:             offered,
		Price:               relativePrice(seizedPrice, basePrice),
		CollateralDeposited: deposited,
		CollateralDecimals:  cfg.Decimals,
		BaseDecimals:        market.BaseDecimals,
		MinCollateral:       minCollateral,
	})
	if err != nil {
		return nil, err
	}

	if err := e.state.Transfer(market.BaseAsset, liquidator, e.marketAddr, result.Repay); err != nil {
		return nil, err
	}
	if err := e.creditCap(CapDebt, result.Repay, market.FreeLiquidity()); err != nil {
		return nil, err
	}
	e.settleDebt(market, position, result.Repay, result.Repay.Cmp(debt) >= 0)
	market.Cash.Add(market.Cash, result.Repay)

	if err := position.removeCollateral(asset, result.Collateral); err != nil {
		return nil, err
	}
	cfg.TotalDeposited = subFloor(cfg.TotalDeposited, result.Collateral)
	if err := e.state.PutCollateral(cfg); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(asset, e.marketAddr, liquidator, result.Collateral); err != nil {
		return nil, err
	}

	outcome := &LiquidationOutcome{
		Borrower: borrower,
		Asset:    asset,
		Repaid:   result.Repay,
		Seized:   result.Collateral,
		Full:     result.Full,
	}
	if !position.HasCollateral() && isPositive(position.DebtShares) {
		residual := minBig(debtOf(market, position.DebtShares), market.TotalDebt)
		market.DebtShareSupply = subFloor(market.DebtShareSupply, position.DebtShares)
		position.DebtShares = new(big.Int)
		market.TotalDebt = subFloor(market.TotalDebt, residual)
		social, err := e.socialize(market, residual)
		if err != nil {
			return nil, err
		}
		social.Borrower = borrower
		outcome.Socialized = social
	}

	if err := e.state.PutPosition(borrower, position); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventLiquidated, map[string]string{
		"liquidator": liquidator.String(),
		"borrower":   borrower.String(),
		"asset":      asset,
		"repaid":     amountAttr(result.Repay),
		"seized":     amountAttr(result.Collateral),
		"full":       strconv.FormatBool(outcome.Full),
	})
	if outcome.Socialized != nil {
		s := outcome.Socialized
		e.emit(EventSocialized, map[string]string{
			"borrower":    borrower.String(),
			"loss":        amountAttr(s.Loss),
			"fromReserve": amountAttr(s.FromReserve),
			"fromStakers": amountAttr(s.FromStakers),
			"diluted":     amountAttr(s.Diluted),
		})
	}
	return outcome, nil
}

// LiquidationEntry is one element of a batch.
type LiquidationEntry struct {
	Borrower      crypto.Address
	Asset         string
	Repay         *big.Int
	MinCollateral *big.Int
}

// LiquidationEntryResult pairs a batch entry with its outcome. Skipped marks
// nil entries.
type LiquidationEntryResult struct {
	Index   int
	Outcome *LiquidationOutcome
	Err     error
	Skipped bool
}

// BatchLiquidate applies up to MaxBatchLiquidations independent liquidations.
// A failing entry is rolled back on its own and does not affect the others.
func (e *Engine) BatchLiquidate(liquidator crypto.Address, entries []*LiquidationEntry) ([]LiquidationEntryResult, error) {
	if len(entries) > MaxBatchLiquidations {
		return nil, ErrBatchTooLarge
	}
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	results := make([]LiquidationEntryResult, len(entries))
	for i, entry := range entries {
		results[i].Index = i
		if entry == nil {
			results[i].Skipped = true
			continue
		}
		id := e.state.Snapshot()
		eventMark := len(e.events)
		outcome, err := e.Liquidate(liquidator, entry.Borrower, entry.Asset, entry.Repay, entry.MinCollateral)
		if err != nil {
			e.state.RevertToSnapshot(id)
			e.events = e.events[:eventMark]
			results[i].Err = err
			continue
		}
		results[i].Outcome = outcome
	}
	return results, nil
}
