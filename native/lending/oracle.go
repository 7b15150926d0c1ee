package lending

import "math/big"

// PriceOracle supplies quotes for the base asset and every collateral. Quotes
// share a common unit so a collateral price divided by the base price gives
// its value in base units.
type PriceOracle interface {
	Price(asset string) (*Price, error)
}

// StateOracle serves the quotes pushed by the feeder principal through
// SetPrice.
type StateOracle struct {
	state State
}

// NewStateOracle reads prices from state.
func NewStateOracle(state State) *StateOracle {
	return &StateOracle{state: state}
}

func (o *StateOracle) Price(asset string) (*Price, error) {
	if o == nil || o.state == nil {
		return nil, ErrPriceUnavailable
	}
	return o.state.Price(asset)
}

// StaticOracle is a fixed price table.
type StaticOracle map[string]Price

func (s StaticOracle) Price(asset string) (*Price, error) {
	p, ok := s[asset]
	if !ok {
		return nil, ErrPriceUnavailable
	}
	out := p
	out.Value = clone(p.Value)
	out.Confidence = clone(p.Confidence)
	return &out, nil
}

// price fetches a quote and applies the market's staleness and confidence
// tolerances.
func (e *Engine) price(market *Market, asset string) (*Price, error) {
	oracle := e.oracle
	if oracle == nil {
		oracle = NewStateOracle(e.state)
	}
	p, err := oracle.Price(asset)
	if err != nil {
		return nil, err
	}
	if p == nil || !isPositive(p.Value) {
		return nil, ErrPriceUnavailable
	}
	if market.MaxPriceAge > 0 && e.now > p.PublishTime && e.now-p.PublishTime > market.MaxPriceAge {
		return nil, ErrStalePrice
	}
	if market.MaxConfidenceBps > 0 && isPositive(p.Confidence) {
		// confidence / value > bps / 10_000
		lhs := new(big.Int).Mul(p.Confidence, basisPoints)
		rhs := new(big.Int).Mul(p.Value, new(big.Int).SetUint64(market.MaxConfidenceBps))
		if lhs.Cmp(rhs) > 0 {
			return nil, ErrPriceUncertain
		}
	}
	return p, nil
}

// relativePrice quotes one unit of collateral in base units at the 1e8 scale.
func relativePrice(collateral, base *Price) *big.Int {
	return mulDiv(collateral.Value, PercentScale, base.Value)
}
