package lending

import (
	"math/big"

	"lendmarket/crypto"
)

func (e *Engine) governance() (*GovernanceState, error) {
	gov, err := e.state.Governance()
	if err != nil {
		return nil, err
	}
	if gov == nil {
		return nil, errNilMarket
	}
	return gov, nil
}

// govUpdate accrues the market, checks that caller is governance and applies
// fn before persisting the market and governance records.
func (e *Engine) govUpdate(caller crypto.Address, fn func(market *Market, gov *GovernanceState) error) error {
	market, err := e.begin("")
	if err != nil {
		return err
	}
	gov, err := e.governance()
	if err != nil {
		return err
	}
	if caller.String() != gov.Governance {
		return ErrNotGovernance
	}
	if err := fn(market, gov); err != nil {
		return err
	}
	if err := e.state.PutGovernance(gov); err != nil {
		return err
	}
	return e.state.PutMarket(market)
}

// InitInterestParams is the one-time deploy initialisation of the rate curve.
func (e *Engine) InitInterestParams(caller crypto.Address, params *InterestRateParams) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	gov, err := e.governance()
	if err != nil {
		return err
	}
	if caller.String() != gov.Deployer {
		return ErrNotDeployer
	}
	if gov.IRInitialized {
		return ErrIRAlreadyInitialized
	}
	if err := params.Validate(); err != nil {
		return err
	}
	gov.IRInitialized = true
	if err := e.state.PutInterestParams(params.Clone()); err != nil {
		return err
	}
	return e.state.PutGovernance(gov)
}

// UpdateInterestParams replaces the rate curve after settling interest at the
// old rates.
func (e *Engine) UpdateInterestParams(caller crypto.Address, params *InterestRateParams) error {
	return e.govUpdate(caller, func(_ *Market, gov *GovernanceState) error {
		if !gov.IRInitialized {
			return ErrInterestNotInitialized
		}
		if err := params.Validate(); err != nil {
			return err
		}
		return e.state.PutInterestParams(params.Clone())
	})
}

// InitRewardParams is the one-time deploy initialisation of the staking
// reward curve.
func (e *Engine) InitRewardParams(caller crypto.Address, params StakingRewardParams) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	gov, err := e.governance()
	if err != nil {
		return err
	}
	if caller.String() != gov.Deployer {
		return ErrRewardNotDeployer
	}
	if gov.RewardInitialized {
		return ErrRewardAlreadyInitialized
	}
	if err := params.Validate(); err != nil {
		return err
	}
	gov.RewardInitialized = true
	if err := e.state.PutRewardParams(&params); err != nil {
		return err
	}
	return e.state.PutGovernance(gov)
}

// UpdateRewardParams replaces the staking reward curve.
func (e *Engine) UpdateRewardParams(caller crypto.Address, params StakingRewardParams) error {
	return e.govUpdate(caller, func(_ *Market, _ *GovernanceState) error {
		if err := params.Validate(); err != nil {
			return err
		}
		return e.state.PutRewardParams(&params)
	})
}

// UpdateGovernance hands governance to next. Only the current governance
// principal may call it.
func (e *Engine) UpdateGovernance(caller, next crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	gov, err := e.governance()
	if err != nil {
		return err
	}
	if caller.String() != gov.Governance {
		return ErrNotAuthorized
	}
	if next.IsZero() {
		return ErrInvalidParams
	}
	gov.Governance = next.String()
	if err := e.state.PutGovernance(gov); err != nil {
		return err
	}
	e.emit(EventGovernanceUpdated, map[string]string{
		"previous": caller.String(),
		"next":     next.String(),
	})
	return nil
}

// SetCollateral lists or updates a collateral asset. Updating stamps the
// current height, which blocks liquidations against the asset in this block.
func (e *Engine) SetCollateral(caller crypto.Address, cfg CollateralConfig) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Asset == market.BaseAsset {
			return ErrInvalidCollateralParams
		}
		existing, err := e.state.Collateral(cfg.Asset)
		if err != nil {
			return err
		}
		next := cfg.Clone()
		next.TotalDeposited = new(big.Int)
		if existing != nil {
			next.TotalDeposited = clone(existing.TotalDeposited)
		}
		next.UpdatedHeight = e.height
		return e.state.PutCollateral(next)
	})
}

// SetFeature toggles a market feature.
func (e *Engine) SetFeature(caller crypto.Address, feature Feature, enabled bool) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		return market.Features.Set(feature, enabled)
	})
}

// SetCapParams configures a withdrawal bucket. Zero windows fall back to the
// defaults; a zero factor disables the bucket.
func (e *Engine) SetCapParams(caller crypto.Address, resource CapResource, factor, refillWindow, decayWindow uint64) error {
	return e.govUpdate(caller, func(_ *Market, _ *GovernanceState) error {
		if factor > PercentScale.Uint64() || resource == "" {
			return ErrInvalidParams
		}
		bucket, err := e.state.Bucket(resource)
		if err != nil {
			return err
		}
		if bucket == nil {
			bucket = &CapBucket{Available: new(big.Int)}
		}
		if refillWindow == 0 {
			refillWindow = DefaultRefillWindow
		}
		if decayWindow == 0 {
			decayWindow = DefaultDecayWindow
		}
		bucket.Factor = factor
		bucket.RefillWindow = refillWindow
		bucket.DecayWindow = decayWindow
		return e.state.PutBucket(resource, bucket)
	})
}

// SetAssetCap bounds TotalAssets after deposits; zero removes the cap.
func (e *Engine) SetAssetCap(caller crypto.Address, limit *big.Int) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		if limit != nil && limit.Sign() < 0 {
			return ErrInvalidParams
		}
		market.AssetCap = clone(limit)
		return nil
	})
}

// SetReservePercentage sets the reserve cut of future interest. Interest up to
// now is settled at the previous percentage.
func (e *Engine) SetReservePercentage(caller crypto.Address, pct uint64) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		if pct > PercentScale.Uint64() {
			return ErrInvalidParams
		}
		market.ReservePercentage = pct
		return nil
	})
}

// WithdrawFromReserve pays amount of the reserve to recipient.
func (e *Engine) WithdrawFromReserve(caller, recipient crypto.Address, amount *big.Int) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		if !isPositive(amount) {
			return ErrZeroAmount
		}
		if amount.Cmp(market.Reserve) > 0 || amount.Cmp(market.Cash) > 0 {
			return ErrInsufficientLiquidity
		}
		market.Reserve.Sub(market.Reserve, amount)
		market.Cash.Sub(market.Cash, amount)
		if err := e.state.Transfer(market.BaseAsset, e.marketAddr, recipient, amount); err != nil {
			return err
		}
		e.emit(EventReserveWithdraw, map[string]string{
			"recipient": recipient.String(),
			"amount":    amountAttr(amount),
		})
		return nil
	})
}

// SetFlashLoanFee sets the flash-loan fee in basis points.
func (e *Engine) SetFlashLoanFee(caller crypto.Address, bps uint64) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		if bps > basisPoints.Uint64() {
			return ErrInvalidParams
		}
		market.FlashLoanFeeBps = bps
		return nil
	})
}

// SetFlashLoanReceivers replaces the receiver allow-list.
func (e *Engine) SetFlashLoanReceivers(caller crypto.Address, names []string) error {
	return e.govUpdate(caller, func(_ *Market, gov *GovernanceState) error {
		gov.FlashLoanReceivers = append([]string(nil), names...)
		return nil
	})
}

// SetFeeder changes the principal allowed to publish prices.
func (e *Engine) SetFeeder(caller, feeder crypto.Address) error {
	return e.govUpdate(caller, func(_ *Market, gov *GovernanceState) error {
		if feeder.IsZero() {
			return ErrInvalidParams
		}
		gov.Feeder = feeder.String()
		return nil
	})
}

// SetMaxPriceAge sets the oracle staleness tolerance in seconds.
func (e *Engine) SetMaxPriceAge(caller crypto.Address, seconds uint64) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		market.MaxPriceAge = seconds
		return nil
	})
}

// SetMaxConfidence bounds quote confidence to bps of the price.
func (e *Engine) SetMaxConfidence(caller crypto.Address, bps uint64) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		if bps > basisPoints.Uint64() {
			return ErrInvalidParams
		}
		market.MaxConfidenceBps = bps
		return nil
	})
}

// SetStakingCooldown sets the unstake delay in blocks.
func (e *Engine) SetStakingCooldown(caller crypto.Address, blocks uint64) error {
	return e.govUpdate(caller, func(market *Market, _ *GovernanceState) error {
		market.StakingCooldown = blocks
		return nil
	})
}

// SetPrice records a quote from the feeder principal, stamped with the
// current block.
func (e *Engine) SetPrice(caller crypto.Address, asset string, value, confidence *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	gov, err := e.governance()
	if err != nil {
		return err
	}
	if gov.Feeder == "" || caller.String() != gov.Feeder {
		return ErrNotAuthorized
	}
	if asset == "" || !isPositive(value) {
		return ErrInvalidParams
	}
	if err := e.state.PutPrice(asset, &Price{
		Value:         clone(value),
		Confidence:    clone(confidence),
		PublishTime:   e.now,
		PublishHeight: e.height,
	}); err != nil {
		return err
	}
	e.emit(EventPriceUpdated, map[string]string{
		"asset": asset,
		"price": amountAttr(value),
	})
	return nil
}

// Caps returns every configured bucket synced to the current block.
func (e *Engine) Caps() (map[CapResource]*CapBucket, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	out := make(map[CapResource]*CapBucket)
	add := func(resource CapResource, pool *big.Int) error {
		bucket, err := e.state.Bucket(resource)
		if err != nil || bucket == nil {
			return err
		}
		bucket.Sync(pool, e.now)
		out[resource] = bucket
		return nil
	}
	if err := add(CapLP, market.Cash); err != nil {
		return nil, err
	}
	if err := add(CapDebt, market.FreeLiquidity()); err != nil {
		return nil, err
	}
	collaterals, err := e.state.Collaterals()
	if err != nil {
		return nil, err
	}
	for _, cfg := range collaterals {
		if err := add(CollateralCap(cfg.Asset), cfg.TotalDeposited); err != nil {
			return nil, err
		}
	}
	return out, nil
}
