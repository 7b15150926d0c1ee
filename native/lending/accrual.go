package lending

import "math/big"

// accrue compounds TotalDebt from LastAccrual to the engine clock and splits
// the interest between the reserve, stakers and LPs. The clock always
// advances; with interest accrual switched off the debt stays frozen.
func (e *Engine) accrue(market *Market) error {
	if e.now <= market.LastAccrual {
		return nil
	}
	elapsed := e.now - market.LastAccrual
	market.LastAccrual = e.now
	if !market.Features.InterestAccrual || !isPositive(market.TotalDebt) {
		return nil
	}
	params, err := e.state.InterestParams()
	if err != nil {
		return err
	}
	if params == nil {
		return nil
	}
	model, err := NewLinearKinkedModel(params)
	if err != nil {
		return err
	}
	interest, err := AccrueInterest(model, market.TotalDebt, market.TotalAssets, elapsed)
	if err != nil {
		return err
	}
	if interest.Sign() == 0 {
		return nil
	}

	reserveCut := mulDiv(interest, new(big.Int).SetUint64(market.ReservePercentage), PercentScale)
	lpInterest := new(big.Int).Sub(interest, reserveCut)
	market.TotalDebt.Add(market.TotalDebt, interest)
	market.Reserve.Add(market.Reserve, reserveCut)

	minted, err := e.mintStakerReward(market, lpInterest)
	if err != nil {
		return err
	}
	market.TotalAssets.Add(market.TotalAssets, lpInterest)

	e.emit(EventAccrued, map[string]string{
		"elapsed":      new(big.Int).SetUint64(elapsed).String(),
		"interest":     interest.String(),
		"reserve":      reserveCut.String(),
		"stakerShares": minted.String(),
	})
	return nil
}

// mintStakerReward dilutes LPs in favour of the staking account so that the
// staker share of lpInterest is claimable through its LP balance. It runs
// before TotalAssets includes lpInterest.
func (e *Engine) mintStakerReward(market *Market, lpInterest *big.Int) (*big.Int, error) {
	minted := new(big.Int)
	if !isPositive(lpInterest) || market.LPShareSupply.Sign() == 0 {
		return minted, nil
	}
	params, err := e.state.RewardParams()
	if err != nil || params == nil {
		return minted, err
	}
	staked, err := e.state.LPBalance(e.stakingAddr)
	if err != nil {
		return nil, err
	}
	pct := params.Percentage(staked, market.LPShareSupply)
	stakerCut := mulDiv(lpInterest, pct, PercentScale)
	if stakerCut.Sign() == 0 {
		return minted, nil
	}
	// shares s satisfy s/(S+s) = cut/(A+lp) once lp has been added to A.
	denom := new(big.Int).Add(market.TotalAssets, lpInterest)
	denom.Sub(denom, stakerCut)
	if denom.Sign() <= 0 {
		return minted, nil
	}
	minted = mulDiv(stakerCut, market.LPShareSupply, denom)
	if minted.Sign() == 0 {
		return minted, nil
	}
	market.LPShareSupply.Add(market.LPShareSupply, minted)
	if err := e.state.PutLPBalance(e.stakingAddr, staked.Add(staked, minted)); err != nil {
		return nil, err
	}
	return minted, nil
}
