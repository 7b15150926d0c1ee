package lending

import (
	"math/big"

	"github.com/google/uuid"

	"lendmarket/crypto"
)

// DefaultStakingCooldown is the unstake delay in blocks.
const DefaultStakingCooldown uint64 = 100

func (e *Engine) beginStaking() (*Market, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	if !market.Features.Staking {
		return nil, ErrStakingDisabled
	}
	return market, nil
}

// Stake moves LP shares from owner into the staking account and mints pool
// shares at held LP / (active + queued), rounded down.
func (e *Engine) Stake(owner crypto.Address, lpShares *big.Int) (*big.Int, error) {
	market, err := e.beginStaking()
	if err != nil {
		return nil, err
	}
	if !isPositive(lpShares) {
		return nil, ErrZeroAmount
	}
	balance, err := e.state.LPBalance(owner)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(lpShares) < 0 {
		return nil, ErrInsufficientShares
	}
	held, err := e.state.LPBalance(e.stakingAddr)
	if err != nil {
		return nil, err
	}
	pool, err := e.state.StakingPool()
	if err != nil {
		return nil, err
	}
	// Stakers wiped out by a slash still hold pool shares until they leave.
	if held.Sign() == 0 && pool.TotalShares().Sign() > 0 {
		return nil, ErrSharesUnbacked
	}
	minted := sharesForAmount(lpShares, pool.TotalShares(), held, false)
	if minted.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	account, err := e.state.StakeAccount(owner)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutLPBalance(owner, balance.Sub(balance, lpShares)); err != nil {
		return nil, err
	}
	if err := e.state.PutLPBalance(e.stakingAddr, held.Add(held, lpShares)); err != nil {
		return nil, err
	}
	pool.ActiveShares = new(big.Int).Add(pool.ActiveShares, minted)
	account.Staked = new(big.Int).Add(account.Staked, minted)
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutStakeAccount(owner, account); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventStaked, map[string]string{
		"account":  owner.String(),
		"lpShares": amountAttr(lpShares),
		"shares":   amountAttr(minted),
	})
	return minted, nil
}

// InitiateUnstake queues shares for withdrawal after the cooldown. Queued
// shares keep absorbing losses until they are finalized.
func (e *Engine) InitiateUnstake(owner crypto.Address, shares *big.Int) (*UnstakeRequest, error) {
	market, err := e.beginStaking()
	if err != nil {
		return nil, err
	}
	if !isPositive(shares) {
		return nil, ErrZeroAmount
	}
	account, err := e.state.StakeAccount(owner)
	if err != nil {
		return nil, err
	}
	if account.Staked.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	pool, err := e.state.StakingPool()
	if err != nil {
		return nil, err
	}
	cooldown := market.StakingCooldown
	req := UnstakeRequest{
		ID:         uuid.NewString(),
		Shares:     clone(shares),
		FinalizeAt: e.height + cooldown,
	}
	account.Staked = new(big.Int).Sub(account.Staked, shares)
	account.Requests = append(account.Requests, req)
	pool.ActiveShares = subFloor(pool.ActiveShares, shares)
	pool.QueuedShares = new(big.Int).Add(pool.QueuedShares, shares)
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutStakeAccount(owner, account); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventUnstakeInitiated, map[string]string{
		"account":    owner.String(),
		"request":    req.ID,
		"shares":     amountAttr(shares),
		"finalizeAt": new(big.Int).SetUint64(req.FinalizeAt).String(),
	})
	return &req, nil
}

// FinalizeUnstake pays out a matured request in LP shares at the current pool
// price. It stays available when staking is switched off so queued stakers
// can always leave.
func (e *Engine) FinalizeUnstake(owner crypto.Address, requestID string) (*big.Int, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	account, err := e.state.StakeAccount(owner)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range account.Requests {
		if account.Requests[i].ID == requestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrUnstakeNotFound
	}
	req := account.Requests[idx]
	if e.height < req.FinalizeAt {
		return nil, ErrUnstakeNotFinalized
	}
	pool, err := e.state.StakingPool()
	if err != nil {
		return nil, err
	}
	held, err := e.state.LPBalance(e.stakingAddr)
	if err != nil {
		return nil, err
	}
	payout := minBig(amountForShares(req.Shares, pool.TotalShares(), held, false), held)
	pool.QueuedShares = subFloor(pool.QueuedShares, req.Shares)
	account.Requests = append(account.Requests[:idx], account.Requests[idx+1:]...)

	balance, err := e.state.LPBalance(owner)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutLPBalance(e.stakingAddr, held.Sub(held, payout)); err != nil {
		return nil, err
	}
	if err := e.state.PutLPBalance(owner, balance.Add(balance, payout)); err != nil {
		return nil, err
	}
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutStakeAccount(owner, account); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventUnstakeFinalized, map[string]string{
		"account":  owner.String(),
		"request":  requestID,
		"lpShares": amountAttr(payout),
	})
	return payout, nil
}

// StakingSummary is a read model of the staking pool.
type StakingSummary struct {
	ActiveShares *big.Int
	QueuedShares *big.Int
	HeldLP       *big.Int
	HeldValue    *big.Int
	Cooldown     uint64
}

// Staking returns the pool totals accrued to the current block.
func (e *Engine) Staking() (*StakingSummary, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	pool, err := e.state.StakingPool()
	if err != nil {
		return nil, err
	}
	held, err := e.state.LPBalance(e.stakingAddr)
	if err != nil {
		return nil, err
	}
	return &StakingSummary{
		ActiveShares: clone(pool.ActiveShares),
		QueuedShares: clone(pool.QueuedShares),
		HeldLP:       held,
		HeldValue:    amountForShares(held, market.LPShareSupply, market.TotalAssets, false),
		Cooldown:     market.StakingCooldown,
	}, nil
}

// AccountSummary is a principal's LP and staking holdings.
type AccountSummary struct {
	Owner       crypto.Address
	BaseBalance *big.Int
	LPShares    *big.Int
	LPValue     *big.Int
	Staked      *big.Int
	Requests    []UnstakeRequest
}

// Account returns owner's holdings valued at the current share price.
func (e *Engine) Account(owner crypto.Address) (*AccountSummary, error) {
	market, err := e.begin("")
	if err != nil {
		return nil, err
	}
	lp, err := e.state.LPBalance(owner)
	if err != nil {
		return nil, err
	}
	balance, err := e.state.Balance(market.BaseAsset, owner)
	if err != nil {
		return nil, err
	}
	account, err := e.state.StakeAccount(owner)
	if err != nil {
		return nil, err
	}
	return &AccountSummary{
		Owner:       owner,
		BaseBalance: balance,
		LPShares:    lp,
		LPValue:     amountForShares(lp, market.LPShareSupply, market.TotalAssets, false),
		Staked:      clone(account.Staked),
		Requests:    account.Requests,
	}, nil
}
