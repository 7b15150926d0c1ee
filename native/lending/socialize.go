package lending

import (
	"math/big"

	"lendmarket/crypto"
)

// Socialization reports how a bad-debt write-off was absorbed.
type Socialization struct {
	Borrower    crypto.Address
	Loss        *big.Int
	FromReserve *big.Int
	// FromStakers is the LP value burned from the staking account; the
	// active/queued split is pro rata to their share counts.
	FromStakers    *big.Int
	FromActive     *big.Int
	FromQueued     *big.Int
	StakerLPBurned *big.Int
	// Diluted is the remainder written off against all LPs.
	Diluted *big.Int
}

// socialize absorbs loss, already removed from TotalDebt, first from the
// reserve, then by burning LP shares held by the staking account, and finally
// by reducing TotalAssets. It never fails on insufficient buffers.
func (e *Engine) socialize(market *Market, loss *big.Int) (*Socialization, error) {
	out := &Socialization{
		Loss:           clone(loss),
		FromReserve:    new(big.Int),
		FromStakers:    new(big.Int),
		FromActive:     new(big.Int),
		FromQueued:     new(big.Int),
		StakerLPBurned: new(big.Int),
		Diluted:        new(big.Int),
	}
	remaining := clone(loss)
	if remaining.Sign() == 0 {
		return out, nil
	}

	out.FromReserve = minBig(market.Reserve, remaining)
	market.Reserve.Sub(market.Reserve, out.FromReserve)
	remaining.Sub(remaining, out.FromReserve)

	if remaining.Sign() > 0 && market.LPShareSupply.Sign() > 0 {
		held, err := e.state.LPBalance(e.stakingAddr)
		if err != nil {
			return nil, err
		}
		value := amountForShares(held, market.LPShareSupply, market.TotalAssets, false)
		cover := minBig(value, remaining)
		if cover.Sign() > 0 {
			burned := minBig(mulDivUp(cover, market.LPShareSupply, market.TotalAssets), held)
			if err := e.state.PutLPBalance(e.stakingAddr, new(big.Int).Sub(held, burned)); err != nil {
				return nil, err
			}
			market.LPShareSupply.Sub(market.LPShareSupply, burned)
			market.TotalAssets = subFloor(market.TotalAssets, cover)
			remaining.Sub(remaining, cover)
			out.FromStakers = cover
			out.StakerLPBurned = burned

			pool, err := e.state.StakingPool()
			if err != nil {
				return nil, err
			}
			total := pool.TotalShares()
			if total.Sign() > 0 {
				out.FromActive = mulDiv(cover, pool.ActiveShares, total)
				out.FromQueued = new(big.Int).Sub(cover, out.FromActive)
			} else {
				out.FromActive = clone(cover)
			}
		}
	}

	if remaining.Sign() > 0 {
		out.Diluted = minBig(remaining, market.TotalAssets)
		market.TotalAssets.Sub(market.TotalAssets, out.Diluted)
	}
	return out, nil
}
