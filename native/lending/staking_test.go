package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestStakeLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(depositorAddr, 1_000_000)

	var minted *big.Int
	h.mustRun(func(e *Engine) error {
		var err error
		minted, err = e.Stake(depositorAddr, big.NewInt(400_000))
		return err
	})
	if minted.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("first stake must mint 1:1, got %s", minted)
	}
	err := h.run(func(e *Engine) error {
		_, err := e.Stake(depositorAddr, big.NewInt(600_001))
		return err
	})
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected insufficient shares, got %v", err)
	}

	var req *UnstakeRequest
	h.mustRun(func(e *Engine) error {
		var err error
		req, err = e.InitiateUnstake(depositorAddr, big.NewInt(100_000))
		return err
	})
	if req.FinalizeAt != h.height+DefaultStakingCooldown {
		t.Fatalf("unexpected finalize height %d", req.FinalizeAt)
	}
	err = h.run(func(e *Engine) error {
		_, err := e.InitiateUnstake(depositorAddr, big.NewInt(300_001))
		return err
	})
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected insufficient staked shares, got %v", err)
	}

	var summary *StakingSummary
	h.mustRun(func(e *Engine) error {
		var err error
		summary, err = e.Staking()
		return err
	})
	if summary.ActiveShares.Cmp(big.NewInt(300_000)) != 0 || summary.QueuedShares.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected pool %s/%s", summary.ActiveShares, summary.QueuedShares)
	}
	if summary.HeldValue.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("unexpected held value %s", summary.HeldValue)
	}

	err = h.run(func(e *Engine) error {
		_, err := e.FinalizeUnstake(depositorAddr, req.ID)
		return err
	})
	if !errors.Is(err, ErrUnstakeNotFinalized) {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	err = h.run(func(e *Engine) error {
		_, err := e.FinalizeUnstake(depositorAddr, "missing")
		return err
	})
	if !errors.Is(err, ErrUnstakeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	h.mustRun(func(e *Engine) error { return e.SetFeature(governanceAddr, FeatureStaking, false) })
	err = h.run(func(e *Engine) error {
		_, err := e.Stake(depositorAddr, big.NewInt(1))
		return err
	})
	if !errors.Is(err, ErrStakingDisabled) {
		t.Fatalf("expected staking disabled, got %v", err)
	}

	h.advance(DefaultStakingCooldown, 0)
	var payout *big.Int
	h.mustRun(func(e *Engine) error {
		var err error
		payout, err = e.FinalizeUnstake(depositorAddr, req.ID)
		return err
	})
	if payout.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected payout %s", payout)
	}

	var account *AccountSummary
	h.mustRun(func(e *Engine) error {
		var err error
		account, err = e.Account(depositorAddr)
		return err
	})
	if account.LPShares.Cmp(big.NewInt(700_000)) != 0 || account.Staked.Cmp(big.NewInt(300_000)) != 0 {
		t.Fatalf("unexpected account %s lp / %s staked", account.LPShares, account.Staked)
	}
	if len(account.Requests) != 0 {
		t.Fatalf("finalized request still listed")
	}
	if account.LPValue.Cmp(big.NewInt(700_000)) != 0 {
		t.Fatalf("unexpected lp value %s", account.LPValue)
	}
}

func TestStakeMintsAtPoolPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(depositorAddr, 1_000_000)
	h.deposit(stakerAddr, 1_000_000)
	h.mustRun(func(e *Engine) error {
		_, err := e.Stake(depositorAddr, big.NewInt(100_000))
		return err
	})
	// reward shares double the LP held per pool share.
	h.mustRun(func(e *Engine) error {
		held, err := e.state.LPBalance(e.stakingAddr)
		if err != nil {
			return err
		}
		return e.state.PutLPBalance(e.stakingAddr, held.Add(held, big.NewInt(100_000)))
	})
	var minted *big.Int
	h.mustRun(func(e *Engine) error {
		var err error
		minted, err = e.Stake(stakerAddr, big.NewInt(100_000))
		return err
	})
	if minted.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("expected 50000 pool shares, got %s", minted)
	}
}

func TestStakingCooldownIsGoverned(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(depositorAddr, 1_000)
	if err := h.run(func(e *Engine) error { return e.SetStakingCooldown(depositorAddr, 5) }); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("expected governance error, got %v", err)
	}
	h.mustRun(func(e *Engine) error { return e.SetStakingCooldown(governanceAddr, 5) })
	h.mustRun(func(e *Engine) error {
		_, err := e.Stake(depositorAddr, big.NewInt(500))
		return err
	})

	var req *UnstakeRequest
	h.mustRun(func(e *Engine) error {
		var err error
		req, err = e.InitiateUnstake(depositorAddr, big.NewInt(500))
		return err
	})
	if req.FinalizeAt != h.height+5 {
		t.Fatalf("unexpected finalize height %d", req.FinalizeAt)
	}
	h.advance(5, 60)
	h.mustRun(func(e *Engine) error {
		_, err := e.FinalizeUnstake(depositorAddr, req.ID)
		return err
	})
	if got := h.lpBalance(depositorAddr); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected lp balance %s", got)
	}
}
