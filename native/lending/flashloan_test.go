package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendmarket/crypto"
)

type testReceiver struct {
	addr  crypto.Address
	short int64
	calls int
}

func (r *testReceiver) Address() crypto.Address { return r.addr }

func (r *testReceiver) OnFlashLoan(bank Bank, lender crypto.Address, asset string, amount, fee *big.Int, _ []byte) error {
	r.calls++
	due := new(big.Int).Add(amount, fee)
	due.Sub(due, big.NewInt(r.short))
	return bank.Transfer(asset, r.addr, lender, due)
}

func TestFlashLoanFee(t *testing.T) {
	cases := []struct {
		amount int64
		bps    uint64
		want   int64
	}{
		{100_000, 1, 10},
		{9_999, 1, 0},
		{1_000_000, 30, 3_000},
	}
	for _, tc := range cases {
		if got := FlashLoanFee(big.NewInt(tc.amount), tc.bps); got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("fee(%d, %d) = %s, want %d", tc.amount, tc.bps, got, tc.want)
		}
	}
}

func TestFlashLoan(t *testing.T) {
	h := newHarness(t, func(p *GenesisParams) { p.FlashLoanReceivers = []string{"arb", "ghost"} })
	good := &testReceiver{addr: makeAddress(crypto.AccountPrefix, 0x30)}
	cheat := &testReceiver{addr: makeAddress(crypto.AccountPrefix, 0x31), short: 1}
	h.engine.RegisterFlashLoanReceiver("arb", good)
	h.engine.RegisterFlashLoanReceiver("cheat", cheat)
	h.deposit(depositorAddr, 1_000_000)
	h.mint(testBase, good.addr, 10)
	h.mint(testBase, cheat.addr, 10)

	loan := func(name string, amount int64) (*big.Int, error) {
		var earned *big.Int
		err := h.run(func(e *Engine) error {
			var err error
			earned, err = e.FlashLoan(depositorAddr, name, big.NewInt(amount), nil)
			return err
		})
		return earned, err
	}

	earned, err := loan("arb", 100_000)
	if err != nil {
		t.Fatalf("flash loan: %v", err)
	}
	if earned.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected fee %s", earned)
	}
	m := h.market()
	if m.Cash.Cmp(big.NewInt(1_000_010)) != 0 || m.TotalAssets.Cmp(big.NewInt(1_000_010)) != 0 {
		t.Fatalf("fee not credited to LPs: cash %s assets %s", m.Cash, m.TotalAssets)
	}
	h.checkIdentity()

	if _, err := loan("cheat", 100_000); !errors.Is(err, ErrFlashLoanNotAllowed) {
		t.Fatalf("unlisted receiver accepted: %v", err)
	}
	if _, err := loan("ghost", 100_000); !errors.Is(err, ErrFlashLoanNotAllowed) {
		t.Fatalf("unregistered receiver accepted: %v", err)
	}
	h.mustRun(func(e *Engine) error { return e.SetFlashLoanReceivers(governanceAddr, []string{"arb", "cheat"}) })
	if _, err := loan("cheat", 100_000); !errors.Is(err, ErrFlashLoanNotRepaid) {
		t.Fatalf("short repayment accepted: %v", err)
	}
	if got := h.balance(testBase, cheat.addr); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed loan leaked funds, receiver holds %s", got)
	}
	if _, err := loan("arb", 2_000_000); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}

	h.mustRun(func(e *Engine) error { return e.SetFeature(governanceAddr, FeatureFlashLoan, false) })
	if _, err := loan("arb", 1_000); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected feature disabled, got %v", err)
	}
}
