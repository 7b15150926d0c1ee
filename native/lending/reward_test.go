package lending

import (
	"errors"
	"math/big"
	"testing"
)

func testRewardParams() StakingRewardParams {
	return StakingRewardParams{
		Slope1: -50_000_000,
		Slope2: -70_000_000,
		Kink:   70_000_000,
		Base:   50_000_000,
	}
}

func TestStakingRewardPercentage(t *testing.T) {
	params := testRewardParams()
	cases := []struct {
		name   string
		staked int64
		total  int64
		want   int64
	}{
		{"below kink", 200, 500, 30_000_000},
		{"above kink", 400, 500, 8_000_000},
		{"clamped at zero", 500, 500, 0},
		{"nothing staked", 0, 500, 0},
		{"empty market", 10, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := params.Percentage(big.NewInt(tc.staked), big.NewInt(tc.total))
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("percentage(%d/%d) = %s, want %d", tc.staked, tc.total, got, tc.want)
			}
		})
	}
}

func TestStakingRewardValidate(t *testing.T) {
	if err := testRewardParams().Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	p := testRewardParams()
	p.Kink = 100_000_000
	if err := p.Validate(); !errors.Is(err, ErrRewardInvalidKink) {
		t.Fatalf("expected invalid kink, got %v", err)
	}
	p = testRewardParams()
	p.Kink = -1
	if err := p.Validate(); !errors.Is(err, ErrRewardInvalidKink) {
		t.Fatalf("expected invalid kink, got %v", err)
	}
	p = testRewardParams()
	p.Slope1, p.Slope2 = -70_000_000, -50_000_000
	if err := p.Validate(); !errors.Is(err, ErrRewardInvalidSlopes) {
		t.Fatalf("expected invalid slopes, got %v", err)
	}
}
