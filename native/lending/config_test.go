package lending

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleMarketConfig() string {
	return fmt.Sprintf(`
BaseAsset = "USD"
Deployer = %q
Governance = %q
Feeder = %q
ReservePercentage = 10_000_000
AssetCap = "1_000_000_000_000"
MaxPriceAge = 120
MaxConfidenceBps = 250
FlashLoanReceivers = ["arb"]

[features]
flash-loan = false

[interest]
Slope1 = "750000000000"
Slope2 = "1500000000000"
Kink = "700000000000"
BaseRate = "5000000000"

[reward]
Slope1 = -50_000_000
Slope2 = -70_000_000
Kink = 70_000_000
Base = 50_000_000

[[collateral]]
Asset = "BTC"
MaxLTV = 70_000_000
LiquidationLTV = 80_000_000
LiquidationDiscount = 10_000_000
Decimals = 8

[[cap]]
Resource = "lp"
Factor = 80_000_000

[[cap]]
Resource = "collateral:BTC"
Factor = 50_000_000
RefillWindow = 3600
`, deployerAddr.String(), governanceAddr.String(), feederAddr.String())
}

func TestParseMarketConfig(t *testing.T) {
	cfg, err := ParseMarketConfig(sampleMarketConfig())
	require.NoError(t, err)
	require.Equal(t, uint8(8), cfg.BaseDecimals)
	require.Equal(t, DefaultFlashLoanFeeBps, cfg.FlashLoanFeeBps)
	require.Equal(t, DefaultStakingCooldown, cfg.StakingCooldown)

	params, err := cfg.Genesis()
	require.NoError(t, err)
	require.Equal(t, "USD", params.BaseAsset)
	require.True(t, params.Governance.Equal(governanceAddr))
	require.Equal(t, "1000000000000", params.AssetCap.String())
	require.False(t, params.Features.FlashLoan)
	require.True(t, params.Features.Borrow)
	require.Equal(t, []string{"arb"}, params.FlashLoanReceivers)
	require.NotNil(t, params.Interest)
	require.Equal(t, "700000000000", params.Interest.Kink.String())
	require.Equal(t, testRewardParams(), *params.Reward)

	require.Len(t, params.Collaterals, 1)
	require.True(t, params.Collaterals[0].Supported)
	require.Equal(t, uint64(70_000_000), params.Collaterals[0].MaxLTV)

	require.Len(t, params.Caps, 2)
	lp := params.Caps[CapLP]
	require.Equal(t, DefaultRefillWindow, lp.RefillWindow)
	require.Equal(t, DefaultDecayWindow, lp.DecayWindow)
	btc := params.Caps[CollateralCap("BTC")]
	require.Equal(t, uint64(3600), btc.RefillWindow)
}

func TestLoadMarketConfigFeedsGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMarketConfig()), 0o600))
	cfg, err := LoadMarketConfig(path)
	require.NoError(t, err)
	params, err := cfg.Genesis()
	require.NoError(t, err)

	h := newHarness(t, func(p *GenesisParams) { *p = *params })
	m := h.market()
	require.Equal(t, uint64(120), m.MaxPriceAge)
	require.Equal(t, uint64(250), m.MaxConfidenceBps)
	require.False(t, m.Features.FlashLoan)
}

func TestMarketConfigRejects(t *testing.T) {
	base := fmt.Sprintf("BaseAsset = \"USD\"\nDeployer = %q\nGovernance = %q\n", deployerAddr.String(), governanceAddr.String())
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing governance", fmt.Sprintf("BaseAsset = \"USD\"\nDeployer = %q\n", deployerAddr.String()), "Governance is required"},
		{"bad address", "BaseAsset = \"USD\"\nDeployer = \"nope\"\nGovernance = \"nope\"\n", "Deployer"},
		{"unknown feature", base + "[features]\nteleport = true\n", "unknown feature"},
		{"bad kink", base + "[interest]\nSlope1 = \"1\"\nSlope2 = \"1\"\nKink = \"1000000000000\"\nBaseRate = \"0\"\n", "interest"},
		{"duplicate collateral", base + "[[collateral]]\nAsset = \"BTC\"\nDecimals = 8\n[[collateral]]\nAsset = \"BTC\"\nDecimals = 8\n", "duplicate"},
		{"unknown cap", base + "[[cap]]\nResource = \"collateral:ETH\"\nFactor = 1\n", "unknown collateral"},
		{"reserve too large", base + "ReservePercentage = 100_000_001\n", "ReservePercentage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseMarketConfig(tc.body)
			require.NoError(t, err)
			_, err = cfg.Genesis()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
