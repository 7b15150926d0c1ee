package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"

	"lendmarket/crypto"
)

// MarketConfig is the TOML genesis description of a market. Large amounts
// and 1e12-scaled rates are decimal strings.
type MarketConfig struct {
	BaseAsset         string           `toml:"BaseAsset"`
	BaseDecimals      uint8            `toml:"BaseDecimals"`
	Deployer          string           `toml:"Deployer"`
	Governance        string           `toml:"Governance"`
	Feeder            string           `toml:"Feeder"`
	ReservePercentage uint64           `toml:"ReservePercentage"`
	AssetCap          string           `toml:"AssetCap"`
	FlashLoanFeeBps   uint64           `toml:"FlashLoanFeeBps"`
	MaxPriceAge       uint64           `toml:"MaxPriceAge"`
	StakingCooldown   uint64           `toml:"StakingCooldown"`
	MaxConfidenceBps  uint64           `toml:"MaxConfidenceBps"`
	FlashReceivers    []string         `toml:"FlashLoanReceivers"`
	Features          map[string]bool  `toml:"features"`
	Interest          *InterestConfig  `toml:"interest"`
	Reward            *RewardConfig    `toml:"reward"`
	Collateral        []CollateralToml `toml:"collateral"`
	Caps              []CapConfig      `toml:"cap"`
}

// InterestConfig mirrors InterestRateParams at the 1e12 scale.
type InterestConfig struct {
	Slope1   string `toml:"Slope1"`
	Slope2   string `toml:"Slope2"`
	Kink     string `toml:"Kink"`
	BaseRate string `toml:"BaseRate"`
}

// RewardConfig mirrors StakingRewardParams at the 1e8 scale.
type RewardConfig struct {
	Slope1 int64 `toml:"Slope1"`
	Slope2 int64 `toml:"Slope2"`
	Kink   int64 `toml:"Kink"`
	Base   int64 `toml:"Base"`
}

// CollateralToml lists one collateral asset.
type CollateralToml struct {
	Asset               string `toml:"Asset"`
	MaxLTV              uint64 `toml:"MaxLTV"`
	LiquidationLTV      uint64 `toml:"LiquidationLTV"`
	LiquidationDiscount uint64 `toml:"LiquidationDiscount"`
	Decimals            uint8  `toml:"Decimals"`
	Supported           *bool  `toml:"Supported"`
}

// CapConfig configures one withdrawal bucket. Resource is "lp", "debt" or
// "collateral:<asset>".
type CapConfig struct {
	Resource     string `toml:"Resource"`
	Factor       uint64 `toml:"Factor"`
	RefillWindow uint64 `toml:"RefillWindow"`
	DecayWindow  uint64 `toml:"DecayWindow"`
}

// LoadMarketConfig reads and defaults a market genesis file.
func LoadMarketConfig(path string) (*MarketConfig, error) {
	var cfg MarketConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode market config: %w", err)
	}
	cfg.EnsureDefaults()
	return &cfg, nil
}

// ParseMarketConfig decodes TOML from memory.
func ParseMarketConfig(data string) (*MarketConfig, error) {
	var cfg MarketConfig
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode market config: %w", err)
	}
	cfg.EnsureDefaults()
	return &cfg, nil
}

// EnsureDefaults fills unset knobs.
func (c *MarketConfig) EnsureDefaults() {
	if c.BaseDecimals == 0 {
		c.BaseDecimals = 8
	}
	if c.FlashLoanFeeBps == 0 {
		c.FlashLoanFeeBps = DefaultFlashLoanFeeBps
	}
	if c.StakingCooldown == 0 {
		c.StakingCooldown = DefaultStakingCooldown
	}
	for i := range c.Caps {
		if c.Caps[i].RefillWindow == 0 {
			c.Caps[i].RefillWindow = DefaultRefillWindow
		}
		if c.Caps[i].DecayWindow == 0 {
			c.Caps[i].DecayWindow = DefaultDecayWindow
		}
	}
}

func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "_", ""))
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return v, nil
}

func parseAddress(field, raw string, required bool) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		if required {
			return crypto.Address{}, fmt.Errorf("%s is required", field)
		}
		return crypto.Address{}, nil
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// Genesis validates the configuration and converts it into GenesisParams.
func (c *MarketConfig) Genesis() (*GenesisParams, error) {
	if strings.TrimSpace(c.BaseAsset) == "" {
		return nil, fmt.Errorf("BaseAsset is required")
	}
	if c.ReservePercentage > PercentScale.Uint64() {
		return nil, fmt.Errorf("ReservePercentage must not exceed %s", PercentScale)
	}
	if c.FlashLoanFeeBps > basisPoints.Uint64() {
		return nil, fmt.Errorf("FlashLoanFeeBps must not exceed %s", basisPoints)
	}
	deployer, err := parseAddress("Deployer", c.Deployer, true)
	if err != nil {
		return nil, err
	}
	governance, err := parseAddress("Governance", c.Governance, true)
	if err != nil {
		return nil, err
	}
	feeder, err := parseAddress("Feeder", c.Feeder, false)
	if err != nil {
		return nil, err
	}
	assetCap, err := parseAmount("AssetCap", c.AssetCap)
	if err != nil {
		return nil, err
	}
	features := AllFeatures()
	for name, enabled := range c.Features {
		if err := features.Set(Feature(name), enabled); err != nil {
			return nil, fmt.Errorf("features: unknown feature %q", name)
		}
	}
	params := &GenesisParams{
		BaseAsset:          strings.TrimSpace(c.BaseAsset),
		BaseDecimals:       c.BaseDecimals,
		Deployer:           deployer,
		Governance:         governance,
		Feeder:             feeder,
		ReservePercentage:  c.ReservePercentage,
		AssetCap:           assetCap,
		Features:           features,
		FlashLoanFeeBps:    c.FlashLoanFeeBps,
		MaxPriceAge:        c.MaxPriceAge,
		StakingCooldown:    c.StakingCooldown,
		MaxConfidenceBps:   c.MaxConfidenceBps,
		FlashLoanReceivers: append([]string(nil), c.FlashReceivers...),
		Caps:               make(map[CapResource]CapBucket),
	}
	if c.Interest != nil {
		ir := &InterestRateParams{}
		fields := []struct {
			name string
			raw  string
			dst  **big.Int
		}{
			{"interest.Slope1", c.Interest.Slope1, &ir.Slope1},
			{"interest.Slope2", c.Interest.Slope2, &ir.Slope2},
			{"interest.Kink", c.Interest.Kink, &ir.Kink},
			{"interest.BaseRate", c.Interest.BaseRate, &ir.BaseRate},
		}
		for _, f := range fields {
			v, err := parseAmount(f.name, f.raw)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		if err := ir.Validate(); err != nil {
			return nil, fmt.Errorf("interest: %w", err)
		}
		params.Interest = ir
	}
	if c.Reward != nil {
		reward := &StakingRewardParams{Slope1: c.Reward.Slope1, Slope2: c.Reward.Slope2, Kink: c.Reward.Kink, Base: c.Reward.Base}
		if err := reward.Validate(); err != nil {
			return nil, fmt.Errorf("reward: %w", err)
		}
		params.Reward = reward
	}
	seen := make(map[string]struct{})
	for i, entry := range c.Collateral {
		asset := strings.TrimSpace(entry.Asset)
		if _, dup := seen[asset]; dup {
			return nil, fmt.Errorf("collateral[%d]: duplicate asset %q", i, asset)
		}
		seen[asset] = struct{}{}
		supported := true
		if entry.Supported != nil {
			supported = *entry.Supported
		}
		cfg := CollateralConfig{
			Asset:               asset,
			MaxLTV:              entry.MaxLTV,
			LiquidationLTV:      entry.LiquidationLTV,
			LiquidationDiscount: entry.LiquidationDiscount,
			Decimals:            entry.Decimals,
			Supported:           supported,
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("collateral[%d]: %w", i, err)
		}
		params.Collaterals = append(params.Collaterals, cfg)
	}
	for i, entry := range c.Caps {
		resource := CapResource(strings.TrimSpace(entry.Resource))
		switch {
		case resource == CapLP, resource == CapDebt:
		case strings.HasPrefix(string(resource), "collateral:"):
			if _, ok := seen[strings.TrimPrefix(string(resource), "collateral:")]; !ok {
				return nil, fmt.Errorf("cap[%d]: unknown collateral %q", i, resource)
			}
		default:
			return nil, fmt.Errorf("cap[%d]: unknown resource %q", i, resource)
		}
		if entry.Factor > PercentScale.Uint64() {
			return nil, fmt.Errorf("cap[%d]: factor exceeds 100%%", i)
		}
		params.Caps[resource] = CapBucket{
			Factor:       entry.Factor,
			RefillWindow: entry.RefillWindow,
			DecayWindow:  entry.DecayWindow,
		}
	}
	return params, nil
}
