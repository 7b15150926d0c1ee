package lending

import (
	"math/big"
	"strings"

	"lendmarket/crypto"
)

// Feature names a governance-controlled switch.
type Feature string

const (
	FeatureDeposit          Feature = "deposit"
	FeatureWithdraw         Feature = "withdraw"
	FeatureBorrow           Feature = "borrow"
	FeatureRepay            Feature = "repay"
	FeatureAddCollateral    Feature = "add-collateral"
	FeatureRemoveCollateral Feature = "remove-collateral"
	FeatureLiquidation      Feature = "liquidation"
	FeatureStaking          Feature = "staking"
	FeatureInterestAccrual  Feature = "interest-accrual"
	FeatureFlashLoan        Feature = "flash-loan"
)

// FeatureNames lists every switch in a stable order.
func FeatureNames() []Feature {
	return []Feature{
		FeatureDeposit, FeatureWithdraw, FeatureBorrow, FeatureRepay,
		FeatureAddCollateral, FeatureRemoveCollateral, FeatureLiquidation,
		FeatureStaking, FeatureInterestAccrual, FeatureFlashLoan,
	}
}

// Features stores the switches as plain fields so the record stays
// rlp-encodable.
type Features struct {
	Deposit          bool
	Withdraw         bool
	Borrow           bool
	Repay            bool
	AddCollateral    bool
	RemoveCollateral bool
	Liquidation      bool
	Staking          bool
	InterestAccrual  bool
	FlashLoan        bool
}

// AllFeatures returns a set with every switch on.
func AllFeatures() Features {
	return Features{
		Deposit: true, Withdraw: true, Borrow: true, Repay: true,
		AddCollateral: true, RemoveCollateral: true, Liquidation: true,
		Staking: true, InterestAccrual: true, FlashLoan: true,
	}
}

func (f *Features) field(name Feature) *bool {
	switch Feature(strings.ToLower(strings.TrimSpace(string(name)))) {
	case FeatureDeposit:
		return &f.Deposit
	case FeatureWithdraw:
		return &f.Withdraw
	case FeatureBorrow:
		return &f.Borrow
	case FeatureRepay:
		return &f.Repay
	case FeatureAddCollateral:
		return &f.AddCollateral
	case FeatureRemoveCollateral:
		return &f.RemoveCollateral
	case FeatureLiquidation:
		return &f.Liquidation
	case FeatureStaking:
		return &f.Staking
	case FeatureInterestAccrual:
		return &f.InterestAccrual
	case FeatureFlashLoan:
		return &f.FlashLoan
	}
	return nil
}

// FeatureEnabled implements common.FeatureView. Unknown names are disabled.
func (f Features) FeatureEnabled(name string) bool {
	ptr := f.field(Feature(name))
	return ptr != nil && *ptr
}

// Set toggles a switch.
func (f *Features) Set(name Feature, enabled bool) error {
	ptr := f.field(name)
	if ptr == nil {
		return ErrInvalidParams
	}
	*ptr = enabled
	return nil
}

// Market is the singleton ledger for the base asset. Amounts are in base
// asset units.
type Market struct {
	// BaseAsset identifies the lent asset in the bank.
	BaseAsset    string
	BaseDecimals uint8
	// TotalAssets is the LP claim on the market: idle cash plus lent funds
	// plus accrued interest, less the reserve.
	TotalAssets *big.Int
	// TotalDebt is the outstanding borrowed amount including interest.
	TotalDebt       *big.Int
	LPShareSupply   *big.Int
	DebtShareSupply *big.Int
	// Reserve is the protocol's share of accrued interest plus donations.
	Reserve *big.Int
	// Cash is the base asset physically held by the market account.
	Cash        *big.Int
	LastAccrual uint64
	// ReservePercentage is the cut of accrued interest kept as reserve (1e8).
	ReservePercentage uint64
	// AssetCap bounds TotalAssets after deposits; zero means uncapped.
	AssetCap        *big.Int
	Features        Features
	FlashLoanFeeBps uint64
	// MaxPriceAge is the oracle staleness tolerance in seconds; zero
	// disables the check.
	MaxPriceAge     uint64
	StakingCooldown uint64
	// MaxConfidenceBps bounds a quote's confidence interval relative to its
	// value; zero disables the check.
	MaxConfidenceBps uint64
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	out := *m
	out.TotalAssets = clone(m.TotalAssets)
	out.TotalDebt = clone(m.TotalDebt)
	out.LPShareSupply = clone(m.LPShareSupply)
	out.DebtShareSupply = clone(m.DebtShareSupply)
	out.Reserve = clone(m.Reserve)
	out.Cash = clone(m.Cash)
	out.AssetCap = clone(m.AssetCap)
	return &out
}

func (m *Market) normalize() {
	m.TotalAssets = clone(m.TotalAssets)
	m.TotalDebt = clone(m.TotalDebt)
	m.LPShareSupply = clone(m.LPShareSupply)
	m.DebtShareSupply = clone(m.DebtShareSupply)
	m.Reserve = clone(m.Reserve)
	m.Cash = clone(m.Cash)
	m.AssetCap = clone(m.AssetCap)
}

// FreeLiquidity is the cash that may be lent out; the reserve stays behind.
func (m *Market) FreeLiquidity() *big.Int {
	return subFloor(m.Cash, m.Reserve)
}

// GovernanceState records the privileged principals.
type GovernanceState struct {
	Deployer          string
	Governance        string
	Feeder            string
	IRInitialized     bool
	RewardInitialized bool
	// FlashLoanReceivers is the allow-list of receiver names.
	FlashLoanReceivers []string
}

func (g *GovernanceState) receiverAllowed(name string) bool {
	for _, allowed := range g.FlashLoanReceivers {
		if allowed == name {
			return true
		}
	}
	return false
}

// CollateralConfig describes one collateral asset. Percentages use the 1e8
// scale.
type CollateralConfig struct {
	Asset               string
	MaxLTV              uint64
	LiquidationLTV      uint64
	LiquidationDiscount uint64
	Decimals            uint8
	// Supported gates new deposits; repay and removal keep working when it
	// is switched off.
	Supported      bool
	UpdatedHeight  uint64
	TotalDeposited *big.Int
}

// Clone returns a deep copy.
func (c *CollateralConfig) Clone() *CollateralConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.TotalDeposited = clone(c.TotalDeposited)
	return &out
}

const maxDecimals = 36

// Validate checks the percentage ordering. A zero MaxLTV is allowed so an
// asset can be listed before it is enabled for borrowing power.
func (c *CollateralConfig) Validate() error {
	if c == nil || strings.TrimSpace(c.Asset) == "" {
		return ErrInvalidCollateralParams
	}
	scale := PercentScale.Uint64()
	if c.LiquidationLTV > scale || c.MaxLTV > c.LiquidationLTV {
		return ErrInvalidCollateralParams
	}
	if c.LiquidationDiscount >= scale {
		return ErrInvalidCollateralParams
	}
	if c.Decimals > maxDecimals {
		return ErrInvalidCollateralParams
	}
	return nil
}

// MaxCollateralSlots bounds the number of live collateral types per position.
const MaxCollateralSlots = 10

// CollateralSlot is one entry of a position's collateral arena.
type CollateralSlot struct {
	Asset  string
	Amount *big.Int
	Live   bool
}

// Position is a borrower's debt shares and collateral. Slots keep first-deposit
// order; emptied slots are tombstoned and dropped when the position is stored.
type Position struct {
	DebtShares *big.Int
	Slots      []CollateralSlot
	// LastRiskHeight is the block of the last borrow or collateral removal.
	LastRiskHeight uint64
}

// NewPosition returns an empty position.
func NewPosition() *Position {
	return &Position{DebtShares: new(big.Int)}
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	if p == nil {
		return NewPosition()
	}
	out := &Position{DebtShares: clone(p.DebtShares), LastRiskHeight: p.LastRiskHeight}
	out.Slots = make([]CollateralSlot, len(p.Slots))
	for i, slot := range p.Slots {
		out.Slots[i] = CollateralSlot{Asset: slot.Asset, Amount: clone(slot.Amount), Live: slot.Live}
	}
	return out
}

func (p *Position) slot(asset string) int {
	for i := range p.Slots {
		if p.Slots[i].Live && p.Slots[i].Asset == asset {
			return i
		}
	}
	return -1
}

// Collateral returns the balance held for asset.
func (p *Position) Collateral(asset string) *big.Int {
	if idx := p.slot(asset); idx >= 0 {
		return clone(p.Slots[idx].Amount)
	}
	return new(big.Int)
}

// Assets lists live collateral assets in deposit order.
func (p *Position) Assets() []string {
	out := make([]string, 0, len(p.Slots))
	for _, slot := range p.Slots {
		if slot.Live {
			out = append(out, slot.Asset)
		}
	}
	return out
}

func (p *Position) addCollateral(asset string, amount *big.Int) error {
	if idx := p.slot(asset); idx >= 0 {
		p.Slots[idx].Amount = new(big.Int).Add(p.Slots[idx].Amount, amount)
		return nil
	}
	if len(p.Assets()) >= MaxCollateralSlots {
		return ErrTooManyCollaterals
	}
	p.Slots = append(p.Slots, CollateralSlot{Asset: asset, Amount: clone(amount), Live: true})
	return nil
}

func (p *Position) removeCollateral(asset string, amount *big.Int) error {
	idx := p.slot(asset)
	if idx < 0 || p.Slots[idx].Amount.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	remaining := new(big.Int).Sub(p.Slots[idx].Amount, amount)
	p.Slots[idx].Amount = remaining
	if remaining.Sign() == 0 {
		p.Slots[idx].Live = false
	}
	return nil
}

// compact drops tombstoned slots while preserving order.
func (p *Position) compact() {
	live := p.Slots[:0]
	for _, slot := range p.Slots {
		if slot.Live {
			live = append(live, slot)
		}
	}
	p.Slots = live
}

// HasCollateral reports whether any collateral remains.
func (p *Position) HasCollateral() bool {
	return len(p.Assets()) > 0
}

// IsEmpty reports a position with no debt and no collateral.
func (p *Position) IsEmpty() bool {
	return (p.DebtShares == nil || p.DebtShares.Sign() == 0) && !p.HasCollateral()
}

// StakingPool aggregates staked LP shares. The LP shares themselves sit in the
// staking module account.
type StakingPool struct {
	ActiveShares *big.Int
	QueuedShares *big.Int
}

// TotalShares returns active + queued.
func (s *StakingPool) TotalShares() *big.Int {
	return new(big.Int).Add(clone(s.ActiveShares), clone(s.QueuedShares))
}

// UnstakeRequest is a queued withdrawal from the staking pool.
type UnstakeRequest struct {
	ID         string
	Shares     *big.Int
	FinalizeAt uint64
}

// StakeAccount is a staker's active shares and pending requests.
type StakeAccount struct {
	Staked   *big.Int
	Requests []UnstakeRequest
}

// Price is an oracle quote for one unit of an asset at the 1e8 scale. All
// prices share a common quote currency.
type Price struct {
	Value         *big.Int
	Confidence    *big.Int
	PublishTime   uint64
	PublishHeight uint64
}

// PositionView is a read model of a position with valuations.
type PositionView struct {
	Owner           crypto.Address
	DebtShares      *big.Int
	Debt            *big.Int
	Collateral      []CollateralValue
	HealthFactor    *big.Int
	BorrowingPower  *big.Int
	LastRiskHeight  uint64
	Liquidatable    bool
	CollateralValue *big.Int
}

// CollateralValue is one collateral balance valued in base asset units.
type CollateralValue struct {
	Asset  string
	Amount *big.Int
	Value  *big.Int
	Config *CollateralConfig
	Price  Price
}
