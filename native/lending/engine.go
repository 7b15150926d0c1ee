package lending

import (
	"errors"
	"math/big"

	"lendmarket/crypto"
	nativecommon "lendmarket/native/common"
)

var (
	errNilState     = errors.New("lending engine: state not configured")
	errNilMarket    = errors.New("lending engine: market not initialised")
	errMarketExists = errors.New("lending engine: market already initialised")
)

const moduleName = "lending"

// Engine applies market operations against a State. It holds no locks; the
// caller provides whole-call exclusivity and binds the block context with
// SetBlock before each call.
type Engine struct {
	state       State
	oracle      PriceOracle
	pauses      nativecommon.PauseView
	receivers   map[string]FlashLoanReceiver
	marketAddr  crypto.Address
	stakingAddr crypto.Address
	height      uint64
	now         uint64
	events      []Event
}

// NewEngine constructs an engine that holds market funds in marketAddr and
// staked LP shares in stakingAddr.
func NewEngine(marketAddr, stakingAddr crypto.Address) *Engine {
	return &Engine{
		marketAddr:  marketAddr,
		stakingAddr: stakingAddr,
		receivers:   make(map[string]FlashLoanReceiver),
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetOracle overrides the price source. Without one the engine reads the
// quotes stored by the feeder.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetBlock records the height and unix time used by the next call.
func (e *Engine) SetBlock(height, now uint64) {
	e.height = height
	e.now = now
}

// RegisterFlashLoanReceiver binds a receiver implementation to a name that
// governance can allow-list.
func (e *Engine) RegisterFlashLoanReceiver(name string, receiver FlashLoanReceiver) {
	if receiver == nil {
		delete(e.receivers, name)
		return
	}
	e.receivers[name] = receiver
}

// MarketAddress is the account holding cash and collateral.
func (e *Engine) MarketAddress() crypto.Address { return e.marketAddr }

// StakingAddress is the account holding staked LP shares.
func (e *Engine) StakingAddress() crypto.Address { return e.stakingAddr }

// GenesisParams seeds a new market.
type GenesisParams struct {
	BaseAsset         string
	BaseDecimals      uint8
	Deployer          crypto.Address
	Governance        crypto.Address
	Feeder            crypto.Address
	ReservePercentage uint64
	AssetCap          *big.Int
	Features          Features
	FlashLoanFeeBps   uint64
	MaxPriceAge       uint64
	StakingCooldown   uint64
	MaxConfidenceBps  uint64
	Collaterals       []CollateralConfig
	Caps              map[CapResource]CapBucket
	// Interest and Reward are optional; when set the one-time deploy
	// initialisation is considered done.
	Interest           *InterestRateParams
	Reward             *StakingRewardParams
	FlashLoanReceivers []string
}

// Genesis writes the initial market records.
func (e *Engine) Genesis(params GenesisParams) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	existing, err := e.state.Market()
	if err != nil {
		return err
	}
	if existing != nil {
		return errMarketExists
	}
	if params.BaseAsset == "" || params.ReservePercentage > PercentScale.Uint64() || params.FlashLoanFeeBps > basisPoints.Uint64() ||
		params.MaxConfidenceBps > basisPoints.Uint64() {
		return ErrInvalidParams
	}
	if params.Deployer.IsZero() || params.Governance.IsZero() {
		return ErrInvalidParams
	}
	market := &Market{
		BaseAsset:         params.BaseAsset,
		BaseDecimals:      params.BaseDecimals,
		LastAccrual:       e.now,
		ReservePercentage: params.ReservePercentage,
		AssetCap:          clone(params.AssetCap),
		Features:          params.Features,
		FlashLoanFeeBps:   params.FlashLoanFeeBps,
		MaxPriceAge:       params.MaxPriceAge,
		StakingCooldown:   params.StakingCooldown,
		MaxConfidenceBps:  params.MaxConfidenceBps,
	}
	market.normalize()
	gov := &GovernanceState{
		Deployer:           params.Deployer.String(),
		Governance:         params.Governance.String(),
		Feeder:             params.Feeder.String(),
		FlashLoanReceivers: append([]string(nil), params.FlashLoanReceivers...),
	}
	if params.Interest != nil {
		if err := params.Interest.Validate(); err != nil {
			return err
		}
		if err := e.state.PutInterestParams(params.Interest.Clone()); err != nil {
			return err
		}
		gov.IRInitialized = true
	}
	if params.Reward != nil {
		if err := params.Reward.Validate(); err != nil {
			return err
		}
		if err := e.state.PutRewardParams(params.Reward); err != nil {
			return err
		}
		gov.RewardInitialized = true
	}
	for i := range params.Collaterals {
		cfg := params.Collaterals[i].Clone()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Asset == market.BaseAsset {
			return ErrInvalidCollateralParams
		}
		cfg.TotalDeposited = new(big.Int)
		cfg.UpdatedHeight = e.height
		if err := e.state.PutCollateral(cfg); err != nil {
			return err
		}
	}
	for resource, bucket := range params.Caps {
		b := bucket.Clone()
		b.Available = new(big.Int)
		b.Initialized = false
		if err := e.state.PutBucket(resource, b); err != nil {
			return err
		}
	}
	if err := e.state.PutGovernance(gov); err != nil {
		return err
	}
	return e.state.PutMarket(market)
}

// begin runs the entry guards shared by every mutating call and accrues
// interest up to the current block time.
func (e *Engine) begin(feature Feature) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	market, err := e.state.Market()
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, errNilMarket
	}
	if feature != "" {
		if err := nativecommon.GuardFeature(market.Features, string(feature)); err != nil {
			if errors.Is(err, nativecommon.ErrFeatureDisabled) {
				return nil, ErrFeatureDisabled
			}
			return nil, err
		}
	}
	if err := e.accrue(market); err != nil {
		return nil, err
	}
	return market, nil
}

func (e *Engine) consumeCap(resource CapResource, amount, pool *big.Int, capErr error) error {
	bucket, err := e.state.Bucket(resource)
	if err != nil || !bucket.Enabled() {
		return err
	}
	if err := bucket.Consume(amount, pool, e.now, capErr); err != nil {
		return err
	}
	return e.state.PutBucket(resource, bucket)
}

func (e *Engine) creditCap(resource CapResource, amount, pool *big.Int) error {
	bucket, err := e.state.Bucket(resource)
	if err != nil || !bucket.Enabled() {
		return err
	}
	bucket.Credit(amount, pool, e.now)
	return e.state.PutBucket(resource, bucket)
}

// Deposit moves amount of the base asset into the market and mints LP shares
// at the current share price, rounded down.
func (e *Engine) Deposit(depositor crypto.Address, amount *big.Int) (*big.Int, error) {
	market, err := e.begin(FeatureDeposit)
	if err != nil {
		return nil, err
	}
	if !isPositive(amount) {
		return nil, ErrZeroAmount
	}
	if isPositive(market.AssetCap) && new(big.Int).Add(market.TotalAssets, amount).Cmp(market.AssetCap) > 0 {
		return nil, ErrAssetCap
	}
	if market.LPShareSupply.Sign() > 0 && market.TotalAssets.Sign() == 0 {
		return nil, ErrSharesUnbacked
	}
	shares := sharesForAmount(amount, market.LPShareSupply, market.TotalAssets, false)
	if shares.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if err := e.state.Transfer(market.BaseAsset, depositor, e.marketAddr, amount); err != nil {
		return nil, err
	}
	if err := e.creditCap(CapLP, amount, market.Cash); err != nil {
		return nil, err
	}
	balance, err := e.state.LPBalance(depositor)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutLPBalance(depositor, balance.Add(balance, shares)); err != nil {
		return nil, err
	}
	market.Cash.Add(market.Cash, amount)
	market.TotalAssets.Add(market.TotalAssets, amount)
	market.LPShareSupply.Add(market.LPShareSupply, shares)
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventDeposit, map[string]string{
		"account": depositor.String(),
		"amount":  amountAttr(amount),
		"shares":  amountAttr(shares),
	})
	return shares, nil
}

// Withdraw returns amount of the base asset to owner, burning the LP shares
// that cover it rounded up.
func (e *Engine) Withdraw(owner crypto.Address, amount *big.Int) (*big.Int, error) {
	market, err := e.begin(FeatureWithdraw)
	if err != nil {
		return nil, err
	}
	if !isPositive(amount) {
		return nil, ErrZeroAmount
	}
	if market.LPShareSupply.Sign() == 0 {
		return nil, ErrInsufficientShares
	}
	shares := sharesForAmount(amount, market.LPShareSupply, market.TotalAssets, true)
	if shares.Sign() == 0 {
		return nil, ErrSharesUnbacked
	}
	if err := e.releaseLP(market, owner, amount, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns shares and returns their value, rounded down.
func (e *Engine) Redeem(owner crypto.Address, shares *big.Int) (*big.Int, error) {
	market, err := e.begin(FeatureWithdraw)
	if err != nil {
		return nil, err
	}
	if !isPositive(shares) {
		return nil, ErrZeroAmount
	}
	amount := amountForShares(shares, market.LPShareSupply, market.TotalAssets, false)
	if amount.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if err := e.releaseLP(market, owner, amount, shares); err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) releaseLP(market *Market, owner crypto.Address, amount, shares *big.Int) error {
	balance, err := e.state.LPBalance(owner)
	if err != nil {
		return err
	}
	if balance.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	if amount.Cmp(market.Cash) > 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.consumeCap(CapLP, amount, market.Cash, ErrLPCapExceeded); err != nil {
		return err
	}
	if err := e.state.PutLPBalance(owner, balance.Sub(balance, shares)); err != nil {
		return err
	}
	market.Cash.Sub(market.Cash, amount)
	market.TotalAssets = subFloor(market.TotalAssets, amount)
	market.LPShareSupply.Sub(market.LPShareSupply, shares)
	if err := e.state.Transfer(market.BaseAsset, e.marketAddr, owner, amount); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	e.emit(EventWithdraw, map[string]string{
		"account": owner.String(),
		"amount":  amountAttr(amount),
		"shares":  amountAttr(shares),
	})
	return nil
}

// debtOf values debt shares at the market's debt-share price, rounded up.
func debtOf(market *Market, shares *big.Int) *big.Int {
	return amountForShares(clone(shares), market.DebtShareSupply, market.TotalDebt, true)
}

// Borrow draws amount of the base asset against the borrower's collateral.
func (e *Engine) Borrow(borrower crypto.Address, amount *big.Int) (*big.Int, error) {
	market, err := e.begin(FeatureBorrow)
	if err != nil {
		return nil, err
	}
	if !isPositive(amount) {
		return nil, ErrZeroAmount
	}
	params, err := e.state.InterestParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, ErrInterestNotInitialized
	}
	free := market.FreeLiquidity()
	if amount.Cmp(free) > 0 {
		return nil, ErrInsufficientFreeLiquidity
	}
	position, err := e.state.Position(borrower)
	if err != nil {
		return nil, err
	}
	shares := sharesForAmount(amount, market.DebtShareSupply, market.TotalDebt, true)
	if market.TotalDebt.Sign() == 0 {
		// Ceil rounding on the last repay can strand dust debt shares that
		// owe nothing; the new borrow is minted at par alongside them.
		shares = clone(amount)
	}
	if err := e.consumeCap(CapDebt, amount, free, ErrDebtCapExceeded); err != nil {
		return nil, err
	}

	market.TotalDebt.Add(market.TotalDebt, amount)
	market.DebtShareSupply.Add(market.DebtShareSupply, shares)
	position.DebtShares = new(big.Int).Add(position.DebtShares, shares)
	if err := e.requireMaxLTV(market, position); err != nil {
		return nil, err
	}
	position.LastRiskHeight = e.height
	market.Cash.Sub(market.Cash, amount)

	if err := e.state.Transfer(market.BaseAsset, e.marketAddr, borrower, amount); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(borrower, position); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventBorrow, map[string]string{
		"borrower": borrower.String(),
		"amount":   amountAttr(amount),
		"shares":   amountAttr(shares),
	})
	return shares, nil
}

// Repay pays down the borrower's debt from payer's balance. Payments above the
// outstanding debt are clamped; the amount actually repaid is returned.
func (e *Engine) Repay(payer, borrower crypto.Address, amount *big.Int) (*big.Int, error) {
	market, err := e.begin(FeatureRepay)
	if err != nil {
		return nil, err
	}
	if !isPositive(amount) {
		return nil, ErrZeroAmount
	}
	position, err := e.state.Position(borrower)
	if err != nil {
		return nil, err
	}
	owed := debtOf(market, position.DebtShares)
	if owed.Sign() == 0 {
		return nil, ErrNoDebt
	}
	pay := minBig(amount, owed)
	if err := e.state.Transfer(market.BaseAsset, payer, e.marketAddr, pay); err != nil {
		return nil, err
	}
	if err := e.creditCap(CapDebt, pay, market.FreeLiquidity()); err != nil {
		return nil, err
	}
	e.settleDebt(market, position, pay, pay.Cmp(owed) == 0)
	market.Cash.Add(market.Cash, pay)
	if err := e.state.PutPosition(borrower, position); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventRepay, map[string]string{
		"payer":    payer.String(),
		"borrower": borrower.String(),
		"amount":   amountAttr(pay),
	})
	return pay, nil
}

// settleDebt burns the debt shares covered by pay and removes pay from the
// market debt. Any excess over TotalDebt left by rounding accrues to LPs.
func (e *Engine) settleDebt(market *Market, position *Position, pay *big.Int, full bool) {
	burn := clone(position.DebtShares)
	if !full {
		burn = minBig(mulDiv(pay, market.DebtShareSupply, market.TotalDebt), position.DebtShares)
	}
	position.DebtShares = new(big.Int).Sub(position.DebtShares, burn)
	market.DebtShareSupply = subFloor(market.DebtShareSupply, burn)
	if pay.Cmp(market.TotalDebt) > 0 {
		surplus := new(big.Int).Sub(pay, market.TotalDebt)
		market.TotalAssets.Add(market.TotalAssets, surplus)
		market.TotalDebt = new(big.Int)
		return
	}
	market.TotalDebt.Sub(market.TotalDebt, pay)
}

// AddCollateral locks amount of asset in the borrower's position.
func (e *Engine) AddCollateral(owner crypto.Address, asset string, amount *big.Int) error {
	market, err := e.begin(FeatureAddCollateral)
	if err != nil {
		return err
	}
	cfg, err := e.state.Collateral(asset)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Supported {
		return ErrCollateralNotSupported
	}
	if !isPositive(amount) {
		return ErrZeroAmount
	}
	if cfg.MaxLTV == 0 {
		return ErrInvalidCollateralParams
	}
	position, err := e.state.Position(owner)
	if err != nil {
		return err
	}
	if err := position.addCollateral(asset, amount); err != nil {
		return err
	}
	if err := e.state.Transfer(asset, owner, e.marketAddr, amount); err != nil {
		return err
	}
	if err := e.creditCap(CollateralCap(asset), amount, cfg.TotalDeposited); err != nil {
		return err
	}
	cfg.TotalDeposited = new(big.Int).Add(cfg.TotalDeposited, amount)
	if err := e.state.PutCollateral(cfg); err != nil {
		return err
	}
	if err := e.state.PutPosition(owner, position); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	e.emit(EventCollateralAdded, map[string]string{
		"account": owner.String(),
		"asset":   asset,
		"amount":  amountAttr(amount),
	})
	return nil
}

// RemoveCollateral releases collateral back to owner provided the remaining
// position still satisfies its max LTV.
func (e *Engine) RemoveCollateral(owner crypto.Address, asset string, amount *big.Int) error {
	market, err := e.begin(FeatureRemoveCollateral)
	if err != nil {
		return err
	}
	if !isPositive(amount) {
		return ErrZeroAmount
	}
	position, err := e.state.Position(owner)
	if err != nil {
		return err
	}
	if position.Collateral(asset).Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	cfg, err := e.state.Collateral(asset)
	if err != nil {
		return err
	}
	if cfg == nil {
		return ErrCollateralNotSupported
	}
	if err := e.consumeCap(CollateralCap(asset), amount, cfg.TotalDeposited, ErrCollateralCapExceeded); err != nil {
		return err
	}
	if err := position.removeCollateral(asset, amount); err != nil {
		return err
	}
	if isPositive(position.DebtShares) {
		if err := e.requireMaxLTV(market, position); err != nil {
			return err
		}
	}
	position.LastRiskHeight = e.height
	cfg.TotalDeposited = subFloor(cfg.TotalDeposited, amount)
	if err := e.state.PutCollateral(cfg); err != nil {
		return err
	}
	if err := e.state.Transfer(asset, e.marketAddr, owner, amount); err != nil {
		return err
	}
	if err := e.state.PutPosition(owner, position); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	e.emit(EventCollateralRemoved, map[string]string{
		"account": owner.String(),
		"asset":   asset,
		"amount":  amountAttr(amount),
	})
	return nil
}

// DepositToReserve donates base asset to the protocol reserve. Anyone may
// call it.
func (e *Engine) DepositToReserve(from crypto.Address, amount *big.Int) error {
	market, err := e.begin("")
	if err != nil {
		return err
	}
	if !isPositive(amount) {
		return ErrZeroAmount
	}
	if err := e.state.Transfer(market.BaseAsset, from, e.marketAddr, amount); err != nil {
		return err
	}
	market.Reserve.Add(market.Reserve, amount)
	market.Cash.Add(market.Cash, amount)
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	e.emit(EventReserveDeposit, map[string]string{
		"account": from.String(),
		"amount":  amountAttr(amount),
	})
	return nil
}
