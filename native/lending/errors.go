package lending

import "fmt"

// Error is a market failure carrying the stable numeric code surfaced to
// callers. Two errors match under errors.Is when their codes are equal, so
// wrapped errors keep their identity across service boundaries.
type Error struct {
	Code uint32
	msg  string
}

func newError(code uint32, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("lending: %s (code %d)", e.msg, e.Code)
}

// Message returns the description without the code suffix.
func (e *Error) Message() string { return e.msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Code == e.Code
}

// Category groups error codes for transport-level mapping.
type Category int

const (
	CategoryInternal Category = iota
	CategoryValidation
	CategoryAuthorization
	CategoryRisk
	CategoryOracle
	CategoryNotFound
)

// Category classifies the error.
func (e *Error) Category() Category {
	if e == nil {
		return CategoryInternal
	}
	if c, ok := categories[e.Code]; ok {
		return c
	}
	return CategoryInternal
}

// Market-level codes.
var (
	ErrNotAuthorized             = newError(100, "caller not authorized")
	ErrZeroAmount                = newError(101, "amount must be positive")
	ErrFeatureDisabled           = newError(102, "feature disabled")
	ErrInsufficientLiquidity     = newError(103, "insufficient liquidity")
	ErrInsufficientShares        = newError(104, "insufficient shares")
	ErrInsufficientBalance       = newError(105, "insufficient balance")
	ErrCollateralNotSupported    = newError(108, "collateral not supported")
	ErrLiquidationNotAllowed     = newError(113, "liquidation not allowed in this block")
	ErrAssetCap                  = newError(116, "asset cap exceeded")
	ErrNoDebt                    = newError(117, "no outstanding debt")
	ErrTooManyCollaterals        = newError(118, "collateral slots exhausted")
	ErrSharesUnbacked            = newError(119, "outstanding shares have no backing")
	ErrInsufficientFreeLiquidity = newError(20001, "insufficient free liquidity")
	ErrMaxLTV                    = newError(20002, "max ltv exceeded")
	ErrInsufficientCollateral    = newError(20006, "insufficient collateral")
	ErrInvalidCollateralParams   = newError(20007, "invalid collateral parameters")
	ErrPositionHealthy           = newError(30001, "position is healthy")
	ErrSlippage                  = newError(30007, "collateral below minimum expected")
	ErrZeroRepay                 = newError(30010, "repay amount must be positive")
	ErrBatchTooLarge             = newError(30011, "batch exceeds maximum size")
	ErrNotGovernance             = newError(50000, "caller is not governance")
	ErrInvalidParams             = newError(50001, "invalid parameters")
	ErrUnstakeNotFound           = newError(60003, "unstake request not found")
	ErrUnstakeNotFinalized       = newError(60004, "unstake request not finalized")
	ErrStakingDisabled           = newError(60009, "staking disabled")
	ErrIRAlreadyInitialized      = newError(70000, "interest rate parameters already initialized")
	ErrNotDeployer               = newError(70001, "caller is not the deployer")
	ErrInterestNotInitialized    = newError(70002, "interest rate parameters not initialized")
	ErrCompoundOverflow          = newError(70003, "compounding factor overflow")
	ErrInvalidKink               = newError(70004, "kink must be below 100%")
	ErrPriceUnavailable          = newError(80001, "price unavailable")
	ErrStalePrice                = newError(80002, "stale price")
	ErrPriceUncertain            = newError(80003, "price confidence interval too wide")
	ErrRewardAlreadyInitialized  = newError(90000, "staking reward parameters already initialized")
	ErrRewardNotDeployer         = newError(90001, "caller is not the deployer")
	ErrRewardInvalidKink         = newError(90004, "staking reward kink must be below 100%")
	ErrRewardInvalidSlopes       = newError(90005, "staking reward slope2 must not exceed slope1")
	ErrFlashLoanNotAllowed       = newError(110000, "flash loan receiver not allowed")
	ErrFlashLoanNotRepaid        = newError(110001, "flash loan not repaid with fee")
	ErrLPCapExceeded             = newError(120002, "lp withdrawal cap exceeded")
	ErrDebtCapExceeded           = newError(120003, "debt cap exceeded")
	ErrCollateralCapExceeded     = newError(120004, "collateral withdrawal cap exceeded")
)

var categories = map[uint32]Category{
	100: CategoryAuthorization, 101: CategoryValidation, 102: CategoryAuthorization,
	103: CategoryRisk, 104: CategoryValidation, 105: CategoryValidation,
	108: CategoryValidation, 113: CategoryRisk, 116: CategoryRisk, 117: CategoryValidation,
	118:   CategoryRisk, 119: CategoryRisk,
	20001: CategoryRisk, 20002: CategoryRisk, 20006: CategoryValidation, 20007: CategoryValidation,
	30001: CategoryRisk, 30007: CategoryRisk, 30010: CategoryValidation, 30011: CategoryValidation,
	50000: CategoryAuthorization, 50001: CategoryValidation,
	60003: CategoryNotFound, 60004: CategoryRisk, 60009: CategoryAuthorization,
	70000: CategoryAuthorization, 70001: CategoryAuthorization, 70002: CategoryInternal,
	70003: CategoryRisk, 70004: CategoryValidation,
	80001: CategoryOracle, 80002: CategoryOracle, 80003: CategoryOracle,
	90000: CategoryAuthorization, 90001: CategoryAuthorization, 90004: CategoryValidation,
	90005:  CategoryValidation,
	110000: CategoryAuthorization, 110001: CategoryRisk,
	120002: CategoryRisk, 120003: CategoryRisk, 120004: CategoryRisk,
}
