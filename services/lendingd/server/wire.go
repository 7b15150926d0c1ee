package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"lendmarket/crypto"
	"lendmarket/native/lending"
)

const requestLimit = 1 << 20

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}

// parseAmount reads a non-negative base-10 integer. Empty values are
// returned as nil so optional fields stay optional.
func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, badRequest(fmt.Sprintf("%s: invalid amount %q", field, raw))
	}
	return v, nil
}

func requireAmount(field, raw string) (*big.Int, error) {
	v, err := parseAmount(field, raw)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, badRequest(field + " is required")
	}
	return v, nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, badRequest(fmt.Sprintf("%s: %v", field, err))
	}
	return addr, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type sharesRequest struct {
	Shares string `json:"shares"`
}

type repayRequest struct {
	Borrower string `json:"borrower,omitempty"`
	Amount   string `json:"amount"`
}

type collateralRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Borrower      string `json:"borrower"`
	Asset         string `json:"asset"`
	Repay         string `json:"repay"`
	MinCollateral string `json:"min_collateral,omitempty"`
}

type batchLiquidateRequest struct {
	Entries []*liquidateRequest `json:"entries"`
}

type finalizeRequest struct {
	RequestID string `json:"request_id"`
}

type interestParamsRequest struct {
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
	BaseRate string `json:"base_rate"`
}

func (req interestParamsRequest) params() (*lending.InterestRateParams, error) {
	out := &lending.InterestRateParams{}
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"slope1", req.Slope1, &out.Slope1},
		{"slope2", req.Slope2, &out.Slope2},
		{"kink", req.Kink, &out.Kink},
		{"base_rate", req.BaseRate, &out.BaseRate},
	}
	for _, f := range fields {
		v, err := requireAmount(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return out, nil
}

type rewardParamsRequest struct {
	Slope1 int64 `json:"slope1"`
	Slope2 int64 `json:"slope2"`
	Kink   int64 `json:"kink"`
	Base   int64 `json:"base"`
}

type collateralConfigRequest struct {
	Asset               string `json:"asset"`
	MaxLTV              uint64 `json:"max_ltv"`
	LiquidationLTV      uint64 `json:"liquidation_ltv"`
	LiquidationDiscount uint64 `json:"liquidation_discount"`
	Decimals            uint8  `json:"decimals"`
	Supported           bool   `json:"supported"`
}

type featureRequest struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

type capParamsRequest struct {
	Resource     string `json:"resource"`
	Factor       uint64 `json:"factor"`
	RefillWindow uint64 `json:"refill_window"`
	DecayWindow  uint64 `json:"decay_window"`
}

type assetCapRequest struct {
	Limit string `json:"limit"`
}

type uintRequest struct {
	Value uint64 `json:"value"`
}

type reserveWithdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type priceRequest struct {
	Asset      string `json:"asset"`
	Value      string `json:"value"`
	Confidence string `json:"confidence,omitempty"`
}

type receiversRequest struct {
	Receivers []string `json:"receivers"`
}

type mintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type marketView struct {
	BaseAsset         string          `json:"base_asset"`
	BaseDecimals      uint8           `json:"base_decimals"`
	TotalAssets       string          `json:"total_assets"`
	TotalDebt         string          `json:"total_debt"`
	LPShareSupply     string          `json:"lp_share_supply"`
	DebtShareSupply   string          `json:"debt_share_supply"`
	Reserve           string          `json:"reserve"`
	Cash              string          `json:"cash"`
	FreeLiquidity     string          `json:"free_liquidity"`
	LastAccrual       uint64          `json:"last_accrual"`
	ReservePercentage uint64          `json:"reserve_percentage"`
	AssetCap          string          `json:"asset_cap"`
	FlashLoanFeeBps   uint64          `json:"flash_loan_fee_bps"`
	MaxPriceAge       uint64          `json:"max_price_age"`
	StakingCooldown   uint64          `json:"staking_cooldown"`
	MaxConfidenceBps  uint64          `json:"max_confidence_bps"`
	Features          map[string]bool `json:"features"`
}

func newMarketView(m *lending.Market) marketView {
	features := make(map[string]bool)
	for _, name := range lending.FeatureNames() {
		features[string(name)] = m.Features.FeatureEnabled(string(name))
	}
	return marketView{
		BaseAsset:         m.BaseAsset,
		BaseDecimals:      m.BaseDecimals,
		TotalAssets:       amountString(m.TotalAssets),
		TotalDebt:         amountString(m.TotalDebt),
		LPShareSupply:     amountString(m.LPShareSupply),
		DebtShareSupply:   amountString(m.DebtShareSupply),
		Reserve:           amountString(m.Reserve),
		Cash:              amountString(m.Cash),
		FreeLiquidity:     amountString(m.FreeLiquidity()),
		LastAccrual:       m.LastAccrual,
		ReservePercentage: m.ReservePercentage,
		AssetCap:          amountString(m.AssetCap),
		FlashLoanFeeBps:   m.FlashLoanFeeBps,
		MaxPriceAge:       m.MaxPriceAge,
		StakingCooldown:   m.StakingCooldown,
		MaxConfidenceBps:  m.MaxConfidenceBps,
		Features:          features,
	}
}

type collateralView struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Value  string `json:"value"`
	Price  string `json:"price"`
}

type positionView struct {
	Owner           string           `json:"owner"`
	DebtShares      string           `json:"debt_shares"`
	Debt            string           `json:"debt"`
	Collateral      []collateralView `json:"collateral"`
	CollateralValue string           `json:"collateral_value"`
	HealthFactor    string           `json:"health_factor,omitempty"`
	BorrowingPower  string           `json:"borrowing_power"`
	MaxBorrow       string           `json:"max_borrow,omitempty"`
	LastRiskHeight  uint64           `json:"last_risk_height"`
	Liquidatable    bool             `json:"liquidatable"`
}

func newPositionView(p *lending.PositionView) positionView {
	out := positionView{
		Owner:           p.Owner.String(),
		DebtShares:      amountString(p.DebtShares),
		Debt:            amountString(p.Debt),
		Collateral:      make([]collateralView, 0, len(p.Collateral)),
		CollateralValue: amountString(p.CollateralValue),
		BorrowingPower:  amountString(p.BorrowingPower),
		LastRiskHeight:  p.LastRiskHeight,
		Liquidatable:    p.Liquidatable,
	}
	if p.HealthFactor != nil {
		out.HealthFactor = p.HealthFactor.String()
	}
	for _, c := range p.Collateral {
		out.Collateral = append(out.Collateral, collateralView{
			Asset:  c.Asset,
			Amount: amountString(c.Amount),
			Value:  amountString(c.Value),
			Price:  amountString(c.Price.Value),
		})
	}
	return out
}

type capView struct {
	Resource     string `json:"resource"`
	Factor       uint64 `json:"factor"`
	Available    string `json:"available"`
	LastUpdate   uint64 `json:"last_update"`
	RefillWindow uint64 `json:"refill_window"`
	DecayWindow  uint64 `json:"decay_window"`
}

func newCapViews(caps map[lending.CapResource]*lending.CapBucket) []capView {
	out := make([]capView, 0, len(caps))
	for resource, b := range caps {
		out = append(out, capView{
			Resource:     string(resource),
			Factor:       b.Factor,
			Available:    amountString(b.Available),
			LastUpdate:   b.LastUpdate,
			RefillWindow: b.RefillWindow,
			DecayWindow:  b.DecayWindow,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

type stakingView struct {
	ActiveShares string `json:"active_shares"`
	QueuedShares string `json:"queued_shares"`
	HeldLP       string `json:"held_lp"`
	HeldValue    string `json:"held_value"`
	Cooldown     uint64 `json:"cooldown"`
}

type unstakeView struct {
	ID         string `json:"id"`
	Shares     string `json:"shares"`
	FinalizeAt uint64 `json:"finalize_at"`
}

type accountView struct {
	Owner       string        `json:"owner"`
	BaseBalance string        `json:"base_balance"`
	LPShares    string        `json:"lp_shares"`
	LPValue     string        `json:"lp_value"`
	Staked      string        `json:"staked"`
	Requests    []unstakeView `json:"requests"`
}

func newAccountView(a *lending.AccountSummary) accountView {
	out := accountView{
		Owner:       a.Owner.String(),
		BaseBalance: amountString(a.BaseBalance),
		LPShares:    amountString(a.LPShares),
		LPValue:     amountString(a.LPValue),
		Staked:      amountString(a.Staked),
		Requests:    make([]unstakeView, 0, len(a.Requests)),
	}
	for _, req := range a.Requests {
		out.Requests = append(out.Requests, unstakeView{ID: req.ID, Shares: amountString(req.Shares), FinalizeAt: req.FinalizeAt})
	}
	return out
}

type socializationView struct {
	Loss        string `json:"loss"`
	FromReserve string `json:"from_reserve"`
	FromStakers string `json:"from_stakers"`
	Diluted     string `json:"diluted"`
}

type liquidationView struct {
	Borrower   string             `json:"borrower"`
	Asset      string             `json:"asset"`
	Repaid     string             `json:"repaid"`
	Seized     string             `json:"seized"`
	Full       bool               `json:"full"`
	Socialized *socializationView `json:"socialized,omitempty"`
}

func newLiquidationView(o *lending.LiquidationOutcome) *liquidationView {
	if o == nil {
		return nil
	}
	out := &liquidationView{
		Borrower: o.Borrower.String(),
		Asset:    o.Asset,
		Repaid:   amountString(o.Repaid),
		Seized:   amountString(o.Seized),
		Full:     o.Full,
	}
	if s := o.Socialized; s != nil {
		out.Socialized = &socializationView{
			Loss:        amountString(s.Loss),
			FromReserve: amountString(s.FromReserve),
			FromStakers: amountString(s.FromStakers),
			Diluted:     amountString(s.Diluted),
		}
	}
	return out
}

type batchEntryView struct {
	Index   int              `json:"index"`
	Skipped bool             `json:"skipped,omitempty"`
	Result  *liquidationView `json:"result,omitempty"`
	Error   *errorBody       `json:"error,omitempty"`
}
