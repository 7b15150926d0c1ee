package server

import (
	"net/http"
	"strings"

	"lendmarket/native/lending"
)

// govCall decodes req and applies fn as the authenticated principal.
func govCall[T any](s *Server, w http.ResponseWriter, r *http.Request, fn func(e *lending.Engine, st lending.State, req T) error) {
	var req T
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.mutate(w, r, func(e *lending.Engine, st lending.State) (interface{}, error) {
		return nil, fn(e, st, req)
	})
}

func (s *Server) handleInitInterest(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req interestParamsRequest) error {
		params, err := req.params()
		if err != nil {
			return err
		}
		return e.InitInterestParams(caller, params)
	})
}

func (s *Server) handleUpdateInterest(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req interestParamsRequest) error {
		params, err := req.params()
		if err != nil {
			return err
		}
		return e.UpdateInterestParams(caller, params)
	})
}

func (req rewardParamsRequest) params() lending.StakingRewardParams {
	return lending.StakingRewardParams{Slope1: req.Slope1, Slope2: req.Slope2, Kink: req.Kink, Base: req.Base}
}

func (s *Server) handleInitReward(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req rewardParamsRequest) error {
		return e.InitRewardParams(caller, req.params())
	})
}

func (s *Server) handleUpdateReward(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req rewardParamsRequest) error {
		return e.UpdateRewardParams(caller, req.params())
	})
}

func (s *Server) handleSetCollateral(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req collateralConfigRequest) error {
		return e.SetCollateral(caller, lending.CollateralConfig{
			Asset:               strings.TrimSpace(req.Asset),
			MaxLTV:              req.MaxLTV,
			LiquidationLTV:      req.LiquidationLTV,
			LiquidationDiscount: req.LiquidationDiscount,
			Decimals:            req.Decimals,
			Supported:           req.Supported,
		})
	})
}

func (s *Server) handleSetFeature(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req featureRequest) error {
		return e.SetFeature(caller, lending.Feature(strings.TrimSpace(req.Feature)), req.Enabled)
	})
}

func (s *Server) handleSetCaps(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req capParamsRequest) error {
		resource := lending.CapResource(strings.TrimSpace(req.Resource))
		return e.SetCapParams(caller, resource, req.Factor, req.RefillWindow, req.DecayWindow)
	})
}

func (s *Server) handleSetAssetCap(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req assetCapRequest) error {
		limit, err := parseAmount("limit", req.Limit)
		if err != nil {
			return err
		}
		return e.SetAssetCap(caller, limit)
	})
}

func (s *Server) handleSetReservePercentage(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req uintRequest) error {
		return e.SetReservePercentage(caller, req.Value)
	})
}

func (s *Server) handleReserveWithdraw(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req reserveWithdrawRequest) error {
		recipient, err := parseAddress("recipient", req.Recipient)
		if err != nil {
			return err
		}
		amount, err := requireAmount("amount", req.Amount)
		if err != nil {
			return err
		}
		return e.WithdrawFromReserve(caller, recipient, amount)
	})
}

func (s *Server) handleUpdateGovernance(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req addressRequest) error {
		next, err := parseAddress("address", req.Address)
		if err != nil {
			return err
		}
		return e.UpdateGovernance(caller, next)
	})
}

func (s *Server) handleSetReceivers(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req receiversRequest) error {
		return e.SetFlashLoanReceivers(caller, req.Receivers)
	})
}

func (s *Server) handleSetFlashLoanFee(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req uintRequest) error {
		return e.SetFlashLoanFee(caller, req.Value)
	})
}

func (s *Server) handleSetFeeder(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req addressRequest) error {
		feeder, err := parseAddress("address", req.Address)
		if err != nil {
			return err
		}
		return e.SetFeeder(caller, feeder)
	})
}

func (s *Server) handleSetMaxPriceAge(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req uintRequest) error {
		return e.SetMaxPriceAge(caller, req.Value)
	})
}

func (s *Server) handleSetMaxConfidence(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req uintRequest) error {
		return e.SetMaxConfidence(caller, req.Value)
	})
}

func (s *Server) handleSetStakingCooldown(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req uintRequest) error {
		return e.SetStakingCooldown(caller, req.Value)
	})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	govCall(s, w, r, func(e *lending.Engine, _ lending.State, req priceRequest) error {
		value, err := requireAmount("value", req.Value)
		if err != nil {
			return err
		}
		confidence, err := parseAmount("confidence", req.Confidence)
		if err != nil {
			return err
		}
		return e.SetPrice(caller, strings.TrimSpace(req.Asset), value, confidence)
	})
}

// handleMint credits test balances. Only routed in the dev environment.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	govCall(s, w, r, func(_ *lending.Engine, st lending.State, req mintRequest) error {
		to, err := parseAddress("to", req.To)
		if err != nil {
			return err
		}
		amount, err := requireAmount("amount", req.Amount)
		if err != nil {
			return err
		}
		asset := strings.TrimSpace(req.Asset)
		if asset == "" {
			return badRequest("asset is required")
		}
		return st.Mint(asset, to, amount)
	})
}
