package server

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"lukechampine.com/blake3"

	"lendmarket/crypto"
	"lendmarket/native/lending"
	"lendmarket/observability"
	"lendmarket/services/lendingd/audit"
)

func callerOf(r *http.Request) crypto.Address {
	p, _ := PrincipalFromContext(r.Context())
	return p.Address
}

func attrAmount(ev lending.Event, key string) *big.Int {
	v, ok := new(big.Int).SetString(ev.Attributes[key], 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

var capErrors = map[*lending.Error]string{
	lending.ErrLPCapExceeded:         string(lending.CapLP),
	lending.ErrDebtCapExceeded:       string(lending.CapDebt),
	lending.ErrCollateralCapExceeded: "collateral",
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	for capErr, resource := range capErrors {
		if errors.Is(err, capErr) {
			observability.Lending().RecordCapRejection(resource)
		}
	}
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("call failed", slog.String("path", r.URL.Path), slog.Any("code", code), slog.Any("error", err))
	}
	writeError(w, err)
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn call) {
	out, err := s.execute(r.Context(), fn)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if out == nil {
		out = map[string]string{"status": "ok"}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, fn call) {
	out, err := s.view(fn)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeAmount decodes a single-amount body.
func decodeAmount(r *http.Request) (*big.Int, error) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return requireAmount("amount", req.Amount)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	var etag string
	out, err := s.view(func(e *lending.Engine, st lending.State) (interface{}, error) {
		market, err := e.Market()
		if err != nil {
			return nil, err
		}
		if err := st.PutMarket(market); err != nil {
			return nil, err
		}
		digest, err := lending.Digest(st)
		if err != nil {
			return nil, err
		}
		sum := blake3.Sum256(digest)
		etag = `"` + hex.EncodeToString(sum[:]) + `"`
		return newMarketView(market), nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.query(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		pos, err := e.Position(owner)
		if err != nil {
			return nil, err
		}
		view := newPositionView(pos)
		if headroom, err := e.MaxBorrow(owner); err == nil {
			view.MaxBorrow = headroom.String()
		}
		return view, nil
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.query(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		acct, err := e.Account(owner)
		if err != nil {
			return nil, err
		}
		return newAccountView(acct), nil
	})
}

func (s *Server) handleCaps(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		caps, err := e.Caps()
		if err != nil {
			return nil, err
		}
		return newCapViews(caps), nil
	})
}

func (s *Server) handleStaking(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		sum, err := e.Staking()
		if err != nil {
			return nil, err
		}
		return stakingView{
			ActiveShares: amountString(sum.ActiveShares),
			QueuedShares: amountString(sum.QueuedShares),
			HeldLP:       amountString(sum.HeldLP),
			HeldValue:    amountString(sum.HeldValue),
			Cooldown:     sum.Cooldown,
		}, nil
	})
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.fail(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	s.query(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		views, err := e.Liquidatable(limit)
		if err != nil {
			return nil, err
		}
		out := make([]positionView, 0, len(views))
		for _, v := range views {
			out = append(out, newPositionView(v))
		}
		return out, nil
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		shares, err := e.Deposit(caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares": shares.String()}, nil
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		shares, err := e.Withdraw(caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares_burned": shares.String()}, nil
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	shares, err := requireAmount("shares", req.Shares)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		amount, err := e.Redeem(caller, shares)
		if err != nil {
			return nil, err
		}
		return map[string]string{"amount": amount.String()}, nil
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		shares, err := e.Borrow(caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"debt_shares": shares.String()}, nil
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payer := callerOf(r)
	borrower := payer
	if strings.TrimSpace(req.Borrower) != "" {
		if borrower, err = parseAddress("borrower", req.Borrower); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		paid, err := e.Repay(payer, borrower, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"repaid": paid.String()}, nil
	})
}

func (s *Server) decodeCollateral(r *http.Request) (string, *big.Int, error) {
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", nil, err
	}
	asset := strings.TrimSpace(req.Asset)
	if asset == "" {
		return "", nil, badRequest("asset is required")
	}
	amount, err := requireAmount("amount", req.Amount)
	return asset, amount, err
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, r *http.Request) {
	asset, amount, err := s.decodeCollateral(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		return nil, e.AddCollateral(caller, asset, amount)
	})
}

func (s *Server) handleRemoveCollateral(w http.ResponseWriter, r *http.Request) {
	asset, amount, err := s.decodeCollateral(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		return nil, e.RemoveCollateral(caller, asset, amount)
	})
}

func parseLiquidation(req *liquidateRequest) (*lending.LiquidationEntry, error) {
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		return nil, err
	}
	repay, err := parseAmount("repay", req.Repay)
	if err != nil {
		return nil, err
	}
	minColl, err := parseAmount("min_collateral", req.MinCollateral)
	if err != nil {
		return nil, err
	}
	return &lending.LiquidationEntry{
		Borrower:      borrower,
		Asset:         strings.TrimSpace(req.Asset),
		Repay:         repay,
		MinCollateral: minColl,
	}, nil
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := parseLiquidation(&req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		outcome, err := e.Liquidate(caller, entry.Borrower, entry.Asset, entry.Repay, entry.MinCollateral)
		if err != nil {
			return nil, err
		}
		return newLiquidationView(outcome), nil
	})
}

func (s *Server) handleBatchLiquidate(w http.ResponseWriter, r *http.Request) {
	var req batchLiquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	entries := make([]*lending.LiquidationEntry, len(req.Entries))
	for i, raw := range req.Entries {
		if raw == nil {
			continue
		}
		entry, err := parseLiquidation(raw)
		if err != nil {
			s.fail(w, r, badRequest("entries["+strconv.Itoa(i)+"]: "+err.Error()))
			return
		}
		entries[i] = entry
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		results, err := e.BatchLiquidate(caller, entries)
		if err != nil {
			return nil, err
		}
		out := make([]batchEntryView, 0, len(results))
		for _, res := range results {
			view := batchEntryView{Index: res.Index, Skipped: res.Skipped, Result: newLiquidationView(res.Outcome)}
			if res.Err != nil {
				_, code := statusFor(res.Err)
				msg := res.Err.Error()
				var lerr *lending.Error
				if errors.As(res.Err, &lerr) {
					msg = lerr.Message()
				}
				view.Error = &errorBody{Code: code, Error: msg}
			}
			out = append(out, view)
		}
		return map[string]interface{}{"results": out}, nil
	})
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	shares, err := requireAmount("shares", req.Shares)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		minted, err := e.Stake(caller, shares)
		if err != nil {
			return nil, err
		}
		return map[string]string{"stake_shares": minted.String()}, nil
	})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	shares, err := requireAmount("shares", req.Shares)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		pending, err := e.InitiateUnstake(caller, shares)
		if err != nil {
			return nil, err
		}
		return unstakeView{ID: pending.ID, Shares: amountString(pending.Shares), FinalizeAt: pending.FinalizeAt}, nil
	})
}

func (s *Server) handleFinalizeUnstake(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := strings.TrimSpace(req.RequestID)
	if id == "" {
		s.fail(w, r, badRequest("request_id is required"))
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		paid, err := e.FinalizeUnstake(caller, id)
		if err != nil {
			return nil, err
		}
		return map[string]string{"lp_shares": paid.String()}, nil
	})
}

func (s *Server) handleReserveDeposit(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)
	s.mutate(w, r, func(e *lending.Engine, _ lending.State) (interface{}, error) {
		return nil, e.DepositToReserve(caller, amount)
	})
}

func (s *Server) handleAuditLiquidations(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeStatus(w, http.StatusNotFound, "audit log disabled")
		return
	}
	q := audit.Query{
		Borrower: strings.TrimSpace(r.URL.Query().Get("borrower")),
		Kind:     strings.TrimSpace(r.URL.Query().Get("kind")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, badRequest("limit must be an integer"))
			return
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.fail(w, r, badRequest("since must be RFC3339"))
			return
		}
		q.SinceTime = since
	}
	records, err := s.audit.List(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}
