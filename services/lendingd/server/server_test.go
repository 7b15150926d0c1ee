package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"lendmarket/crypto"
	"lendmarket/native/lending"
	"lendmarket/services/lendingd/audit"
	"lendmarket/storage"
)

const testSecret = "0123456789abcdef0123"

func testAddress(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

var (
	deployer   = testAddress(0x01)
	governance = testAddress(0x02)
	feeder     = testAddress(0x03)
	depositor  = testAddress(0x10)
	borrower   = testAddress(0x11)
	liquidator = testAddress(0x12)
)

type fixture struct {
	t       *testing.T
	srv     *Server
	handler http.Handler
	clock   *ManualClock
	audit   *audit.Log
}

func genesisParams() *lending.GenesisParams {
	return &lending.GenesisParams{
		BaseAsset:         "USD",
		BaseDecimals:      8,
		Deployer:          deployer,
		Governance:        governance,
		Feeder:            feeder,
		ReservePercentage: 10_000_000,
		Features:          lending.AllFeatures(),
		FlashLoanFeeBps:   lending.DefaultFlashLoanFeeBps,
		StakingCooldown:   lending.DefaultStakingCooldown,
		Collaterals: []lending.CollateralConfig{{
			Asset:               "BTC",
			MaxLTV:              70_000_000,
			LiquidationLTV:      80_000_000,
			LiquidationDiscount: 10_000_000,
			Decimals:            8,
			Supported:           true,
		}},
		Interest: &lending.InterestRateParams{
			Slope1:   big.NewInt(750_000_000_000),
			Slope2:   big.NewInt(1_500_000_000_000),
			Kink:     big.NewInt(700_000_000_000),
			BaseRate: big.NewInt(5_000_000_000),
		},
	}
}

func newFixture(t *testing.T, rate RateLimit) *fixture {
	t.Helper()
	db, err := audit.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	auditLog, err := audit.New(db)
	require.NoError(t, err)

	if rate.RequestsPerMinute == 0 {
		rate = RateLimit{RequestsPerMinute: 60_000, Burst: 1_000}
	}
	clock := NewManualClock(1, 1_700_000_000)
	srv, err := New(Config{
		Store:     lending.NewStore(storage.NewMemDB()),
		Clock:     clock,
		Auth:      AuthConfig{HMACSecret: testSecret},
		RateLimit: rate,
		Audit:     auditLog,
		AllowMint: true,
	})
	require.NoError(t, err)
	created, err := srv.Bootstrap(genesisParams())
	require.NoError(t, err)
	require.True(t, created)

	f := &fixture{t: t, srv: srv, handler: srv.Handler(), clock: clock, audit: auditLog}
	f.setPrice("USD", "100000000")
	f.setPrice("BTC", "100000000")
	return f
}

func token(t *testing.T, subject crypto.Address, scopes ...string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, subject, scopes, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) ok(method, path, tok string, body interface{}) map[string]interface{} {
	f.t.Helper()
	rec := f.do(method, path, tok, body)
	require.Equalf(f.t, http.StatusOK, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	out := map[string]interface{}{}
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (f *fixture) setPrice(asset, value string) {
	f.t.Helper()
	f.ok(http.MethodPost, "/v1/gov/prices", token(f.t, feeder, ScopeFeeder), map[string]string{"asset": asset, "value": value})
}

func (f *fixture) mint(asset string, to crypto.Address, amount string) {
	f.t.Helper()
	f.ok(http.MethodPost, "/v1/gov/mint", token(f.t, governance, ScopeGovernance),
		map[string]string{"asset": asset, "to": to.String(), "amount": amount})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, RateLimit{})
	out := f.ok(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, "ok", out["status"])
	require.EqualValues(t, 1, out["height"])

	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "lendmarket_")
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, RateLimit{})
	body := map[string]string{"amount": "1"}

	rec := f.do(http.MethodPost, "/v1/deposit", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/deposit", "not-a-token", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/gov/features", token(t, depositor), map[string]interface{}{"feature": "borrow", "enabled": false})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// The scope opens the route but the engine still checks the principal.
	rec = f.do(http.MethodPost, "/v1/gov/features", token(t, depositor, ScopeGovernance), map[string]interface{}{"feature": "borrow", "enabled": false})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.EqualValues(t, 50000, decodeError(t, rec).Code)

	f.ok(http.MethodPost, "/v1/gov/features", token(t, governance, ScopeGovernance), map[string]interface{}{"feature": "borrow", "enabled": false})
	market := f.ok(http.MethodGet, "/v1/market", "", nil)
	features := market["features"].(map[string]interface{})
	require.Equal(t, false, features["borrow"])
}

func TestDepositBorrowLiquidateFlow(t *testing.T) {
	f := newFixture(t, RateLimit{})
	depTok := token(t, depositor)
	borTok := token(t, borrower)
	liqTok := token(t, liquidator)

	f.mint("USD", depositor, "100000000000")
	f.mint("BTC", borrower, "20000000000")
	f.mint("USD", liquidator, "5000000000")

	out := f.ok(http.MethodPost, "/v1/deposit", depTok, map[string]string{"amount": "100000000000"})
	require.Equal(t, "100000000000", out["shares"])
	f.ok(http.MethodPost, "/v1/collateral/add", borTok, map[string]string{"asset": "BTC", "amount": "20000000000"})

	rec := f.do(http.MethodPost, "/v1/borrow", borTok, map[string]string{"amount": "14000000001"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.EqualValues(t, 20002, decodeError(t, rec).Code)

	f.ok(http.MethodPost, "/v1/borrow", borTok, map[string]string{"amount": "10000000000"})
	pos := f.ok(http.MethodGet, "/v1/positions/"+borrower.String(), "", nil)
	require.Equal(t, "10000000000", pos["debt"])
	require.Equal(t, "160000000", pos["health_factor"])
	require.Equal(t, "4000000000", pos["max_borrow"])
	require.Equal(t, false, pos["liquidatable"])

	f.clock.Advance(1, 5)
	f.setPrice("BTC", "50000000")
	pos = f.ok(http.MethodGet, "/v1/positions/"+borrower.String(), "", nil)
	require.Equal(t, true, pos["liquidatable"])

	liq := map[string]string{"borrower": borrower.String(), "asset": "BTC", "repay": "1000000000"}
	rec = f.do(http.MethodPost, "/v1/liquidate", liqTok, liq)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.EqualValues(t, 113, decodeError(t, rec).Code)

	f.clock.Advance(1, 5)
	var list []map[string]interface{}
	rec = f.do(http.MethodGet, "/v1/liquidatable", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, borrower.String(), list[0]["owner"])

	out = f.ok(http.MethodPost, "/v1/liquidate", liqTok, liq)
	require.Equal(t, "1000000000", out["repaid"])
	require.Equal(t, "2200000000", out["seized"])
	require.Equal(t, false, out["full"])

	acct := f.ok(http.MethodGet, "/v1/accounts/"+liquidator.String(), "", nil)
	require.Equal(t, "4000000000", acct["base_balance"])

	records, err := f.audit.List(context.Background(), audit.Query{Borrower: borrower.String()})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, audit.KindLiquidation, records[0].Kind)
	require.Equal(t, "2200000000", records[0].Seized)

	rec = f.do(http.MethodGet, "/v1/audit/liquidations", token(t, depositor), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	auditOut := f.ok(http.MethodGet, "/v1/audit/liquidations?borrower="+borrower.String(), token(t, governance, ScopeGovernance), nil)
	require.Len(t, auditOut["records"], 1)
}

func TestBatchLiquidateOverHTTP(t *testing.T) {
	f := newFixture(t, RateLimit{})
	f.mint("USD", depositor, "100000000000")
	f.mint("BTC", borrower, "20000000000")
	f.mint("USD", liquidator, "5000000000")
	f.ok(http.MethodPost, "/v1/deposit", token(t, depositor), map[string]string{"amount": "100000000000"})
	f.ok(http.MethodPost, "/v1/collateral/add", token(t, borrower), map[string]string{"asset": "BTC", "amount": "20000000000"})
	f.ok(http.MethodPost, "/v1/borrow", token(t, borrower), map[string]string{"amount": "10000000000"})
	f.clock.Advance(1, 5)
	f.setPrice("BTC", "50000000")
	f.clock.Advance(1, 5)

	body := map[string]interface{}{"entries": []interface{}{
		map[string]string{"borrower": borrower.String(), "asset": "BTC", "repay": "1000000000"},
		nil,
		map[string]string{"borrower": depositor.String(), "asset": "BTC", "repay": "1000000000"},
	}}
	out := f.ok(http.MethodPost, "/v1/liquidate/batch", token(t, liquidator), body)
	results := out["results"].([]interface{})
	require.Len(t, results, 3)
	first := results[0].(map[string]interface{})
	require.Equal(t, "2200000000", first["result"].(map[string]interface{})["seized"])
	require.Equal(t, true, results[1].(map[string]interface{})["skipped"])
	third := results[2].(map[string]interface{})
	require.NotNil(t, third["error"])
}

func TestMarketETag(t *testing.T) {
	f := newFixture(t, RateLimit{})
	rec := f.do(http.MethodGet, "/v1/market", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/v1/market", nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	f.handler.ServeHTTP(cached, req)
	require.Equal(t, http.StatusNotModified, cached.Code)

	f.mint("USD", depositor, "1000")
	f.ok(http.MethodPost, "/v1/deposit", token(t, depositor), map[string]string{"amount": "1000"})
	rec = f.do(http.MethodGet, "/v1/market", "", nil)
	require.NotEqual(t, etag, rec.Header().Get("ETag"))
}

func TestStakingOverHTTP(t *testing.T) {
	f := newFixture(t, RateLimit{})
	tok := token(t, depositor)
	f.mint("USD", depositor, "1000000")
	f.ok(http.MethodPost, "/v1/deposit", tok, map[string]string{"amount": "1000000"})
	out := f.ok(http.MethodPost, "/v1/stake", tok, map[string]string{"shares": "400000"})
	require.Equal(t, "400000", out["stake_shares"])

	req := f.ok(http.MethodPost, "/v1/unstake", tok, map[string]string{"shares": "100000"})
	id := req["id"].(string)
	require.EqualValues(t, 1+lending.DefaultStakingCooldown, req["finalize_at"])

	rec := f.do(http.MethodPost, "/v1/unstake/finalize", tok, map[string]string{"request_id": id})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.EqualValues(t, 60004, decodeError(t, rec).Code)

	rec = f.do(http.MethodPost, "/v1/unstake/finalize", tok, map[string]string{"request_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	f.clock.Advance(lending.DefaultStakingCooldown, 0)
	out = f.ok(http.MethodPost, "/v1/unstake/finalize", tok, map[string]string{"request_id": id})
	require.Equal(t, "100000", out["lp_shares"])

	staking := f.ok(http.MethodGet, "/v1/staking", "", nil)
	require.Equal(t, "300000", staking["active_shares"])
	require.Equal(t, "0", staking["queued_shares"])

	acct := f.ok(http.MethodGet, "/v1/accounts/"+depositor.String(), "", nil)
	require.Equal(t, "700000", acct["lp_shares"])
	require.Equal(t, "300000", acct["staked"])
}

func TestGovernanceEndpoints(t *testing.T) {
	f := newFixture(t, RateLimit{})
	gov := token(t, governance, ScopeGovernance)

	f.ok(http.MethodPost, "/v1/gov/caps", gov, map[string]interface{}{"resource": "lp", "factor": 20_000_000})
	var caps []capView
	rec := f.do(http.MethodGet, "/v1/caps", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &caps))
	require.Len(t, caps, 1)
	require.Equal(t, "lp", caps[0].Resource)
	require.Equal(t, lending.DefaultRefillWindow, caps[0].RefillWindow)

	rec = f.do(http.MethodPost, "/v1/gov/reserve-percentage", gov, map[string]interface{}{"value": 100_000_001})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.EqualValues(t, 50001, decodeError(t, rec).Code)

	rec = f.do(http.MethodPost, "/v1/gov/ir-params/init", token(t, deployer, ScopeGovernance),
		map[string]string{"slope1": "1", "slope2": "2", "kink": "3", "base_rate": "0"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.EqualValues(t, 70000, decodeError(t, rec).Code)

	rec = f.do(http.MethodPost, "/v1/gov/ir-params", gov, map[string]string{"slope1": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	next := testAddress(0x20)
	f.ok(http.MethodPost, "/v1/gov/governance", gov, map[string]string{"address": next.String()})
	rec = f.do(http.MethodPost, "/v1/gov/max-price-age", gov, map[string]interface{}{"value": 60})
	require.Equal(t, http.StatusForbidden, rec.Code)
	f.ok(http.MethodPost, "/v1/gov/max-price-age", token(t, next, ScopeGovernance), map[string]interface{}{"value": 60})

	rec = f.do(http.MethodPost, "/v1/gov/max-confidence", token(t, next, ScopeGovernance), map[string]interface{}{"value": 10_001})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.ok(http.MethodPost, "/v1/gov/max-confidence", token(t, next, ScopeGovernance), map[string]interface{}{"value": 500})

	market := f.ok(http.MethodGet, "/v1/market", "", nil)
	require.EqualValues(t, 60, market["max_price_age"])
	require.EqualValues(t, 500, market["max_confidence_bps"])
}

func TestRejectsMalformedRequests(t *testing.T) {
	f := newFixture(t, RateLimit{})
	tok := token(t, depositor)
	cases := []struct {
		path string
		body interface{}
	}{
		{"/v1/deposit", map[string]string{"amount": "-5"}},
		{"/v1/deposit", map[string]string{"amount": "1", "extra": "x"}},
		{"/v1/deposit", map[string]string{}},
		{"/v1/repay", map[string]string{"amount": "1", "borrower": "nope"}},
		{"/v1/collateral/add", map[string]string{"amount": "1"}},
		{"/v1/unstake/finalize", map[string]string{}},
	}
	for _, tc := range cases {
		rec := f.do(http.MethodPost, tc.path, tok, tc.body)
		require.Equalf(t, http.StatusBadRequest, rec.Code, "%s %v", tc.path, tc.body)
	}
	rec := f.do(http.MethodGet, "/v1/positions/garbage", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	f := newFixture(t, RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodGet, "/v1/staking", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(http.MethodGet, "/v1/staking", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, RateLimit{})
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events?types=" + lending.EventDeposit
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return f.srv.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.mint("USD", depositor, "500")
	f.ok(http.MethodPost, "/v1/deposit", token(t, depositor), map[string]string{"amount": "500"})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev lending.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, lending.EventDeposit, ev.Type)
	require.Equal(t, uint64(1), ev.Height)
}
