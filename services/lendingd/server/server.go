package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendmarket/crypto"
	"lendmarket/native/lending"
	"lendmarket/observability"
	"lendmarket/services/lendingd/audit"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Store     *lending.Store
	Clock     Clock
	Auth      AuthConfig
	RateLimit RateLimit
	Audit     *audit.Log
	Logger    *slog.Logger
	// AllowMint exposes the dev faucet.
	AllowMint      bool
	OriginPatterns []string
}

// Server serves the market over HTTP. Every call runs under one lock so the
// engine sees whole-call exclusivity.
type Server struct {
	store          *lending.Store
	engine         *lending.Engine
	clock          Clock
	auth           *Authenticator
	limiter        *RateLimiter
	audit          *audit.Log
	hub            *Hub
	logger         *slog.Logger
	allowMint      bool
	originPatterns []string

	mu     sync.Mutex
	router http.Handler
}

// MarketAddress and StakingAddress are the module accounts of the market.
var (
	MarketAddress  = crypto.ModuleAddress("lending")
	StakingAddress = crypto.ModuleAddress("lending/staking")
)

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("server: clock required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:          cfg.Store,
		engine:         lending.NewEngine(MarketAddress, StakingAddress),
		clock:          cfg.Clock,
		auth:           NewAuthenticator(cfg.Auth, logger),
		limiter:        NewRateLimiter(cfg.RateLimit),
		audit:          cfg.Audit,
		hub:            NewHub(),
		logger:         logger,
		allowMint:      cfg.AllowMint,
		originPatterns: cfg.OriginPatterns,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "lendingd")
}

// Hub exposes the event fan-out.
func (s *Server) Hub() *Hub { return s.hub }

// Bootstrap writes the market genesis unless a market already exists.
func (s *Server) Bootstrap(params *lending.GenesisParams) (bool, error) {
	created := false
	_, err := s.execute(context.Background(), func(e *lending.Engine, st lending.State) (interface{}, error) {
		existing, err := st.Market()
		if err != nil || existing != nil {
			return nil, err
		}
		created = true
		return nil, e.Genesis(*params)
	})
	if err != nil {
		return false, fmt.Errorf("genesis: %w", err)
	}
	return created, nil
}

type call func(e *lending.Engine, st lending.State) (interface{}, error)

// execute runs fn in one store transaction at the current block. Events are
// published and audited only after the commit.
func (s *Server) execute(ctx context.Context, fn call) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, now := s.clock.Block()
	var (
		result interface{}
		market *lending.Market
	)
	err := s.store.Update(func(st lending.State) error {
		s.engine.SetState(st)
		s.engine.SetBlock(height, now)
		out, err := fn(s.engine, st)
		if err != nil {
			return err
		}
		result = out
		market, err = st.Market()
		return err
	})
	events := s.engine.DrainEvents()
	s.engine.SetState(nil)
	if err != nil {
		return nil, err
	}
	if market != nil {
		observability.Lending().SetMarket(market.TotalAssets, market.TotalDebt, market.Reserve, market.Cash)
	}
	s.record(ctx, events)
	return result, nil
}

func (s *Server) record(ctx context.Context, events []lending.Event) {
	if len(events) == 0 {
		return
	}
	metrics := observability.Lending()
	for _, ev := range events {
		switch ev.Type {
		case lending.EventLiquidated:
			metrics.RecordLiquidation(ev.Attributes["full"] == "true")
			s.logger.Info("position liquidated",
				slog.String("borrower", ev.Attributes["borrower"]),
				slog.String("asset", ev.Attributes["asset"]),
				slog.Uint64("height", ev.Height))
		case lending.EventSocialized:
			metrics.RecordSocialized(attrAmount(ev, "fromReserve"), attrAmount(ev, "fromStakers"), attrAmount(ev, "diluted"))
			s.logger.Warn("bad debt socialized",
				slog.String("borrower", ev.Attributes["borrower"]),
				slog.String("loss", ev.Attributes["loss"]),
				slog.Uint64("height", ev.Height))
		}
	}
	if s.audit != nil {
		if _, err := s.audit.Append(ctx, events); err != nil {
			s.logger.Error("audit append failed", slog.Any("error", err))
		}
	}
	s.hub.Publish(events)
}

// view runs fn against a discarded transaction at the current block.
func (s *Server) view(fn call) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, now := s.clock.Block()
	var result interface{}
	err := s.store.View(func(st lending.State) error {
		s.engine.SetState(st)
		s.engine.SetBlock(height, now)
		out, err := fn(s.engine, st)
		result = out
		return err
	})
	s.engine.DrainEvents()
	s.engine.SetState(nil)
	return result, err
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/market", s.handleMarket)
			public.Get("/positions/{addr}", s.handlePosition)
			public.Get("/accounts/{addr}", s.handleAccount)
			public.Get("/caps", s.handleCaps)
			public.Get("/staking", s.handleStaking)
			public.Get("/liquidatable", s.handleLiquidatable)
			public.Get("/events", s.handleEvents)
		})

		v1.Group(func(user chi.Router) {
			user.Use(s.auth.Middleware())
			user.Use(s.limiter.Middleware)
			user.Post("/deposit", s.handleDeposit)
			user.Post("/withdraw", s.handleWithdraw)
			user.Post("/redeem", s.handleRedeem)
			user.Post("/borrow", s.handleBorrow)
			user.Post("/repay", s.handleRepay)
			user.Post("/collateral/add", s.handleAddCollateral)
			user.Post("/collateral/remove", s.handleRemoveCollateral)
			user.Post("/liquidate", s.handleLiquidate)
			user.Post("/liquidate/batch", s.handleBatchLiquidate)
			user.Post("/stake", s.handleStake)
			user.Post("/unstake", s.handleUnstake)
			user.Post("/unstake/finalize", s.handleFinalizeUnstake)
			user.Post("/reserve/deposit", s.handleReserveDeposit)
		})

		v1.Group(func(auditor chi.Router) {
			auditor.Use(s.auth.Middleware(ScopeGovernance))
			auditor.Get("/audit/liquidations", s.handleAuditLiquidations)
		})

		v1.Route("/gov", func(gov chi.Router) {
			gov.With(s.auth.Middleware(ScopeFeeder), s.limiter.Middleware).Post("/prices", s.handleSetPrice)
			gov.Group(func(g chi.Router) {
				g.Use(s.auth.Middleware(ScopeGovernance))
				g.Use(s.limiter.Middleware)
				g.Post("/ir-params/init", s.handleInitInterest)
				g.Post("/ir-params", s.handleUpdateInterest)
				g.Post("/reward-params/init", s.handleInitReward)
				g.Post("/reward-params", s.handleUpdateReward)
				g.Post("/collateral", s.handleSetCollateral)
				g.Post("/features", s.handleSetFeature)
				g.Post("/caps", s.handleSetCaps)
				g.Post("/asset-cap", s.handleSetAssetCap)
				g.Post("/reserve-percentage", s.handleSetReservePercentage)
				g.Post("/reserve/withdraw", s.handleReserveWithdraw)
				g.Post("/governance", s.handleUpdateGovernance)
				g.Post("/flash-loan/receivers", s.handleSetReceivers)
				g.Post("/flash-loan/fee", s.handleSetFlashLoanFee)
				g.Post("/feeder", s.handleSetFeeder)
				g.Post("/max-price-age", s.handleSetMaxPriceAge)
				g.Post("/max-confidence", s.handleSetMaxConfidence)
				g.Post("/staking-cooldown", s.handleSetStakingCooldown)
				if s.allowMint {
					g.Post("/mint", s.handleMint)
				}
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	height, now := s.clock.Block()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "height": height, "time": now})
}

// statusWriter captures the status and market error code for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	code   uint32
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		observability.Lending().Observe(route, status, sw.code, time.Since(start))
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				slog.String("method", r.Method),
				slog.String("path", route),
				slog.Int("status", status),
				slog.Any("code", sw.code))
		}
	})
}
