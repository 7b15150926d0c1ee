package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendmarket/native/lending"
	"lendmarket/observability/logging"
	telemetry "lendmarket/observability/otel"
	"lendmarket/services/lendingd/audit"
	"lendmarket/services/lendingd/config"
	"lendmarket/services/lendingd/server"
	"lendmarket/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.Log.Level))}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger, logCloser := logging.Setup("lendingd", cfg.Environment, logOpts...)
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("lendingd stopped", slog.Any("error", err))
		log.Fatalf("lendingd: %v", err)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	db, err := openDatabase(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	marketCfg, err := lending.LoadMarketConfig(cfg.Market.Genesis)
	if err != nil {
		return err
	}
	genesis, err := marketCfg.Genesis()
	if err != nil {
		return err
	}

	var auditLog *audit.Log
	if cfg.Audit.DSN != "" {
		gdb, err := audit.Open(cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		if auditLog, err = audit.New(gdb); err != nil {
			return fmt.Errorf("migrate audit log: %w", err)
		}
		logger.Info("audit log enabled", logging.MaskField("dsn", cfg.Audit.DSN))
	}

	srv, err := server.New(server.Config{
		Store: lending.NewStore(db),
		Clock: server.NewBlockClock(cfg.Market.BlockPeriod),
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Audit:     auditLog,
		Logger:    logger,
		AllowMint: cfg.Dev.AllowMint,
	})
	if err != nil {
		return err
	}
	created, err := srv.Bootstrap(genesis)
	if err != nil {
		return err
	}
	if created {
		logger.Info("market genesis written", slog.String("base_asset", genesis.BaseAsset), slog.Int("collaterals", len(genesis.Collaterals)))
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !cfg.IsDev() && !loopback {
			listener.Close()
			return errors.New("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if cfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", slog.String("addr", cfg.ListenAddress), slog.Bool("tls", cfg.TLS.Enabled()))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func openDatabase(path string) (storage.Database, error) {
	if strings.TrimSpace(path) == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}
