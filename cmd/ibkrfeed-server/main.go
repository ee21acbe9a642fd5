package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ibkrfeed/internal/api"
	"ibkrfeed/internal/broker"
	"ibkrfeed/internal/config"
	"ibkrfeed/internal/connection"
	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/gateway/cpapi"
	"ibkrfeed/internal/gather"
	"ibkrfeed/internal/httpapi"
	"ibkrfeed/internal/marketdata"
	"ibkrfeed/internal/store"
	"ibkrfeed/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ibkrfeed-server: %v\n", err)
		os.Exit(1)
	}
}

// run owns every resource so deferred cleanup completes before main exits.
func run() error {
	cfg, err := config.Load(os.Getenv("IBKRFEED_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logging.
	logFileName := fmt.Sprintf("/tmp/ibkrfeed-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, io.MultiWriter(os.Stdout, logFile))
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Stores.
	cache := store.NewDiskCache(cfg.Cache.Dir, cfg.Cache.TTL(), logger)
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Cache.Dir, "contracts.db")
	}
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(sqlitePath), err)
	}
	contractStore, err := store.NewContractStore(sqlitePath)
	if err != nil {
		return fmt.Errorf("opening contract store: %w", err)
	}
	defer contractStore.Close()

	resolver, err := contracts.NewResolver(cfg.Contracts.FuturesExchangesPath)
	if err != nil {
		return fmt.Errorf("loading futures exchanges: %w", err)
	}

	// Gateway sessions.
	dialer := cpapi.NewDialer(cfg.Gateway.URL(), cfg.Gateway.SkipTLSVerify(), contractStore, logger)
	gwOpts := gateway.Options{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.Port,
		ClientID: cfg.Gateway.ClientID,
		Timeout:  cfg.Gateway.Timeout(),
		ReadOnly: cfg.Gateway.IsReadOnly(),
	}
	mgr := connection.NewManager(dialer, connection.Options{
		Gateway:     gwOpts,
		BaseDelay:   cfg.Reconnect.BaseDelay(),
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}, logger)
	defer mgr.Close()

	mdOpts := gwOpts
	mdOpts.ClientID = cfg.Gateway.MarketDataClientID
	borrower := marketdata.NewBorrower(dialer, mdOpts, util.NewRateLimiter(cfg.Pacing.HistoricalPerMinute), logger)

	var secondary []gather.Source
	if cfg.Alpaca.APIKey != "" {
		secondary = append(secondary, gather.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed, logger))
		logger.Info("secondary source enabled", "source", "alpaca", "feed", cfg.Alpaca.Feed)
	}

	fetcher := marketdata.NewFetcher(cache, resolver, borrower, logger, secondary...)
	brk := broker.NewIBKRBroker(mgr, resolver, cfg.Accounts.Authorized, logger)

	if _, err := mgr.Connect(ctx); err != nil {
		// Account calls reconnect on demand; market data never needs the
		// persistent session.
		logger.Warn("initial gateway connection failed", "error", err)
	}

	rest := httpapi.NewServer(fetcher, brk, cache, mgr, logger)
	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	grpcAddr := ""
	if cfg.Server.GRPCPort > 0 {
		grpcAddr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
	}
	srv := api.NewServer(httpAddr, grpcAddr, rest.Handler(), mgr, logger)

	var janitor *store.Janitor
	if cfg.Cache.JanitorMaxAgeHours > 0 {
		janitor, err = store.NewJanitor(cache, contractStore, cfg.Cache.JanitorSchedule, cfg.Cache.JanitorMaxAgeHours, logger)
		if err != nil {
			return fmt.Errorf("creating janitor: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if janitor != nil {
		g.Go(func() error { return janitor.Run(gctx) })
	}

	logger.Info("ibkrfeed-server started", "http", httpAddr, "grpc", grpcAddr, "gateway", cfg.Gateway.URL(), "cache_dir", cfg.Cache.Dir)
	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("ibkrfeed-server stopped")
	return nil
}
