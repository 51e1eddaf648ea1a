package main

import (
	"context"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"womnet/auth"
	"womnet/config"
	"womnet/core/events"
	"womnet/ledger"
	"womnet/native/hub"
	"womnet/native/lease"
	"womnet/native/reward"
	"womnet/observability/logging"
	"womnet/recon"
	"womnet/server"
	"womnet/store"
)

func main() {
	configPath := flag.String("config", "womnet.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:    "womnetd",
		Env:        cfg.Environment,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Level:      cfg.LogLevel(),
	})

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dsn := cfg.Database.DSN
		if dsn == "" {
			dsn = "womnet.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		dialector = postgres.Open(cfg.Database.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		logger.Error("database connection error", "err", err)
		os.Exit(1)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		logger.Error("auto migrate error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Ledger.CallTimeoutSeconds)*time.Second)
	gateway, err := ledger.DialEVM(dialCtx, ledger.EVMConfig{
		RPCURL:        cfg.Ledger.RPCURL,
		ChainID:       new(big.Int).SetUint64(cfg.Ledger.ChainID),
		DeedContract:  cfg.Ledger.DeedContract,
		LeaseContract: cfg.Ledger.LeaseContract,
		WomContract:   cfg.Ledger.WomContract,
		SignerKeyHex:  cfg.OperatorKey(),
	})
	cancel()
	if err != nil {
		logger.Error("ledger dial error", "err", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	bus.Subscribe(func(evt events.Event) {
		logger.Info("domain event", "type", evt.EventType())
	})

	leases := lease.NewEngine()
	leases.SetState(st)
	leases.SetLedger(gateway)
	leases.SetEmitter(bus)
	leases.SetLogger(logger.With("component", "lease"))

	hubs := hub.NewEngine()
	hubs.SetState(st)
	hubs.SetLedger(gateway)
	hubs.SetEmitter(bus)
	hubs.SetLogger(logger.With("component", "hub"))
	hubs.SetTokenPool(auth.NewTokenPool(cfg.TokenTTL(), cfg.Auth.TokenCapacity))

	rewards := reward.NewValidator()
	rewards.SetState(st)
	rewards.SetLedger(gateway)
	rewards.SetLogger(logger.With("component", "reward"))
	rewards.SetAllowEarlyReports(cfg.Reward.AllowEarlyReports)
	if len(cfg.Reward.ExtraTokens) > 0 {
		extras := make([]ledger.RewardToken, 0, len(cfg.Reward.ExtraTokens))
		for _, token := range cfg.Reward.ExtraTokens {
			extras = append(extras, ledger.RewardToken{Address: token.Address, NetworkID: token.NetworkID})
		}
		rewards.SetExtraRewardTokens(extras)
	}

	sweeper := recon.NewSweeper(recon.SweeperConfig{
		State:                 st,
		Ledger:                gateway,
		Hubs:                  hubs,
		Leases:                leases,
		HubSweepInterval:      cfg.HubSweepInterval(),
		TransferScanInterval:  cfg.TransferScanInterval(),
		MaxTransferScanWindow: cfg.Recon.MaxTransferScanWindow,
		Logger:                logger.With("component", "recon"),
	})
	go sweeper.Run(ctx)

	srv := server.New(server.Config{
		Leases:  leases,
		Hubs:    hubs,
		Rewards: rewards,
		Store:   st,
		Logger:  logger.With("component", "http"),
		JWT: server.JWTOptions{
			Enable:   cfg.Auth.JWTEnable,
			Secret:   cfg.JWTSecret(),
			Issuer:   cfg.Auth.JWTIssuer,
			Audience: cfg.Auth.JWTAudience,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting womnetd", "listen", cfg.ListenAddress, "db", cfg.Database.Driver)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
