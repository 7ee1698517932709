package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/castlemate/castlemate/internal/config"
	"github.com/castlemate/castlemate/internal/history"
	"github.com/castlemate/castlemate/internal/httpapi"
	"github.com/castlemate/castlemate/internal/journal"
	"github.com/castlemate/castlemate/internal/ledger"
	"github.com/castlemate/castlemate/internal/match"
	"github.com/castlemate/castlemate/internal/obslog"
	"github.com/castlemate/castlemate/internal/oracle"
	"github.com/castlemate/castlemate/internal/txguard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ledgerClient := ledger.NewHTTPClient(cfg.LedgerRPCURL,
		ledger.WithTimeout(15*time.Second),
		ledger.WithRetry(3),
	)

	priceOracle := oracle.New(cfg.OracleURL,
		time.Duration(cfg.OracleTTLSec)*time.Second,
		cfg.Token.FloorPriceUsd,
	)

	var guard txguard.Guard
	if cfg.RedisURL != "" {
		rg, err := txguard.NewRedisGuard(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis guard init error: %v", err)
		}
		defer rg.Close()
		guard = rg
	} else {
		obslog.L().Warn("txguard_memory_mode")
		guard = txguard.NewMemoryGuard()
	}

	var recorder history.Recorder
	if cfg.DatabaseURL != "" {
		repo, err := history.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("history repo init error: %v", err)
		}
		defer repo.Close()
		recorder = repo
	} else {
		recorder = history.NewMemoryRecorder()
	}

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatalf("journal open error: %v", err)
		}
		defer jnl.Close()
	}

	var payoutKey ledger.PrivateKey
	if cfg.Token.PayoutSecret != "" {
		payoutKey, err = ledger.PrivateKeyFromHex(cfg.Token.PayoutSecret)
		if err != nil {
			log.Fatalf("payout key error: %v", err)
		}
	} else {
		obslog.L().Info("payout_receive_only_mode")
	}

	settler := match.NewSettler(ledgerClient, recorder, jnl, match.SettleConfig{
		TokenSymbol:    cfg.Token.Symbol,
		TokenMint:      cfg.Token.Mint,
		TokenDecimals:  cfg.Token.Decimals,
		CommissionRate: cfg.Token.CommissionRate,
		PayoutKey:      payoutKey,
	})

	manager := match.NewManager(priceOracle, ledgerClient, guard, settler, match.Config{
		InitialClockMs:    cfg.InitialClockMs,
		FinishedRetention: time.Duration(cfg.FinishedRetentionSec) * time.Second,
		IdleRetention:     time.Duration(cfg.IdleRetentionSec) * time.Second,
		TokenSymbol:       cfg.Token.Symbol,
		TokenMint:         cfg.Token.Mint,
		TokenDecimals:     cfg.Token.Decimals,
		DepositAddress:    cfg.DepositAddress,
		StrictDeposits:    cfg.StrictDeposits,
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Deposit feed is advisory: events only surface in logs so operators
	// can correlate; clients still submit the tx id for verification.
	var watcher *ledger.Watcher
	if cfg.LedgerWSURL != "" && cfg.DepositAddress != "" {
		watcher = ledger.NewWatcher(cfg.LedgerWSURL, cfg.DepositAddress)
		watcher.OnDeposit(func(ev *ledger.DepositEvent) {
			obslog.L().Info("deposit_seen",
				zap.String("tx", ev.Signature),
				zap.String("from", ev.From),
				zap.Uint64("amount", ev.Amount),
			)
		})
		if err := watcher.Connect(rootCtx); err != nil {
			obslog.L().Warn("deposit_watch_unavailable", zap.Error(err))
			watcher = nil
		}
	}

	go runExpiry(rootCtx, manager, time.Duration(cfg.ExpireIntervalSec)*time.Second)
	if cfg.ClockSweep {
		go runClockSweep(rootCtx, manager)
	}

	server := httpapi.NewServer(manager, recorder)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		obslog.L().Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			obslog.L().Error("http_serve_error", zap.Error(err))
		}
	}

	rootCancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := server.Shutdown(shutCtx); err != nil {
		obslog.L().Warn("http_shutdown_error", zap.Error(err))
	}
	if watcher != nil {
		_ = watcher.Close(shutCtx)
	}
}

func runExpiry(ctx context.Context, m *match.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Expire(now)
		}
	}
}

func runClockSweep(ctx context.Context, m *match.Manager) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepClocks(ctx)
		}
	}
}
