package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/config"
	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/notify"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
	"github.com/vitos/crypto_trade_grid/internal/web"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Encoding)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange
	venue, err := exchange.NewVenue(cfg.Exchange, log)
	if err != nil {
		log.Fatal("Failed to init exchange", zap.Error(err))
	}
	defer venue.Close()

	if err := venue.Instruments.Refresh(ctx); err != nil {
		// lookups retry on a miss
		log.Error("Failed to load instruments", zap.Error(err))
	}
	go venue.Instruments.Run(ctx, cfg.InstrumentsRefreshInterval())

	// 5. Init Notifier
	var notifier domain.Notifier = notify.NewLog(log)
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatIDs, cfg.Telegram.QueueSize, log)
		if err != nil {
			log.Error("Failed to init telegram, notifications go to the log", zap.Error(err))
		} else {
			defer tg.Close()
			notifier = tg
		}
	}

	// 6. Init Services
	engine := usecase.NewPositionLifecycleEngine(venue.Exchange, store, notifier, log)
	fleet := usecase.NewFleetCoordinator(venue.Exchange, store, store, engine, cfg.PollInterval(), log)

	seeds := make([]*domain.TradingPair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		seeds = append(seeds, p.TradingPair())
	}
	if _, err := usecase.SeedPairs(ctx, store, seeds, log); err != nil {
		log.Fatal("Failed to seed pairs", zap.Error(err))
	}

	if err := fleet.Start(ctx); err != nil {
		if errors.Is(err, domain.ErrHedgeModeDisabled) {
			log.Error("Hedge mode is disabled, trading stays off until the account is switched and the bot restarted")
		} else {
			log.Error("Failed to start trading", zap.Error(err))
		}
	}

	// 7. Init Web Server
	analyzer := usecase.NewPerformanceAnalyzer(store, log)
	server := web.NewServer(cfg.Server.Port, store, store, fleet, analyzer, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Web server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		fleet.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("Workers did not stop within the grace period", zap.Duration("grace", cfg.ShutdownGracePeriod()))
	}
}
