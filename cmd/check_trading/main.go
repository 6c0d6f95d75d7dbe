package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_grid/internal/config"
	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/logger"
)

// check_trading opens and closes one small LONG and one small SHORT through the same
// code path the bot uses, stop-loss included.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to trade")
	notional := flag.String("notional", "20", "position notional in quote currency")
	stopLoss := flag.String("sl", "5", "stop-loss percentage")
	force := flag.Bool("force", false, "allow trading on mainnet")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Exchange.Testnet && !*force {
		fmt.Println("Refusing to place orders on mainnet without -force")
		os.Exit(1)
	}

	log, err := logger.NewLogger("debug", "console")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 2. Init Exchange
	venue, err := exchange.NewVenue(cfg.Exchange, log)
	if err != nil {
		fmt.Printf("Failed to init exchange: %v\n", err)
		os.Exit(1)
	}
	defer venue.Close()

	pair := &domain.TradingPair{
		Symbol:                  strings.ToUpper(*symbol),
		GridLevelPercentage:     decimal.NewFromInt(1),
		LongStopLossPercentage:  decimal.RequireFromString(*stopLoss),
		ShortStopLossPercentage: decimal.RequireFromString(*stopLoss),
		PositionNotional:        decimal.RequireFromString(*notional),
	}
	if err := pair.Validate(); err != nil {
		fmt.Printf("Invalid parameters: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Testing trading on %s (testnet=%v)...\n", venue.Name, cfg.Exchange.Testnet)
	ok := true
	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		if !roundTrip(ctx, venue.Exchange, pair, side) {
			ok = false
		}
		time.Sleep(2 * time.Second)
	}
	if !ok {
		os.Exit(1)
	}
}

func roundTrip(ctx context.Context, ex domain.Exchange, pair *domain.TradingPair, side domain.Side) bool {
	fmt.Printf("\n--- Testing %s ---\n", side)

	price, err := ex.GetCurrentPrice(ctx, pair.Symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
		return false
	}
	fmt.Printf("Current price: %s\n", price)

	tp := price.Mul(decimal.RequireFromString("1.01"))
	if side == domain.SideShort {
		tp = price.Mul(decimal.RequireFromString("0.99"))
	}

	pos, err := ex.OpenPosition(ctx, pair, side, price, tp)
	if err != nil {
		fmt.Printf("❌ Failed to open: %v\n", err)
		return false
	}
	fmt.Printf("✅ Opened: qty=%s entry=%s stop=%s (order %s)\n",
		pos.Quantity, pos.StartPrice, pos.StopLossPrice, pos.StopLossOrderID)

	orders, err := ex.GetOpenOrderIDs(ctx, pair.Symbol)
	switch {
	case err != nil:
		fmt.Printf("⚠️ Failed to list open orders: %v\n", err)
	case !contains(orders, pos.StopLossOrderID):
		fmt.Printf("⚠️ Stop order %s not found among %d open orders\n", pos.StopLossOrderID, len(orders))
	default:
		fmt.Println("✅ Stop order is resting")
	}

	fmt.Println("Closing position...")
	exit, err := ex.ClosePosition(ctx, pos)
	if err != nil {
		fmt.Printf("❌ Failed to close: %v\n", err)
		return false
	}
	if err := pos.Close(exit, time.Now().UTC()); err != nil {
		fmt.Printf("❌ %v\n", err)
		return false
	}
	fmt.Printf("✅ Closed at %s, PnL %s\n", exit, pos.PnL().StringFixed(4))
	return true
}

func contains(ids map[string]struct{}, id string) bool {
	_, ok := ids[id]
	return ok
}
