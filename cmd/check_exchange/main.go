package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/config"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/exchange"
)

// check_exchange verifies credentials and account settings without placing orders.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "BTCUSDT", "symbol used for the price and precision checks")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing %s interaction...\n", cfg.Exchange.Name)
	fmt.Printf("Testnet: %v\n", cfg.Exchange.Testnet)
	if len(cfg.Exchange.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Exchange.APIKey[:4])
	}

	venue, err := exchange.NewVenue(cfg.Exchange, zap.NewNop())
	if err != nil {
		fmt.Printf("Failed to init exchange: %v\n", err)
		os.Exit(1)
	}
	defer venue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	failed := false

	// 2. Check Public Endpoint (Price)
	price, err := venue.Exchange.GetCurrentPrice(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Current Price (%s): %s\n", *symbol, price)
	}

	// 3. Check Precision Rules
	info, err := venue.Instruments.Instrument(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get instrument: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Instrument (%s): qty precision=%d, price precision=%d\n",
			*symbol, info.QuantityPrecision, info.PricePrecision)
	}

	// 4. Check Private Endpoints (Balance, Position Mode)
	balance, err := venue.Exchange.GetAccountBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Balance (%s): %s\n", cfg.Exchange.QuoteAsset, balance)
	}

	hedge, err := venue.Exchange.IsHedgeModeEnabled(ctx)
	switch {
	case err != nil:
		fmt.Printf("❌ Failed to get position mode: %v\n", err)
		failed = true
	case !hedge:
		fmt.Printf("❌ Hedge mode is disabled, the bot will refuse to trade\n")
		failed = true
	default:
		fmt.Printf("✅ Hedge mode enabled\n")
	}

	for _, p := range cfg.Pairs {
		if !balance.IsZero() && balance.LessThan(p.PositionNotional) {
			fmt.Printf("⚠️ %s position notional %s exceeds balance\n", p.Symbol, p.PositionNotional)
		}
	}

	if failed {
		os.Exit(1)
	}
}
