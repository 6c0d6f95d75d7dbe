package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

func main() {
	dbPath := flag.String("db", "grid_bot.db", "path to the SQLite database")
	symbol := flag.String("symbol", "BTCUSDT", "symbol of the test pair")
	start := flag.String("start", "0", "anchor price, 0 lets the worker anchor on the first price")
	grid := flag.String("grid", "0.1", "grid level percentage")
	stopLoss := flag.String("sl", "0.3", "stop-loss percentage for both sides")
	notional := flag.String("notional", "20", "position notional in quote currency")
	flag.Parse()

	// Connect to database
	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	// Tight grid so crossings happen within minutes on testnet
	pair := &domain.TradingPair{
		Symbol:                  strings.ToUpper(*symbol),
		StartPrice:              decimal.RequireFromString(*start),
		GridLevelPercentage:     decimal.RequireFromString(*grid),
		LongStopLossPercentage:  decimal.RequireFromString(*stopLoss),
		ShortStopLossPercentage: decimal.RequireFromString(*stopLoss),
		PositionNotional:        decimal.RequireFromString(*notional),
	}
	if err := pair.Validate(); err != nil {
		log.Fatalf("Invalid pair: %v", err)
	}

	ctx := context.Background()
	if err := store.SavePair(ctx, pair); err != nil {
		log.Fatalf("Failed to save pair: %v", err)
	}

	stored, err := store.GetPairBySymbol(ctx, pair.Symbol)
	if err != nil {
		log.Fatalf("Failed to reload pair: %v", err)
	}

	fmt.Printf("✅ Test pair saved (inactive)\n")
	fmt.Printf("Pair ID: %d\n", stored.ID)
	fmt.Printf("Symbol: %s\n", stored.Symbol)
	fmt.Printf("Grid: %s%%, SL: %s%%, Notional: %s\n",
		stored.GridLevelPercentage, stored.LongStopLossPercentage, stored.PositionNotional)

	if stored.HasStartPrice() {
		step, err := usecase.PairStep(stored)
		if err != nil {
			log.Fatalf("Invalid grid: %v", err)
		}
		fmt.Printf("Anchor: %s, Step: %s\n", stored.StartPrice, step)
		fmt.Printf("First levels: %s / %s\n",
			usecase.NextLevel(stored.StartPrice, step, false), usecase.NextLevel(stored.StartPrice, step, true))
	}
	fmt.Printf("\nStart it with: POST /api/pairs/%s/start\n", stored.Symbol)
}
