package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/config"
	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

// debug_level prints the grid around the live price of each stored pair and, with
// -target, which level a move from the live price to the target would cross.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "", "only show this symbol")
	target := flag.String("target", "", "simulate a move from the live price to this price")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// 3. Init Exchange
	venue, err := exchange.NewVenue(cfg.Exchange, zap.NewNop())
	if err != nil {
		fmt.Printf("Failed to init exchange: %v\n", err)
		os.Exit(1)
	}
	defer venue.Close()

	var targetPrice decimal.Decimal
	if *target != "" {
		if targetPrice, err = decimal.NewFromString(*target); err != nil {
			fmt.Printf("Invalid target price: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 4. List Pairs
	pairs, err := store.ListPairs(ctx)
	if err != nil {
		fmt.Printf("Failed to list pairs: %v\n", err)
		os.Exit(1)
	}
	if len(pairs) == 0 {
		fmt.Println("No pairs found in DB.")
		return
	}

	for _, p := range pairs {
		if *symbol != "" && p.Symbol != strings.ToUpper(*symbol) {
			continue
		}
		fmt.Printf("\n--------------------------------------------------\n")
		fmt.Printf("Pair: %s (ID %d), grid %s%%\n", p.Symbol, p.ID, p.GridLevelPercentage)

		price, err := venue.Exchange.GetCurrentPrice(ctx, p.Symbol)
		if err != nil {
			fmt.Printf("❌ Failed to get current price: %v\n", err)
			continue
		}
		fmt.Printf("Current Market Price: %s\n", price)

		if !p.HasStartPrice() {
			fmt.Printf("Anchor not set yet, the worker will anchor at %s\n", price)
			p.StartPrice = price
		}
		step, err := usecase.PairStep(p)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			continue
		}
		fmt.Printf("Anchor: %s, Step: %s\n", p.StartPrice, step)

		below, above := bracket(p.StartPrice, step, price)
		fmt.Printf("Levels: %s | %s | %s | %s\n",
			usecase.PreviousLevel(below, step, true), below, above, usecase.NextLevel(above, step, true))

		open, err := store.FindOpenPositions(ctx, p.ID)
		if err != nil {
			fmt.Printf("❌ Failed to load positions: %v\n", err)
			continue
		}
		fmt.Printf("Open positions: %d\n", len(open))
		for _, pos := range open {
			fmt.Printf("  #%d %s level=%s tp=%s sl=%s\n",
				pos.ID, pos.Side, pos.GridLevelPrice, pos.TakeProfitPrice, pos.StopLossPrice)
		}

		if *target == "" {
			continue
		}
		level, ok := usecase.FindCrossedLevel(p.StartPrice, step, price, targetPrice)
		if !ok {
			fmt.Printf("Move to %s crosses no level\n", targetPrice)
			continue
		}
		crossing := usecase.Crossing{Price: targetPrice, Level: level, PriceMovedUp: targetPrice.GreaterThan(price)}
		movingUp := crossing.MovingUp(p.StartPrice)
		fmt.Printf("Move to %s crosses %s, trend side %s, next level %s\n",
			targetPrice, level, domain.TrendSide(movingUp), usecase.NextLevel(level, step, movingUp))
		for _, pos := range open {
			if pos.EligibleForTakeProfit(level) {
				fmt.Printf("  ✅ #%d %s would take profit\n", pos.ID, pos.Side)
			}
		}
	}
}

// bracket returns the grid levels enclosing price, equal when price sits on a level.
func bracket(start, step, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	k := price.Sub(start).Div(step).Floor()
	below := start.Add(step.Mul(k))
	if below.Equal(price) {
		return below, below
	}
	return below, below.Add(step)
}
