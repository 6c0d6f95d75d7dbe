package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/infrastructure/storage"
)

// debug_db prints the stored pairs with their position counts and recent positions.
func main() {
	dbPath := flag.String("db", "grid_bot.db", "path to the SQLite database")
	symbol := flag.String("symbol", "", "only show this symbol")
	limit := flag.Int("limit", 10, "recent positions shown per pair")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	pairs, err := store.ListPairs(ctx)
	if err != nil {
		fmt.Printf("Failed to list pairs: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d pairs:\n", len(pairs))
	for _, p := range pairs {
		if *symbol != "" && p.Symbol != *symbol {
			continue
		}
		state := "inactive"
		if p.Active {
			state = "active"
		}
		fmt.Printf("- %s (ID %d, %s): start=%s grid=%s%% sl=%s%%/%s%% notional=%s\n",
			p.Symbol, p.ID, state, p.StartPrice, p.GridLevelPercentage,
			p.LongStopLossPercentage, p.ShortStopLossPercentage, p.PositionNotional)

		counts, err := store.CountPositionsByStatus(ctx, p.Symbol)
		if err != nil {
			fmt.Printf("  ❌ Failed to count positions: %v\n", err)
			continue
		}
		fmt.Printf("  Positions: open=%d closed=%d error=%d\n",
			counts[domain.StatusOpen], counts[domain.StatusClosed], counts[domain.StatusError])

		positions, err := store.ListPositions(ctx, domain.PositionFilter{Symbol: p.Symbol, Limit: *limit})
		if err != nil {
			fmt.Printf("  ❌ Failed to list positions: %v\n", err)
			continue
		}
		for _, pos := range positions {
			fmt.Printf("  #%d %s %s level=%s entry=%s exit=%s tp=%s sl=%s stop_order=%q pnl=%s\n",
				pos.ID, pos.Side, pos.Status, pos.GridLevelPrice, pos.StartPrice, pos.EndPrice,
				pos.TakeProfitPrice, pos.StopLossPrice, pos.StopLossOrderID, pos.PnL())
		}
	}
}
