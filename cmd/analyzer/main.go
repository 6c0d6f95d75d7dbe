package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

// analyzer prints trade performance per symbol from the position history.
func main() {
	dbPath := flag.String("db", "grid_bot.db", "path to the SQLite database")
	symbol := flag.String("symbol", "", "only analyze this symbol")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	analyzer := usecase.NewPerformanceAnalyzer(store, zap.NewNop())
	results, err := analyzer.Analyze(context.Background(), *symbol)
	if err != nil {
		fmt.Printf("Failed to analyze: %v\n", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("No positions found.")
		return
	}

	fmt.Printf("%-12s | %5s | %6s | %5s | %7s | %4s | %6s | %8s | %12s | %s\n",
		"Symbol", "Open", "Closed", "Error", "Stopped", "Wins", "Losses", "Win Rate", "PnL", "Avg Hold")
	fmt.Println("---------------------------------------------------------------------------------------------------")
	for _, r := range results {
		fmt.Printf("%-12s | %5d | %6d | %5d | %7d | %4d | %6d | %7s%% | %12s | %s\n",
			r.Symbol, r.Open, r.Closed, r.Errors, r.StoppedOut, r.Wins, r.Losses,
			r.WinRate().StringFixed(2), r.RealizedPnL.StringFixed(2), r.AvgHold.Round(time.Second))
	}

	fmt.Println()
	for _, r := range results {
		fmt.Printf("%s:", r.Symbol)
		for _, w := range r.Windows {
			fmt.Printf("  %s closed=%d pnl=%s", w.Name, w.Closed, w.PnL.StringFixed(2))
		}
		fmt.Println()
	}
}
