package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// Timeframe is a trailing window used to bucket closed positions.
type Timeframe struct {
	Name   string
	Window time.Duration
}

var DefaultTimeframes = []Timeframe{
	{Name: "1h", Window: time.Hour},
	{Name: "24h", Window: 24 * time.Hour},
	{Name: "7d", Window: 7 * 24 * time.Hour},
}

// PerformanceAnalyzer summarizes stored positions per symbol.
type PerformanceAnalyzer struct {
	positions  domain.PositionRepository
	timeframes []Timeframe
	now        func() time.Time
	logger     *zap.Logger
}

func NewPerformanceAnalyzer(positions domain.PositionRepository, logger *zap.Logger) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{
		positions:  positions,
		timeframes: DefaultTimeframes,
		now:        time.Now,
		logger:     logger,
	}
}

// Analyze returns one entry per symbol, sorted by symbol. An empty symbol covers all.
func (a *PerformanceAnalyzer) Analyze(ctx context.Context, symbol string) ([]domain.SymbolPerformance, error) {
	positions, err := a.positions.ListPositions(ctx, domain.PositionFilter{Symbol: symbol})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list positions", Err: err}
	}
	return a.summarize(positions), nil
}

func (a *PerformanceAnalyzer) summarize(positions []*domain.Position) []domain.SymbolPerformance {
	now := a.now()
	bySymbol := make(map[string]*domain.SymbolPerformance)
	holds := make(map[string]time.Duration)

	for _, pos := range positions {
		perf, ok := bySymbol[pos.Symbol]
		if !ok {
			perf = &domain.SymbolPerformance{Symbol: pos.Symbol, RealizedPnL: decimal.Zero}
			for _, tf := range a.timeframes {
				perf.Windows = append(perf.Windows, domain.WindowPerformance{Name: tf.Name, PnL: decimal.Zero})
			}
			bySymbol[pos.Symbol] = perf
		}

		switch pos.Status {
		case domain.StatusOpen:
			perf.Open++
			continue
		case domain.StatusError:
			perf.Errors++
			continue
		}

		perf.Closed++
		if pos.ClosedAt != nil {
			holds[pos.Symbol] += pos.ClosedAt.Sub(pos.OpenedAt)
		}

		pnl := pos.PnL()
		if pos.EndPrice.IsZero() {
			perf.StoppedOut++
		} else {
			if pnl.IsNegative() {
				perf.Losses++
			} else {
				perf.Wins++
			}
			perf.RealizedPnL = perf.RealizedPnL.Add(pnl)
		}

		if pos.ClosedAt == nil {
			continue
		}
		age := now.Sub(*pos.ClosedAt)
		for i, tf := range a.timeframes {
			if age <= tf.Window {
				perf.Windows[i].Closed++
				perf.Windows[i].PnL = perf.Windows[i].PnL.Add(pnl)
			}
		}
	}

	results := make([]domain.SymbolPerformance, 0, len(bySymbol))
	for symbol, perf := range bySymbol {
		if perf.Closed > 0 {
			perf.AvgHold = holds[symbol] / time.Duration(perf.Closed)
		}
		results = append(results, *perf)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })

	a.logger.Debug("Performance analyzed", zap.Int("positions", len(positions)), zap.Int("symbols", len(results)))
	return results
}
