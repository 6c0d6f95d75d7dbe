package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// SeedPairs stores the configured pairs that are not known yet. Stored pairs win: their
// anchor and settings may have been changed at runtime. It returns the number inserted.
func SeedPairs(ctx context.Context, repo domain.PairRepository, seeds []*domain.TradingPair, logger *zap.Logger) (int, error) {
	inserted := 0
	for _, seed := range seeds {
		if err := seed.Validate(); err != nil {
			return inserted, err
		}

		_, err := repo.GetPairBySymbol(ctx, seed.Symbol)
		if err == nil {
			logger.Debug("Pair already stored, seed skipped", zap.String("symbol", seed.Symbol))
			continue
		}
		if !errors.Is(err, domain.ErrPairNotFound) {
			return inserted, &domain.PersistenceError{Op: "get pair", Err: err}
		}

		if err := repo.SavePair(ctx, seed); err != nil {
			return inserted, &domain.PersistenceError{Op: "save pair", Err: err}
		}
		inserted++
		logger.Info("Pair seeded from config",
			zap.String("symbol", seed.Symbol),
			zap.Stringer("grid_pct", seed.GridLevelPercentage),
			zap.Bool("active", seed.Active))
	}
	return inserted, nil
}
