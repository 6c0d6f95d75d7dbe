package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// InstrumentSource lists the precision rules of every tradable symbol.
type InstrumentSource interface {
	FetchInstruments(ctx context.Context) ([]domain.InstrumentInfo, error)
}

// InstrumentCache keeps exchange precision rules in memory. It is filled by Refresh
// and never hits the exchange on a lookup, except once for a symbol it has not seen.
type InstrumentCache struct {
	source InstrumentSource
	logger *zap.Logger

	mu          sync.RWMutex
	items       map[string]domain.InstrumentInfo
	refreshedAt time.Time
}

func NewInstrumentCache(source InstrumentSource, logger *zap.Logger) *InstrumentCache {
	return &InstrumentCache{
		source: source,
		logger: logger,
		items:  make(map[string]domain.InstrumentInfo),
	}
}

// Refresh replaces the cached rules with a fresh exchange snapshot.
func (c *InstrumentCache) Refresh(ctx context.Context) error {
	list, err := c.source.FetchInstruments(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch instruments: %w", err)
	}

	items := make(map[string]domain.InstrumentInfo, len(list))
	for _, info := range list {
		items[info.Symbol] = info
	}

	c.mu.Lock()
	c.items = items
	c.refreshedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("Instrument cache refreshed", zap.Int("symbols", len(items)))
	return nil
}

func (c *InstrumentCache) Instrument(ctx context.Context, symbol string) (domain.InstrumentInfo, error) {
	if info, ok := c.lookup(symbol); ok {
		return info, nil
	}

	// listed after the last refresh
	if err := c.Refresh(ctx); err != nil {
		return domain.InstrumentInfo{}, err
	}
	if info, ok := c.lookup(symbol); ok {
		return info, nil
	}
	return domain.InstrumentInfo{}, fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, symbol)
}

func (c *InstrumentCache) lookup(symbol string) (domain.InstrumentInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.items[symbol]
	return info, ok
}

func (c *InstrumentCache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// Run refreshes the cache every interval until ctx is done. Failures keep the old snapshot.
func (c *InstrumentCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("Instrument refresh failed", zap.Error(err))
			}
		}
	}
}
