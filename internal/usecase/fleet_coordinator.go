package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// StopResult reports what happened to the open positions of a stopped pair.
type StopResult struct {
	Symbol   string `json:"symbol"`
	HardStop bool   `json:"hard_stop"`
	Closed   int    `json:"closed"`
	Failed   int    `json:"failed"`
}

// FleetCoordinator owns the symbol -> worker registry. At most one worker runs per symbol.
type FleetCoordinator struct {
	exchange  domain.Exchange
	pairs     domain.PairRepository
	positions domain.PositionRepository
	engine    *PositionLifecycleEngine
	logger    *zap.Logger
	interval  time.Duration

	mu      sync.Mutex
	workers map[string]*SymbolWorker
	ready   bool
	wg      sync.WaitGroup
}

func NewFleetCoordinator(
	exchange domain.Exchange,
	pairs domain.PairRepository,
	positions domain.PositionRepository,
	engine *PositionLifecycleEngine,
	interval time.Duration,
	logger *zap.Logger,
) *FleetCoordinator {
	return &FleetCoordinator{
		exchange:  exchange,
		pairs:     pairs,
		positions: positions,
		engine:    engine,
		logger:    logger,
		interval:  interval,
		workers:   make(map[string]*SymbolWorker),
	}
}

// Start verifies the account runs in hedge mode and resumes every active pair.
// Nothing is started when the check fails.
func (c *FleetCoordinator) Start(ctx context.Context) error {
	hedge, err := c.exchange.IsHedgeModeEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to check position mode: %w", err)
	}
	if !hedge {
		c.logger.Error("Hedge mode is disabled, trading is not started")
		return domain.ErrHedgeModeDisabled
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	pairs, err := c.pairs.ListActivePairs(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "list active pairs", Err: err}
	}

	for _, pair := range pairs {
		if err := c.StartTrading(ctx, pair); err != nil {
			c.logger.Error("Failed to resume trading", zap.String("symbol", pair.Symbol), zap.Error(err))
		}
	}
	c.logger.Info("Fleet started", zap.Int("workers", len(c.ActiveSymbols())))
	return nil
}

// StartTrading launches a worker for the pair and marks it active.
func (c *FleetCoordinator) StartTrading(ctx context.Context, pair *domain.TradingPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return fmt.Errorf("account check has not passed: %w", domain.ErrHedgeModeDisabled)
	}
	if _, exists := c.workers[pair.Symbol]; exists {
		c.mu.Unlock()
		c.logger.Error("Trading already active", zap.String("symbol", pair.Symbol))
		return domain.ErrWorkerAlreadyRunning
	}
	worker := NewSymbolWorker(pair, c.exchange, c.pairs, c.engine, c.interval, c.logger)
	c.workers[pair.Symbol] = worker
	c.wg.Add(1)
	c.mu.Unlock()

	if !pair.Active {
		if err := c.pairs.SetActive(ctx, pair.ID, true); err != nil {
			c.logger.Warn("Failed to mark pair active", zap.String("symbol", pair.Symbol), zap.Error(err))
		}
	}

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.wg.Done()
		if err := worker.Run(runCtx); err != nil {
			c.deregister(worker)
		}
	}()

	if streamer, ok := c.exchange.(domain.PriceStreamer); ok {
		if err := streamer.Subscribe([]string{pair.Symbol}); err != nil {
			c.logger.Warn("Price stream subscription failed, falling back to polling",
				zap.String("symbol", pair.Symbol), zap.Error(err))
		}
	}

	c.logger.Info("Trading started", zap.String("symbol", pair.Symbol))
	return nil
}

// StopTrading stops the worker of a symbol and settles its OPEN positions. A hard stop
// closes them on the exchange; a soft stop only closes them locally.
func (c *FleetCoordinator) StopTrading(ctx context.Context, symbol string, hardStop bool) (StopResult, error) {
	result := StopResult{Symbol: symbol, HardStop: hardStop}

	c.mu.Lock()
	worker, exists := c.workers[symbol]
	if exists {
		delete(c.workers, symbol)
	}
	c.mu.Unlock()

	if !exists {
		return result, domain.ErrWorkerNotRunning
	}

	worker.Stop()
	<-worker.Done()

	pair, err := c.pairs.GetPairBySymbol(ctx, symbol)
	if err != nil {
		return result, &domain.PersistenceError{Op: "get pair", Err: err}
	}

	open, err := c.positions.FindOpenPositions(ctx, pair.ID)
	if err != nil {
		return result, &domain.PersistenceError{Op: "find open positions", Err: err}
	}

	for _, pos := range open {
		if hardStop {
			fill, err := c.exchange.ClosePosition(ctx, pos)
			if err != nil {
				c.logger.Error("Failed to close position on hard stop",
					zap.String("symbol", symbol),
					zap.Int64("position_id", pos.ID),
					zap.Error(err))
				_ = pos.MarkError()
				result.Failed++
			} else {
				_ = pos.Close(fill, time.Now())
				result.Closed++
			}
		} else {
			_ = pos.CloseAt(time.Now())
			result.Closed++
		}
		if err := c.positions.SavePosition(ctx, pos); err != nil {
			return result, &domain.PersistenceError{Op: "save position", Err: err}
		}
	}

	if err := c.pairs.SetActive(ctx, pair.ID, false); err != nil {
		return result, &domain.PersistenceError{Op: "deactivate pair", Err: err}
	}

	c.logger.Info("Trading stopped",
		zap.String("symbol", symbol),
		zap.Bool("hard_stop", hardStop),
		zap.Int("closed", result.Closed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (c *FleetCoordinator) deregister(w *SymbolWorker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workers[w.Symbol()] == w {
		delete(c.workers, w.Symbol())
	}
}

// IsRunning reports whether a worker is registered for the symbol.
func (c *FleetCoordinator) IsRunning(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.workers[symbol]
	return ok
}

func (c *FleetCoordinator) ActiveSymbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	symbols := make([]string, 0, len(c.workers))
	for s := range c.workers {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func (c *FleetCoordinator) Statuses() []WorkerStatus {
	c.mu.Lock()
	workers := make([]*SymbolWorker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.Unlock()

	statuses := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Symbol < statuses[j].Symbol })
	return statuses
}

// Shutdown stops every worker and waits for all of them to exit. Pairs stay active so
// they resume on the next start.
func (c *FleetCoordinator) Shutdown() {
	c.mu.Lock()
	workers := c.workers
	c.workers = make(map[string]*SymbolWorker)
	c.ready = false
	c.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	c.wg.Wait()
	c.logger.Info("Fleet stopped", zap.Int("workers", len(workers)))
}

