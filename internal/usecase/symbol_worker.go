package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

const DefaultPollInterval = 500 * time.Millisecond

// WorkerStatus is a point in time view of a running worker.
type WorkerStatus struct {
	Symbol     string           `json:"symbol"`
	StartPrice decimal.Decimal  `json:"start_price"`
	Step       decimal.Decimal  `json:"step"`
	LastPrice  *decimal.Decimal `json:"last_price,omitempty"`
	LastLevel  *decimal.Decimal `json:"last_level,omitempty"`
	Crossings  int              `json:"crossings"`
}

// SymbolWorker polls one symbol and feeds grid crossings into the lifecycle engine.
type SymbolWorker struct {
	pair     *domain.TradingPair
	exchange domain.Exchange
	pairs    domain.PairRepository
	engine   *PositionLifecycleEngine
	logger   *zap.Logger
	interval time.Duration

	mu        sync.RWMutex
	step      decimal.Decimal
	lastPrice *decimal.Decimal
	lastLevel *decimal.Decimal
	crossings int

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewSymbolWorker(
	pair *domain.TradingPair,
	exchange domain.Exchange,
	pairs domain.PairRepository,
	engine *PositionLifecycleEngine,
	interval time.Duration,
	logger *zap.Logger,
) *SymbolWorker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := *pair
	return &SymbolWorker{
		pair:     &p,
		exchange: exchange,
		pairs:    pairs,
		engine:   engine,
		logger:   logger.With(zap.String("symbol", pair.Symbol)),
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *SymbolWorker) Symbol() string {
	return w.pair.Symbol
}

// Run blocks until Stop is called, ctx is done or a configuration error makes the
// symbol untradeable. Stop does not cancel ctx, so exchange calls in flight complete.
func (w *SymbolWorker) Run(ctx context.Context) error {
	defer close(w.done)

	if w.pair.HasStartPrice() {
		if _, err := w.gridStep(); err != nil {
			w.logger.Error("Worker not started", zap.Error(err))
			return err
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Symbol worker started",
		zap.Stringer("start_price", w.pair.StartPrice),
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Symbol worker stopped")
			return nil
		default:
		}

		if err := w.Tick(ctx); err != nil {
			var cfgErr *domain.ConfigurationError
			if errors.As(err, &cfgErr) {
				w.logger.Error("Symbol worker aborted", zap.Error(err))
				return err
			}
			if domain.IsTransient(err) {
				w.logger.Warn("Iteration skipped", zap.Error(err))
			} else {
				w.logger.Error("Iteration failed", zap.Error(err))
			}
		}

		select {
		case <-w.stopChan:
			w.logger.Info("Symbol worker stopped")
			return nil
		case <-ctx.Done():
			w.logger.Info("Symbol worker cancelled")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one iteration: fetch the price, anchor the grid if needed and process a
// new crossing. A transient failure leaves the state untouched so the same move is
// evaluated again on the next tick; any other failure consumes the crossing.
func (w *SymbolWorker) Tick(ctx context.Context) error {
	price, err := w.exchange.GetCurrentPrice(ctx, w.pair.Symbol)
	if err != nil {
		return fmt.Errorf("failed to get price: %w", err)
	}
	if !price.IsPositive() {
		return &domain.ExchangeTransientError{Op: "price", Err: fmt.Errorf("non positive price %s", price)}
	}

	if !w.pair.HasStartPrice() {
		if err := w.anchor(ctx, price); err != nil {
			return err
		}
	}

	step, err := w.gridStep()
	if err != nil {
		return err
	}

	w.mu.RLock()
	last, lastLevel := w.lastPrice, w.lastLevel
	w.mu.RUnlock()

	if last == nil || price.Equal(*last) {
		w.setPrice(price)
		return nil
	}

	level, ok := FindCrossedLevel(w.pair.StartPrice, step, *last, price)
	if !ok || (lastLevel != nil && level.Equal(*lastLevel)) {
		w.setPrice(price)
		return nil
	}

	_, err = w.engine.ProcessCrossing(ctx, w.pair, Crossing{
		Price:         price,
		Level:         level,
		PreviousLevel: lastLevel,
		PriceMovedUp:  price.GreaterThan(*last),
	})
	if err != nil && domain.IsTransient(err) {
		return err
	}

	w.mu.Lock()
	w.lastLevel = &level
	w.lastPrice = &price
	w.crossings++
	w.mu.Unlock()
	return err
}

func (w *SymbolWorker) anchor(ctx context.Context, price decimal.Decimal) error {
	step, err := ComputeStep(price, w.pair.GridLevelPercentage)
	if err != nil {
		return &domain.ConfigurationError{Symbol: w.pair.Symbol, Err: err}
	}
	if err := w.pairs.UpdateStartPrice(ctx, w.pair.ID, price); err != nil {
		return persistenceErr("update start price", err)
	}
	w.mu.Lock()
	w.pair.StartPrice = price
	w.step = step
	w.mu.Unlock()
	w.logger.Info("Grid anchored", zap.Stringer("start_price", price), zap.Stringer("step", step))
	return nil
}

// gridStep returns the step of the anchored grid, computing it on first use.
func (w *SymbolWorker) gridStep() (decimal.Decimal, error) {
	w.mu.RLock()
	step := w.step
	w.mu.RUnlock()
	if step.IsPositive() {
		return step, nil
	}

	step, err := PairStep(w.pair)
	if err != nil {
		return decimal.Zero, err
	}
	w.mu.Lock()
	w.step = step
	w.mu.Unlock()
	return step, nil
}

func (w *SymbolWorker) setPrice(price decimal.Decimal) {
	w.mu.Lock()
	w.lastPrice = &price
	w.mu.Unlock()
}

// Stop signals the loop to exit. It is safe to call more than once.
func (w *SymbolWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// Done is closed once Run has returned.
func (w *SymbolWorker) Done() <-chan struct{} {
	return w.done
}

func (w *SymbolWorker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerStatus{
		Symbol:     w.pair.Symbol,
		StartPrice: w.pair.StartPrice,
		Step:       w.step,
		LastPrice:  w.lastPrice,
		LastLevel:  w.lastLevel,
		Crossings:  w.crossings,
	}
}
