package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// Crossing is a grid level detected by a worker between two price observations.
type Crossing struct {
	Price         decimal.Decimal  // price that produced the crossing
	Level         decimal.Decimal  // crossed grid level
	PreviousLevel *decimal.Decimal // nil on the first crossing of a worker
	PriceMovedUp  bool
}

// MovingUp derives the trend direction. The last crossed level is the reference; before
// any crossing the anchor is used, and a crossing of the anchor itself follows the price.
func (c Crossing) MovingUp(startPrice decimal.Decimal) bool {
	ref := startPrice
	if c.PreviousLevel != nil {
		ref = *c.PreviousLevel
	}
	if c.Level.Equal(ref) {
		return c.PriceMovedUp
	}
	return c.Level.GreaterThan(ref)
}

// PositionLifecycleEngine runs the per-crossing state machine of a pair's positions.
type PositionLifecycleEngine struct {
	exchange  domain.Exchange
	positions domain.PositionRepository
	notifier  domain.Notifier
	logger    *zap.Logger
}

func NewPositionLifecycleEngine(
	exchange domain.Exchange,
	positions domain.PositionRepository,
	notifier domain.Notifier,
	logger *zap.Logger,
) *PositionLifecycleEngine {
	return &PositionLifecycleEngine{
		exchange:  exchange,
		positions: positions,
		notifier:  notifier,
		logger:    logger,
	}
}

// ProcessCrossing reconciles, closes take-profit targets, decides and executes, in that order.
func (e *PositionLifecycleEngine) ProcessCrossing(ctx context.Context, pair *domain.TradingPair, c Crossing) (domain.AlgorithmAction, error) {
	movingUp := c.MovingUp(pair.StartPrice)

	if _, err := e.ReconcileStopLossExecutions(ctx, pair); err != nil {
		return domain.ActionDoNothing, err
	}

	result, err := e.CloseTakeProfitEligible(ctx, pair, c.Level)
	if err != nil {
		return domain.ActionDoNothing, err
	}

	action, err := e.DecideAction(ctx, pair, c.Level, movingUp, result)
	if err != nil {
		return domain.ActionDoNothing, err
	}

	e.logger.Info("Grid level crossed",
		zap.String("symbol", pair.Symbol),
		zap.Stringer("price", c.Price),
		zap.Stringer("level", c.Level),
		zap.Bool("moving_up", movingUp),
		zap.Int("closed_long", result.ClosedLong),
		zap.Int("closed_short", result.ClosedShort),
		zap.Int("failed", result.Failed),
		zap.String("action", string(action)))

	if _, err := e.ExecuteAction(ctx, pair, c.Level, movingUp, action); err != nil {
		return action, err
	}
	return action, nil
}

// ReconcileStopLossExecutions closes every OPEN position whose stop order is no longer
// live on the exchange. It returns the number of positions closed.
func (e *PositionLifecycleEngine) ReconcileStopLossExecutions(ctx context.Context, pair *domain.TradingPair) (int, error) {
	open, err := e.positions.FindOpenPositions(ctx, pair.ID)
	if err != nil {
		return 0, persistenceErr("find open positions", err)
	}

	tracked := open[:0:0]
	for _, pos := range open {
		if pos.StopLossOrderID != "" {
			tracked = append(tracked, pos)
		}
	}
	if len(tracked) == 0 {
		return 0, nil
	}

	live, err := e.exchange.GetOpenOrderIDs(ctx, pair.Symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch open orders: %w", err)
	}

	closed := 0
	for _, pos := range tracked {
		if _, ok := live[pos.StopLossOrderID]; ok {
			continue
		}
		if err := pos.CloseAt(time.Now()); err != nil {
			continue
		}
		if err := e.positions.SavePosition(ctx, pos); err != nil {
			return closed, persistenceErr("save reconciled position", err)
		}
		closed++
		e.logger.Info("Stop loss executed on exchange",
			zap.String("symbol", pos.Symbol),
			zap.Int64("position_id", pos.ID),
			zap.String("side", string(pos.Side)),
			zap.String("order_id", pos.StopLossOrderID))
		e.notifier.NotifyClosed(pos)
	}
	return closed, nil
}

// CloseTakeProfitEligible closes positions whose target was reached by the crossed level.
// A failed close marks the position ERROR and is not retried.
func (e *PositionLifecycleEngine) CloseTakeProfitEligible(ctx context.Context, pair *domain.TradingPair, level decimal.Decimal) (domain.LevelClosingResult, error) {
	result := domain.LevelClosingResult{Level: level}

	eligible, err := e.positions.FindPositionsEligibleForTakeProfit(ctx, pair.ID, level)
	if err != nil {
		return result, persistenceErr("find take profit positions", err)
	}

	for _, pos := range eligible {
		if !pos.EligibleForTakeProfit(level) {
			continue
		}

		if _, err := e.exchange.ClosePosition(ctx, pos); err != nil {
			e.logger.Error("Failed to close position at take profit",
				zap.String("symbol", pos.Symbol),
				zap.Int64("position_id", pos.ID),
				zap.String("side", string(pos.Side)),
				zap.Error(err))
			if mErr := pos.MarkError(); mErr != nil {
				continue
			}
			if err := e.positions.SavePosition(ctx, pos); err != nil {
				return result, persistenceErr("save failed position", err)
			}
			result.Failed++
			continue
		}

		if err := pos.Close(level, time.Now()); err != nil {
			continue
		}
		if err := e.positions.SavePosition(ctx, pos); err != nil {
			return result, persistenceErr("save closed position", err)
		}
		if pos.Side == domain.SideLong {
			result.ClosedLong++
		} else {
			result.ClosedShort++
		}
		e.notifier.NotifyClosed(pos)
	}
	return result, nil
}

// DecideAction picks the next move for a crossing. Insufficient balance wins over all
// other rules.
func (e *PositionLifecycleEngine) DecideAction(
	ctx context.Context,
	pair *domain.TradingPair,
	level decimal.Decimal,
	movingUp bool,
	result domain.LevelClosingResult,
) (domain.AlgorithmAction, error) {
	balance, err := e.exchange.GetAccountBalance(ctx)
	if err != nil {
		return domain.ActionDoNothing, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.LessThan(pair.PositionNotional) {
		e.logger.Warn("Insufficient balance for new position",
			zap.String("symbol", pair.Symbol),
			zap.Stringer("balance", balance),
			zap.Stringer("required", pair.PositionNotional))
		return domain.ActionDoNothing, nil
	}

	anyOpen, err := e.positions.ExistsAnyOpenPosition(ctx, pair.ID)
	if err != nil {
		return domain.ActionDoNothing, persistenceErr("check open positions", err)
	}
	if !anyOpen {
		return domain.ActionOpenTrend, nil
	}

	trend := domain.TrendSide(movingUp)
	trendOpenAtLevel, err := e.positions.ExistsOpenPositionAtLevel(ctx, pair.ID, level, trend)
	if err != nil {
		return domain.ActionDoNothing, persistenceErr("check position at level", err)
	}

	if result.ClosedOnSide(trend) && !trendOpenAtLevel {
		return domain.ActionOpenTrend, nil
	}
	if result.TotalClosed() == 0 && trendOpenAtLevel {
		return domain.ActionOpenCounterTrend, nil
	}
	return domain.ActionDoNothing, nil
}

// ExecuteAction opens the position chosen by DecideAction. It returns nil for DO_NOTHING.
func (e *PositionLifecycleEngine) ExecuteAction(
	ctx context.Context,
	pair *domain.TradingPair,
	level decimal.Decimal,
	movingUp bool,
	action domain.AlgorithmAction,
) (*domain.Position, error) {
	var side domain.Side
	var takeProfit decimal.Decimal

	step, err := PairStep(pair)
	if err != nil {
		return nil, err
	}

	switch action {
	case domain.ActionOpenTrend:
		side = domain.TrendSide(movingUp)
		takeProfit = NextLevel(level, step, movingUp)
	case domain.ActionOpenCounterTrend:
		side = domain.TrendSide(movingUp).Opposite()
		takeProfit = PreviousLevel(level, step, movingUp)
	default:
		return nil, nil
	}

	pos, err := e.exchange.OpenPosition(ctx, pair, side, level, takeProfit)
	if err != nil {
		var unprotected *domain.UnprotectedPositionError
		if errors.As(err, &unprotected) {
			return e.forceClose(ctx, pair, unprotected)
		}
		return nil, fmt.Errorf("failed to open %s position: %w", side, err)
	}

	pos.PairID = pair.ID
	pos.Symbol = pair.Symbol
	if err := e.positions.SavePosition(ctx, pos); err != nil {
		return pos, persistenceErr("save opened position", err)
	}

	e.logger.Info("Position opened",
		zap.String("symbol", pos.Symbol),
		zap.Int64("position_id", pos.ID),
		zap.String("side", string(pos.Side)),
		zap.Stringer("fill", pos.StartPrice),
		zap.Stringer("qty", pos.Quantity),
		zap.Stringer("take_profit", pos.TakeProfitPrice),
		zap.Stringer("stop_loss", pos.StopLossPrice))
	e.notifier.NotifyOpened(pos)
	return pos, nil
}

// forceClose flattens an entry whose protective stop was refused. The position is never
// left OPEN: it ends CLOSED at the fill price, or ERROR when the close fails too.
func (e *PositionLifecycleEngine) forceClose(ctx context.Context, pair *domain.TradingPair, unprotected *domain.UnprotectedPositionError) (*domain.Position, error) {
	pos := unprotected.Position
	pos.PairID = pair.ID
	pos.Symbol = pair.Symbol
	pos.StopLossOrderID = ""

	fields := []zap.Field{
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Stringer("stop_loss", pos.StopLossPrice),
		zap.Error(unprotected.Cause),
	}
	if domain.IsRejection(unprotected.Cause, domain.RejectionImmediateTrigger) {
		e.logger.Warn("Stop loss would trigger immediately, closing position at market", fields...)
	} else {
		e.logger.Error("Stop loss order failed, closing position at market", fields...)
	}

	if err := e.positions.SavePosition(ctx, pos); err != nil {
		return pos, persistenceErr("save unprotected position", err)
	}
	e.notifier.NotifyOpened(pos)

	fill, err := e.exchange.ClosePosition(ctx, pos)
	if err != nil {
		if mErr := pos.MarkError(); mErr == nil {
			if sErr := e.positions.SavePosition(ctx, pos); sErr != nil {
				return pos, persistenceErr("save failed position", sErr)
			}
		}
		return pos, fmt.Errorf("%w: failed to force close unprotected position %d: %w", domain.ErrEntryPlaced, pos.ID, err)
	}

	if err := pos.Close(fill, time.Now()); err != nil {
		return pos, err
	}
	if err := e.positions.SavePosition(ctx, pos); err != nil {
		return pos, persistenceErr("save force closed position", err)
	}
	e.notifier.NotifyClosed(pos)
	return pos, nil
}

func persistenceErr(op string, err error) error {
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
