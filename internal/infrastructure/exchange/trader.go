package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// FillConfig bounds the wait for a market order to be reported filled.
type FillConfig struct {
	Attempts int
	Delay    time.Duration
}

func (c FillConfig) withDefaults() FillConfig {
	if c.Attempts <= 0 {
		c.Attempts = 10
	}
	if c.Delay <= 0 {
		c.Delay = 500 * time.Millisecond
	}
	return c
}

// orderResult is the exchange view of a placed order.
type orderResult struct {
	OrderID  string
	Filled   bool
	AvgPrice decimal.Decimal
}

// orderGateway is the venue specific order API used by hedgeTrader.
type orderGateway interface {
	lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// marketOrder opens (reduce=false) or reduces (reduce=true) the hedge side.
	marketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, reduce bool) (orderResult, error)
	orderStatus(ctx context.Context, symbol, orderID string) (orderResult, error)
	// stopOrder places a reduce side stop-market order on mark price protecting side.
	stopOrder(ctx context.Context, symbol string, side domain.Side, qty, stopPrice decimal.Decimal) (string, error)
	cancelOrder(ctx context.Context, symbol, orderID string) error
}

// hedgeTrader implements the open and close flow shared by every venue.
type hedgeTrader struct {
	gw          orderGateway
	instruments domain.InstrumentCatalog
	fill        FillConfig
	logger      *zap.Logger
}

func newHedgeTrader(gw orderGateway, instruments domain.InstrumentCatalog, fill FillConfig, logger *zap.Logger) *hedgeTrader {
	return &hedgeTrader{
		gw:          gw,
		instruments: instruments,
		fill:        fill.withDefaults(),
		logger:      logger,
	}
}

// OpenPosition sizes the entry from the current price, buys or sells at market, waits
// for the fill and protects the position with a stop. When the stop cannot be placed,
// whatever the reason, the filled position is returned inside
// *domain.UnprotectedPositionError. Failures after the entry order was accepted wrap
// domain.ErrEntryPlaced.
func (t *hedgeTrader) OpenPosition(ctx context.Context, pair *domain.TradingPair, side domain.Side, entryPrice, takeProfitPrice decimal.Decimal) (*domain.Position, error) {
	info, err := t.instruments.Instrument(ctx, pair.Symbol)
	if err != nil {
		return nil, err
	}

	price, err := t.gw.lastPrice(ctx, pair.Symbol)
	if err != nil {
		return nil, err
	}

	qty, err := domain.PositionQuantity(pair.PositionNotional, price, info.QuantityPrecision)
	if err != nil {
		return nil, &domain.ExchangeRejectionError{
			Op:      "size order",
			Kind:    domain.RejectionOther,
			Message: fmt.Sprintf("%s: %v", pair.Symbol, err),
		}
	}

	order, err := t.gw.marketOrder(ctx, pair.Symbol, side, qty, false)
	if err != nil {
		return nil, err
	}
	fill, err := t.waitForFill(ctx, pair.Symbol, order)
	if err != nil {
		t.logger.Error("Entry placed but fill not confirmed, check the account",
			zap.String("symbol", pair.Symbol),
			zap.String("side", string(side)),
			zap.String("order_id", order.OrderID),
			zap.Stringer("qty", qty),
			zap.Error(err))
		return nil, fmt.Errorf("%w: order %s: %w", domain.ErrEntryPlaced, order.OrderID, err)
	}

	pos := &domain.Position{
		PairID:          pair.ID,
		Symbol:          pair.Symbol,
		GridLevelPrice:  entryPrice,
		Quantity:        qty,
		Side:            side,
		Status:          domain.StatusOpen,
		StartPrice:      fill,
		StopLossPrice:   domain.StopLossPrice(entryPrice, side, pair.StopLossPercentage(side), info.PricePrecision),
		TakeProfitPrice: takeProfitPrice,
		Notional:        fill.Mul(qty),
		OpenedAt:        time.Now().UTC(),
	}

	t.logger.Info("Entry filled",
		zap.String("symbol", pair.Symbol),
		zap.String("side", string(side)),
		zap.String("order_id", order.OrderID),
		zap.Stringer("qty", qty),
		zap.Stringer("fill", fill))

	stopID, err := t.gw.stopOrder(ctx, pair.Symbol, side, qty, pos.StopLossPrice)
	if err != nil {
		return nil, &domain.UnprotectedPositionError{Position: pos, Cause: err}
	}
	pos.StopLossOrderID = stopID
	return pos, nil
}

// ClosePosition cancels the tracked stop and reduces the hedge side by the position
// quantity at market. It returns the average fill price.
func (t *hedgeTrader) ClosePosition(ctx context.Context, pos *domain.Position) (decimal.Decimal, error) {
	if pos.StopLossOrderID != "" {
		err := t.gw.cancelOrder(ctx, pos.Symbol, pos.StopLossOrderID)
		if err != nil && !domain.IsRejection(err, domain.RejectionOrderNotFound) {
			return decimal.Zero, fmt.Errorf("failed to cancel stop order %s: %w", pos.StopLossOrderID, err)
		}
	}

	order, err := t.gw.marketOrder(ctx, pos.Symbol, pos.Side, pos.Quantity, true)
	if err != nil {
		return decimal.Zero, err
	}
	return t.waitForFill(ctx, pos.Symbol, order)
}

func (t *hedgeTrader) waitForFill(ctx context.Context, symbol string, order orderResult) (decimal.Decimal, error) {
	for attempt := 0; !order.Filled || !order.AvgPrice.IsPositive(); attempt++ {
		if attempt >= t.fill.Attempts {
			return decimal.Zero, fmt.Errorf("order %s: %w", order.OrderID, domain.ErrFillTimeout)
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(t.fill.Delay):
		}

		var err error
		order, err = t.gw.orderStatus(ctx, symbol, order.OrderID)
		if err != nil {
			return decimal.Zero, err
		}
	}
	return order.AvgPrice, nil
}
