package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// Binance error codes the adapter reacts to.
const (
	binanceCodeUnknown          = -1000
	binanceCodeDisconnected     = -1001
	binanceCodeTooManyRequests  = -1003
	binanceCodeTimeout          = -1007
	binanceCodeServerBusy       = -1008
	binanceCodeCancelRejected   = -2011
	binanceCodeNoSuchOrder      = -2013
	binanceCodeImmediateTrigger = -2021
)

type BinanceConfig struct {
	APIKey     string
	APISecret  string
	BaseURL    string // overrides the production or testnet endpoint when set
	Testnet    bool
	QuoteAsset string
	Fill       FillConfig
	HTTPClient *http.Client
}

// BinanceAdapter implements domain.Exchange on USDⓈ-M futures in hedge mode.
type BinanceAdapter struct {
	*hedgeTrader
	client     *futures.Client
	quoteAsset string
	logger     *zap.Logger
}

// NewBinanceClient builds the futures client for cfg.
func NewBinanceClient(cfg BinanceConfig) *futures.Client {
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	return client
}

func NewBinanceAdapter(client *futures.Client, instruments domain.InstrumentCatalog, cfg BinanceConfig, logger *zap.Logger) *BinanceAdapter {
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	b := &BinanceAdapter{
		client:     client,
		quoteAsset: quote,
		logger:     logger,
	}
	b.hedgeTrader = newHedgeTrader(b, instruments, cfg.Fill, logger)
	return b
}

// BinanceInstruments reads precision rules from exchangeInfo.
type BinanceInstruments struct {
	client *futures.Client
}

func NewBinanceInstruments(client *futures.Client) *BinanceInstruments {
	return &BinanceInstruments{client: client}
}

func (s *BinanceInstruments) FetchInstruments(ctx context.Context) ([]domain.InstrumentInfo, error) {
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, binanceError("exchange info", err)
	}

	list := make([]domain.InstrumentInfo, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		item := domain.InstrumentInfo{
			Symbol:            sym.Symbol,
			QuantityPrecision: int32(sym.QuantityPrecision),
			PricePrecision:    int32(sym.PricePrecision),
		}
		if lot := sym.LotSizeFilter(); lot != nil {
			if step, err := decimal.NewFromString(lot.StepSize); err == nil && step.IsPositive() {
				item.StepSize = step
				item.QuantityPrecision = domain.PrecisionOf(step)
			}
		}
		if pf := sym.PriceFilter(); pf != nil {
			if tick, err := decimal.NewFromString(pf.TickSize); err == nil && tick.IsPositive() {
				item.TickSize = tick
				item.PricePrecision = domain.PrecisionOf(tick)
			}
		}
		list = append(list, item)
	}
	return list, nil
}

func (b *BinanceAdapter) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return b.lastPrice(ctx, symbol)
}

func (b *BinanceAdapter) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, binanceError("balance", err)
	}
	for _, bal := range balances {
		if bal.Asset == b.quoteAsset {
			v, err := decimal.NewFromString(bal.Balance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("failed to parse balance %q: %w", bal.Balance, err)
			}
			return v, nil
		}
	}
	return decimal.Zero, nil
}

func (b *BinanceAdapter) IsHedgeModeEnabled(ctx context.Context) (bool, error) {
	mode, err := b.client.NewGetPositionModeService().Do(ctx)
	if err != nil {
		return false, binanceError("position mode", err)
	}
	return mode.DualSidePosition, nil
}

// GetOpenOrderIDs lists open conditional orders. Stop losses live in the algo order
// book, so the returned ids share the namespace of stopOrder.
func (b *BinanceAdapter) GetOpenOrderIDs(ctx context.Context, symbol string) (map[string]struct{}, error) {
	orders, err := b.client.NewListOpenAlgoOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, binanceError("open algo orders", err)
	}
	ids := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		ids[strconv.FormatInt(o.AlgoId, 10)] = struct{}{}
	}
	return ids, nil
}

// orderGateway

func (b *BinanceAdapter) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, binanceError("price", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return decimal.NewFromString(p.Price)
		}
	}
	return decimal.Zero, &domain.ExchangeTransientError{Op: "price", Err: fmt.Errorf("no price for %s", symbol)}
}

// binanceSides maps a hedge side to the order side and position side. Closing a side
// trades against it on the same position side; reduceOnly is not accepted in hedge mode.
func binanceSides(side domain.Side, reduce bool) (futures.SideType, futures.PositionSideType) {
	if side == domain.SideLong {
		if reduce {
			return futures.SideTypeSell, futures.PositionSideTypeLong
		}
		return futures.SideTypeBuy, futures.PositionSideTypeLong
	}
	if reduce {
		return futures.SideTypeBuy, futures.PositionSideTypeShort
	}
	return futures.SideTypeSell, futures.PositionSideTypeShort
}

func (b *BinanceAdapter) marketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, reduce bool) (orderResult, error) {
	orderSide, positionSide := binanceSides(side, reduce)
	resp, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		PositionSide(positionSide).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return orderResult{}, binanceError("market order", err)
	}
	avg, _ := decimal.NewFromString(resp.AvgPrice)
	return orderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Filled:   resp.Status == futures.OrderStatusTypeFilled,
		AvgPrice: avg,
	}, nil
}

func (b *BinanceAdapter) orderStatus(ctx context.Context, symbol, orderID string) (orderResult, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return orderResult{}, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	order, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return orderResult{}, binanceError("order status", err)
	}
	avg, _ := decimal.NewFromString(order.AvgPrice)
	return orderResult{
		OrderID:  orderID,
		Filled:   order.Status == futures.OrderStatusTypeFilled,
		AvgPrice: avg,
	}, nil
}

// stopOrder places a conditional STOP_MARKET through the algo order API and returns
// its algo id.
func (b *BinanceAdapter) stopOrder(ctx context.Context, symbol string, side domain.Side, qty, stopPrice decimal.Decimal) (string, error) {
	orderSide, positionSide := binanceSides(side, true)
	resp, err := b.client.NewCreateAlgoOrderService().
		Symbol(symbol).
		Side(orderSide).
		PositionSide(positionSide).
		Type(futures.AlgoOrderTypeStopMarket).
		Quantity(qty.String()).
		TriggerPrice(stopPrice.String()).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return "", binanceError("stop order", err)
	}
	return strconv.FormatInt(resp.AlgoId, 10), nil
}

// cancelOrder cancels a stop by algo id.
func (b *BinanceAdapter) cancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid algo id %q: %w", orderID, err)
	}
	if _, err := b.client.NewCancelAlgoOrderService().AlgoID(id).Do(ctx); err != nil {
		return binanceError("cancel stop", err)
	}
	return nil
}

// binanceError classifies a client error into the domain taxonomy.
func binanceError(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return &domain.ExchangeTransientError{Op: op, Err: err}
	}

	switch apiErr.Code {
	case binanceCodeUnknown, binanceCodeDisconnected, binanceCodeTooManyRequests,
		binanceCodeTimeout, binanceCodeServerBusy:
		return &domain.ExchangeTransientError{Op: op, Err: apiErr}
	}

	kind := domain.RejectionOther
	switch apiErr.Code {
	case binanceCodeImmediateTrigger:
		kind = domain.RejectionImmediateTrigger
	case binanceCodeCancelRejected, binanceCodeNoSuchOrder:
		kind = domain.RejectionOrderNotFound
	}
	return &domain.ExchangeRejectionError{Op: op, Code: apiErr.Code, Kind: kind, Message: apiErr.Message}
}
