package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

const (
	BybitBaseURL        = "https://api.bybit.com"
	BybitWSURL          = "wss://stream.bybit.com/v5/public/linear"
	BybitTestnetBaseURL = "https://api-testnet.bybit.com"
	BybitTestnetWSURL   = "wss://stream-testnet.bybit.com/v5/public/linear"

	bybitCategory = "linear"
	// max page size of /v5/order/realtime
	bybitOrderPageLimit = 50
	// streamed prices older than this fall back to REST
	bybitPriceMaxAge = 5 * time.Second
	bybitPingEvery   = 20 * time.Second
	bybitReconnect   = 5 * time.Second
)

// Bybit retCodes the adapter reacts to.
const (
	bybitCodeServerTimeout  = 10000
	bybitCodeRequestExpired = 10002
	bybitCodeRateLimit      = 10006
	bybitCodeServerError    = 10016
	bybitCodeOrderNotExists = 110001
	bybitCodeTriggerAbove   = 110092
	bybitCodeTriggerBelow   = 110093

	bybitPositionIdxHedgeBuy  = 1
	bybitPositionIdxHedgeSell = 2
)

type BybitConfig struct {
	APIKey           string
	APISecret        string
	BaseURL          string
	WSURL            string
	Testnet          bool
	QuoteAsset       string
	HedgeCheckSymbol string
	Fill             FillConfig
	HTTPClient       *http.Client
}

// BybitClient signs and sends v5 REST requests.
type BybitClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
}

func NewBybitClient(cfg BybitConfig) *BybitClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BybitBaseURL
		if cfg.Testnet {
			baseURL = BybitTestnetBaseURL
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BybitClient{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    httpClient,
	}
}

// --- REST API ---

func (c *BybitClient) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, c.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *BybitClient) sendRequest(ctx context.Context, op, method, path string, query url.Values, payload map[string]interface{}) (json.RawMessage, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	}
	if len(query) > 0 {
		paramsStr = query.Encode()
		path += "?" + paramsStr
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := c.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.ExchangeTransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ExchangeTransientError{Op: op, Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.ExchangeTransientError{Op: op, Err: fmt.Errorf("http %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.ExchangeRejectionError{Op: op, Code: int64(resp.StatusCode), Kind: domain.RejectionOther, Message: string(respBody)}
	}

	var envelope struct {
		RetCode int64           `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode bybit %s response: %w", op, err)
	}
	if envelope.RetCode != 0 {
		return nil, bybitError(op, envelope.RetCode, envelope.RetMsg)
	}
	return envelope.Result, nil
}

func (c *BybitClient) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	result, err := c.sendRequest(ctx, op, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decodeResult(op, result, out)
}

func (c *BybitClient) post(ctx context.Context, op, path string, payload map[string]interface{}, out interface{}) error {
	result, err := c.sendRequest(ctx, op, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	return decodeResult(op, result, out)
}

func decodeResult(op string, result json.RawMessage, out interface{}) error {
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("failed to decode bybit %s result: %w", op, err)
	}
	return nil
}

func bybitError(op string, code int64, msg string) error {
	switch code {
	case bybitCodeServerTimeout, bybitCodeRequestExpired, bybitCodeRateLimit, bybitCodeServerError:
		return &domain.ExchangeTransientError{Op: op, Err: fmt.Errorf("retCode %d: %s", code, msg)}
	}
	kind := domain.RejectionOther
	switch code {
	case bybitCodeTriggerAbove, bybitCodeTriggerBelow:
		kind = domain.RejectionImmediateTrigger
	case bybitCodeOrderNotExists:
		kind = domain.RejectionOrderNotFound
	}
	return &domain.ExchangeRejectionError{Op: op, Code: code, Kind: kind, Message: msg}
}

// BybitInstruments reads lot and tick sizes of linear contracts.
type BybitInstruments struct {
	client *BybitClient
}

func NewBybitInstruments(client *BybitClient) *BybitInstruments {
	return &BybitInstruments{client: client}
}

func (s *BybitInstruments) FetchInstruments(ctx context.Context) ([]domain.InstrumentInfo, error) {
	var list []domain.InstrumentInfo
	cursor := ""
	for {
		query := url.Values{"category": {bybitCategory}, "limit": {"1000"}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				LotSizeFilter struct {
					QtyStep string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
			} `json:"list"`
			NextPageCursor string `json:"nextPageCursor"`
		}
		if err := s.client.get(ctx, "instruments", "/v5/market/instruments-info", query, &result); err != nil {
			return nil, err
		}

		for _, item := range result.List {
			step, _ := decimal.NewFromString(item.LotSizeFilter.QtyStep)
			tick, _ := decimal.NewFromString(item.PriceFilter.TickSize)
			list = append(list, domain.InstrumentInfo{
				Symbol:            item.Symbol,
				QuantityPrecision: domain.PrecisionOf(step),
				PricePrecision:    domain.PrecisionOf(tick),
				StepSize:          step,
				TickSize:          tick,
			})
		}

		if result.NextPageCursor == "" || len(result.List) == 0 {
			return list, nil
		}
		cursor = result.NextPageCursor
	}
}

type streamedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// BybitAdapter implements domain.Exchange and domain.PriceStreamer on Bybit v5 linear
// perpetuals in hedge mode.
type BybitAdapter struct {
	*hedgeTrader
	client      *BybitClient
	wsURL       string
	quoteAsset  string
	checkSymbol string
	logger      *zap.Logger

	mu         sync.Mutex
	wsConn     *websocket.Conn
	subscribed map[string]bool
	prices     map[string]streamedPrice
	closed     bool
	wsDone     chan struct{}
}

func NewBybitAdapter(client *BybitClient, instruments domain.InstrumentCatalog, cfg BybitConfig, logger *zap.Logger) *BybitAdapter {
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = BybitWSURL
		if cfg.Testnet {
			wsURL = BybitTestnetWSURL
		}
	}
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	checkSymbol := cfg.HedgeCheckSymbol
	if checkSymbol == "" {
		checkSymbol = "BTCUSDT"
	}
	b := &BybitAdapter{
		client:      client,
		wsURL:       wsURL,
		quoteAsset:  quote,
		checkSymbol: checkSymbol,
		logger:      logger,
		subscribed:  make(map[string]bool),
		prices:      make(map[string]streamedPrice),
		wsDone:      make(chan struct{}),
	}
	b.hedgeTrader = newHedgeTrader(b, instruments, cfg.Fill, logger)
	return b
}

func (b *BybitAdapter) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return b.lastPrice(ctx, symbol)
}

func (b *BybitAdapter) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	query := url.Values{"accountType": {"UNIFIED"}, "coin": {b.quoteAsset}}
	if err := b.client.get(ctx, "balance", "/v5/account/wallet-balance", query, &result); err != nil {
		return decimal.Zero, err
	}
	for _, acct := range result.List {
		for _, c := range acct.Coin {
			if c.Coin == b.quoteAsset {
				return decimal.NewFromString(c.WalletBalance)
			}
		}
	}
	return decimal.Zero, nil
}

// IsHedgeModeEnabled inspects the check symbol positions: hedge mode reports one entry
// per side with positionIdx 1 and 2.
func (b *BybitAdapter) IsHedgeModeEnabled(ctx context.Context) (bool, error) {
	var result struct {
		List []struct {
			PositionIdx int `json:"positionIdx"`
		} `json:"list"`
	}
	query := url.Values{"category": {bybitCategory}, "symbol": {b.checkSymbol}}
	if err := b.client.get(ctx, "position mode", "/v5/position/list", query, &result); err != nil {
		return false, err
	}
	for _, p := range result.List {
		if p.PositionIdx == bybitPositionIdxHedgeBuy || p.PositionIdx == bybitPositionIdxHedgeSell {
			return true, nil
		}
	}
	return false, nil
}

// GetOpenOrderIDs merges active regular and conditional orders.
func (b *BybitAdapter) GetOpenOrderIDs(ctx context.Context, symbol string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for _, filter := range []string{"Order", "StopOrder"} {
		orders, err := b.listOrders(ctx, url.Values{
			"category":    {bybitCategory},
			"symbol":      {symbol},
			"openOnly":    {"0"},
			"orderFilter": {filter},
		})
		if err != nil {
			return nil, err
		}
		for _, o := range orders {
			ids[o.OrderID] = struct{}{}
		}
	}
	return ids, nil
}

type bybitOrder struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
	AvgPrice    string `json:"avgPrice"`
}

// listOrders walks every page of /v5/order/realtime; a single page holds at most
// bybitOrderPageLimit orders.
func (b *BybitAdapter) listOrders(ctx context.Context, query url.Values) ([]bybitOrder, error) {
	var orders []bybitOrder
	query.Set("limit", strconv.Itoa(bybitOrderPageLimit))
	for {
		var result struct {
			List           []bybitOrder `json:"list"`
			NextPageCursor string       `json:"nextPageCursor"`
		}
		if err := b.client.get(ctx, "open orders", "/v5/order/realtime", query, &result); err != nil {
			return nil, err
		}
		orders = append(orders, result.List...)

		if result.NextPageCursor == "" || len(result.List) == 0 {
			return orders, nil
		}
		query.Set("cursor", result.NextPageCursor)
	}
}

// orderGateway

func (b *BybitAdapter) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	sp, ok := b.prices[symbol]
	b.mu.Unlock()
	if ok && time.Since(sp.at) < bybitPriceMaxAge {
		return sp.price, nil
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	query := url.Values{"category": {bybitCategory}, "symbol": {symbol}}
	if err := b.client.get(ctx, "price", "/v5/market/tickers", query, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, &domain.ExchangeTransientError{Op: "price", Err: fmt.Errorf("symbol not found: %s", symbol)}
	}
	return decimal.NewFromString(result.List[0].LastPrice)
}

func bybitPositionIdx(side domain.Side) int {
	if side == domain.SideLong {
		return bybitPositionIdxHedgeBuy
	}
	return bybitPositionIdxHedgeSell
}

// bybitOrderSide is the order side that opens (reduce=false) or reduces the hedge side.
func bybitOrderSide(side domain.Side, reduce bool) string {
	if (side == domain.SideLong) != reduce {
		return "Buy"
	}
	return "Sell"
}

func (b *BybitAdapter) marketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, reduce bool) (orderResult, error) {
	payload := map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      symbol,
		"side":        bybitOrderSide(side, reduce),
		"orderType":   "Market",
		"qty":         qty.String(),
		"positionIdx": bybitPositionIdx(side),
		"reduceOnly":  reduce,
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.client.post(ctx, "market order", "/v5/order/create", payload, &result); err != nil {
		return orderResult{}, err
	}
	// v5 create only acknowledges, the fill is read back by orderStatus
	return orderResult{OrderID: result.OrderID}, nil
}

func (b *BybitAdapter) orderStatus(ctx context.Context, symbol, orderID string) (orderResult, error) {
	orders, err := b.listOrders(ctx, url.Values{
		"category": {bybitCategory},
		"symbol":   {symbol},
		"orderId":  {orderID},
	})
	if err != nil {
		return orderResult{}, err
	}
	res := orderResult{OrderID: orderID}
	if len(orders) == 0 {
		return res, nil
	}
	res.Filled = orders[0].OrderStatus == "Filled"
	res.AvgPrice, _ = decimal.NewFromString(orders[0].AvgPrice)
	return res, nil
}

func (b *BybitAdapter) stopOrder(ctx context.Context, symbol string, side domain.Side, qty, stopPrice decimal.Decimal) (string, error) {
	// 1: triggers when the price rises to triggerPrice, 2: when it falls
	direction := 2
	if side == domain.SideShort {
		direction = 1
	}
	payload := map[string]interface{}{
		"category":         bybitCategory,
		"symbol":           symbol,
		"side":             bybitOrderSide(side, true),
		"orderType":        "Market",
		"qty":              qty.String(),
		"triggerPrice":     stopPrice.String(),
		"triggerDirection": direction,
		"triggerBy":        "MarkPrice",
		"positionIdx":      bybitPositionIdx(side),
		"reduceOnly":       true,
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.client.post(ctx, "stop order", "/v5/order/create", payload, &result); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

func (b *BybitAdapter) cancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return b.client.post(ctx, "cancel order", "/v5/order/cancel", payload, nil)
}

// --- WebSocket ---

// Subscribe streams tickers for symbols. GetCurrentPrice serves streamed prices while
// they are fresh and falls back to REST otherwise.
func (b *BybitAdapter) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var fresh []string
	for _, s := range symbols {
		if !b.subscribed[s] {
			b.subscribed[s] = true
			fresh = append(fresh, s)
		}
	}

	if b.wsConn == nil {
		return b.connectLocked()
	}
	return b.subscribeLocked(fresh)
}

func (b *BybitAdapter) connectLocked() error {
	if b.closed {
		return nil
	}
	c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
	if err != nil {
		return err
	}
	b.wsConn = c

	go b.readLoop(c)
	go b.pingLoop(c)

	all := make([]string, 0, len(b.subscribed))
	for s := range b.subscribed {
		all = append(all, s)
	}
	return b.subscribeLocked(all)
}

func (b *BybitAdapter) subscribeLocked(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "tickers." + s
	}

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return b.wsConn.WriteJSON(subMsg)
}

func (b *BybitAdapter) pingLoop(c *websocket.Conn) {
	ticker := time.NewTicker(bybitPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-b.wsDone:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.wsConn != c {
				b.mu.Unlock()
				return
			}
			err := c.WriteJSON(map[string]string{"op": "ping"})
			b.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (b *BybitAdapter) readLoop(c *websocket.Conn) {
	defer func() {
		c.Close()
		b.mu.Lock()
		if b.wsConn == c {
			b.wsConn = nil
		}
		closed := b.closed
		b.mu.Unlock()
		if !closed {
			go b.reconnect()
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			b.logger.Warn("WS read error", zap.Error(err))
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.logger.Debug("WS unmarshal error", zap.Error(err))
			continue
		}
		if !strings.HasPrefix(event.Topic, "tickers.") || event.Data.LastPrice == "" {
			// pong, subscription ack, or a delta without a price change
			continue
		}

		price, err := decimal.NewFromString(event.Data.LastPrice)
		if err != nil || !price.IsPositive() {
			continue
		}
		symbol := strings.TrimPrefix(event.Topic, "tickers.")

		b.mu.Lock()
		b.prices[symbol] = streamedPrice{price: price, at: time.Now()}
		b.mu.Unlock()
	}
}

func (b *BybitAdapter) reconnect() {
	for {
		select {
		case <-b.wsDone:
			return
		case <-time.After(bybitReconnect):
		}

		b.mu.Lock()
		if b.closed || b.wsConn != nil {
			b.mu.Unlock()
			return
		}
		err := b.connectLocked()
		b.mu.Unlock()
		if err == nil {
			b.logger.Info("WS reconnected")
			return
		}
		b.logger.Warn("WS reconnect failed", zap.Error(err))
	}
}

// Close stops the ticker stream.
func (b *BybitAdapter) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.wsDone)
	if b.wsConn != nil {
		return b.wsConn.Close()
	}
	return nil
}
