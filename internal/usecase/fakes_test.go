package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

type openCall struct {
	Symbol     string
	Side       domain.Side
	Entry      decimal.Decimal
	TakeProfit decimal.Decimal
}

// FakeExchange is an in-memory hedge-mode account.
type FakeExchange struct {
	mu sync.Mutex

	Prices   []decimal.Decimal // consumed one per GetCurrentPrice, last one repeats
	PriceErr error
	Balance  decimal.Decimal
	Hedge    bool
	HedgeErr error

	OpenErr     error
	Unprotected bool // stop order rejected with immediate trigger
	CloseErr    error
	CloseFill   decimal.Decimal

	LiveOrders map[string]struct{}
	Opened     []openCall
	Closed     []*domain.Position
	Subscribed []string

	priceCalls int
	nextOrder  int
}

func NewFakeExchange() *FakeExchange {
	return &FakeExchange{
		Balance:    decimal.NewFromInt(10000),
		Hedge:      true,
		LiveOrders: make(map[string]struct{}),
	}
}

func (f *FakeExchange) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if f.PriceErr != nil {
		return decimal.Zero, f.PriceErr
	}
	if len(f.Prices) == 0 {
		return decimal.Zero, &domain.ExchangeTransientError{Op: "price", Err: fmt.Errorf("no price")}
	}
	p := f.Prices[0]
	if len(f.Prices) > 1 {
		f.Prices = f.Prices[1:]
	}
	return p, nil
}

func (f *FakeExchange) PriceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priceCalls
}

func (f *FakeExchange) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Balance, nil
}

func (f *FakeExchange) OpenPosition(ctx context.Context, pair *domain.TradingPair, side domain.Side, entry, tp decimal.Decimal) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opened = append(f.Opened, openCall{Symbol: pair.Symbol, Side: side, Entry: entry, TakeProfit: tp})
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}

	pos := &domain.Position{
		Symbol:          pair.Symbol,
		GridLevelPrice:  entry,
		Quantity:        decimal.NewFromInt(1),
		Side:            side,
		Status:          domain.StatusOpen,
		StartPrice:      entry,
		StopLossPrice:   domain.StopLossPrice(entry, side, pair.StopLossPercentage(side), 2),
		TakeProfitPrice: tp,
		Notional:        entry,
		OpenedAt:        time.Now(),
	}
	if f.Unprotected {
		return nil, &domain.UnprotectedPositionError{
			Position: pos,
			Cause:    &domain.ExchangeRejectionError{Op: "place stop", Code: -2021, Kind: domain.RejectionImmediateTrigger},
		}
	}

	f.nextOrder++
	pos.StopLossOrderID = fmt.Sprintf("sl-%d", f.nextOrder)
	f.LiveOrders[pos.StopLossOrderID] = struct{}{}
	return pos, nil
}

func (f *FakeExchange) ClosePosition(ctx context.Context, pos *domain.Position) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pos
	f.Closed = append(f.Closed, &cp)
	if f.CloseErr != nil {
		return decimal.Zero, f.CloseErr
	}
	delete(f.LiveOrders, pos.StopLossOrderID)
	return f.CloseFill, nil
}

func (f *FakeExchange) GetOpenOrderIDs(ctx context.Context, symbol string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]struct{}, len(f.LiveOrders))
	for id := range f.LiveOrders {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *FakeExchange) IsHedgeModeEnabled(ctx context.Context) (bool, error) {
	return f.Hedge, f.HedgeErr
}

func (f *FakeExchange) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscribed = append(f.Subscribed, symbols...)
	return nil
}

func (f *FakeExchange) OpenCalls() []openCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openCall(nil), f.Opened...)
}

func (f *FakeExchange) CloseCalls() []*domain.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Position(nil), f.Closed...)
}

// MemStore implements both repositories over maps.
type MemStore struct {
	mu        sync.Mutex
	pairs     map[string]*domain.TradingPair
	positions map[int64]*domain.Position
	nextID    int64
	saves     int

	SaveErr error
}

func NewMemStore() *MemStore {
	return &MemStore{
		pairs:     make(map[string]*domain.TradingPair),
		positions: make(map[int64]*domain.Position),
	}
}

func (s *MemStore) SavePair(ctx context.Context, pair *domain.TradingPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pairs[pair.Symbol]; ok {
		pair.ID = existing.ID
	} else if pair.ID == 0 {
		s.nextID++
		pair.ID = s.nextID
	}
	cp := *pair
	s.pairs[pair.Symbol] = &cp
	return nil
}

func (s *MemStore) GetPairBySymbol(ctx context.Context, symbol string) (*domain.TradingPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[symbol]
	if !ok {
		return nil, domain.ErrPairNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) ListPairs(ctx context.Context) ([]*domain.TradingPair, error) {
	return s.listPairs(false), nil
}

func (s *MemStore) ListActivePairs(ctx context.Context) ([]*domain.TradingPair, error) {
	return s.listPairs(true), nil
}

func (s *MemStore) listPairs(activeOnly bool) []*domain.TradingPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TradingPair
	for _, p := range s.pairs {
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *MemStore) UpdateStartPrice(ctx context.Context, pairID int64, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairs {
		if p.ID == pairID {
			p.StartPrice = price
			return nil
		}
	}
	return domain.ErrPairNotFound
}

func (s *MemStore) SetActive(ctx context.Context, pairID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairs {
		if p.ID == pairID {
			p.Active = active
			return nil
		}
	}
	return domain.ErrPairNotFound
}

func (s *MemStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if pos.ID == 0 {
		s.nextID++
		pos.ID = s.nextID
	}
	cp := *pos
	s.positions[pos.ID] = &cp
	s.saves++
	return nil
}

func (s *MemStore) FindOpenPositions(ctx context.Context, pairID int64) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return p.PairID == pairID && p.IsOpen()
	}), nil
}

func (s *MemStore) FindPositionsEligibleForTakeProfit(ctx context.Context, pairID int64, level decimal.Decimal) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return p.PairID == pairID && p.EligibleForTakeProfit(level)
	}), nil
}

func (s *MemStore) ExistsOpenPositionAtLevel(ctx context.Context, pairID int64, level decimal.Decimal, side domain.Side) (bool, error) {
	found := s.filter(func(p *domain.Position) bool {
		if p.PairID != pairID || !p.IsOpen() || p.Side != side {
			return false
		}
		if side == domain.SideLong {
			return p.GridLevelPrice.LessThanOrEqual(level)
		}
		return p.GridLevelPrice.GreaterThanOrEqual(level)
	})
	return len(found) > 0, nil
}

func (s *MemStore) ExistsAnyOpenPosition(ctx context.Context, pairID int64) (bool, error) {
	open, _ := s.FindOpenPositions(ctx, pairID)
	return len(open) > 0, nil
}

func (s *MemStore) ListPositions(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return (f.Symbol == "" || p.Symbol == f.Symbol) && (f.Status == "" || p.Status == f.Status)
	}), nil
}

func (s *MemStore) filter(keep func(*domain.Position) bool) []*domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) Position(id int64) *domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// AddPosition stores an OPEN position for a pair and returns it with its id.
func (s *MemStore) AddPosition(pair *domain.TradingPair, side domain.Side, level, tp string, orderID string) *domain.Position {
	pos := &domain.Position{
		PairID:          pair.ID,
		Symbol:          pair.Symbol,
		GridLevelPrice:  decimal.RequireFromString(level),
		StartPrice:      decimal.RequireFromString(level),
		TakeProfitPrice: decimal.RequireFromString(tp),
		Quantity:        decimal.NewFromInt(1),
		Side:            side,
		Status:          domain.StatusOpen,
		StopLossOrderID: orderID,
		OpenedAt:        time.Now(),
	}
	_ = s.SavePosition(context.Background(), pos)
	return pos
}

// RecordingNotifier keeps every event it is handed.
type RecordingNotifier struct {
	mu     sync.Mutex
	opened []*domain.Position
	closed []*domain.Position
}

func (n *RecordingNotifier) NotifyOpened(pos *domain.Position) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := *pos
	n.opened = append(n.opened, &cp)
}

func (n *RecordingNotifier) NotifyClosed(pos *domain.Position) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := *pos
	n.closed = append(n.closed, &cp)
}

func (n *RecordingNotifier) Counts() (opened, closed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.opened), len(n.closed)
}

func btcPair(store *MemStore) *domain.TradingPair {
	pair := &domain.TradingPair{
		Symbol:                  "BTCUSDT",
		StartPrice:              decimal.NewFromInt(50000),
		GridLevelPercentage:     decimal.NewFromInt(1),
		LongStopLossPercentage:  decimal.NewFromInt(2),
		ShortStopLossPercentage: decimal.NewFromInt(2),
		PositionNotional:        decimal.NewFromInt(100),
		Active:                  true,
	}
	_ = store.SavePair(context.Background(), pair)
	return pair
}
