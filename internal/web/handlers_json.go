package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

const defaultPositionsLimit = 100

type pairView struct {
	ID                      int64           `json:"id"`
	Symbol                  string          `json:"symbol"`
	StartPrice              decimal.Decimal `json:"start_price"`
	GridLevelPercentage     decimal.Decimal `json:"grid_level_percentage"`
	LongStopLossPercentage  decimal.Decimal `json:"long_stop_loss_percentage"`
	ShortStopLossPercentage decimal.Decimal `json:"short_stop_loss_percentage"`
	PositionNotional        decimal.Decimal `json:"position_notional"`
	Active                  bool            `json:"active"`
	Running                 bool            `json:"running"`
}

func (s *Server) newPairView(p *domain.TradingPair) pairView {
	return pairView{
		ID:                      p.ID,
		Symbol:                  p.Symbol,
		StartPrice:              p.StartPrice,
		GridLevelPercentage:     p.GridLevelPercentage,
		LongStopLossPercentage:  p.LongStopLossPercentage,
		ShortStopLossPercentage: p.ShortStopLossPercentage,
		PositionNotional:        p.PositionNotional,
		Active:                  p.Active,
		Running:                 s.fleet.IsRunning(p.Symbol),
	}
}

type positionView struct {
	ID              int64           `json:"id"`
	Symbol          string          `json:"symbol"`
	Side            domain.Side     `json:"side"`
	Status          string          `json:"status"`
	GridLevelPrice  decimal.Decimal `json:"grid_level_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	StartPrice      decimal.Decimal `json:"start_price"`
	EndPrice        decimal.Decimal `json:"end_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossOrderID string          `json:"stop_loss_order_id,omitempty"`
	Notional        decimal.Decimal `json:"notional"`
	PnL             decimal.Decimal `json:"pnl"`
	OpenedAt        time.Time       `json:"opened_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
}

func newPositionView(p *domain.Position) positionView {
	return positionView{
		ID:              p.ID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Status:          string(p.Status),
		GridLevelPrice:  p.GridLevelPrice,
		Quantity:        p.Quantity,
		StartPrice:      p.StartPrice,
		EndPrice:        p.EndPrice,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		StopLossOrderID: p.StopLossOrderID,
		Notional:        p.Notional,
		PnL:             p.PnL(),
		OpenedAt:        p.OpenedAt,
		ClosedAt:        p.ClosedAt,
	}
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.pairs.ListPairs(r.Context())
	if err != nil {
		s.logger.Error("Failed to list pairs", zap.Error(err))
		http.Error(w, "Failed to list pairs", http.StatusInternalServerError)
		return
	}

	views := make([]pairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, s.newPairView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSavePair(w http.ResponseWriter, r *http.Request) {
	type SavePairRequest struct {
		Symbol                  string          `json:"symbol"`
		StartPrice              decimal.Decimal `json:"start_price"`
		GridLevelPercentage     decimal.Decimal `json:"grid_level_percentage"`
		LongStopLossPercentage  decimal.Decimal `json:"long_stop_loss_percentage"`
		ShortStopLossPercentage decimal.Decimal `json:"short_stop_loss_percentage"`
		PositionNotional        decimal.Decimal `json:"position_notional"`
		Active                  bool            `json:"active"`
	}

	var req SavePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pair := &domain.TradingPair{
		Symbol:                  strings.ToUpper(strings.TrimSpace(req.Symbol)),
		StartPrice:              req.StartPrice,
		GridLevelPercentage:     req.GridLevelPercentage,
		LongStopLossPercentage:  req.LongStopLossPercentage,
		ShortStopLossPercentage: req.ShortStopLossPercentage,
		PositionNotional:        req.PositionNotional,
	}
	if err := pair.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.fleet.IsRunning(pair.Symbol) {
		http.Error(w, "Stop trading before changing the pair", http.StatusConflict)
		return
	}

	if err := s.pairs.SavePair(r.Context(), pair); err != nil {
		s.logger.Error("Failed to save pair", zap.String("symbol", pair.Symbol), zap.Error(err))
		http.Error(w, "Failed to save pair", http.StatusInternalServerError)
		return
	}

	if req.Active {
		if err := s.startPair(r.Context(), pair); err != nil {
			s.writeTradingError(w, pair.Symbol, err)
			return
		}
	}

	stored, err := s.pairs.GetPairBySymbol(r.Context(), pair.Symbol)
	if err != nil {
		s.logger.Error("Failed to reload pair", zap.String("symbol", pair.Symbol), zap.Error(err))
		http.Error(w, "Failed to reload pair", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.newPairView(stored))
}

func (s *Server) handleStartPair(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))

	pair, err := s.pairs.GetPairBySymbol(r.Context(), symbol)
	if err != nil {
		s.writeTradingError(w, symbol, err)
		return
	}
	if err := s.startPair(r.Context(), pair); err != nil {
		s.writeTradingError(w, symbol, err)
		return
	}

	pair.Active = true
	s.writeJSON(w, http.StatusOK, s.newPairView(pair))
}

func (s *Server) startPair(ctx context.Context, pair *domain.TradingPair) error {
	// workers outlive the request
	return s.fleet.StartTrading(context.WithoutCancel(ctx), pair)
}

func (s *Server) handleStopPair(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))

	result, err := s.fleet.StopTrading(context.WithoutCancel(r.Context()), symbol, hard)
	if err != nil {
		s.writeTradingError(w, symbol, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PositionFilter{
		Symbol: strings.ToUpper(q.Get("symbol")),
		Status: domain.PositionStatus(strings.ToUpper(q.Get("status"))),
		Limit:  defaultPositionsLimit,
	}
	switch filter.Status {
	case "", domain.StatusOpen, domain.StatusClosed, domain.StatusError:
	default:
		http.Error(w, "Unknown status", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			http.Error(w, "Limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	positions, err := s.positions.ListPositions(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list positions", zap.Error(err))
		http.Error(w, "Failed to list positions", http.StatusInternalServerError)
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, newPositionView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	type StatsView struct {
		domain.SymbolPerformance
		WinRate decimal.Decimal `json:"win_rate"`
		AvgHold string          `json:"avg_hold"`
	}

	stats, err := s.analyzer.Analyze(r.Context(), strings.ToUpper(r.URL.Query().Get("symbol")))
	if err != nil {
		s.logger.Error("Failed to analyze positions", zap.Error(err))
		http.Error(w, "Failed to analyze positions", http.StatusInternalServerError)
		return
	}

	views := make([]StatsView, 0, len(stats))
	for _, st := range stats {
		views = append(views, StatsView{
			SymbolPerformance: st,
			WinRate:           st.WinRate(),
			AvgHold:           st.AvgHold.Round(time.Second).String(),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

// positionCounter is implemented by stores that can aggregate positions per status.
type positionCounter interface {
	CountPositionsByStatus(ctx context.Context, symbol string) (map[domain.PositionStatus]int, error)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Uptime    string                        `json:"uptime"`
		Workers   []usecase.WorkerStatus        `json:"workers"`
		Positions map[domain.PositionStatus]int `json:"positions,omitempty"`
	}

	resp := StatusResponse{
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Workers: s.fleet.Statuses(),
	}
	if counter, ok := s.positions.(positionCounter); ok {
		counts, err := counter.CountPositionsByStatus(r.Context(), "")
		if err != nil {
			s.logger.Warn("Failed to count positions", zap.Error(err))
		} else {
			resp.Positions = counts
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeTradingError(w http.ResponseWriter, symbol string, err error) {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrPairNotFound):
		http.Error(w, "Pair not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrWorkerAlreadyRunning), errors.Is(err, domain.ErrWorkerNotRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrHedgeModeDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &cfgErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("Trading request failed", zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
