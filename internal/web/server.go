package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

// Fleet is the trading control surface exposed over HTTP.
type Fleet interface {
	StartTrading(ctx context.Context, pair *domain.TradingPair) error
	StopTrading(ctx context.Context, symbol string, hardStop bool) (usecase.StopResult, error)
	IsRunning(symbol string) bool
	Statuses() []usecase.WorkerStatus
}

// Analyzer summarizes the position history.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string) ([]domain.SymbolPerformance, error)
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	pairs     domain.PairRepository
	positions domain.PositionRepository
	fleet     Fleet
	analyzer  Analyzer
	startedAt time.Time
	logger    *zap.Logger
}

func NewServer(
	port int,
	pairs domain.PairRepository,
	positions domain.PositionRepository,
	fleet Fleet,
	analyzer Analyzer,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		pairs:     pairs,
		positions: positions,
		fleet:     fleet,
		analyzer:  analyzer,
		startedAt: time.Now(),
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Dashboard
	s.router.HandleFunc("GET /{$}", s.handleDashboard)
	s.router.HandleFunc("GET /partials/pairs", s.handlePairsTable)
	s.router.HandleFunc("GET /partials/positions", s.handlePositionsTable)

	// Pairs
	s.router.HandleFunc("GET /api/pairs", s.handleListPairs)
	s.router.HandleFunc("POST /api/pairs", s.handleSavePair)
	s.router.HandleFunc("POST /api/pairs/{symbol}/start", s.handleStartPair)
	s.router.HandleFunc("POST /api/pairs/{symbol}/stop", s.handleStopPair)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handleListPositions)
	s.router.HandleFunc("GET /api/stats", s.handleStats)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
