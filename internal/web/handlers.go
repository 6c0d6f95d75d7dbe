package web

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"since": func(t time.Time) string { return time.Since(t).Round(time.Second).String() },
}).ParseFS(templateFS, "templates/*.html"))

type dashboardPair struct {
	pairView
	Step   decimal.Decimal
	Worker *usecase.WorkerStatus
}

func (s *Server) dashboardPairs(r *http.Request) ([]dashboardPair, error) {
	pairs, err := s.pairs.ListPairs(r.Context())
	if err != nil {
		return nil, err
	}

	workers := make(map[string]usecase.WorkerStatus)
	for _, st := range s.fleet.Statuses() {
		workers[st.Symbol] = st
	}

	views := make([]dashboardPair, 0, len(pairs))
	for _, p := range pairs {
		v := dashboardPair{pairView: s.newPairView(p)}
		if p.HasStartPrice() {
			// invalid grids are shown without a step
			v.Step, _ = usecase.PairStep(p)
		}
		if st, ok := workers[p.Symbol]; ok {
			v.Worker = &st
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Server) dashboardPositions(r *http.Request) ([]positionView, error) {
	positions, err := s.positions.ListPositions(r.Context(), domain.PositionFilter{Limit: 50})
	if err != nil {
		return nil, err
	}
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, newPositionView(p))
	}
	return views, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.dashboardPairs(r)
	if err != nil {
		s.logger.Error("Failed to list pairs", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	positions, err := s.dashboardPositions(r)
	if err != nil {
		s.logger.Error("Failed to list positions", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Pairs":     pairs,
		"Positions": positions,
		"StartedAt": s.startedAt,
	}
	if err := templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("Template error", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handlePairsTable(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.dashboardPairs(r)
	if err != nil {
		s.logger.Error("Failed to list pairs", zap.Error(err))
		http.Error(w, "Failed to list pairs", http.StatusInternalServerError)
		return
	}
	if err := templates.ExecuteTemplate(w, "pairs_table", pairs); err != nil {
		s.logger.Error("Template error", zap.Error(err))
	}
}

func (s *Server) handlePositionsTable(w http.ResponseWriter, r *http.Request) {
	positions, err := s.dashboardPositions(r)
	if err != nil {
		s.logger.Error("Failed to get positions", zap.Error(err))
		http.Error(w, "Failed to get positions", http.StatusInternalServerError)
		return
	}
	if err := templates.ExecuteTemplate(w, "positions_table", positions); err != nil {
		s.logger.Error("Template error", zap.Error(err))
	}
}
