package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

// SQLiteStore implements domain.PairRepository and domain.PositionRepository.
// Decimal columns are stored as TEXT so no precision is lost; numeric comparisons on
// them are done in Go.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trading_pairs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL UNIQUE,
			start_price TEXT NOT NULL DEFAULT '0',
			grid_level_percentage TEXT NOT NULL,
			long_stop_loss_percentage TEXT NOT NULL,
			short_stop_loss_percentage TEXT NOT NULL,
			position_notional TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair_id INTEGER NOT NULL REFERENCES trading_pairs(id),
			symbol TEXT NOT NULL,
			grid_level_price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			side TEXT NOT NULL,
			status TEXT NOT NULL,
			start_price TEXT NOT NULL,
			end_price TEXT NOT NULL DEFAULT '0',
			stop_loss_price TEXT NOT NULL,
			take_profit_price TEXT NOT NULL,
			stop_loss_order_id TEXT NOT NULL DEFAULT '',
			opened_at DATETIME NOT NULL,
			closed_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_pair_status ON positions(pair_id, status);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: notional was added after the first release.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE positions ADD COLUMN notional TEXT NOT NULL DEFAULT '0'`)

	return nil
}

// PairRepository Implementation

const pairColumns = `id, symbol, start_price, grid_level_percentage, long_stop_loss_percentage, short_stop_loss_percentage, position_notional, active, created_at, updated_at`

// SavePair inserts the pair or updates the row with the same symbol. A zero start
// price never overwrites a stored anchor.
func (s *SQLiteStore) SavePair(ctx context.Context, pair *domain.TradingPair) error {
	now := time.Now().UTC()
	if pair.CreatedAt.IsZero() {
		pair.CreatedAt = now
	}
	pair.UpdatedAt = now

	query := `INSERT INTO trading_pairs (symbol, start_price, grid_level_percentage, long_stop_loss_percentage, short_stop_loss_percentage, position_notional, active, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET
			  start_price=CASE WHEN excluded.start_price = '0' THEN trading_pairs.start_price ELSE excluded.start_price END,
			  grid_level_percentage=excluded.grid_level_percentage,
			  long_stop_loss_percentage=excluded.long_stop_loss_percentage,
			  short_stop_loss_percentage=excluded.short_stop_loss_percentage,
			  position_notional=excluded.position_notional,
			  active=excluded.active,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		pair.Symbol, pair.StartPrice.String(), pair.GridLevelPercentage.String(),
		pair.LongStopLossPercentage.String(), pair.ShortStopLossPercentage.String(),
		pair.PositionNotional.String(), pair.Active, pair.CreatedAt, pair.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pair %s: %w", pair.Symbol, err)
	}

	stored, err := s.GetPairBySymbol(ctx, pair.Symbol)
	if err != nil {
		return err
	}
	pair.ID = stored.ID
	pair.StartPrice = stored.StartPrice
	pair.CreatedAt = stored.CreatedAt
	return nil
}

func (s *SQLiteStore) GetPairBySymbol(ctx context.Context, symbol string) (*domain.TradingPair, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM trading_pairs WHERE symbol = ?`, symbol)
	pair, err := scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPairNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair %s: %w", symbol, err)
	}
	return pair, nil
}

func (s *SQLiteStore) ListPairs(ctx context.Context) ([]*domain.TradingPair, error) {
	return s.queryPairs(ctx, `SELECT `+pairColumns+` FROM trading_pairs ORDER BY symbol`)
}

func (s *SQLiteStore) ListActivePairs(ctx context.Context) ([]*domain.TradingPair, error) {
	return s.queryPairs(ctx, `SELECT `+pairColumns+` FROM trading_pairs WHERE active = 1 ORDER BY symbol`)
}

func (s *SQLiteStore) queryPairs(ctx context.Context, query string, args ...any) ([]*domain.TradingPair, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*domain.TradingPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *SQLiteStore) UpdateStartPrice(ctx context.Context, pairID int64, price decimal.Decimal) error {
	return s.updatePair(ctx, `UPDATE trading_pairs SET start_price = ?, updated_at = ? WHERE id = ?`,
		price.String(), time.Now().UTC(), pairID)
}

func (s *SQLiteStore) SetActive(ctx context.Context, pairID int64, active bool) error {
	return s.updatePair(ctx, `UPDATE trading_pairs SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), pairID)
}

func (s *SQLiteStore) updatePair(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update pair: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrPairNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPair(row rowScanner) (*domain.TradingPair, error) {
	var p domain.TradingPair
	err := row.Scan(&p.ID, &p.Symbol, &p.StartPrice, &p.GridLevelPercentage,
		&p.LongStopLossPercentage, &p.ShortStopLossPercentage, &p.PositionNotional,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PositionRepository Implementation

const positionColumns = `id, pair_id, symbol, grid_level_price, quantity, side, status, start_price, end_price, stop_loss_price, take_profit_price, stop_loss_order_id, notional, opened_at, closed_at`

// SavePosition inserts a new position (ID == 0) or updates an existing one.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}
	var closedAt sql.NullTime
	if pos.ClosedAt != nil {
		closedAt = sql.NullTime{Time: *pos.ClosedAt, Valid: true}
	}

	if pos.ID == 0 {
		query := `INSERT INTO positions (pair_id, symbol, grid_level_price, quantity, side, status, start_price, end_price, stop_loss_price, take_profit_price, stop_loss_order_id, notional, opened_at, closed_at)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := s.db.ExecContext(ctx, query,
			pos.PairID, pos.Symbol, pos.GridLevelPrice.String(), pos.Quantity.String(),
			string(pos.Side), string(pos.Status), pos.StartPrice.String(), pos.EndPrice.String(),
			pos.StopLossPrice.String(), pos.TakeProfitPrice.String(), pos.StopLossOrderID,
			pos.Notional.String(), pos.OpenedAt, closedAt)
		if err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read position id: %w", err)
		}
		pos.ID = id
		return nil
	}

	query := `UPDATE positions SET status = ?, end_price = ?, stop_loss_order_id = ?, closed_at = ?,
			  quantity = ?, start_price = ?, stop_loss_price = ?, take_profit_price = ?, notional = ?
			  WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query,
		string(pos.Status), pos.EndPrice.String(), pos.StopLossOrderID, closedAt,
		pos.Quantity.String(), pos.StartPrice.String(), pos.StopLossPrice.String(),
		pos.TakeProfitPrice.String(), pos.Notional.String(), pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position %d: %w", pos.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FindOpenPositions(ctx context.Context, pairID int64) ([]*domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE pair_id = ? AND status = ? ORDER BY id`,
		pairID, string(domain.StatusOpen))
}

func (s *SQLiteStore) FindPositionsEligibleForTakeProfit(ctx context.Context, pairID int64, level decimal.Decimal) ([]*domain.Position, error) {
	open, err := s.FindOpenPositions(ctx, pairID)
	if err != nil {
		return nil, err
	}
	eligible := open[:0]
	for _, pos := range open {
		if pos.EligibleForTakeProfit(level) {
			eligible = append(eligible, pos)
		}
	}
	return eligible, nil
}

// ExistsOpenPositionAtLevel reports an OPEN position of side entered at level or beyond
// it against the side: LONG at or below, SHORT at or above.
func (s *SQLiteStore) ExistsOpenPositionAtLevel(ctx context.Context, pairID int64, level decimal.Decimal, side domain.Side) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT grid_level_price FROM positions WHERE pair_id = ? AND status = ? AND side = ?`,
		pairID, string(domain.StatusOpen), string(side))
	if err != nil {
		return false, fmt.Errorf("failed to query positions at level: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gridLevel decimal.Decimal
		if err := rows.Scan(&gridLevel); err != nil {
			return false, err
		}
		if side == domain.SideLong && gridLevel.LessThanOrEqual(level) {
			return true, nil
		}
		if side == domain.SideShort && gridLevel.GreaterThanOrEqual(level) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *SQLiteStore) ExistsAnyOpenPosition(ctx context.Context, pairID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM positions WHERE pair_id = ? AND status = ?)`,
		pairID, string(domain.StatusOpen)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open positions: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context, filter domain.PositionFilter) ([]*domain.Position, error) {
	var where []string
	var args []any
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + positionColumns + ` FROM positions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryPositions(ctx, query, args...)
}

// CountPositionsByStatus returns the number of positions per status for a symbol, or for
// all symbols when symbol is empty.
func (s *SQLiteStore) CountPositionsByStatus(ctx context.Context, symbol string) (map[domain.PositionStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM positions`
	var args []any
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count positions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.PositionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.PositionStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) queryPositions(ctx context.Context, query string, args ...any) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		var p domain.Position
		var side, status string
		var closedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.PairID, &p.Symbol, &p.GridLevelPrice, &p.Quantity,
			&side, &status, &p.StartPrice, &p.EndPrice, &p.StopLossPrice, &p.TakeProfitPrice,
			&p.StopLossOrderID, &p.Notional, &p.OpenedAt, &closedAt); err != nil {
			return nil, err
		}
		p.Side = domain.Side(side)
		p.Status = domain.PositionStatus(status)
		if closedAt.Valid {
			t := closedAt.Time
			p.ClosedAt = &t
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}
