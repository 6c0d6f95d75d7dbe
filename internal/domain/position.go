package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// TrendSide returns LONG for upward movement and SHORT otherwise.
func TrendSide(movingUp bool) Side {
	if movingUp {
		return SideLong
	}
	return SideShort
}

type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
	StatusError  PositionStatus = "ERROR"
)

// Position is a single grid entry tracked by the bot.
// Status only moves forward: OPEN -> CLOSED or OPEN -> ERROR.
type Position struct {
	ID              int64
	PairID          int64
	Symbol          string
	GridLevelPrice  decimal.Decimal
	Quantity        decimal.Decimal
	Side            Side
	Status          PositionStatus
	StartPrice      decimal.Decimal // fill price
	EndPrice        decimal.Decimal // zero until known
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossOrderID string // "" when no protective order is live
	Notional        decimal.Decimal
	OpenedAt        time.Time
	ClosedAt        *time.Time
}

func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Close marks the position CLOSED at the given exit price.
func (p *Position) Close(endPrice decimal.Decimal, at time.Time) error {
	if err := p.CloseAt(at); err != nil {
		return err
	}
	p.EndPrice = endPrice
	return nil
}

// CloseAt marks the position CLOSED without touching the exit price. Used when the
// exchange closed it on its own (stop-loss fill) or when the operator reconciled it.
func (p *Position) CloseAt(at time.Time) error {
	if !p.IsOpen() {
		return ErrPositionNotOpen
	}
	p.Status = StatusClosed
	p.ClosedAt = &at
	return nil
}

// MarkError flags a position whose close failed. It is left for manual handling.
func (p *Position) MarkError() error {
	if !p.IsOpen() {
		return ErrPositionNotOpen
	}
	p.Status = StatusError
	return nil
}

// EligibleForTakeProfit reports whether the crossed level reached the position target.
func (p *Position) EligibleForTakeProfit(level decimal.Decimal) bool {
	if !p.IsOpen() {
		return false
	}
	switch p.Side {
	case SideLong:
		return p.TakeProfitPrice.LessThanOrEqual(level)
	case SideShort:
		return p.TakeProfitPrice.GreaterThanOrEqual(level)
	}
	return false
}

// PnL returns the realized profit in quote currency, zero when the exit price is unknown.
func (p *Position) PnL() decimal.Decimal {
	if p.EndPrice.IsZero() {
		return decimal.Zero
	}
	diff := p.EndPrice.Sub(p.StartPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// LevelClosingResult summarizes take-profit closings for one crossing.
type LevelClosingResult struct {
	Level       decimal.Decimal
	ClosedLong  int
	ClosedShort int
	Failed      int
}

func (r LevelClosingResult) TotalClosed() int {
	return r.ClosedLong + r.ClosedShort
}

// ClosedOnSide reports whether any position of the given side was closed.
func (r LevelClosingResult) ClosedOnSide(side Side) bool {
	if side == SideLong {
		return r.ClosedLong > 0
	}
	return r.ClosedShort > 0
}

type AlgorithmAction string

const (
	ActionOpenTrend        AlgorithmAction = "OPEN_TREND_POSITION"
	ActionOpenCounterTrend AlgorithmAction = "OPEN_COUNTER_TREND_POSITION"
	ActionDoNothing        AlgorithmAction = "DO_NOTHING"
)

// PositionFilter narrows ListPositions. Zero values mean "any".
type PositionFilter struct {
	Symbol string
	Status PositionStatus
	Limit  int
}
