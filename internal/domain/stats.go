package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolPerformance aggregates the position history of one symbol.
type SymbolPerformance struct {
	Symbol      string              `json:"symbol"`
	Open        int                 `json:"open"`
	Closed      int                 `json:"closed"`
	Errors      int                 `json:"errors"`
	StoppedOut  int                 `json:"stopped_out"` // closed by the exchange stop, exit unknown
	Wins        int                 `json:"wins"`
	Losses      int                 `json:"losses"`
	RealizedPnL decimal.Decimal     `json:"realized_pnl"`
	AvgHold     time.Duration       `json:"avg_hold_ns"`
	Windows     []WindowPerformance `json:"windows"`
}

// WindowPerformance covers positions closed within the trailing window.
type WindowPerformance struct {
	Name   string          `json:"name"`
	Closed int             `json:"closed"`
	PnL    decimal.Decimal `json:"pnl"`
}

// WinRate is the percentage of closes with a known exit that made money.
func (p SymbolPerformance) WinRate() decimal.Decimal {
	total := p.Wins + p.Losses
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.Wins)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(total)), 2)
}
