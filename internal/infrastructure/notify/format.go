package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

const clockLayout = "15:04:05"

// FormatOpened renders the message sent when a grid position is opened.
func FormatOpened(pos *domain.Position) string {
	var b strings.Builder
	b.WriteString("🚀 POSITION OPENED\n")
	fmt.Fprintf(&b, "📊 %s %s | ID: %d\n", pos.Symbol, pos.Side, pos.ID)
	fmt.Fprintf(&b, "💰 Entry: $%s | Qty: %s\n", usd(pos.StartPrice), pos.Quantity.StringFixed(4))
	if pos.TakeProfitPrice.IsPositive() {
		fmt.Fprintf(&b, "🎯 Take Profit: $%s\n", usd(pos.TakeProfitPrice))
	}
	if pos.StopLossPrice.IsPositive() {
		fmt.Fprintf(&b, "🛡️ Stop Loss: $%s\n", usd(pos.StopLossPrice))
	}
	fmt.Fprintf(&b, "⏰ Opened: %s | Grid: $%s\n", pos.OpenedAt.UTC().Format(clockLayout), usd(pos.GridLevelPrice))
	fmt.Fprintf(&b, "💵 USD Amount: $%s", usd(pos.Notional))
	return b.String()
}

// FormatClosed renders the message sent when a grid position is closed. A position
// closed by its exchange stop has no known exit price and no P&L line values.
func FormatClosed(pos *domain.Position) string {
	closedAt := time.Now().UTC()
	if pos.ClosedAt != nil {
		closedAt = pos.ClosedAt.UTC()
	}

	trend := "📉"
	if pos.Side == domain.SideLong {
		trend = "📈"
	}

	var b strings.Builder
	b.WriteString("🎯 POSITION CLOSED\n")
	fmt.Fprintf(&b, "📊 %s %s | ID: %d\n", pos.Symbol, pos.Side, pos.ID)

	if pos.EndPrice.IsZero() {
		fmt.Fprintf(&b, "💰 %s$%s → stop loss | Qty: %s\n", trend, usd(pos.StartPrice), pos.Quantity.StringFixed(4))
		b.WriteString("📈 P&L: unknown (closed by exchange)\n")
	} else {
		pnl := pos.PnL()
		emoji, sign := "❌", ""
		if !pnl.IsNegative() {
			emoji, sign = "💚", "+"
		}
		fmt.Fprintf(&b, "💰 %s$%s → $%s | Qty: %s\n", trend, usd(pos.StartPrice), usd(pos.EndPrice), pos.Quantity.StringFixed(4))
		fmt.Fprintf(&b, "📈 P&L: %s$%s (%s%s%%)\n", emoji, usd(pnl.Abs()), sign, pnlPercent(pos).StringFixed(2))
	}

	fmt.Fprintf(&b, "⏱️ Duration: %s | Closed: %s\n", FormatDuration(closedAt.Sub(pos.OpenedAt)), closedAt.Format(clockLayout))
	fmt.Fprintf(&b, "🎚️ Grid Level: $%s | USD: $%s", usd(pos.GridLevelPrice), usd(pos.Notional))
	return b.String()
}

// FormatDuration renders d as "2d 3h 4m", "3h 4m", "4m" or "< 1m".
func FormatDuration(d time.Duration) string {
	days := int64(d / (24 * time.Hour))
	hours := int64(d/time.Hour) % 24
	minutes := int64(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "< 1m"
	}
}

func usd(v decimal.Decimal) string {
	return v.StringFixed(2)
}

// pnlPercent is the price move in the position direction relative to the entry.
func pnlPercent(pos *domain.Position) decimal.Decimal {
	if !pos.StartPrice.IsPositive() {
		return decimal.Zero
	}
	diff := pos.EndPrice.Sub(pos.StartPrice)
	if pos.Side == domain.SideShort {
		diff = diff.Neg()
	}
	return diff.DivRound(pos.StartPrice, 4).Mul(decimal.NewFromInt(100))
}
