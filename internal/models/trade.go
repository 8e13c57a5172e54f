package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates which side of the market a position is on.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short positions.
func (d Direction) Sign() int {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	// ExitReasonSignal means an opposing signal closed the position.
	ExitReasonSignal ExitReason = "signal"
	// ExitReasonEndOfData means the position was force-closed at the last bar.
	ExitReasonEndOfData ExitReason = "end_of_data"
)

// Trade represents one simulated position lifecycle. A trade is either open
// (no exit fields set) or closed (all exit fields and PnL fields set); it is
// never partially closed. While open, only the excursion fields may change.
type Trade struct {
	ID           string          `json:"trade_id"`
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	EntryTime    time.Time       `json:"entry_time"`
	EntryPrice   decimal.Decimal `json:"entry_price"` // slippage-adjusted
	PositionSize decimal.Decimal `json:"position_size"`
	EntryCapital decimal.Decimal `json:"entry_capital"`

	ExitTime   time.Time       `json:"exit_time,omitzero"`
	ExitPrice  decimal.Decimal `json:"exit_price"` // slippage-adjusted
	ExitReason ExitReason      `json:"exit_reason,omitempty"`

	// Set when the trade closes.
	PnL        decimal.Decimal `json:"pnl"`     // gross, before costs
	PnLPct     decimal.Decimal `json:"pnl_pct"` // gross, % of entry notional
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	NetPnL     decimal.Decimal `json:"net_pnl"`
	Duration   time.Duration   `json:"duration"`

	// Tracked per bar while the trade is open, as a percentage of the entry
	// price. Both are monotonically non-decreasing.
	MaxFavorableExcursion decimal.Decimal `json:"max_favorable_excursion"`
	MaxAdverseExcursion   decimal.Decimal `json:"max_adverse_excursion"`
}

// Closed reports whether the trade has completed its lifecycle.
func (t *Trade) Closed() bool {
	return t.ExitReason != ""
}

// UpdateExcursions folds a new mark price into the favorable/adverse
// excursion trackers. It has no effect on a closed trade.
func (t *Trade) UpdateExcursions(price decimal.Decimal) {
	if t.Closed() || t.EntryPrice.IsZero() {
		return
	}
	move := price.Sub(t.EntryPrice).Div(t.EntryPrice).Mul(decimal.NewFromInt(100))
	if t.Direction == DirectionShort {
		move = move.Neg()
	}
	if move.GreaterThan(t.MaxFavorableExcursion) {
		t.MaxFavorableExcursion = move
	}
	if move.Neg().GreaterThan(t.MaxAdverseExcursion) {
		t.MaxAdverseExcursion = move.Neg()
	}
}
