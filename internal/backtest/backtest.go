// Package backtest
package backtest

import (
	"errors"
	"fmt"
	"time"

	"vixgate/internal/series"
)

// ExitKind identifies which price point triggered an exit fill.
type ExitKind string

const (
	ExitNone        ExitKind = ""
	ExitAtOpen      ExitKind = "exit_at_open"
	ExitAtHigh      ExitKind = "exit_at_high"
	ExitAtLow       ExitKind = "exit_at_low"
	ExitAtClose     ExitKind = "exit_at_close"
	ExitTSL         ExitKind = "tsl_exit"
	ExitEndOfPeriod ExitKind = "end_of_period_open"
	// ExitUnknown marks a volatility-gate exit that no single price point
	// explains. A data-quality signal for the caller, not an error.
	ExitUnknown ExitKind = "unknown"
)

// Params configures the plain volatility-gate strategy. Bounds are inclusive
// on both ends.
type Params struct {
	VIXLowerBound     float64 `json:"vix_lower_bound"`
	VIXUpperBound     float64 `json:"vix_upper_bound"`
	VVIXLowerBound    float64 `json:"vvix_lower_bound"`
	VVIXUpperBound    float64 `json:"vvix_upper_bound"`
	InitialInvestment float64 `json:"initial_investment"`
}

// Validate checks strategy parameters before any row processing begins.
func (p Params) Validate() error {
	if p.InitialInvestment <= 0 {
		return fmt.Errorf("initial investment must be positive, got %v", p.InitialInvestment)
	}
	if p.VIXLowerBound > p.VIXUpperBound {
		return fmt.Errorf("VIX lower bound %v exceeds upper bound %v", p.VIXLowerBound, p.VIXUpperBound)
	}
	if p.VVIXLowerBound > p.VVIXUpperBound {
		return fmt.Errorf("VVIX lower bound %v exceeds upper bound %v", p.VVIXLowerBound, p.VVIXUpperBound)
	}
	return nil
}

// TSLParams configures the trailing-stop-loss variant.
type TSLParams struct {
	Params
	// TSLPercentage is the fractional drop from the peak that triggers a stop,
	// e.g. 0.05 for 5%.
	TSLPercentage float64 `json:"tsl_percentage"`
	// WaitPeriod is the number of rows to sit out after a stop before re-entry.
	WaitPeriod int `json:"wait_period"`
	// IgnoreLow restricts the intraday stop check to the close, ignoring the low.
	IgnoreLow bool `json:"ignore_low"`
}

// Validate checks TSL parameters.
func (p TSLParams) Validate() error {
	if err := p.Params.Validate(); err != nil {
		return err
	}
	if p.TSLPercentage <= 0 || p.TSLPercentage >= 1 {
		return fmt.Errorf("tsl percentage must be in (0, 1), got %v", p.TSLPercentage)
	}
	if p.WaitPeriod < 0 {
		return fmt.Errorf("wait period cannot be negative, got %d", p.WaitPeriod)
	}
	return nil
}

// RowState is the computed state for one input row. Zero values stand in for
// "absent": TradeID 0, Shares 0, EntryPrice/ExitPrice 0, PeakPrice/TSLPrice 0.
// WaitCounter is -1 while no stop cool-down is running.
type RowState struct {
	Timestamp   time.Time `json:"timestamp"`
	Signal      bool      `json:"signal"`
	EntryMarker bool      `json:"entry_marker"`
	EntrySignal bool      `json:"entry_signal"`
	InPosition  bool      `json:"in_position"`
	ExitKind    ExitKind  `json:"exit_kind,omitempty"`
	EntryPrice  float64   `json:"entry_price,omitempty"`
	ExitPrice   float64   `json:"exit_price,omitempty"`
	TradeID     int       `json:"trade_id,omitempty"`
	Shares      float64   `json:"shares,omitempty"`

	PortfolioValue              float64 `json:"portfolio_value"`
	DividendsPaid               float64 `json:"dividends_paid"`
	PortfolioValueWithDividends float64 `json:"portfolio_value_with_dividends"`

	DailyReturnPct      float64 `json:"daily_return_pct"`
	CumulativeReturnPct float64 `json:"cumulative_return_pct"`
	DrawdownPerTradePct float64 `json:"drawdown_per_trade_pct"`
	DrawdownOverallPct  float64 `json:"drawdown_overall_pct"`

	// TSL variant only.
	TradeSessionID int     `json:"trade_session_id,omitempty"`
	PeakPrice      float64 `json:"peak_price,omitempty"`
	TSLPrice       float64 `json:"tsl_price,omitempty"`
	TSLHit         bool    `json:"tsl_hit,omitempty"`
	WaitCounter    int     `json:"wait_counter"`
}

// ErrEmptyInput is returned when the merged table has no rows.
var ErrEmptyInput = errors.New("backtest: input table is empty")

// validateRows enforces the merge-step invariants the engines rely on:
// strictly ascending timestamps and positive prices.
func validateRows(rows []series.Row) error {
	for i := range rows {
		if rows[i].Timestamp.IsZero() {
			return fmt.Errorf("backtest: row %d has zero timestamp", i)
		}
		if i > 0 && !rows[i].Timestamp.After(rows[i-1].Timestamp) {
			return fmt.Errorf("backtest: rows not strictly ascending at index %d (%s after %s)",
				i, rows[i].Timestamp.Format(time.RFC3339), rows[i-1].Timestamp.Format(time.RFC3339))
		}
		for _, q := range []series.OHLC{rows[i].Asset, rows[i].VIX, rows[i].VVIX} {
			if q.Open <= 0 || q.High <= 0 || q.Low <= 0 || q.Close <= 0 {
				return fmt.Errorf("backtest: row %d has non-positive prices", i)
			}
		}
		if rows[i].Dividend < 0 {
			return fmt.Errorf("backtest: row %d has negative dividend", i)
		}
	}
	return nil
}
