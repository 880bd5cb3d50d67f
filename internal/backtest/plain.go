package backtest

import (
	"context"
	"fmt"

	"vixgate/internal/series"
)

// Run executes the plain volatility-gate strategy over the merged table.
// The position is held while every VIX/VVIX price point stays inside its band
// and closed on the first row where any point breaches, with fills attributed
// in open, high, low, close order. Entry fills happen at the asset open one
// row after the signal first holds.
func Run(ctx context.Context, rows []series.Row, p Params, sink Sink) ([]RowState, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: invalid params: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	if err := validateRows(rows); err != nil {
		return nil, err
	}

	n := len(rows)
	out := make([]RowState, n)
	step := progressStep(n)

	var (
		tradeID      int
		cumDividends float64
	)
	for i, r := range rows {
		if i%step == 0 || i == n-1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			reportRow(sink, i, n)
		}

		st := RowState{Timestamp: r.Timestamp, WaitCounter: -1}
		st.Signal = signalAt(r, p)

		var prev *RowState
		if i > 0 {
			prev = &out[i-1]
			st.EntryMarker = prev.Signal
		}

		// An entry fires when yesterday's signal held and we are flat.
		st.EntrySignal = st.EntryMarker && (prev == nil || !prev.InPosition)
		st.InPosition = st.EntrySignal || (prev != nil && prev.InPosition && prev.Signal)

		// Exits only happen on the falling edge of the signal.
		if prev != nil && !st.Signal && prev.Signal {
			st.ExitKind = volExitKind(r, p)
			if st.ExitKind == ExitNone {
				st.ExitKind = ExitUnknown
			}
		}

		if st.EntrySignal {
			st.EntryPrice = r.Asset.Open
		}
		st.ExitPrice = exitFillPrice(st.ExitKind, r.Asset)

		if st.InPosition {
			if prev == nil || !prev.InPosition {
				tradeID++
				st.TradeID = tradeID
			} else {
				st.TradeID = prev.TradeID
			}
		}

		if st.TradeID != 0 {
			if prev == nil || st.TradeID != prev.TradeID {
				// New trade: the first one deploys the initial investment,
				// later ones roll the dividend-inclusive proceeds forward.
				capital := p.InitialInvestment
				if st.TradeID != 1 {
					capital = prev.PortfolioValueWithDividends
				}
				st.Shares = capital / st.EntryPrice
			} else {
				st.Shares = prev.Shares
			}
		}

		if st.InPosition && st.Shares > 0 && r.Dividend > 0 {
			st.DividendsPaid = st.Shares * r.Dividend
			cumDividends += st.DividendsPaid
		}

		switch {
		case st.ExitPrice > 0 && st.Shares > 0:
			st.PortfolioValue = st.Shares * st.ExitPrice
		case st.InPosition && st.Shares > 0:
			st.PortfolioValue = st.Shares * r.Asset.Close
		case prev != nil:
			st.PortfolioValue = prev.PortfolioValue
		default:
			st.PortfolioValue = p.InitialInvestment
		}
		st.PortfolioValueWithDividends = st.PortfolioValue + cumDividends

		out[i] = st
	}

	applyReturns(out, p.InitialInvestment, false)
	closeOpenPosition(out, rows)

	report(sink, n, n, 100, "backtest complete")
	return out, nil
}

// applyReturns is the second pass over the computed states: daily and
// cumulative returns plus the two drawdown series. Drawdowns come out as
// positive percentages, 0 meaning no drawdown. requireInPosition gates the
// per-trade drawdown on the position flag rather than the share count.
func applyReturns(out []RowState, investment float64, requireInPosition bool) {
	var (
		runningMax  float64
		tradeMax    float64
		tradeMaxID  int
		allTimeHigh = investment
	)
	for i := range out {
		st := &out[i]
		if i > 0 && out[i-1].PortfolioValue != 0 {
			st.DailyReturnPct = (st.PortfolioValue/out[i-1].PortfolioValue - 1) * 100
		}
		st.CumulativeReturnPct = (st.PortfolioValue/investment - 1) * 100

		inTrade := st.TradeID != 0 && st.Shares != 0
		if requireInPosition {
			inTrade = st.TradeID != 0 && st.InPosition
		}
		if inTrade {
			if st.TradeID != tradeMaxID {
				tradeMaxID = st.TradeID
				tradeMax = st.PortfolioValue
			} else if st.PortfolioValue > tradeMax {
				tradeMax = st.PortfolioValue
			}
			if tradeMax > 0 {
				st.DrawdownPerTradePct = (tradeMax - st.PortfolioValue) / tradeMax * 100
			}
		}

		if requireInPosition {
			// Overall drawdown measured against the all-time high seeded
			// with the initial investment.
			if st.PortfolioValue > allTimeHigh {
				allTimeHigh = st.PortfolioValue
			}
			if allTimeHigh > 0 {
				st.DrawdownOverallPct = (allTimeHigh - st.PortfolioValue) / allTimeHigh * 100
			}
		} else {
			// Overall drawdown against the running in-sample maximum, zero
			// by definition on the first row.
			if st.PortfolioValue > runningMax {
				runningMax = st.PortfolioValue
			}
			if i > 0 && runningMax > 0 {
				st.DrawdownOverallPct = (runningMax - st.PortfolioValue) / runningMax * 100
			}
		}
	}
}

// closeOpenPosition marks a position still held on the last row as closed at
// that row's asset close so the final valuation is realizable.
func closeOpenPosition(out []RowState, rows []series.Row) {
	last := &out[len(out)-1]
	if last.InPosition {
		last.ExitKind = ExitEndOfPeriod
		last.ExitPrice = rows[len(rows)-1].Asset.Close
	}
}
