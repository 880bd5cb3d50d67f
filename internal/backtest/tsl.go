package backtest

import (
	"context"
	"fmt"
	"math"

	"vixgate/internal/series"
)

// RunTSL executes the trailing-stop-loss variant of the volatility-gate
// strategy. On top of the plain gate it tracks a peak price per position,
// exits when the asset falls a configured fraction below the peak, and then
// sits out a wait period before re-entering within the same trade session.
// Entries are also rejected outright when either index already breaches its
// band at the open.
func RunTSL(ctx context.Context, rows []series.Row, p TSLParams, sink Sink) ([]RowState, error) {
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

	// First pass: raw signal, entry marker and trade-session numbering. A
	// session opens on the rising edge of the marker and every row with the
	// marker up belongs to it; rows between sessions carry no session id.
	sessionID := 0
	for i, r := range rows {
		st := &out[i]
		st.Timestamp = r.Timestamp
		st.WaitCounter = -1
		st.Signal = signalAt(r, p.Params)
		if i > 0 {
			st.EntryMarker = out[i-1].Signal
		}
		if st.EntryMarker {
			if i == 0 || !out[i-1].EntryMarker {
				sessionID++
			}
			st.TradeSessionID = sessionID
		}
	}

	step := progressStep(n)
	tradeID := 0
	cumDividends := 0.0

	for i, r := range rows {
		if i%step == 0 || i == n-1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			reportRow(sink, i, n)
		}

		st := &out[i]
		var prev *RowState
		if i > 0 {
			prev = &out[i-1]
		}

		inSession := st.TradeSessionID != 0

		// Carry the stop cool-down counter forward while the session lasts.
		wait := -1
		if prev != nil && prev.WaitCounter >= 0 && inSession && prev.WaitCounter < p.WaitPeriod {
			wait = prev.WaitCounter + 1
		}
		inWait := wait >= 0
		waitJustEnded := prev != nil && prev.WaitCounter >= 0 && !inWait

		// The open-price gate: within a session no entry happens on a row
		// whose open already breaches either band.
		canEnterAtOpen := !(inSession && breachedAt(r.VIX.Open, r.VVIX.Open, p.Params))

		switch {
		case prev == nil:
			st.EntrySignal = st.EntryMarker && !inWait && canEnterAtOpen
		case st.EntryMarker && !prev.InPosition && !inWait && canEnterAtOpen:
			st.EntrySignal = true
		case waitJustEnded && inSession && canEnterAtOpen:
			st.EntrySignal = true
		}

		st.InPosition = st.EntrySignal ||
			(prev != nil && prev.InPosition && inSession && !inWait)

		// A volatility breach on the entry day itself exits instantly and
		// suppresses the peak for that day, so no trailing stop arms.
		var entryDayExit ExitKind
		if st.EntrySignal {
			entryDayExit = volExitKindIntraday(r, p.Params)
		}

		suppressPeak := st.EntrySignal && entryDayExit != ExitNone
		if st.InPosition && !suppressPeak {
			adjClose := r.Asset.Close
			if r.Dividend > 0 {
				adjClose += r.Dividend
			}
			todayMax := math.Max(r.Asset.Open, math.Max(r.Asset.High, adjClose))
			if !st.EntrySignal && prev != nil && prev.PeakPrice > 0 {
				st.PeakPrice = math.Max(prev.PeakPrice, todayMax)
			} else {
				st.PeakPrice = todayMax
			}
		}
		if st.PeakPrice > 0 {
			st.TSLPrice = st.PeakPrice * (1 - p.TSLPercentage)
		}

		// Stop detection: a gap below yesterday's stop fills at the open,
		// otherwise an intraday touch (low unless ignored, or close) fills
		// at today's stop price.
		gapped := prev != nil && prev.TSLPrice > 0 && r.Asset.Open < prev.TSLPrice
		if st.InPosition && st.TSLPrice > 0 {
			switch {
			case gapped:
				st.TSLHit = true
			case p.IgnoreLow:
				st.TSLHit = r.Asset.Close < st.TSLPrice
			default:
				st.TSLHit = r.Asset.Low < st.TSLPrice || r.Asset.Close < st.TSLPrice
			}
		}
		if st.TSLHit && inSession {
			wait = 0
		}
		st.WaitCounter = wait

		rejected := st.EntryMarker && !st.InPosition &&
			(prev == nil || !prev.InPosition) && !inWait && !canEnterAtOpen
		switch {
		case rejected:
			// The marker called for an entry but the open was already out of
			// bounds; record the rejection as an exit at the open.
			st.ExitKind = ExitAtOpen
		case st.InPosition:
			volExit := entryDayExit
			if !st.EntrySignal && prev != nil && !st.Signal && prev.Signal {
				volExit = volExitKind(r, p.Params)
			}
			switch {
			case volExit != ExitNone:
				st.ExitKind = volExit
			case st.TSLHit:
				st.ExitKind = ExitTSL
			}
		}

		if st.EntrySignal {
			st.EntryPrice = r.Asset.Open
		}
		switch st.ExitKind {
		case ExitTSL:
			if gapped {
				st.ExitPrice = r.Asset.Open
			} else {
				st.ExitPrice = st.TSLPrice
			}
		default:
			st.ExitPrice = exitFillPrice(st.ExitKind, r.Asset)
		}

		if st.InPosition {
			switch {
			case st.EntrySignal:
				tradeID++
				st.TradeID = tradeID
			case prev != nil && prev.InPosition:
				st.TradeID = prev.TradeID
			default:
				tradeID++
				st.TradeID = tradeID
			}
		}

		if st.TradeID != 0 {
			if st.EntrySignal {
				capital := p.InitialInvestment
				if prev != nil {
					capital = prev.PortfolioValueWithDividends
				}
				if st.EntryPrice > 0 {
					st.Shares = capital / st.EntryPrice
				}
			} else if prev != nil && prev.Shares > 0 {
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
	}

	applyReturns(out, p.InitialInvestment, true)
	closeOpenPosition(out, rows)

	report(sink, n, n, 100, "backtest complete")
	return out, nil
}
