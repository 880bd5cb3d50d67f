package backtest

import (
	"math"
	"time"
)

// tradingDaysPerYear is the annualization base for Sharpe and CAGR.
const tradingDaysPerYear = 252

// ratioSentinel replaces an infinite ratio (no losing trades, zero drawdown)
// so the metrics stay representable in strict JSON.
const ratioSentinel = 999999

// ComputeMetrics derives the flat performance-metrics record from a computed
// state table. initialInvestment is the capital base that return percentages
// are measured against.
func ComputeMetrics(rows []RowState, initialInvestment float64) map[string]float64 {
	m := zeroMetrics(initialInvestment)
	if len(rows) == 0 {
		return m
	}

	n := len(rows)
	finalValue := rows[n-1].PortfolioValue
	m["total_days"] = float64(n)
	m["initial_value"] = initialInvestment
	m["final_value"] = finalValue
	if initialInvestment > 0 {
		m["total_return"] = (finalValue/initialInvestment - 1) * 100
	}

	daysInMarket := 0
	for i := range rows {
		if rows[i].InPosition {
			daysInMarket++
		}
	}
	m["days_in_market"] = float64(daysInMarket)
	m["days_in_market_pct"] = float64(daysInMarket) / float64(n) * 100

	applyTradeMetrics(m, rows)
	applyRiskMetrics(m, rows, initialInvestment)
	applyDividendMetrics(m, rows, initialInvestment)
	return m
}

// PeriodMetrics recomputes the metrics over the sub-range of rows whose
// timestamps fall in [start, end]. The capital base is rebased to the first
// portfolio value inside the range so period returns read as if the period
// started flat; zero start and end select the whole table with the original
// investment as base.
func PeriodMetrics(rows []RowState, start, end time.Time, initialInvestment float64) map[string]float64 {
	if start.IsZero() && end.IsZero() {
		return ComputeMetrics(rows, initialInvestment)
	}
	var sub []RowState
	for i := range rows {
		ts := rows[i].Timestamp
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		sub = append(sub, rows[i])
	}
	base := initialInvestment
	if len(sub) > 0 {
		base = sub[0].PortfolioValue
	}
	return ComputeMetrics(sub, base)
}

// trade is the per-trade aggregate extracted from contiguous state rows
// sharing a trade id.
type trade struct {
	pnl      float64
	duration int
}

func extractTrades(rows []RowState) []trade {
	var (
		trades  []trade
		curID   int
		firstPV float64
		lastPV  float64
		length  int
	)
	flush := func() {
		if curID != 0 {
			trades = append(trades, trade{pnl: lastPV - firstPV, duration: length})
		}
	}
	for i := range rows {
		if rows[i].TradeID == 0 {
			continue
		}
		if rows[i].TradeID != curID {
			flush()
			curID = rows[i].TradeID
			firstPV = rows[i].PortfolioValue
			length = 0
		}
		lastPV = rows[i].PortfolioValue
		length++
	}
	flush()
	return trades
}

func applyTradeMetrics(m map[string]float64, rows []RowState) {
	trades := extractTrades(rows)
	m["num_trades"] = float64(len(trades))
	if len(trades) == 0 {
		return
	}

	var (
		wins, losses       int
		sumProfit, sumLoss float64
		maxProfit, maxLoss float64
		winStreak, curWin  int
		lossStreak, curLos int
		sumDur             int
		maxDur             int
		minDur             = trades[0].duration
	)
	for _, t := range trades {
		if t.pnl > 0 {
			wins++
			sumProfit += t.pnl
			maxProfit = math.Max(maxProfit, t.pnl)
			curWin++
			curLos = 0
		} else {
			losses++
			sumLoss += t.pnl
			maxLoss = math.Min(maxLoss, t.pnl)
			curLos++
			curWin = 0
		}
		winStreak = maxInt(winStreak, curWin)
		lossStreak = maxInt(lossStreak, curLos)
		sumDur += t.duration
		maxDur = maxInt(maxDur, t.duration)
		minDur = minInt(minDur, t.duration)
	}

	m["profitable_trades"] = float64(wins)
	m["loss_trades"] = float64(losses)
	m["win_rate"] = float64(wins) / float64(len(trades)) * 100
	m["max_profit"] = maxProfit
	m["max_loss"] = maxLoss
	if wins > 0 {
		m["avg_profit"] = sumProfit / float64(wins)
	}
	if losses > 0 {
		m["avg_loss"] = sumLoss / float64(losses)
	}
	winFrac := float64(wins) / float64(len(trades))
	m["expectancy"] = winFrac*m["avg_profit"] + (1-winFrac)*m["avg_loss"]
	switch {
	case sumLoss != 0:
		m["profit_factor"] = sumProfit / math.Abs(sumLoss)
	case sumProfit > 0:
		m["profit_factor"] = ratioSentinel
	}
	m["max_profit_streak"] = float64(winStreak)
	m["max_loss_streak"] = float64(lossStreak)
	m["avg_duration"] = float64(sumDur) / float64(len(trades))
	m["max_duration"] = float64(maxDur)
	m["min_duration"] = float64(minDur)
}

func applyRiskMetrics(m map[string]float64, rows []RowState, initialInvestment float64) {
	n := len(rows)
	if n < 2 {
		return
	}

	values := make([]float64, n)
	for i := range rows {
		values[i] = rows[i].PortfolioValue
	}
	m["sharpe_ratio"] = sharpeRatio(values)

	var maxDD, sumDD float64
	ddCount := 0
	for i := range rows {
		dd := rows[i].DrawdownOverallPct
		maxDD = math.Max(maxDD, dd)
		if dd > 0 {
			sumDD += dd
			ddCount++
		}
	}
	m["max_drawdown"] = maxDD
	if ddCount > 0 {
		m["avg_drawdown"] = sumDD / float64(ddCount)
	}

	cagr := annualizedReturn(initialInvestment, values[n-1], n)
	m["cagr"] = cagr
	m["calmar_ratio"] = calmarRatio(cagr, maxDD)

	dds := make([]float64, n)
	for i := range rows {
		dds[i] = rows[i].DrawdownOverallPct
	}
	m["avg_calmar"] = avgRollingCalmar(values, dds, m["calmar_ratio"])
}

func applyDividendMetrics(m map[string]float64, rows []RowState, initialInvestment float64) {
	n := len(rows)
	var total, maxPay float64
	payments := 0
	for i := range rows {
		d := rows[i].DividendsPaid
		if d > 0 {
			total += d
			payments++
			maxPay = math.Max(maxPay, d)
		}
	}
	m["total_dividends"] = total
	m["num_dividend_payments"] = float64(payments)
	if payments > 0 {
		m["avg_dividend_payment"] = total / float64(payments)
	}
	m["max_dividend_payment"] = maxPay

	finalWithDiv := rows[n-1].PortfolioValueWithDividends
	m["final_value_with_dividends"] = finalWithDiv
	if initialInvestment > 0 {
		m["total_return_with_dividends"] = (finalWithDiv/initialInvestment - 1) * 100
	}
	m["dividend_contribution"] = m["total_return_with_dividends"] - m["total_return"]
	if m["total_return"] != 0 {
		m["dividend_contribution_pct"] = m["dividend_contribution"] / m["total_return"] * 100
	}

	if n < 2 {
		return
	}
	values := make([]float64, n)
	for i := range rows {
		values[i] = rows[i].PortfolioValueWithDividends
	}
	m["cagr_with_dividends"] = annualizedReturn(initialInvestment, finalWithDiv, n)
	m["sharpe_with_dividends"] = sharpeRatio(values)

	var peak, maxDD float64
	peak = initialInvestment
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-v)/peak*100)
		}
	}
	m["max_drawdown_with_dividends"] = maxDD
	m["calmar_with_dividends"] = calmarRatio(m["cagr_with_dividends"], maxDD)
}

// sharpeRatio annualizes the mean daily return over its sample standard
// deviation. Zero when the return series is flat.
func sharpeRatio(values []float64) float64 {
	rets := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			rets = append(rets, values[i]/values[i-1]-1)
		}
	}
	if len(rets) < 2 {
		return 0
	}
	var sum float64
	for _, r := range rets {
		sum += r
	}
	mean := sum / float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(rets)-1))
	if std == 0 {
		return 0
	}
	return mean * tradingDaysPerYear / (std * math.Sqrt(tradingDaysPerYear))
}

// annualizedReturn is the CAGR in percent assuming 252 trading rows per year.
func annualizedReturn(initial, final float64, n int) float64 {
	if initial <= 0 || final <= 0 || n == 0 {
		return 0
	}
	years := float64(n) / tradingDaysPerYear
	return (math.Pow(final/initial, 1/years) - 1) * 100
}

// calmarRatio is |cagr / maxDrawdown| with a sentinel for the zero-drawdown,
// positive-return case.
func calmarRatio(cagr, maxDD float64) float64 {
	switch {
	case maxDD != 0:
		return math.Abs(cagr / maxDD)
	case cagr > 0:
		return ratioSentinel
	default:
		return 0
	}
}

// avgRollingCalmar averages the calmar ratio over rolling one-year windows.
// With at most a year of data it degrades to the full-sample ratio.
func avgRollingCalmar(values, drawdowns []float64, fullSample float64) float64 {
	n := len(values)
	if n <= tradingDaysPerYear {
		return fullSample
	}
	var sum float64
	count := 0
	for i := tradingDaysPerYear; i < n; i++ {
		start := values[i-tradingDaysPerYear]
		end := values[i-1]
		if start <= 0 {
			continue
		}
		annRet := (end/start - 1) * 100
		var windowDD float64
		for j := i - tradingDaysPerYear; j < i; j++ {
			windowDD = math.Max(windowDD, drawdowns[j])
		}
		if windowDD != 0 {
			sum += math.Abs(annRet / windowDD)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func zeroMetrics(initialInvestment float64) map[string]float64 {
	return map[string]float64{
		"total_days":                  0,
		"days_in_market":              0,
		"days_in_market_pct":          0,
		"num_trades":                  0,
		"profitable_trades":           0,
		"loss_trades":                 0,
		"win_rate":                    0,
		"max_profit":                  0,
		"max_loss":                    0,
		"avg_profit":                  0,
		"avg_loss":                    0,
		"expectancy":                  0,
		"profit_factor":               0,
		"max_profit_streak":           0,
		"max_loss_streak":             0,
		"avg_duration":                0,
		"max_duration":                0,
		"min_duration":                0,
		"total_return":                0,
		"cagr":                        0,
		"sharpe_ratio":                0,
		"max_drawdown":                0,
		"avg_drawdown":                0,
		"calmar_ratio":                0,
		"avg_calmar":                  0,
		"initial_value":               initialInvestment,
		"final_value":                 initialInvestment,
		"total_dividends":             0,
		"num_dividend_payments":       0,
		"avg_dividend_payment":        0,
		"max_dividend_payment":        0,
		"final_value_with_dividends":  initialInvestment,
		"total_return_with_dividends": 0,
		"dividend_contribution":       0,
		"dividend_contribution_pct":   0,
		"cagr_with_dividends":         0,
		"sharpe_with_dividends":       0,
		"max_drawdown_with_dividends": 0,
		"calmar_with_dividends":       0,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
