package series

import (
	"fmt"
	"sort"
	"time"
)

// Merge inner-joins the asset series with the VIX and VVIX series on aligned
// timestamp and left-joins the sparse dividend events. All inputs must already
// be on the same frequency grid (see AlignBars); duplicate timestamps within a
// series are dropped, keeping the first occurrence.
func Merge(asset, vix, vvix []Bar, dividends []Dividend) ([]Row, error) {
	if len(asset) == 0 {
		return nil, fmt.Errorf("asset series is empty")
	}
	if len(vix) == 0 {
		return nil, fmt.Errorf("VIX series is empty")
	}
	if len(vvix) == 0 {
		return nil, fmt.Errorf("VVIX series is empty")
	}

	asset = Dedup(asset)
	vixByTs := indexByTimestamp(vix)
	vvixByTs := indexByTimestamp(vvix)
	divByTs := indexDividends(dividends)

	rows := make([]Row, 0, len(asset))
	for _, b := range asset {
		v, ok := vixByTs[b.Timestamp]
		if !ok {
			continue
		}
		vv, ok := vvixByTs[b.Timestamp]
		if !ok {
			continue
		}
		rows = append(rows, Row{
			Timestamp: b.Timestamp,
			Asset:     b.OHLC,
			VIX:       v,
			VVIX:      vv,
			Dividend:  divByTs[b.Timestamp],
		})
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no overlapping timestamps between %s and VIX/VVIX: asset %s..%s, VIX %s..%s",
			asset[0].Symbol,
			asset[0].Timestamp.Format(time.RFC3339), asset[len(asset)-1].Timestamp.Format(time.RFC3339),
			vix[0].Timestamp.Format(time.RFC3339), vix[len(vix)-1].Timestamp.Format(time.RFC3339))
	}

	sortRows(rows)
	return rows, nil
}

// MergeWithDailyIndices joins intraday asset bars against daily VIX/VVIX bars
// by calendar date, broadcasting the single daily index bar across all intraday
// asset bars for that date. The asset's intraday timestamps are kept. Used when
// the asset trades intraday but the volatility indices are only available daily.
func MergeWithDailyIndices(asset, vixDaily, vvixDaily []Bar, dividends []Dividend) ([]Row, error) {
	if len(asset) == 0 {
		return nil, fmt.Errorf("asset series is empty")
	}
	if len(vixDaily) == 0 {
		return nil, fmt.Errorf("VIX series is empty")
	}
	if len(vvixDaily) == 0 {
		return nil, fmt.Errorf("VVIX series is empty")
	}

	asset = Dedup(asset)
	vixByDate := indexByDate(vixDaily)
	vvixByDate := indexByDate(vvixDaily)

	divByDate := make(map[time.Time]float64, len(dividends))
	for _, d := range dividends {
		divByDate[dateOnly(d.Timestamp)] = d.Amount
	}

	rows := make([]Row, 0, len(asset))
	seenDiv := make(map[time.Time]bool)
	for _, b := range asset {
		date := dateOnly(b.Timestamp)
		v, ok := vixByDate[date]
		if !ok {
			continue
		}
		vv, ok := vvixByDate[date]
		if !ok {
			continue
		}
		row := Row{
			Timestamp: b.Timestamp,
			Asset:     b.OHLC,
			VIX:       v,
			VVIX:      vv,
		}
		// A daily dividend attaches to the first intraday bar of its date only,
		// so broadcasting cannot multiply the payment.
		if amt, ok := divByDate[date]; ok && !seenDiv[date] {
			row.Dividend = amt
			seenDiv[date] = true
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no calendar dates shared between %s and daily VIX/VVIX", asset[0].Symbol)
	}

	sortRows(rows)
	return rows, nil
}

func indexByTimestamp(bars []Bar) map[time.Time]OHLC {
	m := make(map[time.Time]OHLC, len(bars))
	for _, b := range bars {
		if _, exists := m[b.Timestamp]; !exists {
			m[b.Timestamp] = b.OHLC
		}
	}
	return m
}

func indexByDate(bars []Bar) map[time.Time]OHLC {
	m := make(map[time.Time]OHLC, len(bars))
	for _, b := range bars {
		date := dateOnly(b.Timestamp)
		if _, exists := m[date]; !exists {
			m[date] = b.OHLC
		}
	}
	return m
}

func indexDividends(divs []Dividend) map[time.Time]float64 {
	m := make(map[time.Time]float64, len(divs))
	for _, d := range divs {
		m[d.Timestamp] = d.Amount
	}
	return m
}

func dateOnly(ts time.Time) time.Time {
	return ts.UTC().Truncate(24 * time.Hour)
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}
