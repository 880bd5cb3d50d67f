// Package series
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// OHLC holds the four price points of one bar.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Max returns the highest of the four prices.
func (q OHLC) Max() float64 {
	m := q.Open
	if q.High > m {
		m = q.High
	}
	if q.Low > m {
		m = q.Low
	}
	if q.Close > m {
		m = q.Close
	}
	return m
}

// Bar is one per-symbol price bar on a nominal frequency grid.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	OHLC
	Symbol    string `json:"symbol"`
	Frequency string `json:"frequency"`
}

// Validate checks if a bar has valid data.
func (b *Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return errors.New("bar timestamp is zero")
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.New("bar prices must be positive")
	}
	if b.High < b.Low {
		return errors.New("bar high cannot be less than low")
	}
	if b.Open < b.Low || b.Open > b.High {
		return errors.New("bar open price must be between high and low")
	}
	if b.Close < b.Low || b.Close > b.High {
		return errors.New("bar close price must be between high and low")
	}
	if b.Symbol == "" {
		return errors.New("bar symbol cannot be empty")
	}
	return nil
}

// Dividend is a sparse per-period cash distribution for a symbol.
type Dividend struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
}

// Row is one merged, timestamp-aligned observation: the asset bar plus the
// VIX and VVIX index bars, and the asset's dividend for the period (0 when none).
type Row struct {
	Timestamp time.Time `json:"timestamp"`
	Asset     OHLC      `json:"asset"`
	VIX       OHLC      `json:"vix"`
	VVIX      OHLC      `json:"vvix"`
	Dividend  float64   `json:"dividend"`
}

// SortBars orders bars ascending by timestamp in place.
func SortBars(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

// Dedup sorts bars and drops duplicate timestamps, keeping the first
// occurrence of each. Timestamp uniqueness is an invariant of the merge step.
func Dedup(bars []Bar) []Bar {
	if len(bars) == 0 {
		return bars
	}
	SortBars(bars)
	out := bars[:1]
	for _, b := range bars[1:] {
		if !b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out = append(out, b)
		}
	}
	return out
}

// ValidateBars checks every bar in a series.
func ValidateBars(bars []Bar) error {
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return fmt.Errorf("invalid bar at index %d: %w", i, err)
		}
	}
	return nil
}
