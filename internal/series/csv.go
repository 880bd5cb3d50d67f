package series

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadBarsCSV reads a per-symbol bar series from a CSV file with columns
// timestamp,open,high,low,close. A header row is skipped when present.
// Timestamps accept RFC3339 or date-only (2006-01-02) formats.
func LoadBarsCSV(path, symbol, frequency string) ([]Bar, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(records))
	for i, rec := range records {
		if len(rec) < 5 {
			return nil, fmt.Errorf("%s: row %d has %d columns, want at least 5", path, i+1, len(rec))
		}
		if i == 0 && isHeader(rec[0]) {
			continue
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+1, err)
		}
		prices := make([]float64, 4)
		for j := range prices {
			prices[j], err = strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d column %d: %w", path, i+1, j+2, err)
			}
		}
		b := Bar{
			Timestamp: ts,
			OHLC:      OHLC{Open: prices[0], High: prices[1], Low: prices[2], Close: prices[3]},
			Symbol:    symbol,
			Frequency: frequency,
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+1, err)
		}
		bars = append(bars, b)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no bars", path)
	}
	return bars, nil
}

// LoadDividendsCSV reads sparse dividend events from a CSV file with columns
// timestamp,amount. A header row is skipped when present.
func LoadDividendsCSV(path string) ([]Dividend, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	divs := make([]Dividend, 0, len(records))
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("%s: row %d has %d columns, want at least 2", path, i+1, len(rec))
		}
		if i == 0 && isHeader(rec[0]) {
			continue
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+1, err)
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+1, err)
		}
		if amount < 0 {
			return nil, fmt.Errorf("%s: row %d: dividend amount cannot be negative", path, i+1)
		}
		divs = append(divs, Dividend{Timestamp: ts, Amount: amount})
	}

	return divs, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

func isHeader(field string) bool {
	_, err := parseTimestamp(field)
	return err != nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
