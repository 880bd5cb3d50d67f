package series

import "time"

// Frequency grids. Day-and-longer series share the midnight grid so that
// daily, weekly and monthly bars from different feeds compare equal as join
// keys; intraday series floor to the start of their hour or minute.
const (
	FreqDay    = "day"
	FreqWeek   = "week"
	FreqMonth  = "month"
	FreqHour   = "hour"
	FreqMinute = "minute"
)

// gridDuration maps a nominal frequency tag to its truncation grid.
// Unknown tags return 0, which AlignTimestamp treats as "leave unmodified".
func gridDuration(frequency string) time.Duration {
	switch frequency {
	case FreqDay, FreqWeek, FreqMonth:
		return 24 * time.Hour
	case FreqHour, "1hour", "60min":
		return time.Hour
	case FreqMinute, "1min", "5min", "15min", "30min":
		return time.Minute
	default:
		return 0
	}
}

// IsValidFrequency reports whether the frequency tag maps to a known grid.
func IsValidFrequency(frequency string) bool {
	return gridDuration(frequency) > 0
}

// AlignTimestamp rewrites one timestamp onto the canonical grid for the
// frequency. Unrecognized frequencies leave the timestamp unmodified rather
// than rounding to the wrong grid.
func AlignTimestamp(ts time.Time, frequency string) time.Time {
	dur := gridDuration(frequency)
	if dur == 0 {
		return ts
	}
	return ts.UTC().Truncate(dur)
}

// AlignBars rewrites every bar's timestamp onto the frequency grid in place
// and returns the slice for chaining.
func AlignBars(bars []Bar, frequency string) []Bar {
	for i := range bars {
		bars[i].Timestamp = AlignTimestamp(bars[i].Timestamp, frequency)
	}
	return bars
}

// AlignDividends rewrites dividend timestamps onto the frequency grid.
func AlignDividends(divs []Dividend, frequency string) []Dividend {
	for i := range divs {
		divs[i].Timestamp = AlignTimestamp(divs[i].Timestamp, frequency)
	}
	return divs
}
