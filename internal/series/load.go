package series

import "fmt"

// LoadSpec names the CSV inputs for one merged table.
type LoadSpec struct {
	Symbol        string
	Frequency     string
	AssetPath     string
	VIXPath       string
	VVIXPath      string
	DividendsPath string
	// DailyIndices joins intraday asset bars against daily index bars by
	// calendar date instead of by aligned timestamp.
	DailyIndices bool
}

// LoadMerged runs the full input pipeline: load the three bar series and the
// optional dividends, align everything onto the frequency grid and merge.
func LoadMerged(spec LoadSpec) ([]Row, error) {
	if !IsValidFrequency(spec.Frequency) {
		return nil, fmt.Errorf("unknown frequency %q", spec.Frequency)
	}

	asset, err := LoadBarsCSV(spec.AssetPath, spec.Symbol, spec.Frequency)
	if err != nil {
		return nil, fmt.Errorf("load asset series: %w", err)
	}
	vixFreq, vvixFreq := spec.Frequency, spec.Frequency
	if spec.DailyIndices {
		vixFreq, vvixFreq = FreqDay, FreqDay
	}
	vix, err := LoadBarsCSV(spec.VIXPath, "VIX", vixFreq)
	if err != nil {
		return nil, fmt.Errorf("load VIX series: %w", err)
	}
	vvix, err := LoadBarsCSV(spec.VVIXPath, "VVIX", vvixFreq)
	if err != nil {
		return nil, fmt.Errorf("load VVIX series: %w", err)
	}

	var dividends []Dividend
	if spec.DividendsPath != "" {
		dividends, err = LoadDividendsCSV(spec.DividendsPath)
		if err != nil {
			return nil, fmt.Errorf("load dividends: %w", err)
		}
	}

	if spec.DailyIndices {
		AlignBars(asset, spec.Frequency)
		AlignBars(vix, FreqDay)
		AlignBars(vvix, FreqDay)
		return MergeWithDailyIndices(asset, vix, vvix, dividends)
	}

	AlignBars(asset, spec.Frequency)
	AlignBars(vix, spec.Frequency)
	AlignBars(vvix, spec.Frequency)
	AlignDividends(dividends, spec.Frequency)
	return Merge(asset, vix, vvix, dividends)
}
