package backtest

import "vixgate/internal/series"

// bounds is an inclusive interval on a volatility index.
type bounds struct {
	lower, upper float64
}

func (b bounds) contains(v float64) bool {
	return v >= b.lower && v <= b.upper
}

func (b bounds) breached(v float64) bool {
	return v < b.lower || v > b.upper
}

func (p Params) vixBounds() bounds {
	return bounds{p.VIXLowerBound, p.VIXUpperBound}
}

func (p Params) vvixBounds() bounds {
	return bounds{p.VVIXLowerBound, p.VVIXUpperBound}
}

// signalAt reports whether every VIX and VVIX price point of the row sits
// inside its configured band.
func signalAt(r series.Row, p Params) bool {
	vix, vvix := p.vixBounds(), p.vvixBounds()
	return vix.contains(r.VIX.Open) && vix.contains(r.VIX.High) &&
		vix.contains(r.VIX.Low) && vix.contains(r.VIX.Close) &&
		vvix.contains(r.VVIX.Open) && vvix.contains(r.VVIX.High) &&
		vvix.contains(r.VVIX.Low) && vvix.contains(r.VVIX.Close)
}

// breachedAt reports whether either index breaches its band at the given
// price point (open, high, low or close selected by the caller).
func breachedAt(vix, vvix float64, p Params) bool {
	return p.vixBounds().breached(vix) || p.vvixBounds().breached(vvix)
}

// volExitKind walks the price points in fill order (open, high, low, close)
// and returns the exit kind for the first one that breaches either band.
// Returns ExitNone when no single point explains the exit.
func volExitKind(r series.Row, p Params) ExitKind {
	if breachedAt(r.VIX.Open, r.VVIX.Open, p) {
		return ExitAtOpen
	}
	return volExitKindIntraday(r, p)
}

// volExitKindIntraday is volExitKind restricted to high, low and close. Used
// on entry days, where the open already passed the entry gate.
func volExitKindIntraday(r series.Row, p Params) ExitKind {
	switch {
	case breachedAt(r.VIX.High, r.VVIX.High, p):
		return ExitAtHigh
	case breachedAt(r.VIX.Low, r.VVIX.Low, p):
		return ExitAtLow
	case breachedAt(r.VIX.Close, r.VVIX.Close, p):
		return ExitAtClose
	default:
		return ExitNone
	}
}

// exitFillPrice maps an exit kind to the asset price the fill happens at.
// TSL and end-of-period exits price differently and are handled by the
// engines themselves.
func exitFillPrice(kind ExitKind, asset series.OHLC) float64 {
	switch kind {
	case ExitAtOpen:
		return asset.Open
	case ExitAtHigh:
		return asset.High
	case ExitAtLow:
		return asset.Low
	case ExitAtClose:
		return asset.Close
	default:
		return 0
	}
}
