package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vixgate/internal/series"
)

func testTSLParams() TSLParams {
	return TSLParams{
		Params:        testParams(),
		TSLPercentage: 0.05,
		WaitPeriod:    2,
	}
}

func TestRunTSLValidation(t *testing.T) {
	ctx := context.Background()
	rows := []series.Row{testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0)}

	t.Run("empty input", func(t *testing.T) {
		_, err := RunTSL(ctx, nil, testTSLParams(), NopSink{})
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("percentage out of range", func(t *testing.T) {
		p := testTSLParams()
		p.TSLPercentage = 1.5
		_, err := RunTSL(ctx, rows, p, NopSink{})
		assert.Error(t, err)
	})

	t.Run("negative wait period", func(t *testing.T) {
		p := testTSLParams()
		p.WaitPeriod = -1
		_, err := RunTSL(ctx, rows, p, NopSink{})
		assert.Error(t, err)
	})
}

func TestRunTSLStopAndWaitCycle(t *testing.T) {
	rows := []series.Row{
		testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0),
		testRow(1, series.OHLC{Open: 100, High: 104, Low: 99, Close: 102}, 20, 100, 0),
		testRow(2, series.OHLC{Open: 101, High: 103, Low: 95, Close: 96}, 20, 100, 0),
		testRow(3, series.OHLC{Open: 97, High: 99, Low: 96, Close: 98}, 20, 100, 0),
		testRow(4, series.OHLC{Open: 98, High: 100, Low: 97, Close: 99}, 20, 100, 0),
		testRow(5, series.OHLC{Open: 100, High: 102, Low: 99, Close: 101}, 20, 100, 0),
	}
	out, err := RunTSL(context.Background(), rows, testTSLParams(), NopSink{})
	require.NoError(t, err)

	t.Run("entry arms the trailing stop", func(t *testing.T) {
		st := out[1]
		require.True(t, st.EntrySignal)
		assert.Equal(t, 1, st.TradeSessionID)
		assert.Equal(t, 104.0, st.PeakPrice)
		assert.InDelta(t, 98.8, st.TSLPrice, 1e-9)
		assert.False(t, st.TSLHit)
		assert.Equal(t, 100.0, st.Shares)
	})

	t.Run("intraday low trips the stop", func(t *testing.T) {
		st := out[2]
		assert.True(t, st.InPosition)
		assert.Equal(t, 104.0, st.PeakPrice, "peak never decays")
		assert.True(t, st.TSLHit)
		assert.Equal(t, ExitTSL, st.ExitKind)
		assert.InDelta(t, 98.8, st.ExitPrice, 1e-9, "intraday stop fills at the stop price")
		assert.InDelta(t, 9880.0, st.PortfolioValue, 1e-9)
		assert.Equal(t, 0, st.WaitCounter)
	})

	t.Run("wait period keeps the strategy flat", func(t *testing.T) {
		assert.False(t, out[3].InPosition)
		assert.Equal(t, 1, out[3].WaitCounter)
		assert.InDelta(t, 9880.0, out[3].PortfolioValue, 1e-9)

		assert.False(t, out[4].InPosition)
		assert.Equal(t, 2, out[4].WaitCounter)
	})

	t.Run("re-entry after the wait expires", func(t *testing.T) {
		st := out[5]
		assert.Equal(t, -1, st.WaitCounter)
		assert.True(t, st.EntrySignal)
		assert.Equal(t, 2, st.TradeID)
		assert.Equal(t, 100.0, st.EntryPrice)
		assert.InDelta(t, 98.8, st.Shares, 1e-9, "redeploys prior proceeds")
	})
}

func TestRunTSLGapOpensBelowStop(t *testing.T) {
	rows := []series.Row{
		testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0),
		testRow(1, series.OHLC{Open: 100, High: 104, Low: 99, Close: 102}, 20, 100, 0),
		testRow(2, series.OHLC{Open: 97, High: 98, Low: 94, Close: 95}, 20, 100, 0),
	}
	out, err := RunTSL(context.Background(), rows, testTSLParams(), NopSink{})
	require.NoError(t, err)

	st := out[2]
	assert.True(t, st.TSLHit)
	assert.Equal(t, ExitTSL, st.ExitKind)
	assert.Equal(t, 97.0, st.ExitPrice, "gap below yesterday's stop fills at the open")
	assert.InDelta(t, 9700.0, st.PortfolioValue, 1e-9)
}

func TestRunTSLIgnoreLow(t *testing.T) {
	rows := []series.Row{
		testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0),
		testRow(1, series.OHLC{Open: 100, High: 104, Low: 99, Close: 102}, 20, 100, 0),
		// Low pierces the stop but the close recovers above it.
		testRow(2, series.OHLC{Open: 101, High: 103, Low: 95, Close: 101}, 20, 100, 0),
	}

	p := testTSLParams()
	p.IgnoreLow = true
	out, err := RunTSL(context.Background(), rows, p, NopSink{})
	require.NoError(t, err)
	assert.False(t, out[2].TSLHit, "low is ignored and the close held")
	assert.NotEqual(t, ExitTSL, out[2].ExitKind)

	out, err = RunTSL(context.Background(), rows, testTSLParams(), NopSink{})
	require.NoError(t, err)
	assert.True(t, out[2].TSLHit)
}

func TestRunTSLRejectedEntryAtOpen(t *testing.T) {
	rows := []series.Row{
		testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0),
		{
			// The marker is up but VIX already breaches at the open.
			Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Asset:     series.OHLC{Open: 100, High: 103, Low: 99, Close: 102},
			VIX:       series.OHLC{Open: 35, High: 36, Low: 20, Close: 22},
			VVIX:      series.OHLC{Open: 100, High: 120, Low: 95, Close: 110},
		},
	}
	out, err := RunTSL(context.Background(), rows, testTSLParams(), NopSink{})
	require.NoError(t, err)

	st := out[1]
	assert.True(t, st.EntryMarker)
	assert.False(t, st.EntrySignal)
	assert.False(t, st.InPosition)
	assert.Equal(t, ExitAtOpen, st.ExitKind)
	assert.Equal(t, 100.0, st.ExitPrice)
	assert.Equal(t, 10000.0, st.PortfolioValue, "rejected entry leaves capital untouched")
}

func TestRunTSLEntryDayBreachSuppressesPeak(t *testing.T) {
	rows := []series.Row{
		testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0),
		{
			// Entry passes at the open, then VIX spikes out at the high.
			Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Asset:     series.OHLC{Open: 100, High: 106, Low: 99, Close: 104},
			VIX:       series.OHLC{Open: 20, High: 35, Low: 19, Close: 22},
			VVIX:      series.OHLC{Open: 100, High: 120, Low: 95, Close: 110},
		},
		testRow(2, series.OHLC{Open: 104, High: 105, Low: 103, Close: 104}, 20, 100, 0),
	}
	out, err := RunTSL(context.Background(), rows, testTSLParams(), NopSink{})
	require.NoError(t, err)

	st := out[1]
	assert.True(t, st.EntrySignal)
	assert.Equal(t, ExitAtHigh, st.ExitKind)
	assert.Equal(t, 106.0, st.ExitPrice)
	assert.Equal(t, 0.0, st.PeakPrice, "instant exit never arms the stop")
	assert.Equal(t, 0.0, st.TSLPrice)
	assert.False(t, st.TSLHit)
	assert.InDelta(t, 10600.0, st.PortfolioValue, 1e-9)

	// The session ended with the signal, so the next row is flat.
	assert.False(t, out[2].InPosition)
	assert.InDelta(t, 10600.0, out[2].PortfolioValue, 1e-9)
}

func TestRunTSLDividendRaisesPeak(t *testing.T) {
	rows := []series.Row{
		testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0),
		testRow(1, series.OHLC{Open: 100, High: 102, Low: 99, Close: 101}, 20, 100, 3),
	}
	out, err := RunTSL(context.Background(), rows, testTSLParams(), NopSink{})
	require.NoError(t, err)

	st := out[1]
	assert.Equal(t, 104.0, st.PeakPrice, "dividend-adjusted close beats open and high")
	assert.Equal(t, 300.0, st.DividendsPaid)
	assert.Equal(t, st.PortfolioValue+300.0, st.PortfolioValueWithDividends)
}

func TestRunTSLDrawdownAgainstAllTimeHigh(t *testing.T) {
	rows := []series.Row{
		testRow(0, series.OHLC{Open: 100, High: 101, Low: 99, Close: 100}, 20, 100, 0),
		testRow(1, series.OHLC{Open: 100, High: 104, Low: 99, Close: 102}, 20, 100, 0),
		testRow(2, series.OHLC{Open: 101, High: 103, Low: 95, Close: 96}, 20, 100, 0),
	}
	out, err := RunTSL(context.Background(), rows, testTSLParams(), NopSink{})
	require.NoError(t, err)

	// Stop fills at 98.8 against a running high of 10200.
	assert.InDelta(t, (10200.0-9880.0)/10200.0*100, out[2].DrawdownOverallPct, 1e-9)
	for i := range out {
		assert.GreaterOrEqual(t, out[i].DrawdownOverallPct, 0.0)
	}
}
