package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vixgate/internal/backtest"
	"vixgate/internal/journal"
	"vixgate/internal/series"
)

func testRows(n int) []series.Row {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := make([]series.Row, n)
	for i := range rows {
		rows[i] = series.Row{
			Timestamp: base.AddDate(0, 0, i),
			Asset:     series.OHLC{Open: 100, High: 103, Low: 99, Close: 102},
			VIX:       series.OHLC{Open: 20, High: 21, Low: 19, Close: 20},
			VVIX:      series.OHLC{Open: 100, High: 105, Low: 95, Close: 100},
		}
	}
	return rows
}

func testRequest(strategy string, n int) Request {
	return Request{
		Strategy: strategy,
		Symbol:   "SPY",
		Rows:     testRows(n),
		Params: backtest.TSLParams{
			Params: backtest.Params{
				VIXLowerBound:     10,
				VIXUpperBound:     30,
				VVIXLowerBound:    50,
				VVIXUpperBound:    150,
				InitialInvestment: 10000,
			},
			TSLPercentage: 0.05,
			WaitPeriod:    2,
		},
	}
}

func newTestRunner() *Runner {
	return New(journal.NewMemory(), zap.NewNop(), time.Hour)
}

func TestRunnerStartValidation(t *testing.T) {
	r := newTestRunner()
	ctx := context.Background()

	t.Run("unknown strategy", func(t *testing.T) {
		req := testRequest("martingale", 10)
		req.Strategy = "martingale"
		_, err := r.Start(ctx, req)
		assert.Error(t, err)
	})

	t.Run("no rows", func(t *testing.T) {
		req := testRequest(StrategyPlain, 10)
		req.Rows = nil
		_, err := r.Start(ctx, req)
		assert.ErrorIs(t, err, backtest.ErrEmptyInput)
	})

	t.Run("bad params", func(t *testing.T) {
		req := testRequest(StrategyTSL, 10)
		req.Params.TSLPercentage = 2
		_, err := r.Start(ctx, req)
		assert.Error(t, err)
	})
}

func TestRunnerLifecycle(t *testing.T) {
	r := newTestRunner()
	ctx := context.Background()

	key, err := r.Start(ctx, testRequest(StrategyPlain, 50))
	require.NoError(t, err)
	require.NotEmpty(t, key)
	assert.NotContains(t, key, "-", "keys are bare hex")

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(waitCtx, key))

	t.Run("progress reaches 100", func(t *testing.T) {
		p, err := r.Progress(ctx, key)
		require.NoError(t, err)
		assert.True(t, p.Done)
		assert.Equal(t, 100, p.Percentage)
		assert.Empty(t, p.Error)
	})

	t.Run("result is journaled with metrics", func(t *testing.T) {
		rec, err := r.Result(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, journal.StatusCompleted, rec.Status)
		assert.Equal(t, StrategyPlain, rec.Strategy)
		assert.Len(t, rec.Rows, 50)
		assert.Equal(t, 50.0, rec.Metrics["total_days"])
	})

	t.Run("cancel after completion", func(t *testing.T) {
		assert.ErrorIs(t, r.Cancel(key), journal.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, r.Delete(ctx, key))
		_, err := r.Result(ctx, key)
		assert.ErrorIs(t, err, journal.ErrNotFound)
	})
}

func TestRunnerTSLStrategy(t *testing.T) {
	r := newTestRunner()
	ctx := context.Background()

	key, err := r.Start(ctx, testRequest(StrategyTSL, 30))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(waitCtx, key))

	rec, err := r.Result(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCompleted, rec.Status)
	assert.Equal(t, StrategyTSL, rec.Strategy)
}

func TestRunnerUnknownKey(t *testing.T) {
	r := newTestRunner()
	ctx := context.Background()

	_, err := r.Progress(ctx, "missing")
	assert.ErrorIs(t, err, journal.ErrNotFound)
	_, err = r.Result(ctx, "missing")
	assert.ErrorIs(t, err, journal.ErrNotFound)
	assert.ErrorIs(t, r.Cancel("missing"), journal.ErrNotFound)
	assert.ErrorIs(t, r.Wait(ctx, "missing"), journal.ErrNotFound)
}

func TestRunnerFailedRunIsJournaled(t *testing.T) {
	r := newTestRunner()
	ctx := context.Background()

	// Duplicate timestamps make the engine reject the table after start.
	req := testRequest(StrategyPlain, 5)
	req.Rows[3].Timestamp = req.Rows[2].Timestamp
	key, err := r.Start(ctx, req)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(waitCtx, key))

	p, err := r.Progress(ctx, key)
	require.NoError(t, err)
	assert.True(t, p.Done)
	assert.NotEmpty(t, p.Error)

	rec, err := r.Result(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
}
