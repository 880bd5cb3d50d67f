package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t.Run("get missing", func(t *testing.T) {
		_, err := m.GetRun(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		rec := Record{
			Key:      "abc",
			Strategy: "tsl",
			Symbol:   "SPY",
			Status:   StatusCompleted,
			Metrics:  map[string]float64{"total_return": 12.5},
		}
		require.NoError(t, m.SaveRun(ctx, rec))

		got, err := m.GetRun(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "tsl", got.Strategy)
		assert.Equal(t, 12.5, got.Metrics["total_return"])
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("save overwrites", func(t *testing.T) {
		require.NoError(t, m.SaveRun(ctx, Record{Key: "abc", Strategy: "tsl", Symbol: "SPY", Status: StatusFailed, Error: "boom"}))
		got, err := m.GetRun(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, "boom", got.Error)
	})

	t.Run("list orders by recency", func(t *testing.T) {
		require.NoError(t, m.SaveRun(ctx, Record{Key: "newer", Status: StatusCompleted}))
		runs, err := m.ListRuns(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "newer", runs[0].Key)

		runs, err = m.ListRuns(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, m.DeleteRun(ctx, "abc"))
		assert.ErrorIs(t, m.DeleteRun(ctx, "abc"), ErrNotFound)
	})

	t.Run("prune", func(t *testing.T) {
		pruned, err := m.PruneBefore(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, pruned)

		runs, err := m.ListRuns(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}
