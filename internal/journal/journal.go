// Package journal persists finished backtest runs so results can be fetched
// after the fact and old records pruned.
package journal

import (
	"context"
	"errors"
	"time"

	"vixgate/internal/backtest"
)

// Status of a journaled run.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record is one persisted backtest run.
type Record struct {
	Key       string              `json:"key"`
	Strategy  string              `json:"strategy"`
	Symbol    string              `json:"symbol"`
	Status    string              `json:"status"`
	Error     string              `json:"error,omitempty"`
	Rows      []backtest.RowState `json:"rows,omitempty"`
	Metrics   map[string]float64  `json:"metrics,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("journal: record not found")

// Journal stores run records.
type Journal interface {
	SaveRun(ctx context.Context, rec Record) error
	GetRun(ctx context.Context, key string) (Record, error)
	ListRuns(ctx context.Context, limit int) ([]Record, error)
	DeleteRun(ctx context.Context, key string) error
	// PruneBefore removes records last updated before the cutoff and
	// returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
