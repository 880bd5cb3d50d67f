// Package runner executes backtests in the background and tracks their
// progress under opaque keys, so callers can start a run, poll it and fetch
// the result later.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vixgate/internal/backtest"
	"vixgate/internal/journal"
	"vixgate/internal/logging"
	"vixgate/internal/series"
)

// Strategy kinds.
const (
	StrategyPlain = "plain"
	StrategyTSL   = "tsl"
)

// Request describes one backtest to run. The TSL-specific fields of Params
// are ignored for the plain strategy.
type Request struct {
	Strategy string
	Symbol   string
	Rows     []series.Row
	Params   backtest.TSLParams
}

func (r Request) validate() error {
	if r.Strategy != StrategyPlain && r.Strategy != StrategyTSL {
		return fmt.Errorf("unknown strategy %q", r.Strategy)
	}
	if len(r.Rows) == 0 {
		return backtest.ErrEmptyInput
	}
	if r.Strategy == StrategyTSL {
		return r.Params.Validate()
	}
	return r.Params.Params.Validate()
}

// Progress is a point-in-time snapshot of a running or finished job.
type Progress struct {
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Done       bool   `json:"done"`
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	progress   Progress
	finishedAt time.Time
}

// Report implements backtest.Sink by updating the job's snapshot.
func (j *job) Report(current, total, percentage int, status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Current = current
	j.progress.Total = total
	j.progress.Percentage = percentage
	j.progress.Status = status
}

func (j *job) finish(status string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Status = status
	j.progress.Done = true
	if err != nil {
		j.progress.Error = err.Error()
	} else {
		j.progress.Percentage = 100
	}
	j.finishedAt = time.Now().UTC()
	close(j.done)
}

func (j *job) snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Runner owns the background jobs and their journal.
type Runner struct {
	log       *zap.Logger
	store     journal.Journal
	retention time.Duration

	mu   sync.Mutex
	jobs map[string]*job
}

// New builds a Runner. retention bounds how long finished runs stay around;
// zero disables pruning. A nil logger falls back to the process logger.
func New(store journal.Journal, log *zap.Logger, retention time.Duration) *Runner {
	if log == nil {
		log = logging.Get()
	}
	return &Runner{
		log:       log,
		store:     store,
		retention: retention,
		jobs:      make(map[string]*job),
	}
}

// Start validates the request, registers a job under a fresh key and launches
// the backtest in the background. It returns immediately with the key.
func (r *Runner) Start(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", fmt.Errorf("runner: invalid request: %w", err)
	}

	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		cancel: cancel,
		done:   make(chan struct{}),
		progress: Progress{
			Total:  len(req.Rows),
			Status: "starting backtest",
		},
	}

	r.mu.Lock()
	r.jobs[key] = j
	r.mu.Unlock()

	rec := journal.Record{
		Key:      key,
		Strategy: req.Strategy,
		Symbol:   req.Symbol,
		Status:   journal.StatusRunning,
	}
	if err := r.store.SaveRun(runCtx, rec); err != nil {
		r.log.Warn("failed to journal run start", zap.String("key", key), zap.Error(err))
	}

	go r.run(runCtx, key, j, req)
	go r.prune(context.WithoutCancel(ctx))
	return key, nil
}

func (r *Runner) run(ctx context.Context, key string, j *job, req Request) {
	start := time.Now()
	r.log.Info("backtest started",
		zap.String("key", key),
		zap.String("strategy", req.Strategy),
		zap.String("symbol", req.Symbol),
		zap.Int("rows", len(req.Rows)))

	var (
		rows []backtest.RowState
		err  error
	)
	if req.Strategy == StrategyTSL {
		rows, err = backtest.RunTSL(ctx, req.Rows, req.Params, j)
	} else {
		rows, err = backtest.Run(ctx, req.Rows, req.Params.Params, j)
	}

	rec := journal.Record{
		Key:      key,
		Strategy: req.Strategy,
		Symbol:   req.Symbol,
	}
	switch {
	case err == nil:
		rec.Status = journal.StatusCompleted
		rec.Rows = rows
		rec.Metrics = backtest.ComputeMetrics(rows, req.Params.InitialInvestment)
	case ctx.Err() != nil:
		rec.Status = journal.StatusCancelled
		rec.Error = err.Error()
	default:
		rec.Status = journal.StatusFailed
		rec.Error = err.Error()
	}
	if saveErr := r.store.SaveRun(context.WithoutCancel(ctx), rec); saveErr != nil {
		r.log.Error("failed to journal run result", zap.String("key", key), zap.Error(saveErr))
	}

	switch rec.Status {
	case journal.StatusCompleted:
		j.finish("backtest complete", nil)
		r.log.Info("backtest finished",
			zap.String("key", key),
			zap.Duration("took", time.Since(start)))
	case journal.StatusCancelled:
		j.finish("backtest cancelled", err)
		r.log.Info("backtest cancelled", zap.String("key", key))
	default:
		j.finish("backtest failed", err)
		r.log.Error("backtest failed", zap.String("key", key), zap.Error(err))
	}
}

// prune drops finished jobs and journal records past the retention window.
func (r *Runner) prune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-r.retention)

	r.mu.Lock()
	for key, j := range r.jobs {
		j.mu.Lock()
		stale := !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff)
		j.mu.Unlock()
		if stale {
			delete(r.jobs, key)
		}
	}
	r.mu.Unlock()

	if n, err := r.store.PruneBefore(ctx, cutoff); err != nil {
		r.log.Warn("journal prune failed", zap.Error(err))
	} else if n > 0 {
		r.log.Info("pruned old runs", zap.Int("count", n))
	}
}

// Progress returns the live snapshot for a key. Keys that already fell out of
// the job map but still exist in the journal report as done.
func (r *Runner) Progress(ctx context.Context, key string) (Progress, error) {
	r.mu.Lock()
	j, ok := r.jobs[key]
	r.mu.Unlock()
	if ok {
		return j.snapshot(), nil
	}

	rec, err := r.store.GetRun(ctx, key)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		Percentage: 100,
		Status:     rec.Status,
		Error:      rec.Error,
		Done:       true,
	}, nil
}

// Result fetches the journaled record for a key.
func (r *Runner) Result(ctx context.Context, key string) (journal.Record, error) {
	return r.store.GetRun(ctx, key)
}

// List returns the most recent runs, headers only in the database-backed case.
func (r *Runner) List(ctx context.Context, limit int) ([]journal.Record, error) {
	return r.store.ListRuns(ctx, limit)
}

// Cancel stops a running job. Cancelling a finished or unknown key returns
// ErrNotFound.
func (r *Runner) Cancel(key string) error {
	r.mu.Lock()
	j, ok := r.jobs[key]
	r.mu.Unlock()
	if !ok {
		return journal.ErrNotFound
	}
	select {
	case <-j.done:
		return journal.ErrNotFound
	default:
	}
	j.cancel()
	return nil
}

// Delete removes a run from the journal and forgets its job.
func (r *Runner) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	if j, ok := r.jobs[key]; ok {
		j.cancel()
		delete(r.jobs, key)
	}
	r.mu.Unlock()
	return r.store.DeleteRun(ctx, key)
}

// Wait blocks until the job finishes or the context expires.
func (r *Runner) Wait(ctx context.Context, key string) error {
	r.mu.Lock()
	j, ok := r.jobs[key]
	r.mu.Unlock()
	if !ok {
		// Already pruned or never started; the journal is the source of truth.
		_, err := r.store.GetRun(ctx, key)
		return err
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
