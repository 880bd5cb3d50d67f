package backtest

import (
	"fmt"

	"go.uber.org/zap"
)

// Sink receives best-effort progress reports while an engine runs. Roughly a
// hundred reports are emitted per run regardless of row count. Implementations
// must not block; a misbehaving sink never fails the computation.
type Sink interface {
	Report(current, total, percentage int, status string)
}

// NopSink discards all reports.
type NopSink struct{}

func (NopSink) Report(current, total, percentage int, status string) {}

// LogSink writes progress reports to a zap logger.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Report(current, total, percentage int, status string) {
	s.Log.Debug("backtest progress",
		zap.Int("current", current),
		zap.Int("total", total),
		zap.Int("percentage", percentage),
		zap.String("status", status))
}

// report shields the engines from a panicking sink.
func report(sink Sink, current, total, percentage int, status string) {
	if sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	sink.Report(current, total, percentage, status)
}

// reportRow emits the in-loop progress update. The percentage is capped at 99
// so that 100 only ever means the run finished.
func reportRow(sink Sink, i, n int) {
	pct := i * 100 / n
	if pct > 99 {
		pct = 99
	}
	report(sink, i, n, pct, fmt.Sprintf("processing row %d of %d", i+1, n))
}

// progressStep returns how many rows to advance between reports.
func progressStep(n int) int {
	step := n / 100
	if step < 1 {
		step = 1
	}
	return step
}
