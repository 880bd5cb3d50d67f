package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vixgate/internal/backtest"
	"vixgate/internal/config"
	"vixgate/internal/journal"
	"vixgate/internal/logging"
	"vixgate/internal/runner"
	"vixgate/internal/server"
	"vixgate/internal/series"
)

func main() {
	cfg := config.MustLoadConfig()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.Init(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	store, closeStore, err := newJournal(cfg)
	if err != nil {
		log.Fatal("failed to initialize journal", zap.Error(err))
	}
	defer closeStore()

	switch cfg.Mode {
	case "run":
		if err := runOnce(ctx, cfg, store, log); err != nil {
			log.Fatal("backtest failed", zap.Error(err))
		}
	case "serve":
		r := runner.New(store, log, cfg.Retention)
		srv := server.New(r, log)
		if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	default:
		log.Fatal("unsupported mode", zap.String("mode", cfg.Mode))
	}
}

// newJournal picks Postgres when a connection string is configured, the
// in-memory store otherwise.
func newJournal(cfg config.Config) (journal.Journal, func(), error) {
	if cfg.DBConnStr == "" {
		return journal.NewMemory(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.DBConnStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpen)
	db.SetMaxIdleConns(cfg.DBMaxIdle)
	pg, err := journal.NewPostgres(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}

// runOnce executes a single backtest from CSV inputs and prints the metrics.
func runOnce(ctx context.Context, cfg config.Config, store journal.Journal, log *zap.Logger) error {
	rows, err := series.LoadMerged(series.LoadSpec{
		Symbol:        cfg.Symbol,
		Frequency:     cfg.Frequency,
		AssetPath:     cfg.AssetCSV,
		VIXPath:       cfg.VIXCSV,
		VVIXPath:      cfg.VVIXCSV,
		DividendsPath: cfg.DividendsCSV,
		DailyIndices:  cfg.DailyIndices,
	})
	if err != nil {
		return err
	}
	log.Info("loaded merged table",
		zap.String("symbol", cfg.Symbol),
		zap.Int("rows", len(rows)),
		zap.Time("from", rows[0].Timestamp),
		zap.Time("to", rows[len(rows)-1].Timestamp))

	params := backtest.TSLParams{
		Params: backtest.Params{
			VIXLowerBound:     cfg.VIXLower,
			VIXUpperBound:     cfg.VIXUpper,
			VVIXLowerBound:    cfg.VVIXLower,
			VVIXUpperBound:    cfg.VVIXUpper,
			InitialInvestment: cfg.Investment,
		},
		TSLPercentage: cfg.TSLPct,
		WaitPeriod:    cfg.WaitPeriod,
		IgnoreLow:     cfg.IgnoreLow,
	}

	r := runner.New(store, log, cfg.Retention)
	key, err := r.Start(ctx, runner.Request{
		Strategy: cfg.Strategy,
		Symbol:   cfg.Symbol,
		Rows:     rows,
		Params:   params,
	})
	if err != nil {
		return err
	}
	if err := r.Wait(ctx, key); err != nil {
		return err
	}

	rec, err := r.Result(ctx, key)
	if err != nil {
		return err
	}
	if rec.Status != journal.StatusCompleted {
		return fmt.Errorf("run %s: %s", rec.Status, rec.Error)
	}

	printMetrics(os.Stdout, cfg, rec)
	return nil
}

func printMetrics(w *os.File, cfg config.Config, rec journal.Record) {
	fmt.Fprintf(w, "\n%s %s backtest (%d rows)\n", cfg.Symbol, cfg.Strategy, len(rec.Rows))
	fmt.Fprintln(w, "----------------------------------------")

	keys := make([]string, 0, len(rec.Metrics))
	for k := range rec.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-32s %14.4f\n", k, rec.Metrics[k])
	}

	var exits int
	for i := range rec.Rows {
		if rec.Rows[i].ExitKind != backtest.ExitNone {
			exits++
		}
	}
	fmt.Fprintf(w, "%-32s %14d\n", "exit_rows", exits)
	fmt.Fprintf(w, "%-32s %14s\n", "run_key", rec.Key)
	fmt.Fprintf(w, "%-32s %14s\n", "finished_at", rec.UpdatedAt.Format(time.RFC3339))
}
