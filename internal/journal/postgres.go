package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres persists run records in a single table with the row and metric
// payloads stored as JSONB.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) (*Postgres, error) {
	p := &Postgres{db: db}
	if err := p.createSchema(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) createSchema() error {
	_, err := p.db.Exec(`
	CREATE TABLE IF NOT EXISTS backtest_runs (
		key        TEXT PRIMARY KEY,
		strategy   TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		status     TEXT NOT NULL,
		error      TEXT NOT NULL DEFAULT '',
		rows_json  JSONB,
		metrics    JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_backtest_runs_updated_at ON backtest_runs (updated_at);`)
	if err != nil {
		return fmt.Errorf("failed to create backtest_runs schema: %w", err)
	}
	return nil
}

// executeWithTransaction wraps fn in a transaction with rollback on error.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

func (p *Postgres) SaveRun(ctx context.Context, rec Record) error {
	if rec.Key == "" {
		return fmt.Errorf("cannot save run with empty key")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	rowsJSON, err := json.Marshal(rec.Rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows for run %s: %w", rec.Key, err)
	}
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics for run %s: %w", rec.Key, err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (key, strategy, symbol, status, error, rows_json, metrics, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (key) DO UPDATE SET
			status=EXCLUDED.status, error=EXCLUDED.error,
			rows_json=EXCLUDED.rows_json, metrics=EXCLUDED.metrics,
			updated_at=EXCLUDED.updated_at`,
			rec.Key, rec.Strategy, rec.Symbol, rec.Status, rec.Error,
			rowsJSON, metricsJSON, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save run %s: %w", rec.Key, err)
		}
		return nil
	})
}

func (p *Postgres) GetRun(ctx context.Context, key string) (Record, error) {
	row := p.db.QueryRowContext(ctx, `
	SELECT key, strategy, symbol, status, error, rows_json, metrics, created_at, updated_at
	FROM backtest_runs WHERE key=$1`, key)

	var (
		rec         Record
		rowsJSON    []byte
		metricsJSON []byte
	)
	err := row.Scan(&rec.Key, &rec.Strategy, &rec.Symbol, &rec.Status, &rec.Error,
		&rowsJSON, &metricsJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load run %s: %w", key, err)
	}
	if len(rowsJSON) > 0 {
		if err := json.Unmarshal(rowsJSON, &rec.Rows); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal rows for run %s: %w", key, err)
		}
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &rec.Metrics); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal metrics for run %s: %w", key, err)
		}
	}
	return rec, nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
	SELECT key, strategy, symbol, status, error, created_at, updated_at
	FROM backtest_runs ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Strategy, &rec.Symbol, &rec.Status, &rec.Error,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteRun(ctx context.Context, key string) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM backtest_runs WHERE key=$1`, key)
		if err != nil {
			return fmt.Errorf("failed to delete run %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to delete run %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var pruned int
	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM backtest_runs WHERE updated_at < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune runs: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to prune runs: %w", err)
		}
		pruned = int(n)
		return nil
	})
	return pruned, err
}
