package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHistorian mirrors every log/history line into Postgres, keyed by a
// run ID, so past runs remain queryable after their working directories are
// cleaned up. Grounded on internal/adapters/postgres.OptimizationRepository's
// run/candidate/evaluation tables, collapsed here into two tables since an
// evaluation-coordination run has no separate "candidate" concept.
type PostgresHistorian struct {
	pool  *pgxpool.Pool
	runID string
}

// NewPostgresHistorian wraps an already-connected pool under a fresh run ID.
func NewPostgresHistorian(pool *pgxpool.Pool) *PostgresHistorian {
	return &PostgresHistorian{pool: pool, runID: uuid.NewString()}
}

// RunID returns the UUID this historian is recording under.
func (h *PostgresHistorian) RunID() string { return h.runID }

// EnsureSchema creates the two tables this historian writes to, if absent.
func (h *PostgresHistorian) EnsureSchema(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS optimization_runs (
			id UUID PRIMARY KEY,
			config JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'running',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("ensure optimization_runs schema: %w", err)
	}

	_, err = h.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS run_log_lines (
			run_id UUID NOT NULL REFERENCES optimization_runs(id),
			iteration INT NOT NULL,
			kind TEXT NOT NULL,
			line TEXT NOT NULL,
			objective DOUBLE PRECISION,
			function_values JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure run_log_lines schema: %w", err)
	}

	return nil
}

// CreateRun inserts the run header row, storing the caller's configuration
// as JSON the way OptimizationRepository.CreateRun stores run.Config.
func (h *PostgresHistorian) CreateRun(ctx context.Context, config map[string]any) error {
	cfg, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	_, err = h.pool.Exec(ctx, `
		INSERT INTO optimization_runs (id, config) VALUES ($1, $2)`,
		h.runID, cfg)
	if err != nil {
		return fmt.Errorf("create optimization run: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished.
func (h *PostgresHistorian) CompleteRun(ctx context.Context, status string) error {
	_, err := h.pool.Exec(ctx, `
		UPDATE optimization_runs SET status = $1, completed_at = $2 WHERE id = $3`,
		status, time.Now(), h.runID)
	if err != nil {
		return fmt.Errorf("complete optimization run: %w", err)
	}
	return nil
}

// WriteLine mirrors one raw log/history line, tagged by kind ("log" or
// "history"), plus its parsed objective and named function values for
// querying without reparsing the text file.
func (h *PostgresHistorian) WriteLine(ctx context.Context, kind string, iteration int, line string, objective float64, functionValues map[string]float64) error {
	values, err := json.Marshal(functionValues)
	if err != nil {
		return fmt.Errorf("marshal function values: %w", err)
	}
	_, err = h.pool.Exec(ctx, `
		INSERT INTO run_log_lines (run_id, iteration, kind, line, objective, function_values)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.runID, iteration, kind, line, objective, values)
	if err != nil {
		return fmt.Errorf("write %s line: %w", kind, err)
	}
	return nil
}

// LineRecord is one row mirrored by WriteLine, returned by QueryRun.
type LineRecord struct {
	Iteration      int
	Kind           string
	Line           string
	Objective      float64
	FunctionValues map[string]float64
}

// QueryRun fetches every line mirrored under runID, ordered the way they
// were written, for `nlpdrive history` to replay without the local log file.
func QueryRun(ctx context.Context, pool *pgxpool.Pool, runID string) ([]LineRecord, error) {
	rows, err := pool.Query(ctx, `
		SELECT iteration, kind, line, objective, function_values
		FROM run_log_lines WHERE run_id = $1
		ORDER BY iteration, created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []LineRecord
	for rows.Next() {
		var rec LineRecord
		var values []byte
		if err := rows.Scan(&rec.Iteration, &rec.Kind, &rec.Line, &rec.Objective, &values); err != nil {
			return nil, fmt.Errorf("scan run line: %w", err)
		}
		if len(values) > 0 {
			if err := json.Unmarshal(values, &rec.FunctionValues); err != nil {
				return nil, fmt.Errorf("unmarshal function values: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run lines: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (h *PostgresHistorian) Close() { h.pool.Close() }
