// Package historian persists the evaluation-coordination engine's progress:
// the fixed-width log and delimited history files ExteriorPenaltyDriver
// writes through (spec.md §4.5, §8), plus an optional Postgres mirror of
// every line for durable cross-run querying. Grounded on the teacher's
// shared/db.Connect (pgxpool + otelpgx tracer) and
// internal/adapters/postgres.OptimizationRepository (run/iteration rows).
package historian

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/longregen/nlpdrive/shared/backoff"
)

// DBConfig mirrors the teacher's shared/db.Config: a connection URL plus the
// session timezone to set on every connection.
type DBConfig struct {
	URL      string
	Timezone string
}

// Connect opens a traced connection pool, retrying transient failures with
// the teacher's shared/backoff.Standard strategy (a solver-driving process
// is typically long-lived; a Postgres restart mid-run shouldn't be fatal).
func Connect(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse historian database URL: %w", err)
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	poolConfig.ConnConfig.RuntimeParams["timezone"] = tz
	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	var pool *pgxpool.Pool
	err = backoff.Retry(ctx, backoff.Standard, func(ctx context.Context, attempt int) error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("connect to historian database (attempt %d): %w", attempt, err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("ping historian database (attempt %d): %w", attempt, err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
