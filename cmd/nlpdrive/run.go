package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/longregen/nlpdrive/internal/historian"
	"github.com/longregen/nlpdrive/internal/metrics"
	"github.com/spf13/cobra"
)

// openRecorder wires the run's log/history files and, if configured, the
// Postgres mirror, into a historian.Recorder. The returned PostgresHistorian
// is nil when no database URL is set.
func openRecorder(ctx context.Context) (*historian.Recorder, *historian.PostgresHistorian, error) {
	logFile, err := historian.OpenLogFile(cfg.Logging.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	hisFile, err := historian.OpenHistoryFile(cfg.Logging.HistoryFile)
	if err != nil {
		logFile.Close()
		return nil, nil, fmt.Errorf("open history file: %w", err)
	}

	if !cfg.IsDatabaseConfigured() {
		return historian.NewRecorder(logFile, hisFile, nil, nil), nil, nil
	}

	pool, err := historian.Connect(ctx, historian.DBConfig{
		URL:      cfg.Database.PostgresURL,
		Timezone: cfg.Database.Timezone,
	})
	if err != nil {
		logFile.Close()
		hisFile.Close()
		return nil, nil, fmt.Errorf("connect historian database: %w", err)
	}

	pg := historian.NewPostgresHistorian(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		logFile.Close()
		hisFile.Close()
		return nil, nil, fmt.Errorf("ensure historian schema: %w", err)
	}

	onPgErr := func(err error) {
		logger.Warn("historian postgres mirror write failed", slog.String("error", err.Error()))
	}
	return historian.NewRecorder(logFile, hisFile, pg, onPgErr), pg, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <problem.json>",
		Short: "Evaluate a problem's objective and gradient at its initial design",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			spec, err := loadProblemSpec(args[0])
			if err != nil {
				return err
			}

			recorder, pg, err := openRecorder(ctx)
			if err != nil {
				return err
			}
			defer recorder.Close()

			d, err := buildDriver(cfg, spec, cfg.Storage.WorkDir)
			if err != nil {
				return err
			}
			d.SetLogger(recorder.LogWriter(), 12)
			d.SetHistorian(recorder.HistoryWriter(), "\t")

			if pg != nil {
				runConfig := map[string]any{
					"problem_file": args[0],
					"work_dir":     cfg.Storage.WorkDir,
					"failure_mode": cfg.Storage.FailureMode,
				}
				if err := pg.CreateRun(ctx, runConfig); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "historian run id: %s\n", pg.RunID())
			}

			x := d.GetInitial()

			funStart := time.Now()
			metrics.FunEvalTotal.Inc()
			objective, err := d.Fun(ctx, x)
			metrics.EvalDuration.WithLabelValues("fun").Observe(time.Since(funStart).Seconds())
			if err != nil {
				if pg != nil {
					_ = pg.CompleteRun(ctx, "failed")
				}
				return fmt.Errorf("evaluate objective: %w", err)
			}

			gradStart := time.Now()
			metrics.JacEvalTotal.Inc()
			grad, err := d.Grad(ctx, x)
			metrics.EvalDuration.WithLabelValues("grad").Observe(time.Since(gradStart).Seconds())
			if err != nil {
				if pg != nil {
					_ = pg.CompleteRun(ctx, "failed")
				}
				return fmt.Errorf("evaluate gradient: %w", err)
			}

			feasible := d.FeasibleDesign()
			metrics.IterationCount.Set(float64(d.IterationCount()))
			if feasible {
				metrics.RunFeasible.Set(1)
			} else {
				metrics.RunFeasible.Set(0)
			}
			for bucket, coeffs := range d.PenaltyCoefficients() {
				for _, r := range coeffs {
					metrics.PenaltyCoefficient.WithLabelValues(bucket).Set(r)
				}
			}

			if err := recorder.RecordIteration(ctx, d.IterationCount(), "", "", objective, d.FunctionValues()); err != nil {
				logger.Warn("record iteration failed", slog.String("error", err.Error()))
			}

			fmt.Printf("objective:  %.10g\n", objective)
			fmt.Printf("feasible:   %v\n", feasible)
			fmt.Printf("gradient:   %v\n", grad)
			for name, value := range d.FunctionValues() {
				fmt.Printf("  %-20s %.10g\n", name, value)
			}

			if pg != nil {
				status := "completed"
				if !feasible {
					status = "infeasible"
				}
				if err := pg.CompleteRun(ctx, status); err != nil {
					return err
				}
			}

			return nil
		},
	}
}
