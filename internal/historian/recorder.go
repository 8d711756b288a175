package historian

import (
	"context"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// OpenLogFile opens (creating/truncating) the fixed-width progress log file
// driver.DriverBase.SetLogger writes through.
func OpenLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// OpenHistoryFile opens (creating/truncating) the delimited convergence
// history file driver.DriverBase.SetHistorian writes through.
func OpenHistoryFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// Recorder mirrors a completed iteration's log and history lines into
// Postgres, when configured, as two concurrent writes. Grounded on the
// teacher's agent/pareto_evaluator.go errgroup.WithContext fan-out: each
// write is an independent branch, and a Postgres hiccup never blocks or
// fails the run (it is logged and dropped). RecordIteration does not write
// the local files (the driver writes those itself) and always returns nil.
type Recorder struct {
	logFile *os.File
	hisFile *os.File
	pg      *PostgresHistorian
	onPgErr func(error)
}

// NewRecorder builds a Recorder over already-open log/history files. Either
// file may be nil (that sink is skipped). pg may be nil to disable the
// Postgres mirror entirely.
func NewRecorder(logFile, hisFile *os.File, pg *PostgresHistorian, onPgErr func(error)) *Recorder {
	return &Recorder{logFile: logFile, hisFile: hisFile, pg: pg, onPgErr: onPgErr}
}

// LogWriter returns the log file as a plain io.Writer, suitable for
// driver.DriverBase.SetLogger, or a true nil interface (not a nil *os.File)
// if no log file was configured, so the driver's own nil check skips it.
func (r *Recorder) LogWriter() io.Writer {
	if r.logFile == nil {
		return nil
	}
	return r.logFile
}

// HistoryWriter returns the history file the same way LogWriter does.
func (r *Recorder) HistoryWriter() io.Writer {
	if r.hisFile == nil {
		return nil
	}
	return r.hisFile
}

// RecordIteration mirrors one iteration's already-formatted log and history
// lines into Postgres, alongside their parsed objective/function values.
// Local file writes happen synchronously inside the driver itself (via
// LogWriter/HistoryWriter); this only drives the Postgres branch, run
// alongside whatever else the caller's errgroup is already waiting on.
func (r *Recorder) RecordIteration(ctx context.Context, iteration int, logLine, historyLine string, objective float64, functionValues map[string]float64) error {
	if r.pg == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.pg.WriteLine(gctx, "log", iteration, logLine, objective, functionValues)
	})
	g.Go(func() error {
		return r.pg.WriteLine(gctx, "history", iteration, historyLine, objective, functionValues)
	})

	if err := g.Wait(); err != nil {
		if r.onPgErr != nil {
			r.onPgErr(err)
		}
	}
	return nil
}

// Close releases the local file handles and the Postgres pool, if any.
func (r *Recorder) Close() error {
	var firstErr error
	if r.logFile != nil {
		if err := r.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.hisFile != nil {
		if err := r.hisFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.pg != nil {
		r.pg.Close()
	}
	return firstErr
}
