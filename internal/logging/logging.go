// Package logging wires up the evaluation-coordination engine's structured
// logger and tracer. Grounded on the teacher's pkg/otel.Init: the same
// tee'd slog.Handler shape (pretty stderr output plus an optional JSON file
// handler) and the same TracerProvider setup, trimmed to what a local CLI
// run needs rather than a deployed service. Since nlpdrive runs as a
// foreground command rather than behind an OTLP collector, traces export to
// stdout (go.opentelemetry.io/otel/exporters/stdout/stdouttrace) instead of
// over OTLP HTTP.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls how the run's logger and tracer are constructed.
type Config struct {
	ServiceName string
	Verbose     bool   // enables slog.LevelDebug on the pretty handler
	TraceOutput bool   // emit spans to stdout via stdouttrace
	LogFilePath string // optional: also tee structured JSON records here
}

// InitResult holds the logger and shutdown function from Init.
type InitResult struct {
	Logger   *slog.Logger
	Shutdown func(context.Context) error
}

// Init builds the run's logger and, optionally, a tracer provider; driver
// and process create no spans of their own. The returned logger always writes a pretty stderr stream; when cfg.LogFilePath is set
// it is tee'd with a JSON file handler, and when cfg.TraceOutput is set a
// stdout trace exporter is registered as the global TracerProvider.
func Init(cfg Config) (*InitResult, error) {
	ctx := context.Background()

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	stderrHandler := &prettyHandler{level: level, w: os.Stderr}

	handlers := []slog.Handler{stderrHandler}
	var logFile *os.File
	if cfg.LogFilePath != "" {
		f, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	shutdown := func(context.Context) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	}

	if cfg.TraceOutput {
		res, err := resource.New(ctx,
			resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
			resource.WithHost(),
			resource.WithProcess(),
		)
		if err != nil {
			return nil, fmt.Errorf("create resource: %w", err)
		}

		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter,
				sdktrace.WithBatchTimeout(5*time.Second),
			),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
		))
		fileShutdown := shutdown
		shutdown = func(ctx context.Context) error {
			err := tp.Shutdown(ctx)
			if fileErr := fileShutdown(ctx); fileErr != nil && err == nil {
				err = fileErr
			}
			return err
		}
	}

	var handler slog.Handler = stderrHandler
	if len(handlers) > 1 {
		handler = &teeHandler{handlers: handlers}
	}
	logger := slog.New(handler)
	return &InitResult{Logger: logger, Shutdown: shutdown}, nil
}

// Tracer returns a tracer for the given instrumentation name, off the
// globally registered TracerProvider (a no-op provider until Init runs with
// TraceOutput set).
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
