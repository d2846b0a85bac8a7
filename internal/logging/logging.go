// Package logging sets up the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New configures the application-wide logger with colorized, structured
// output, scoped with component and run-level fields.
func New(level string, component string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
	})

	return slog.New(handler).With("component", component)
}

// WithRun scopes a logger to a snapshot run or on-demand trigger.
func WithRun(l *slog.Logger, runID string, runType string) *slog.Logger {
	return l.With("run_id", runID, "run_type", runType)
}

// WithJob scopes a logger to a restore job.
func WithJob(l *slog.Logger, jobID string, vmID string) *slog.Logger {
	return l.With("job_id", jobID, "vm_id", vmID)
}

// WithStep further scopes a job-level logger to one step.
func WithStep(l *slog.Logger, ordinal int, kind string) *slog.Logger {
	return l.With("step_ordinal", ordinal, "step_kind", kind)
}
