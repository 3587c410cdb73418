package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across flaked.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and correlation
	FieldJobID      = "job_id"
	FieldRunID      = "run_id"
	FieldInstrument = "instrument"
	FieldRequestID  = "request_id"

	// Operations
	FieldPhase   = "phase"
	FieldAction  = "action"
	FieldCommand = "command"
	FieldMethod  = "method"
	FieldPath    = "path"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRun    = "next_run"
	FieldAttempt    = "attempt"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Status
	FieldStatus   = "status"
	FieldState    = "state"
	FieldExitCode = "exit_code"

	// Files and remote targets
	FieldFile        = "file"
	FieldSource      = "source"
	FieldDestination = "destination"
	FieldRemote      = "remote"

	// Network
	FieldAddress = "address"
	FieldHost    = "host"
	FieldPort    = "port"
)

type contextKey string

const (
	jobIDKey contextKey = "logger_job_id"
	runIDKey contextKey = "logger_run_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRunID adds a run correlation ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}

	return fields
}

// FromContext decorates base with the correlation fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Scheduler struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Scheduler {
//	    return &Scheduler{logger: logger.ComponentLogger("schedule")}
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
