package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay bounded: operation names, statuses,
// formats and component names are fine. Job ids, URLs, file names and error
// text belong in logs or the span status, never in attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentCollaborator instruments a call into the download engine
// (download, predict_filename, extract).
func (t *Telemetry) InstrumentCollaborator(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "collaborator_"+operation, "collaborator", fn)

	t.RecordCollaboratorOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentJob wraps one work unit that already holds a run slot, so jobs_active
// and job_duration_seconds exclude time spent queued. fn returns the job's
// terminal status, which is recorded on the span and in jobs_finished_total.
func (t *Telemetry) InstrumentJob(ctx context.Context, format string, fn func(ctx context.Context) string) string {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveJobs()
	defer t.DecrementActiveJobs()

	ctx, span := t.tracer.Start(ctx, "job")
	defer span.End()

	span.SetAttributes(
		attribute.String("component", "runner"),
		attribute.String("job.format", format),
	)

	status := fn(ctx)

	span.SetAttributes(attribute.String("job.status", status))

	if status == "failed" {
		span.SetStatus(codes.Error, "job failed")
	}

	t.RecordJobFinished(status, time.Since(start))

	return status
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
