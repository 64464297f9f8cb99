// Package telemetry wires OpenTelemetry counters, a histogram, and a
// tracer for the iteration driver. Everything stays in-process: no OTLP
// exporter is configured, so these instruments exist purely as ambient
// observability a caller could later wire to a collector without
// touching the instrumented code paths.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/titan/ralph-orchestrator/internal/iterative"

// Instruments holds every OTel instrument the iteration driver touches.
type Instruments struct {
	Tracer trace.Tracer

	IterationsTotal  metric.Int64Counter
	FailuresTotal    metric.Int64Counter
	CheckpointsTotal metric.Int64Counter
	RollbacksTotal   metric.Int64Counter
	CostTotal        metric.Float64Counter
	IterationLatency metric.Float64Histogram
}

// Shutdown stops the in-process providers backing Instruments.
type Shutdown func(context.Context) error

// Init builds a TracerProvider and MeterProvider with no exporters
// attached, and registers the counters and histogram the driver needs.
func Init() (*Instruments, Shutdown, error) {
	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	tracer := tp.Tracer(scopeName)
	meter := mp.Meter(scopeName)

	iterationsTotal, err := meter.Int64Counter("ralph.iterations.total",
		metric.WithDescription("Total iterations attempted"))
	if err != nil {
		return nil, nil, err
	}
	failuresTotal, err := meter.Int64Counter("ralph.iterations.failures",
		metric.WithDescription("Total failed iterations"))
	if err != nil {
		return nil, nil, err
	}
	checkpointsTotal, err := meter.Int64Counter("ralph.checkpoints.total",
		metric.WithDescription("Total checkpoints created"))
	if err != nil {
		return nil, nil, err
	}
	rollbacksTotal, err := meter.Int64Counter("ralph.rollbacks.total",
		metric.WithDescription("Total checkpoint rollbacks"))
	if err != nil {
		return nil, nil, err
	}
	costTotal, err := meter.Float64Counter("ralph.cost.total",
		metric.WithDescription("Cumulative dollar cost"))
	if err != nil {
		return nil, nil, err
	}
	iterationLatency, err := meter.Float64Histogram("ralph.iteration.duration_seconds",
		metric.WithDescription("Iteration wall-clock duration"))
	if err != nil {
		return nil, nil, err
	}

	instruments := &Instruments{
		Tracer:           tracer,
		IterationsTotal:  iterationsTotal,
		FailuresTotal:    failuresTotal,
		CheckpointsTotal: checkpointsTotal,
		RollbacksTotal:   rollbacksTotal,
		CostTotal:        costTotal,
		IterationLatency: iterationLatency,
	}

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}

	return instruments, shutdown, nil
}

// RecordIteration starts and ends a span for one iteration and updates
// the counters and histogram, matching the fields the driver already
// tracks in internal/metrics.
func (i *Instruments) RecordIteration(ctx context.Context, iteration int, durationSec float64, success bool, cost float64) {
	_, span := i.Tracer.Start(ctx, "iteration")
	defer span.End()

	i.IterationsTotal.Add(ctx, 1)
	if !success {
		i.FailuresTotal.Add(ctx, 1)
	}
	i.IterationLatency.Record(ctx, durationSec)
	i.CostTotal.Add(ctx, cost)
}

// RecordCheckpoint increments the checkpoint counter.
func (i *Instruments) RecordCheckpoint(ctx context.Context) {
	i.CheckpointsTotal.Add(ctx, 1)
}

// RecordRollback increments the rollback counter.
func (i *Instruments) RecordRollback(ctx context.Context) {
	i.RollbacksTotal.Add(ctx, 1)
}
