// Package telemetry wires process-local OpenTelemetry metrics for
// adapter latency, breaker state transitions, and write-queue depth.
// Export is process-local stdout only; Cortex exposes no network
// metrics endpoint. Metric instruments rather than tracing spans:
// there is no request-tracing concern here, just counters and
// histograms flushed on shutdown.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider owns the SDK meter provider and the instruments Cortex
// records into. Construct one per process via New; call Shutdown at
// exit to flush the final export.
type Provider struct {
	mp *sdkmetric.MeterProvider

	adapterLatency  metric.Float64Histogram
	adapterErrors   metric.Int64Counter
	breakerTransitions metric.Int64Counter
	queueDepth      metric.Int64UpDownCounter
	promotionCount  metric.Int64Counter
	consolidationCount metric.Int64Counter
}

// Options configures telemetry export.
type Options struct {
	// Enabled gates whether a real stdout exporter is wired up; when
	// false, New returns a Provider whose instruments are no-ops so
	// call sites never need to nil-check.
	Enabled bool
	Log     *slog.Logger
}

// New constructs a Provider. When opts.Enabled is false, a no-op SDK
// meter provider is used so RecordX calls are safe but produce no
// output — this keeps telemetry ambient infrastructure rather than a
// required dependency for every cortex invocation (e.g. `bootstrap`
// in a fresh, disposable test directory needn't print metrics).
func New(opts Options) (*Provider, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	var mp *sdkmetric.MeterProvider
	if opts.Enabled {
		exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
		if err != nil {
			return nil, err
		}
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))),
		)
	} else {
		mp = sdkmetric.NewMeterProvider()
	}

	meter := mp.Meter("github.com/cortex-memory/cortex")

	adapterLatency, err := meter.Float64Histogram("cortex.adapter.latency_ms",
		metric.WithDescription("adapter query latency in milliseconds"))
	if err != nil {
		return nil, err
	}
	adapterErrors, err := meter.Int64Counter("cortex.adapter.errors",
		metric.WithDescription("adapter query failures, including timeouts"))
	if err != nil {
		return nil, err
	}
	breakerTransitions, err := meter.Int64Counter("cortex.breaker.transitions",
		metric.WithDescription("circuit breaker state transitions"))
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64UpDownCounter("cortex.writequeue.depth",
		metric.WithDescription("pending entries across the write queue"))
	if err != nil {
		return nil, err
	}
	promotionCount, err := meter.Int64Counter("cortex.tiering.promoted",
		metric.WithDescription("records promoted between tiers"))
	if err != nil {
		return nil, err
	}
	consolidationCount, err := meter.Int64Counter("cortex.tiering.consolidated",
		metric.WithDescription("duplicate records merged during consolidation"))
	if err != nil {
		return nil, err
	}

	return &Provider{
		mp:                 mp,
		adapterLatency:     adapterLatency,
		adapterErrors:      adapterErrors,
		breakerTransitions: breakerTransitions,
		queueDepth:         queueDepth,
		promotionCount:     promotionCount,
		consolidationCount: consolidationCount,
	}, nil
}

// Shutdown flushes any pending export and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// RecordAdapterQuery records one adapter's query latency and whether
// it failed.
func (p *Provider) RecordAdapterQuery(ctx context.Context, adapterName string, latency time.Duration, failed bool) {
	attrs := metric.WithAttributes(attribute.String("adapter", adapterName))
	p.adapterLatency.Record(ctx, float64(latency.Microseconds())/1000.0, attrs)
	if failed {
		p.adapterErrors.Add(ctx, 1, attrs)
	}
}

// RecordBreakerTransition records a breaker changing to newState.
func (p *Provider) RecordBreakerTransition(ctx context.Context, operation, newState string) {
	p.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("state", newState),
	))
}

// SetQueueDepth adjusts the tracked write-queue depth by delta (can be
// negative on drain).
func (p *Provider) SetQueueDepth(ctx context.Context, resource string, delta int64) {
	p.queueDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("resource", resource)))
}

// RecordPromotions records n records promoted from fromTier to toTier.
func (p *Provider) RecordPromotions(ctx context.Context, fromTier, toTier string, n int64) {
	if n == 0 {
		return
	}
	p.promotionCount.Add(ctx, n, metric.WithAttributes(
		attribute.String("from", fromTier),
		attribute.String("to", toTier),
	))
}

// RecordConsolidations records n duplicate records merged.
func (p *Provider) RecordConsolidations(ctx context.Context, n int64) {
	if n == 0 {
		return
	}
	p.consolidationCount.Add(ctx, n)
}
