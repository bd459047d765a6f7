// Package telemetry provides OpenTelemetry-based tracing and metrics for
// the Tenor core, in the same shape as the teacher's pkg/observability:
// a Provider wrapping a tracer, a meter, and a slog logger, with one
// OTLP gRPC exporter each for traces and metrics. Every suspension point
// named in section 5 (adapter fetch, storage operation, flow step) is a
// natural span boundary; RED-style counters track rule firings, verdicts
// produced, flow steps executed, and OCC conflicts.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers for one Tenor process.
type Config struct {
	ServiceName  string
	OTLPEndpoint string  // e.g. "localhost:4317"; empty means Enabled should be false
	SampleRate   float64 // 0.0-1.0, default 1.0
	Enabled      bool
	Insecure     bool
}

// DefaultConfig returns telemetry disabled with all-sample defaults, so
// callers opt in explicitly by setting Enabled and an OTLP endpoint (section 6.6:
// no environment variable besides ANTHROPIC_API_KEY is load-bearing for
// the core itself, so telemetry defaults to off rather than reading one).
func DefaultConfig() Config {
	return Config{
		ServiceName: "tenor",
		SampleRate:  1.0,
		Enabled:     false,
		Insecure:    true,
	}
}

// Provider wraps a tracer, a meter, and a slog logger tagged with
// contract id, flow id, and snapshot id as structured fields, mirroring
// the teacher's Provider in pkg/observability/observability.go.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	rulesFired      metric.Int64Counter
	verdictsEmitted metric.Int64Counter
	stepsExecuted   metric.Int64Counter
	occConflicts    metric.Int64Counter
	adapterFetches  metric.Int64Counter
	stepDuration    metric.Float64Histogram
}

// New builds a Provider. With Enabled false it returns a no-op Provider
// whose RecordX/StartSpan calls are safe but inert.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		config: cfg,
		logger: slog.Default().With("component", "telemetry"),
	}

	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("tenor.component", "core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	if err := p.initTracing(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: init tracing: %w", err)
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: init metrics: %w", err)
	}

	p.tracer = otel.Tracer("tenor.core")
	p.meter = otel.Meter("tenor.core")
	if err := p.initCounters(); err != nil {
		return nil, fmt.Errorf("telemetry: init counters: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initCounters() error {
	var err error
	if p.rulesFired, err = p.meter.Int64Counter("tenor.rules.fired", metric.WithUnit("{rule}")); err != nil {
		return err
	}
	if p.verdictsEmitted, err = p.meter.Int64Counter("tenor.verdicts.emitted", metric.WithUnit("{verdict}")); err != nil {
		return err
	}
	if p.stepsExecuted, err = p.meter.Int64Counter("tenor.flow.steps_executed", metric.WithUnit("{step}")); err != nil {
		return err
	}
	if p.occConflicts, err = p.meter.Int64Counter("tenor.storage.occ_conflicts", metric.WithUnit("{conflict}")); err != nil {
		return err
	}
	if p.adapterFetches, err = p.meter.Int64Counter("tenor.fact.adapter_fetches", metric.WithUnit("{fetch}")); err != nil {
		return err
	}
	p.stepDuration, err = p.meter.Float64Histogram("tenor.flow.step_duration",
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	return err
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown meter provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("tenor.core")
	}
	return p.tracer
}

// StartSpan begins a span tagged with contract/flow/snapshot identifiers.
func (p *Provider) StartSpan(ctx context.Context, name, contractID, flowID, snapshotID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if contractID != "" {
		attrs = append(attrs, attribute.String("tenor.contract_id", contractID))
	}
	if flowID != "" {
		attrs = append(attrs, attribute.String("tenor.flow_id", flowID))
	}
	if snapshotID != "" {
		attrs = append(attrs, attribute.String("tenor.snapshot_id", snapshotID))
	}
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordRuleFired increments the rules-fired counter for one stratum.
func (p *Provider) RecordRuleFired(ctx context.Context, ruleID string, stratum int) {
	if p.rulesFired == nil {
		return
	}
	p.rulesFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenor.rule_id", ruleID),
		attribute.Int("tenor.stratum", stratum),
	))
}

// RecordVerdict increments the verdicts-emitted counter.
func (p *Provider) RecordVerdict(ctx context.Context, verdictType string) {
	if p.verdictsEmitted == nil {
		return
	}
	p.verdictsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("tenor.verdict_type", verdictType)))
}

// RecordStep records one executed flow step's kind and duration.
func (p *Provider) RecordStep(ctx context.Context, flowID, stepKind string, d time.Duration) {
	if p.stepsExecuted != nil {
		p.stepsExecuted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tenor.flow_id", flowID),
			attribute.String("tenor.step_kind", stepKind),
		))
	}
	if p.stepDuration != nil {
		p.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tenor.step_kind", stepKind)))
	}
}

// RecordOCCConflict increments the OCC-conflict counter.
func (p *Provider) RecordOCCConflict(ctx context.Context, entityID string) {
	if p.occConflicts == nil {
		return
	}
	p.occConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("tenor.entity_id", entityID)))
}

// RecordAdapterFetch increments the adapter-fetch counter.
func (p *Provider) RecordAdapterFetch(ctx context.Context, sourceID string, ok bool) {
	if p.adapterFetches == nil {
		return
	}
	p.adapterFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenor.source_id", sourceID),
		attribute.Bool("tenor.success", ok),
	))
}

// Logger returns the structured logger, with contract/flow/snapshot ids
// attached as fields for the duration of one evaluation or flow run.
func (p *Provider) Logger(contractID, flowID, snapshotID string) *slog.Logger {
	l := p.logger
	if contractID != "" {
		l = l.With("tenor.contract_id", contractID)
	}
	if flowID != "" {
		l = l.With("tenor.flow_id", flowID)
	}
	if snapshotID != "" {
		l = l.With("tenor.snapshot_id", snapshotID)
	}
	return l
}
