package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/models"
)

// Gauge names
const (
	GaugeSourceSize      = "source_collection_size"
	GaugeDestinationSize = "destination_collection_size"
	GaugeQueueSize       = "queue_size"
	GaugeSynchronized    = "synchronized"
)

// TelemetryManager owns the OpenTelemetry meter and tracer of the migration.
// Instruments are exported in Prometheus format through Registry. A nil
// manager records nothing.
type TelemetryManager struct {
	config         config.TelemetryConfig
	namespace      string
	registry       *prometheus.Registry
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider trace.TracerProvider
	shutdownTracer func(context.Context) error
	meter          metric.Meter
	tracer         trace.Tracer

	changeEvents   metric.Int64Counter
	enqueueLatency metric.Float64Histogram
	batches        metric.Int64Counter
	batchEvents    metric.Int64Counter
	batchFailures  metric.Int64Counter
	batchDuration  metric.Float64Histogram
	gaugeRegs      []metric.Registration

	mutex  sync.RWMutex
	gauges map[string]map[attribute.Distinct]gaugeValue
}

type gaugeValue struct {
	attributes attribute.Set
	value      float64
}

// NewTelemetryManager creates a new telemetry manager with its own Prometheus
// registry. Ended spans are written to the log when tracing is enabled.
func NewTelemetryManager(cfg config.TelemetryConfig, namespace string) (*TelemetryManager, error) {
	return newTelemetryManager(cfg, namespace, newLogSpanProcessor(log.Logger))
}

func newTelemetryManager(cfg config.TelemetryConfig, namespace string, processors ...sdktrace.SpanProcessor) (*TelemetryManager, error) {
	if namespace == "" {
		namespace = "migration_stream"
	}
	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("namespace", namespace).
		Bool("tracing_enabled", cfg.TracingEnabled).
		Msg("Creating telemetry manager")

	tm := &TelemetryManager{
		config:    cfg,
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		gauges:    make(map[string]map[attribute.Distinct]gaugeValue),
	}

	if err := tm.setupMetrics(); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}
	tm.setupTracing(processors)

	if err := tm.createInstruments(); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return tm, nil
}

// setupMetrics wires the meter provider to a Prometheus exporter
func (tm *TelemetryManager) setupMetrics() error {
	tm.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(tm.registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	tm.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(tm.createResource()),
	)
	tm.meter = tm.meterProvider.Meter(
		tm.config.ServiceName,
		metric.WithInstrumentationVersion(tm.config.ServiceVersion),
	)
	return nil
}

// setupTracing configures an in-process tracer provider feeding the given
// processors; spans carry the mapping of the work they measure
func (tm *TelemetryManager) setupTracing(processors []sdktrace.SpanProcessor) {
	if !tm.config.TracingEnabled {
		tm.tracerProvider = noop.NewTracerProvider()
		tm.shutdownTracer = func(context.Context) error { return nil }
	} else {
		options := []sdktrace.TracerProviderOption{sdktrace.WithResource(tm.createResource())}
		for _, processor := range processors {
			options = append(options, sdktrace.WithSpanProcessor(processor))
		}
		provider := sdktrace.NewTracerProvider(options...)
		tm.tracerProvider = provider
		tm.shutdownTracer = provider.Shutdown
	}
	tm.tracer = tm.tracerProvider.Tracer(
		tm.config.ServiceName,
		trace.WithInstrumentationVersion(tm.config.ServiceVersion),
	)
}

// createResource creates an OpenTelemetry resource
func (tm *TelemetryManager) createResource() *resource.Resource {
	return resource.NewSchemaless(
		attribute.String("service.name", tm.config.ServiceName),
		attribute.String("service.version", tm.config.ServiceVersion),
		attribute.String("environment", tm.config.Environment),
	)
}

func (tm *TelemetryManager) name(suffix string) string {
	return tm.namespace + "_" + suffix
}

// createInstruments creates all the metric instruments
func (tm *TelemetryManager) createInstruments() error {
	var err error

	if tm.changeEvents, err = tm.meter.Int64Counter(
		tm.name("change_events"),
		metric.WithDescription("Change events captured from the source and enqueued"),
	); err != nil {
		return err
	}
	if tm.enqueueLatency, err = tm.meter.Float64Histogram(
		tm.name("enqueue_latency_seconds"),
		metric.WithDescription("Time spent converting and enqueueing a change event"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	); err != nil {
		return err
	}
	if tm.batches, err = tm.meter.Int64Counter(
		tm.name("replay_batches"),
		metric.WithDescription("Batches applied to the destination"),
	); err != nil {
		return err
	}
	if tm.batchEvents, err = tm.meter.Int64Counter(
		tm.name("replay_events"),
		metric.WithDescription("Events applied to the destination"),
	); err != nil {
		return err
	}
	if tm.batchFailures, err = tm.meter.Int64Counter(
		tm.name("replay_batch_failures"),
		metric.WithDescription("Batches that exhausted their retry budget"),
	); err != nil {
		return err
	}
	if tm.batchDuration, err = tm.meter.Float64Histogram(
		tm.name("replay_batch_duration_seconds"),
		metric.WithDescription("Time spent applying one batch, retries included"),
	); err != nil {
		return err
	}

	descriptions := map[string]string{
		GaugeSourceSize:      "Estimated document count of the source collection",
		GaugeDestinationSize: "Estimated document count of the destination collection",
		GaugeQueueSize:       "Events waiting in the replay queue",
		GaugeSynchronized:    "1 when the detector considers the mapping synchronized",
	}
	for gauge, description := range descriptions {
		gauge := gauge
		instrument, err := tm.meter.Float64ObservableGauge(tm.name(gauge), metric.WithDescription(description))
		if err != nil {
			return err
		}
		reg, err := tm.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			tm.mutex.RLock()
			defer tm.mutex.RUnlock()
			for _, v := range tm.gauges[gauge] {
				o.ObserveFloat64(instrument, v.value, metric.WithAttributeSet(v.attributes))
			}
			return nil
		}, instrument)
		if err != nil {
			return err
		}
		tm.gaugeRegs = append(tm.gaugeRegs, reg)
	}
	return nil
}

func mappingAttributes(mapping models.SourceToDestination) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("source", mapping.Source.Namespace()),
		attribute.String("destination", mapping.Destination.Namespace()),
	}
}

// RecordChangeEvent counts a captured event and its enqueue latency
func (tm *TelemetryManager) RecordChangeEvent(ctx context.Context, mapping models.SourceToDestination, operation string, latency time.Duration) {
	if tm == nil {
		return
	}
	attrs := append(mappingAttributes(mapping), attribute.String("operation", operation))
	tm.changeEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
	tm.enqueueLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(mappingAttributes(mapping)...))
}

// RecordBatch records the outcome of one replay batch
func (tm *TelemetryManager) RecordBatch(ctx context.Context, mapping models.SourceToDestination, size int, duration time.Duration, err error) {
	if tm == nil {
		return
	}
	attrs := metric.WithAttributes(mappingAttributes(mapping)...)
	tm.batchDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		tm.batchFailures.Add(ctx, 1, attrs)
		return
	}
	tm.batches.Add(ctx, 1, attrs)
	tm.batchEvents.Add(ctx, int64(size), attrs)
}

// SetGauge stores the current value of a gauge for a mapping
func (tm *TelemetryManager) SetGauge(gauge string, mapping models.SourceToDestination, value float64, extra ...attribute.KeyValue) {
	if tm == nil {
		return
	}
	set := attribute.NewSet(append(mappingAttributes(mapping), extra...)...)

	tm.mutex.Lock()
	defer tm.mutex.Unlock()
	values, ok := tm.gauges[gauge]
	if !ok {
		values = make(map[attribute.Distinct]gaugeValue)
		tm.gauges[gauge] = values
	}
	values[set.Equivalent()] = gaugeValue{attributes: set, value: value}
}

// GaugeValue returns the last value set for a gauge
func (tm *TelemetryManager) GaugeValue(gauge string, mapping models.SourceToDestination, extra ...attribute.KeyValue) (float64, bool) {
	if tm == nil {
		return 0, false
	}
	set := attribute.NewSet(append(mappingAttributes(mapping), extra...)...)

	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	v, ok := tm.gauges[gauge][set.Equivalent()]
	return v.value, ok
}

// StartSpan starts a span tagged with the mapping
func (tm *TelemetryManager) StartSpan(ctx context.Context, name string, mapping models.SourceToDestination) (context.Context, trace.Span) {
	if tm == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return tm.tracer.Start(ctx, name, trace.WithAttributes(mappingAttributes(mapping)...))
}

// Registry returns the Prometheus registry holding every exported metric
func (tm *TelemetryManager) Registry() *prometheus.Registry {
	return tm.registry
}

// Handler serves the registry in the Prometheus exposition format
func (tm *TelemetryManager) Handler() http.Handler {
	return promhttp.HandlerFor(tm.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers
func (tm *TelemetryManager) Shutdown(ctx context.Context) error {
	if tm == nil {
		return nil
	}
	for _, reg := range tm.gaugeRegs {
		if err := reg.Unregister(); err != nil {
			log.Warn().Err(err).Msg("Failed to unregister gauge callback")
		}
	}
	if err := tm.shutdownTracer(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	if err := tm.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}
