// Package observe provides application-wide observability primitives for
// VoxGuard: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoxGuard metrics.
const meterName = "github.com/voxguard-ai/voxguard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ProbeDuration tracks provider health-probe latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProbeDuration metric.Float64Histogram

	// SwitchDuration tracks end-to-end provider-switch latency. Use with
	// attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("status", ...)
	SwitchDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderSwitches counts switch attempts. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("status", ...)
	ProviderSwitches metric.Int64Counter

	// BreakerTransitions counts circuit breaker state transitions. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("from", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// BreakerRejections counts calls rejected by an open breaker. Use with
	// attribute:
	//   attribute.String("breaker", ...)
	BreakerRejections metric.Int64Counter

	// ProbeFailures counts failed health probes. Use with attribute:
	//   attribute.String("provider", ...)
	ProbeFailures metric.Int64Counter

	// --- Gauges ---

	// HealthyProviders records the number of currently healthy providers.
	HealthyProviders metric.Int64Gauge

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// provider probes and mid-call switches.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ProbeDuration, err = m.Float64Histogram("voxguard.probe.duration",
		metric.WithDescription("Latency of provider health probes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SwitchDuration, err = m.Float64Histogram("voxguard.switch.duration",
		metric.WithDescription("End-to-end latency of provider switches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderSwitches, err = m.Int64Counter("voxguard.provider.switches",
		metric.WithDescription("Total provider switch attempts by source, target, and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxguard.breaker.transitions",
		metric.WithDescription("Total circuit breaker state transitions by breaker and edge."),
	); err != nil {
		return nil, err
	}
	if met.BreakerRejections, err = m.Int64Counter("voxguard.breaker.rejections",
		metric.WithDescription("Total calls rejected by an open circuit breaker."),
	); err != nil {
		return nil, err
	}
	if met.ProbeFailures, err = m.Int64Counter("voxguard.probe.failures",
		metric.WithDescription("Total failed provider health probes."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.HealthyProviders, err = m.Int64Gauge("voxguard.providers.healthy",
		metric.WithDescription("Number of providers currently classified healthy."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxguard.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxguard.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProbe records one health-probe observation: its latency histogram
// sample and, when it failed, the failure counter.
func (m *Metrics) RecordProbe(ctx context.Context, provider string, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProbeFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
	m.ProbeDuration.Record(ctx, latency.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordSwitch records one provider-switch attempt with the standard
// attribute set.
func (m *Metrics) RecordSwitch(ctx context.Context, from, to string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("status", status),
	)
	m.ProviderSwitches.Add(ctx, 1, attrs)
	m.SwitchDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBreakerTransition records a circuit breaker state transition.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBreakerRejection records a call rejected by an open breaker.
func (m *Metrics) RecordBreakerRejection(ctx context.Context, breaker string) {
	m.BreakerRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("breaker", breaker)),
	)
}
