// Package observe provides application-wide observability primitives: the
// OpenTelemetry metrics and tracing setup, structured logging, and the HTTP
// middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/emberline/avscore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DirectiveDispatchDuration tracks the time from a directive entering the
	// sequencer's queue to its handler call returning.
	DirectiveDispatchDuration metric.Float64Histogram

	// BlockingHoldDuration tracks how long a blocking directive occupies its
	// medium's gate before the next queued directive for that medium runs.
	BlockingHoldDuration metric.Float64Histogram

	// ContextAssemblyDuration tracks how long GetContext takes to collect
	// every registered state provider's snapshot.
	ContextAssemblyDuration metric.Float64Histogram

	// --- Counters ---

	// DirectivesReceived counts directives entering the sequencer. Use with
	// attributes: attribute.String("namespace", ...), attribute.String("name", ...)
	DirectivesReceived metric.Int64Counter

	// DirectivesCancelled counts directives cancelled by a dialog-group
	// switch before they reached Handle.
	DirectivesCancelled metric.Int64Counter

	// ExceptionsEncountered counts ExceptionEncountered events emitted. Use
	// with attribute.String("kind", ...)
	ExceptionsEncountered metric.Int64Counter

	// AIPStateTransitions counts Audio Input Processor state changes. Use
	// with attribute.String("from", ...), attribute.String("to", ...)
	AIPStateTransitions metric.Int64Counter

	// CaptureOverruns counts ring-buffer overrun-reposition events on the
	// audio capture stream.
	CaptureOverruns metric.Int64Counter

	// PlayerDiscoveries counts ReportDiscoveredPlayers events emitted by the
	// External Media Player.
	PlayerDiscoveries metric.Int64Counter

	// --- Gauges ---

	// AuthorizedPlayers tracks the number of currently authorized media
	// player adapters.
	AuthorizedPlayers metric.Int64UpDownCounter

	// ActiveDialogRequests tracks the number of in-flight dialog-group
	// directives currently held by the sequencer.
	ActiveDialogRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds), tuned for
// directive dispatch and context assembly rather than network round trips.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DirectiveDispatchDuration, err = m.Float64Histogram("avscore.directive.dispatch.duration",
		metric.WithDescription("Latency from directive enqueue to handler return."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BlockingHoldDuration, err = m.Float64Histogram("avscore.directive.blocking_hold.duration",
		metric.WithDescription("Time a blocking directive holds its medium gate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ContextAssemblyDuration, err = m.Float64Histogram("avscore.context.assembly.duration",
		metric.WithDescription("Latency of assembling a context snapshot across all state providers."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DirectivesReceived, err = m.Int64Counter("avscore.directive.received",
		metric.WithDescription("Total directives received by namespace and name."),
	); err != nil {
		return nil, err
	}
	if met.DirectivesCancelled, err = m.Int64Counter("avscore.directive.cancelled",
		metric.WithDescription("Total directives cancelled by a dialog-group switch."),
	); err != nil {
		return nil, err
	}
	if met.ExceptionsEncountered, err = m.Int64Counter("avscore.exception.encountered",
		metric.WithDescription("Total ExceptionEncountered events emitted by error kind."),
	); err != nil {
		return nil, err
	}
	if met.AIPStateTransitions, err = m.Int64Counter("avscore.aip.state_transition",
		metric.WithDescription("Total Audio Input Processor state transitions by from/to state."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOverruns, err = m.Int64Counter("avscore.aip.capture_overrun",
		metric.WithDescription("Total capture ring-buffer overrun-reposition events."),
	); err != nil {
		return nil, err
	}
	if met.PlayerDiscoveries, err = m.Int64Counter("avscore.emp.player_discovery",
		metric.WithDescription("Total ReportDiscoveredPlayers events emitted."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.AuthorizedPlayers, err = m.Int64UpDownCounter("avscore.emp.authorized_players",
		metric.WithDescription("Number of currently authorized media player adapters."),
	); err != nil {
		return nil, err
	}
	if met.ActiveDialogRequests, err = m.Int64UpDownCounter("avscore.directive.active_dialog_requests",
		metric.WithDescription("Number of in-flight dialog-group directives held by the sequencer."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("avscore.http.request.duration",
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

// RecordDirectiveReceived is a convenience method that records a directive
// arrival with the standard attribute set.
func (m *Metrics) RecordDirectiveReceived(ctx context.Context, namespace, name string) {
	m.DirectivesReceived.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("namespace", namespace),
			attribute.String("name", name),
		),
	)
}

// RecordException is a convenience method that records an
// ExceptionEncountered event by error kind.
func (m *Metrics) RecordException(ctx context.Context, kind string) {
	m.ExceptionsEncountered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordAIPStateTransition is a convenience method that records an Audio
// Input Processor state change.
func (m *Metrics) RecordAIPStateTransition(ctx context.Context, from, to string) {
	m.AIPStateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordPlayerDiscovery is a convenience method that records a
// ReportDiscoveredPlayers emission.
func (m *Metrics) RecordPlayerDiscovery(ctx context.Context, count int) {
	m.PlayerDiscoveries.Add(ctx, int64(count))
}
