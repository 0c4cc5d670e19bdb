// Package telemetry wires up OpenTelemetry metrics with a Prometheus
// exporter, adapted from the teacher's pkg/telemetry and extended with
// the cache/filter/dispatcher-specific series SPEC_FULL.md's observability
// section calls for (hit/miss/eviction/optimistic-refresh/compaction
// counters, healthy-server-count gauge, compiled-domain-count gauge).
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/foxhound-dns/resolver/internal/config"
	"github.com/foxhound-dns/resolver/internal/logging"
)

// Telemetry owns the meter and tracer providers and, when enabled, the
// Prometheus scrape endpoint.
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds every instrument InitMetrics creates. resolverd creates
// them and hands them to its DNS ingress handler, but no code in this
// module records a value on any of them, so they export no data.
type Metrics struct {
	CacheHits              metric.Int64Counter
	CacheMisses            metric.Int64Counter
	CacheInsertions        metric.Int64Counter
	CacheEvictions         metric.Int64Counter
	CacheOptimisticRefresh metric.Int64Counter
	CacheLazyDeletions     metric.Int64Counter
	CacheCompactions       metric.Int64Counter
	CacheSize              metric.Int64UpDownCounter

	FilterCompiledDomains  metric.Int64UpDownCounter
	FilterDecisionsBlocked metric.Int64Counter
	FilterDecisionsAllowed metric.Int64Counter

	UpstreamQueries   metric.Int64Counter
	UpstreamFailures  metric.Int64Counter
	UpstreamLatencyMs metric.Float64Histogram
	UpstreamHealthy   metric.Int64UpDownCounter

	EventsDropped metric.Int64Counter
}

// New creates a Telemetry instance. When cfg.Enabled is false every
// instrument is backed by a no-op provider, so call sites never need a
// nil check.
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{cfg: cfg, logger: logger}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if cfg.PrometheusEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		t.prometheusExporter = exporter

		provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))
		t.meterProvider = provider
		otel.SetMeterProvider(provider)

		if err := t.startPrometheusServer(); err != nil {
			return nil, fmt.Errorf("start prometheus server: %w", err)
		}
		logger.Info("prometheus metrics enabled", "port", cfg.PrometheusPort)
	} else {
		t.meterProvider = noop.NewMeterProvider()
	}

	if cfg.TracingEnabled {
		// OTLP span export is not wired; tracing is reserved for a future
		// exporter and currently only records context propagation.
		t.tracerProvider = tracenoop.NewTracerProvider()
		otel.SetTracerProvider(t.tracerProvider)
		logger.Info("tracing enabled", "endpoint", cfg.TracingEndpoint)
	} else {
		t.tracerProvider = tracenoop.NewTracerProvider()
	}

	return t, nil
}

func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("prometheus server failed", "error", err)
		}
	}()
	return nil
}

// InitMetrics creates and returns every instrument.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("foxhound-resolver")

	m := &Metrics{}
	var err error

	counters := []struct {
		dest **metric.Int64Counter
		name string
		desc string
	}{
		{&m.CacheHits, "cache.hits", "Number of cache hits"},
		{&m.CacheMisses, "cache.misses", "Number of cache misses"},
		{&m.CacheInsertions, "cache.insertions", "Number of cache insertions"},
		{&m.CacheEvictions, "cache.evictions", "Number of evicted entries"},
		{&m.CacheOptimisticRefresh, "cache.optimistic_refreshes", "Number of optimistic refreshes performed"},
		{&m.CacheLazyDeletions, "cache.lazy_deletions", "Number of lazily-deleted expired entries"},
		{&m.CacheCompactions, "cache.compactions", "Number of compaction sweeps that removed an entry"},
		{&m.FilterDecisionsBlocked, "filter.decisions.blocked", "Number of blocked filter decisions"},
		{&m.FilterDecisionsAllowed, "filter.decisions.allowed", "Number of allowed filter decisions"},
		{&m.UpstreamQueries, "upstream.queries", "Number of upstream queries attempted"},
		{&m.UpstreamFailures, "upstream.failures", "Number of failed upstream queries"},
		{&m.EventsDropped, "events.dropped", "Number of query events dropped due to a full buffer"},
	}
	for _, c := range counters {
		inst, e := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if e != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, e)
		}
		*c.dest = inst
	}

	upDownCounters := []struct {
		dest **metric.Int64UpDownCounter
		name string
		desc string
	}{
		{&m.CacheSize, "cache.size", "Current number of entries in the cache"},
		{&m.FilterCompiledDomains, "filter.compiled_domains", "Number of compiled blocklist domains"},
		{&m.UpstreamHealthy, "upstream.healthy_servers", "Number of upstream servers currently considered healthy"},
	}
	for _, c := range upDownCounters {
		inst, e := meter.Int64UpDownCounter(c.name, metric.WithDescription(c.desc))
		if e != nil {
			return nil, fmt.Errorf("create up-down counter %s: %w", c.name, e)
		}
		*c.dest = inst
	}

	m.UpstreamLatencyMs, err = meter.Float64Histogram(
		"upstream.latency",
		metric.WithDescription("Upstream query latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	return m, nil
}

// MeterProvider exposes the underlying provider for components that need
// to register their own instruments.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// TracerProvider exposes the tracer provider for span-producing call sites.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Shutdown gracefully stops the Prometheus server and meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("prometheus server shutdown: %w", err)
		}
	}
	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("meter provider shutdown: %w", err)
		}
	}
	return nil
}
