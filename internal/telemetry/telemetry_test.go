package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/foxhound-dns/resolver/internal/config"
	"github.com/foxhound-dns/resolver/internal/logging"
)

func TestNewDisabledReturnsNoopProviders(t *testing.T) {
	logger := logging.NewDefault()
	tel, err := New(context.Background(), &config.TelemetryConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if tel.MeterProvider() == nil {
		t.Error("expected a noop meter provider when disabled")
	}
	if tel.TracerProvider() == nil {
		t.Error("expected a noop tracer provider when disabled")
	}

	metrics, err := tel.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() failed: %v", err)
	}
	if metrics.CacheHits == nil {
		t.Error("CacheHits not initialized")
	}
}

func TestNewPrometheusEnabledStartsServer(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{
		Enabled:           true,
		ServiceName:       "resolver-test",
		ServiceVersion:    "0.0.0-test",
		PrometheusEnabled: true,
		PrometheusPort:    19191,
	}
	tel, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	if tel.prometheusServer == nil {
		t.Error("expected a prometheus server to be started")
	}
}

func TestInitMetricsPopulatesAllInstruments(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{Enabled: true, ServiceName: "resolver-test"}
	tel, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	m, err := tel.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() failed: %v", err)
	}

	instruments := map[string]any{
		"CacheHits":              m.CacheHits,
		"CacheMisses":            m.CacheMisses,
		"CacheInsertions":        m.CacheInsertions,
		"CacheEvictions":         m.CacheEvictions,
		"CacheOptimisticRefresh": m.CacheOptimisticRefresh,
		"CacheLazyDeletions":     m.CacheLazyDeletions,
		"CacheCompactions":       m.CacheCompactions,
		"CacheSize":              m.CacheSize,
		"FilterCompiledDomains":  m.FilterCompiledDomains,
		"FilterDecisionsBlocked": m.FilterDecisionsBlocked,
		"FilterDecisionsAllowed": m.FilterDecisionsAllowed,
		"UpstreamQueries":        m.UpstreamQueries,
		"UpstreamFailures":       m.UpstreamFailures,
		"UpstreamLatencyMs":      m.UpstreamLatencyMs,
		"UpstreamHealthy":        m.UpstreamHealthy,
		"EventsDropped":          m.EventsDropped,
	}
	for name, inst := range instruments {
		if inst == nil {
			t.Errorf("%s not initialized", name)
		}
	}

	// Recording must not panic.
	ctx := context.Background()
	m.CacheHits.Add(ctx, 1)
	m.CacheMisses.Add(ctx, 1)
	m.CacheSize.Add(ctx, 10)
	m.UpstreamLatencyMs.Record(ctx, 12.5)
}

func TestShutdownSucceedsWithoutPrometheus(t *testing.T) {
	logger := logging.NewDefault()
	tel, err := New(context.Background(), &config.TelemetryConfig{Enabled: true, ServiceName: "resolver-test"}, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}
}
