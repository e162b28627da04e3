package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// DefaultServiceName is the service name reported in metric resources
	DefaultServiceName = "snapshot-relay"
)

// MeterProviderOption is a function that configures the meter provider setup
type MeterProviderOption func(*meterProviderConfig)

// meterProviderConfig holds the configuration for creating a meter provider
type meterProviderConfig struct {
	serviceName    string
	serviceVersion string
	enabled        bool
}

// WithServiceName sets the service name for the meter provider
func WithServiceName(name string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceName = name
	}
}

// WithServiceVersion sets the service version for the meter provider
func WithServiceVersion(version string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithEnabled toggles metric collection. When disabled, a no-op provider
// is returned and no Prometheus registry is created.
func WithEnabled(enabled bool) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.enabled = enabled
	}
}

// Provider bundles the meter provider with the Prometheus registry that
// backs the /metrics endpoint. Registry returns nil when metrics are
// disabled.
type Provider struct {
	metric.MeterProvider

	registry *prometheus.Registry
	sdk      *sdkmetric.MeterProvider
}

// Registry returns the Prometheus registry serving scraped metrics, or
// nil when metrics are disabled.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// Shutdown flushes and stops the underlying SDK provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// NewMeterProvider creates a Prometheus-backed OpenTelemetry meter
// provider. Returns a no-op provider if metrics are disabled.
func NewMeterProvider(ctx context.Context, opts ...MeterProviderOption) (*Provider, error) {
	cfg := &meterProviderConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		enabled:        true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if !cfg.enabled {
		return &Provider{MeterProvider: noop.NewMeterProvider()}, nil
	}

	// We use resource.New to avoid schema URL conflicts with resource.Default()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.serviceName),
			semconv.ServiceVersion(cfg.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	return &Provider{
		MeterProvider: mp,
		registry:      registry,
		sdk:           mp,
	}, nil
}
