// Package telemetry provides OpenTelemetry instrumentation for the
// relay receiver.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// IngressMetricsMeterName is the name used for the ingress metrics meter
	IngressMetricsMeterName = "github.com/relaykit/snapshot-relay/ingress"

	// NotifierMetricsMeterName is the name used for the notifier metrics meter
	NotifierMetricsMeterName = "github.com/relaykit/snapshot-relay/notifier"

	// RegistrationMetricsMeterName is the name used for the registration metrics meter
	RegistrationMetricsMeterName = "github.com/relaykit/snapshot-relay/registration"
)

// Bind attempt outcomes recorded by RegistrationMetrics.
const (
	BindOutcomeBound        = "bound"
	BindOutcomeInvalidInput = "invalid_input"
	BindOutcomeNetworkError = "network_error"
	BindOutcomeRejected     = "rejected"
)

// IngressMetrics holds the OpenTelemetry instruments for push ingestion
type IngressMetrics struct {
	pushesTotal metric.Int64Counter
}

// NewIngressMetrics creates a new IngressMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewIngressMetrics(provider metric.MeterProvider) (*IngressMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(IngressMetricsMeterName)

	pushesTotal, err := meter.Int64Counter(
		"snapshot_relay_pushes_total",
		metric.WithDescription("Total number of snapshot push submissions"),
		metric.WithUnit("{push}"),
	)
	if err != nil {
		return nil, err
	}

	return &IngressMetrics{
		pushesTotal: pushesTotal,
	}, nil
}

// RecordPush records one push submission and whether it was accepted
func (m *IngressMetrics) RecordPush(ctx context.Context, accepted bool) {
	if m == nil || m.pushesTotal == nil {
		return
	}

	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}

	m.pushesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// NotifierMetrics holds the OpenTelemetry instruments for the sampling loop
type NotifierMetrics struct {
	deliveriesTotal   metric.Int64Counter
	needsBindingTotal metric.Int64Counter
}

// NewNotifierMetrics creates a new NotifierMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewNotifierMetrics(provider metric.MeterProvider) (*NotifierMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(NotifierMetricsMeterName)

	deliveriesTotal, err := meter.Int64Counter(
		"snapshot_relay_deliveries_total",
		metric.WithDescription("Total number of snapshots delivered to the observer"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}

	needsBindingTotal, err := meter.Int64Counter(
		"snapshot_relay_needs_binding_signals_total",
		metric.WithDescription("Total number of sampling ticks skipped because the receiver is not bound"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, err
	}

	return &NotifierMetrics{
		deliveriesTotal:   deliveriesTotal,
		needsBindingTotal: needsBindingTotal,
	}, nil
}

// RecordDelivery records one snapshot delivery to the observer
func (m *NotifierMetrics) RecordDelivery(ctx context.Context) {
	if m == nil || m.deliveriesTotal == nil {
		return
	}

	m.deliveriesTotal.Add(ctx, 1)
}

// RecordNeedsBinding records one sampling tick skipped while unbound
func (m *NotifierMetrics) RecordNeedsBinding(ctx context.Context) {
	if m == nil || m.needsBindingTotal == nil {
		return
	}

	m.needsBindingTotal.Add(ctx, 1)
}

// RegistrationMetrics holds the OpenTelemetry instruments for the
// coordinator handshake
type RegistrationMetrics struct {
	bindAttemptsTotal metric.Int64Counter
}

// NewRegistrationMetrics creates a new RegistrationMetrics instance with
// the given meter provider. If provider is nil, it returns nil (no-op metrics).
func NewRegistrationMetrics(provider metric.MeterProvider) (*RegistrationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RegistrationMetricsMeterName)

	bindAttemptsTotal, err := meter.Int64Counter(
		"snapshot_relay_bind_attempts_total",
		metric.WithDescription("Total number of coordinator bind attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	return &RegistrationMetrics{
		bindAttemptsTotal: bindAttemptsTotal,
	}, nil
}

// RecordBindAttempt records one bind attempt with its outcome
func (m *RegistrationMetrics) RecordBindAttempt(ctx context.Context, outcome string) {
	if m == nil || m.bindAttemptsTotal == nil {
		return
	}

	m.bindAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
