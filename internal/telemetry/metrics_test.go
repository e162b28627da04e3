package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/snapshot-relay/internal/telemetry"
)

func TestNewMeterProvider_Enabled(t *testing.T) {
	t.Parallel()

	provider, err := telemetry.NewMeterProvider(context.Background(),
		telemetry.WithServiceName("snapshot-relay-test"),
		telemetry.WithServiceVersion("0.0.1"),
	)

	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.NotNil(t, provider.Registry(), "enabled provider must expose a Prometheus registry")

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	t.Parallel()

	provider, err := telemetry.NewMeterProvider(context.Background(), telemetry.WithEnabled(false))

	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Nil(t, provider.Registry())

	// Shutdown is a no-op without an SDK provider.
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestMetrics_NilProviderIsNoop(t *testing.T) {
	t.Parallel()

	ingressMetrics, err := telemetry.NewIngressMetrics(nil)
	require.NoError(t, err)
	require.Nil(t, ingressMetrics)

	notifierMetrics, err := telemetry.NewNotifierMetrics(nil)
	require.NoError(t, err)
	require.Nil(t, notifierMetrics)

	registrationMetrics, err := telemetry.NewRegistrationMetrics(nil)
	require.NoError(t, err)
	require.Nil(t, registrationMetrics)

	// Nil receivers must be safe to record on.
	ingressMetrics.RecordPush(context.Background(), true)
	notifierMetrics.RecordDelivery(context.Background())
	notifierMetrics.RecordNeedsBinding(context.Background())
	registrationMetrics.RecordBindAttempt(context.Background(), telemetry.BindOutcomeBound)
}

func TestMetrics_RecordAgainstProvider(t *testing.T) {
	t.Parallel()

	provider, err := telemetry.NewMeterProvider(context.Background())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, provider.Shutdown(context.Background()))
	}()

	ingressMetrics, err := telemetry.NewIngressMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, ingressMetrics)

	notifierMetrics, err := telemetry.NewNotifierMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, notifierMetrics)

	registrationMetrics, err := telemetry.NewRegistrationMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, registrationMetrics)

	ingressMetrics.RecordPush(context.Background(), true)
	ingressMetrics.RecordPush(context.Background(), false)
	notifierMetrics.RecordDelivery(context.Background())
	notifierMetrics.RecordNeedsBinding(context.Background())
	registrationMetrics.RecordBindAttempt(context.Background(), telemetry.BindOutcomeRejected)

	// The instruments land in the registry the /metrics endpoint scrapes.
	families, err := provider.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
