package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_Delivery(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(provider)
	require.NoError(t, err)

	metrics.Delivery(ctx, OutcomeSent)
	metrics.Delivery(ctx, OutcomeSent)
	metrics.Delivery(ctx, OutcomeStale)

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &data))
	require.Len(t, data.ScopeMetrics, 1)

	var deliveries metricdata.Sum[int64]
	for _, m := range data.ScopeMetrics[0].Metrics {
		if m.Name == "broker.deliveries" {
			deliveries = m.Data.(metricdata.Sum[int64])
		}
	}

	total := int64(0)
	for _, point := range deliveries.DataPoints {
		total += point.Value
	}
	assert.EqualValues(t, 3, total)
	assert.Len(t, deliveries.DataPoints, 2)
}

func TestNewMeterProvider_NoEndpoint(t *testing.T) {
	provider, err := NewMeterProvider(context.Background(), "", "broker")

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNopMetrics(t *testing.T) {
	metrics := NewNopMetrics()

	assert.NotPanics(t, func() {
		metrics.FrameReceived(context.Background(), "ping")
		metrics.SessionEvicted(context.Background(), "new_login")
	})
}
