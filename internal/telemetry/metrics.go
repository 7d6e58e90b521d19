// Package telemetry holds the broker's OpenTelemetry instruments and the
// meter provider that exports them over OTLP.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/goevery/broker"

type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeStale  Outcome = "stale"
	OutcomeFailed Outcome = "failed"
)

type Metrics struct {
	connections metric.Int64Counter
	rejections  metric.Int64Counter
	disconnects metric.Int64Counter
	frames      metric.Int64Counter
	rateLimited metric.Int64Counter
	deliveries  metric.Int64Counter
	evictions   metric.Int64Counter
}

func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)

	var m Metrics
	var err error

	if m.connections, err = meter.Int64Counter("broker.connections",
		metric.WithDescription("Accepted connections")); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("broker.connections.rejected",
		metric.WithDescription("Refused connections by error code")); err != nil {
		return nil, err
	}
	if m.disconnects, err = meter.Int64Counter("broker.disconnects",
		metric.WithDescription("Sessions marked disconnected by reason")); err != nil {
		return nil, err
	}
	if m.frames, err = meter.Int64Counter("broker.frames",
		metric.WithDescription("Inbound frames by action")); err != nil {
		return nil, err
	}
	if m.rateLimited, err = meter.Int64Counter("broker.frames.rate_limited",
		metric.WithDescription("Frames dropped by the rate limiter")); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("broker.deliveries",
		metric.WithDescription("Outbound pushes by outcome")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("broker.sessions.evicted",
		metric.WithDescription("Sessions terminated by the session manager by reason")); err != nil {
		return nil, err
	}

	return &m, nil
}

// NewNopMetrics returns instruments that record nothing.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())

	return m
}

func (m *Metrics) ConnectionAccepted(ctx context.Context, platform string) {
	m.connections.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", platform)))
}

func (m *Metrics) ConnectionRejected(ctx context.Context, code string) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *Metrics) Disconnected(ctx context.Context, reason string) {
	m.disconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) FrameReceived(ctx context.Context, action string) {
	m.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *Metrics) FrameRateLimited(ctx context.Context) {
	m.rateLimited.Add(ctx, 1)
}

func (m *Metrics) Delivery(ctx context.Context, outcome Outcome) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *Metrics) SessionEvicted(ctx context.Context, reason string) {
	m.evictions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
